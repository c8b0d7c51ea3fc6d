package protocol

// ProtocolVersion is the MCP protocol revision the gateway speaks.
const ProtocolVersion = "2024-11-05"

// Method names served by the gateway.
const (
	MethodInitialize    = "initialize"
	MethodInitialized   = "notifications/initialized"
	MethodToolsList     = "tools/list"
	MethodToolsCall     = "tools/call"
	MethodResourcesList = "resources/list"
	MethodResourcesRead = "resources/read"
	MethodPromptsList   = "prompts/list"
	MethodPromptsGet    = "prompts/get"
	MethodPing          = "ping"
)

// Notification methods emitted by the gateway.
const (
	MethodToolListChanged     = "notifications/tools/list_changed"
	MethodPromptListChanged   = "notifications/prompts/list_changed"
	MethodResourceListChanged = "notifications/resources/list_changed"
)
