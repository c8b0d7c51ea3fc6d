// Package protocol defines the JSON-RPC 2.0 message model used by the
// gateway and the error codes it speaks on every transport.
//
// # Messages
//
// A message is one of request, notification, success response, or error
// response. Requests and notifications share the Request struct; absence of
// an ID is the sole discriminator between the two:
//
//	type Request struct {
//	    JSONRPC string          `json:"jsonrpc"`
//	    ID      json.RawMessage `json:"id,omitempty"`
//	    Method  string          `json:"method"`
//	    Params  json.RawMessage `json:"params,omitempty"`
//	}
//
// IDs are kept as json.RawMessage so string and numeric identifiers
// round-trip byte-for-byte: "1" never becomes 1 and vice versa.
//
// ParseMessage performs strict envelope validation: malformed JSON maps to
// CodeParseError (-32700); a structurally invalid envelope (wrong or missing
// "jsonrpc", missing method, non-scalar id, batch array) maps to
// CodeInvalidRequest (-32600).
//
// # Error Codes
//
//	CodeParseError     = -32700
//	CodeInvalidRequest = -32600
//	CodeMethodNotFound = -32601
//	CodeInvalidParams  = -32602
//	CodeInternalError  = -32603
//	CodeUnauthorized   = -32000
//	CodeForbidden      = -32002
//
// The auth codes are distinct from generic internal errors so clients can
// branch on auth failures vs. execution failures.
package protocol
