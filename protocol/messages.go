package protocol

import (
	"bytes"
	"encoding/json"
)

// JSONRPCVersion is the JSON-RPC protocol version.
const JSONRPCVersion = "2.0"

// Request represents a JSON-RPC 2.0 request or notification.
// A request with no ID is a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// IsNotification returns true if this request has no ID.
func (r *Request) IsNotification() bool {
	return len(r.ID) == 0 || bytes.Equal(r.ID, []byte("null"))
}

// Response represents a JSON-RPC 2.0 response. Exactly one of Result and
// Error is set.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  any             `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// NewResponse creates a successful response correlated to the given ID.
func NewResponse(id json.RawMessage, result any) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Result:  result,
	}
}

// NewErrorResponse creates an error response. A nil ID is only valid for
// errors raised before the originating request could be parsed.
func NewErrorResponse(id json.RawMessage, err *Error) *Response {
	return &Response{
		JSONRPC: JSONRPCVersion,
		ID:      id,
		Error:   err,
	}
}

// ParseMessage decodes one wire message and validates its envelope.
// The returned *Error carries CodeParseError for malformed JSON and
// CodeInvalidRequest for a structurally invalid envelope. Batch arrays are
// not supported and are rejected as invalid requests.
func ParseMessage(data []byte) (*Request, *Error) {
	trimmed := bytes.TrimLeft(data, " \t\r\n")
	if len(trimmed) > 0 && trimmed[0] == '[' {
		return nil, NewInvalidRequest("batch requests are not supported")
	}

	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, NewParseError(err.Error())
	}

	if req.JSONRPC != JSONRPCVersion {
		return nil, NewInvalidRequest(`missing or invalid "jsonrpc" version`)
	}
	if req.Method == "" {
		return nil, NewInvalidRequest(`missing "method"`)
	}
	if err := validateID(req.ID); err != nil {
		return nil, err
	}

	return &req, nil
}

// validateID enforces that an ID, when present, is a JSON string or number.
func validateID(id json.RawMessage) *Error {
	if len(id) == 0 || bytes.Equal(id, []byte("null")) {
		return nil
	}
	switch id[0] {
	case '"', '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		return nil
	}
	return NewInvalidRequest(`"id" must be a string or number`)
}

// Marshal serializes a response for the wire.
func (r *Response) Marshal() ([]byte, error) {
	return json.Marshal(r)
}
