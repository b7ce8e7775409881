// Package ipc implements the JSON-line protocol shared by every transport:
// one UTF-8 JSON object per LF-terminated line.
package ipc

import "encoding/json"

const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// RequestMeta travels with every request frame.
type RequestMeta struct {
	RequestID  uint64 `json:"request_id"`
	LogEnabled bool   `json:"log_enabled"`
	UserUID    int    `json:"user_uid"`
}

// Request is one client→daemon frame.
type Request struct {
	Command string                 `json:"command"`
	Args    []interface{}          `json:"args"`
	Kwargs  map[string]interface{} `json:"kwargs"`
	Meta    RequestMeta            `json:"meta"`
}

// ResponseMeta echoes the request id unchanged.
type ResponseMeta struct {
	RequestID uint64 `json:"request_id"`
}

// Response is one daemon→client frame. Exactly one per request.
type Response struct {
	Status  string       `json:"status"`
	Data    interface{}  `json:"data,omitempty"`
	Error   string       `json:"error,omitempty"`
	Details string       `json:"details,omitempty"`
	Meta    ResponseMeta `json:"meta"`
}

// SuccessResponse builds a success frame for id.
func SuccessResponse(id uint64, data interface{}) *Response {
	return &Response{Status: StatusSuccess, Data: data, Meta: ResponseMeta{RequestID: id}}
}

// ErrorResponse builds an error frame for id.
func ErrorResponse(id uint64, msg, details string) *Response {
	return &Response{Status: StatusError, Error: msg, Details: details, Meta: ResponseMeta{RequestID: id}}
}

// ReadySignal is the single line a daemon emits once it will serve requests.
type ReadySignal struct {
	Ready bool `json:"ready"`
}

// Marshal encodes v as a single JSON line without the trailing newline;
// SendLine appends it. json.Marshal escapes any embedded newline, which is
// what keeps the framing sound.
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}
