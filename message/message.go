// Package message defines the permissive JSON-RPC envelope used between the
// proxy, its client pipe, and every backend pipe.
package message

import (
	"encoding/json"
	"fmt"
)

// ID is a JSON-RPC request/response identifier. Per the spec it is either an
// integer or a string; it round-trips through JSON without normalizing one
// into the other.
type ID struct {
	// exactly one of these is set when Valid is true.
	str     string
	num     int64
	isStr   bool
	Valid   bool
}

// NewIntID builds a numeric ID.
func NewIntID(n int64) ID {
	return ID{num: n, Valid: true}
}

// NewStringID builds a string ID.
func NewStringID(s string) ID {
	return ID{str: s, isStr: true, Valid: true}
}

// IsString reports whether this ID carries a string value.
func (id ID) IsString() bool { return id.Valid && id.isStr }

// Int returns the numeric value, or 0 if this ID is a string ID.
func (id ID) Int() int64 { return id.num }

// Str returns the string value, or "" if this ID is a numeric ID.
func (id ID) Str() string { return id.str }

func (id ID) String() string {
	if !id.Valid {
		return "<none>"
	}
	if id.isStr {
		return id.str
	}
	return fmt.Sprintf("%d", id.num)
}

// MarshalJSON emits a bare JSON number or string.
func (id ID) MarshalJSON() ([]byte, error) {
	if id.isStr {
		return json.Marshal(id.str)
	}
	return json.Marshal(id.num)
}

// UnmarshalJSON accepts a JSON number or string.
func (id *ID) UnmarshalJSON(data []byte) error {
	var asNum int64
	if err := json.Unmarshal(data, &asNum); err == nil {
		*id = ID{num: asNum, Valid: true}
		return nil
	}
	var asStr string
	if err := json.Unmarshal(data, &asStr); err == nil {
		*id = ID{str: asStr, isStr: true, Valid: true}
		return nil
	}
	return fmt.Errorf("message: id is neither number nor string: %s", string(data))
}

// Equal reports whether two IDs represent the same value.
func (id ID) Equal(other ID) bool {
	if id.Valid != other.Valid {
		return false
	}
	if !id.Valid {
		return true
	}
	if id.isStr != other.isStr {
		return false
	}
	if id.isStr {
		return id.str == other.str
	}
	return id.num == other.num
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int64           `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("jsonrpc error %d: %s", e.Code, e.Message)
}

// Well-known JSON-RPC / LSP error codes used by the proxy itself.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	// CodeRequestCancelled is LSP's "request cancelled" signal, used here to
	// terminate in-flight requests on backend eviction.
	CodeRequestCancelled = -32800
)

// RpcMessage is the permissive JSON-RPC envelope exchanged on every framed
// pipe. Absent fields are omitted on serialization.
type RpcMessage struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// IsRequest reports whether the message has both an id and a method.
func (m *RpcMessage) IsRequest() bool {
	return m.ID != nil && m.Method != ""
}

// IsNotification reports whether the message has a method but no id.
func (m *RpcMessage) IsNotification() bool {
	return m.ID == nil && m.Method != ""
}

// IsResponse reports whether the message has an id but no method.
func (m *RpcMessage) IsResponse() bool {
	return m.ID != nil && m.Method == ""
}

// MethodName returns the method if present.
func (m *RpcMessage) MethodName() (string, bool) {
	if m.Method == "" {
		return "", false
	}
	return m.Method, true
}

// Clone returns a deep-enough copy safe to mutate independently (the ID and
// Error pointers are copied, raw JSON slices are shared since they are
// treated as immutable once parsed).
func (m *RpcMessage) Clone() *RpcMessage {
	clone := *m
	if m.ID != nil {
		id := *m.ID
		clone.ID = &id
	}
	if m.Error != nil {
		errCopy := *m.Error
		clone.Error = &errCopy
	}
	return &clone
}

// NewRequest builds a request envelope.
func NewRequest(id ID, method string, params json.RawMessage) *RpcMessage {
	return &RpcMessage{Jsonrpc: "2.0", ID: &id, Method: method, Params: params}
}

// NewNotification builds a notification envelope.
func NewNotification(method string, params json.RawMessage) *RpcMessage {
	return &RpcMessage{Jsonrpc: "2.0", Method: method, Params: params}
}

// NewErrorResponse builds an error response envelope for the given id.
func NewErrorResponse(id ID, code int64, msg string) *RpcMessage {
	return &RpcMessage{Jsonrpc: "2.0", ID: &id, Error: &Error{Code: code, Message: msg}}
}
