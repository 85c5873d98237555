package domain

import "encoding/json"

// ToolResult is the value returned from every tool invocation. Callers in
// the orchestration loop always receive a value; failures travel inside it,
// never as panics or returned errors past the adapter boundary.
type ToolResult struct {
	ok      bool
	payload any
	errMsg  string
}

// Ok wraps a successful tool payload.
func Ok(payload any) ToolResult {
	return ToolResult{ok: true, payload: payload}
}

// Err wraps a failed invocation with a caller-facing message.
func Err(message string) ToolResult {
	return ToolResult{errMsg: message}
}

func (r ToolResult) IsErr() bool { return !r.ok }

func (r ToolResult) Payload() any { return r.payload }

func (r ToolResult) ErrMessage() string { return r.errMsg }

// MarshalJSON encodes the result the way the model sees it: the payload on
// success, {"error": message} on failure.
func (r ToolResult) MarshalJSON() ([]byte, error) {
	if r.IsErr() {
		return json.Marshal(map[string]string{"error": r.errMsg})
	}
	return json.Marshal(r.payload)
}
