// Package models defines the core data structures for ContactPipe.
//
// It includes the normalized chat events and replies exchanged with the
// messaging transports, the draft record fields collected by the conversation,
// and the JSON envelope used by the HTTP API.
package models

// APIStatus is the status field of an API response.
type APIStatus string

const (
	APIStatusOK    APIStatus = "ok"
	APIStatusError APIStatus = "error"
)

// APIResponse is the JSON envelope of the HTTP API. Count is set on list
// results; RequestID echoes the X-Request-Id assigned by the router.
type APIResponse struct {
	Status    APIStatus   `json:"status"`
	Message   string      `json:"message,omitempty"`
	Result    interface{} `json:"result,omitempty"`
	Count     *int        `json:"count,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
}

// Success wraps a single result.
func Success(result interface{}) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: result}
}

// List wraps a list result together with its length.
func List(items interface{}, count int) APIResponse {
	return APIResponse{Status: APIStatusOK, Result: items, Count: &count}
}

// Error builds an error response. message is shown to API clients and must
// not carry internal error detail.
func Error(message string) APIResponse {
	return APIResponse{Status: APIStatusError, Message: message}
}

// WithRequestID returns a copy of r tagged with a request id.
func (r APIResponse) WithRequestID(id string) APIResponse {
	r.RequestID = id
	return r
}
