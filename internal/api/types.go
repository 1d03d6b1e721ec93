package api

import "github.com/mattjoyce/bootrelay/internal/journal"

// ErrorResponse is returned on errors
type ErrorResponse struct {
	Error string `json:"error"`
}

// StartResponse is returned by POST /start.
type StartResponse struct {
	Result bool `json:"result"`
}

// SubmitRequest is the optional JSON body for POST /events/{kind}.
type SubmitRequest struct {
	Source     string            `json:"source,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// SubmitResponse is returned by POST /events/{kind}. Outcome and the fields
// after it are only set when the caller waited for the dispatch.
type SubmitResponse struct {
	EventID        string `json:"event_id"`
	Kind           string `json:"kind"`
	Disposition    string `json:"disposition"`
	Outcome        string `json:"outcome,omitempty"`
	CallbackHandle int64  `json:"callback_handle,omitempty"`
	Message        string `json:"message,omitempty"`
}

// DispatchesResponse is returned by GET /dispatches.
type DispatchesResponse struct {
	Dispatches []journal.Entry `json:"dispatches"`
}
