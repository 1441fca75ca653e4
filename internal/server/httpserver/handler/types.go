package handler

import "time"

// Response is the envelope of every JSON response.
type Response struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// NewResponse creates a success response.
func NewResponse(requestID string, data any) *Response {
	return &Response{
		Code:      "OK",
		Message:   "Success",
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
	}
}

// NewErrorResponse creates an error response.
func NewErrorResponse(requestID, code, message string, details any) *Response {
	return &Response{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Timestamp: time.Now().UnixMilli(),
		Details:   details,
	}
}

// StatusSummary is the body of GET /admin/v1/status/summary.
type StatusSummary struct {
	Version       string `json:"version"`
	SyncRunning   bool   `json:"sync_running"`
	SyncInterval  string `json:"sync_interval"`
	Objects       int    `json:"objects"`
	Subscriptions int    `json:"subscriptions"`
	Clients       int    `json:"clients"`
	Pinned        int    `json:"pinned"`
	Dirty         int    `json:"dirty"`
	Registrations uint64 `json:"registrations_total"`
	Evictions     uint64 `json:"evictions_total"`
	LargestShard  int    `json:"largest_shard" table:"wide"`
}

// ObjectView is the body of GET /admin/v1/objects/{id}.
type ObjectView struct {
	ID            string         `json:"id"`
	Version       uint64         `json:"version"`
	Dirty         bool           `json:"dirty"`
	PendingDeltas int            `json:"pending_deltas"`
	Values        map[string]any `json:"values"`
	Subscribers   []string       `json:"subscribers"`
}

// FlushResult is the body of POST /admin/v1/sync/flush.
type FlushResult struct {
	Result     string `json:"result"`
	Batch      int    `json:"batch"`
	Persisted  int    `json:"persisted"`
	Failed     int    `json:"failed"`
	DurationMS int64  `json:"duration_ms"`
	Error      string `json:"error,omitempty"`
}
