package model

import "time"

// Response is the standard API response envelope.
type Response struct {
	Status     string      `json:"status"`
	RequestID  string      `json:"request_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Data       any         `json:"data"`
	Pagination *Pagination `json:"pagination,omitempty"`
	Error      *APIError   `json:"error"`
}

// Pagination describes one page of a list endpoint.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListOptions selects a page of results.
type ListOptions struct {
	Limit  int
	Offset int
	State  TaskState // Optional; only tasks are filtered by state
}

// DefaultListOptions returns the first page of 50.
func DefaultListOptions() ListOptions {
	return ListOptions{Limit: 50}
}

// Clamp keeps Limit within [1, 500] and Offset non-negative.
func (o *ListOptions) Clamp() {
	if o.Limit <= 0 {
		o.Limit = 50
	}
	if o.Limit > 500 {
		o.Limit = 500
	}
	if o.Offset < 0 {
		o.Offset = 0
	}
}

// Paginate builds the Pagination block for a page of n items out of total.
func (o ListOptions) Paginate(n, total int) *Pagination {
	return &Pagination{
		Total:   total,
		Limit:   o.Limit,
		Offset:  o.Offset,
		HasMore: o.Offset+n < total,
	}
}
