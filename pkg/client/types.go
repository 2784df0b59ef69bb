package client

import (
	"fmt"
	"time"
)

// TaskStatus is the detailed status returned by GET /status?detail=true.
type TaskStatus struct {
	Name       string    `json:"name"`
	State      string    `json:"state"`
	Running    bool      `json:"running"`
	PID        int       `json:"pid,omitempty"`
	StartedAt  time.Time `json:"started_at,omitzero"`
	StoppedAt  time.Time `json:"stopped_at,omitzero"`
	Starts     int       `json:"starts"`
	Restarts   int       `json:"restarts"`
	LastError  string    `json:"last_error,omitempty"`
	DetectedBy string    `json:"detected_by,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (HTTP %d): %s", e.StatusCode, e.Message)
}
