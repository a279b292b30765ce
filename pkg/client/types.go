package client

import (
	"errors"
	"fmt"
	"net/http"
	"time"
)

var (
	ErrNotFound = errors.New("timer not found")
	ErrConflict = errors.New("timer already exists")
)

// Spec is the body of a create request. An empty ID lets the server adopt
// or generate one.
type Spec struct {
	ID        string  `json:"id,omitempty"`
	Mode      string  `json:"mode"`
	Initial   float64 `json:"initial"`
	AutoStart bool    `json:"auto_start"`
}

// Status is a timer snapshot as served by the API. Value is in seconds.
type Status struct {
	ID       string    `json:"id,omitempty"`
	Key      string    `json:"key"`
	Mode     string    `json:"mode"`
	Value    float64   `json:"value"`
	Initial  float64   `json:"initial"`
	Running  bool      `json:"running"`
	Paused   bool      `json:"paused"`
	Complete bool      `json:"complete"`
	LastSync time.Time `json:"last_sync"`
}

// WatchMessage is one frame of a watch stream. Type is "state" for periodic
// snapshots, a lifecycle event name, or "closed" when the timer goes away.
type WatchMessage struct {
	Type  string  `json:"type"`
	Data  *Status `json:"data,omitempty"`
	Error string  `json:"error,omitempty"`
}

// ErrorResponse represents an API error response
type ErrorResponse struct {
	Error string `json:"error"`
}

// APIError is returned for non-2xx responses. It unwraps to ErrNotFound or
// ErrConflict where the status code maps to one.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("API error (%d): %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	switch e.StatusCode {
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	}
	return nil
}
