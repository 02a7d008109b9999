package client

import "time"

// Health is the outcome of one health evaluation.
type Health struct {
	Status         string     `json:"status"`
	ResponseTimeMS *float64   `json:"response_time_ms,omitempty"`
	StatusCode     int        `json:"status_code,omitempty"`
	Error          string     `json:"error,omitempty"`
	LastCheck      *time.Time `json:"last_check,omitempty"`
}

// AppStatus is the status summary of one application.
type AppStatus struct {
	Name          string `json:"name"`
	Version       string `json:"version"`
	Description   string `json:"description"`
	Type          string `json:"type"`
	Port          int    `json:"port"`
	Status        string `json:"status"`
	PID           *int   `json:"pid"`
	Health        Health `json:"health"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	UptimeHuman   string `json:"uptime_human"`
}

// Running reports whether the application has a live process.
func (s AppStatus) Running() bool { return s.Status == "running" }

// ListResponse is the body of GET /apps.
type ListResponse struct {
	Apps []AppStatus `json:"apps"`
}

// ActionResult is the body returned by start, stop and restart.
type ActionResult struct {
	Success bool       `json:"success"`
	Status  *AppStatus `json:"status,omitempty"`
	Error   string     `json:"error,omitempty"`
}

// ErrorResponse represents an error payload from the API
type ErrorResponse struct {
	Error string `json:"error"`
}
