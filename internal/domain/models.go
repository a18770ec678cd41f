package domain

import "time"

type EndpointID string

// Endpoint is a monitored API endpoint as published by the registry.
// The engine treats it as a read-only snapshot per cycle; the registry
// owns its lifecycle.
type Endpoint struct {
	ID                 EndpointID        `json:"id"`
	Name               string            `json:"name"`
	URL                string            `json:"url"`
	Method             string            `json:"method"`
	Headers            map[string]string `json:"headers,omitempty"`
	Timeout            time.Duration     `json:"timeout"`
	Interval           time.Duration     `json:"interval"`
	LatencyThresholdMS *float64          `json:"latency_threshold_ms"` // nil → process-wide default
	Active             bool              `json:"active"`
}

// Valid reports whether the endpoint can be scheduled at all.
// Invalid endpoints are skipped and logged once, never fatal.
func (e Endpoint) Valid() bool {
	return e.URL != "" && e.Interval > 0 && e.Timeout > 0
}

// CheckResult is one probe outcome. Immutable once recorded.
type CheckResult struct {
	ID             int64      `json:"id,omitempty"`
	EndpointID     EndpointID `json:"endpoint_id"`
	CheckedAt      time.Time  `json:"checked_at"`
	StatusCode     *int       `json:"status_code"`      // nil when no HTTP exchange completed
	ResponseTimeMS *float64   `json:"response_time_ms"` // nil on connection failure
	Verdict        Verdict    `json:"verdict"`
	Error          string     `json:"error,omitempty"`
	ResponseBytes  int64      `json:"response_bytes"`
}

type Alert struct {
	ID         int64      `json:"id"`
	EndpointID EndpointID `json:"endpoint_id"`
	Type       AlertType  `json:"alert_type"`
	Message    string     `json:"message"`
	CreatedAt  time.Time  `json:"created_at"`
	Resolved   bool       `json:"resolved"`
	ResolvedAt *time.Time `json:"resolved_at"`
	Notified   bool       `json:"notified"`
}

// CheckStats aggregates check outcomes over a window. SuccessRate is nil
// when the window holds no checks; the latency fields are nil when no
// result in the window carries a response time.
type CheckStats struct {
	TotalChecks  int      `json:"total_checks"`
	SuccessRate  *float64 `json:"success_rate"`
	AvgLatencyMS *float64 `json:"avg_response_time"`
	MinLatencyMS *float64 `json:"min_response_time"`
	MaxLatencyMS *float64 `json:"max_response_time"`
	ErrorCount   int      `json:"error_count"`
}
