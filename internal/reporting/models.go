package reporting

import (
	"time"

	"outbound-dialer/internal/calls"
)

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// AttemptsSummaryRequest requests aggregated attempt metrics.
// Workspace isolation: WorkspaceID is required. CallerID narrows to one agent.

type AttemptsSummaryRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	CallerID    string    `json:"caller_id,omitempty"`
	ContactID   string    `json:"contact_id,omitempty"`
	Range       TimeRange `json:"range"`
}

type AttemptsSummary struct {
	WorkspaceID string    `json:"workspace_id"`
	CallerID    string    `json:"caller_id,omitempty"`
	Range       TimeRange `json:"range"`

	TotalAttempts     int `json:"total_attempts"`
	ConnectedAttempts int `json:"connected_attempts"`
	OpenAttempts      int `json:"open_attempts"`
	RecordedAttempts  int `json:"recorded_attempts"`

	ByEndReason map[calls.EndReason]int `json:"by_end_reason"`
	ByOutcome   map[string]int          `json:"by_outcome"`

	TotalDurationSeconds   int `json:"total_duration_seconds"`
	AverageDurationSeconds int `json:"average_duration_seconds"`

	ConnectionRate float64 `json:"connection_rate"`
}

// CallerBreakdownRequest requests per-agent totals (supervisor view).

type CallerBreakdownRequest struct {
	WorkspaceID string    `json:"workspace_id"`
	Range       TimeRange `json:"range"`
}

type CallerTotals struct {
	CallerID             string `json:"caller_id"`
	Attempts             int    `json:"attempts"`
	Connected            int    `json:"connected"`
	TotalDurationSeconds int    `json:"total_duration_seconds"`
}
