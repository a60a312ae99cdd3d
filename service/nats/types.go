package nats

import (
	"time"

	"github.com/brojonat/koinly-export/service/export"
)

// Event kinds published over the life of an export run.
const (
	KindStarted    = "started"
	KindPage       = "page"
	KindCheckpoint = "checkpoint"
	KindCompleted  = "completed"
	KindFailed     = "failed"
)

// ProgressEvent represents one step of an export run published to NATS.
// It is published to the subject "exports.{run_id}" in JetStream.
type ProgressEvent struct {
	RunID string `json:"run_id"`
	Kind  string `json:"kind"`

	// Progress so far
	Page         int `json:"page,omitempty"`
	TotalPages   int `json:"total_pages,omitempty"`
	Transactions int `json:"transactions,omitempty"`

	// Set on completion or failure
	Location string `json:"location,omitempty"`
	NetValue string `json:"net_value,omitempty"`
	Error    string `json:"error,omitempty"`

	Timestamp time.Time `json:"timestamp"`
}

// FromProgress converts a scheduler progress snapshot to an event.
func FromProgress(kind string, p export.Progress) *ProgressEvent {
	ts := p.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return &ProgressEvent{
		RunID:        p.RunID,
		Kind:         kind,
		Page:         p.Page,
		TotalPages:   p.TotalPages,
		Transactions: p.Transactions,
		Timestamp:    ts,
	}
}

// FromSummary converts a finished export to a completion event.
func FromSummary(s export.Summary) *ProgressEvent {
	return &ProgressEvent{
		RunID:        s.RunID,
		Kind:         KindCompleted,
		Page:         s.PagesFetched,
		TotalPages:   s.TotalPages,
		Transactions: s.Transactions,
		Location:     s.Location,
		NetValue:     s.NetValue,
		Timestamp:    time.Now().UTC(),
	}
}
