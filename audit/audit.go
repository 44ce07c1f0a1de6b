// Package audit records every authorization decision the engine makes as a
// structured event, for compliance review and debugging. The engine itself
// never reads the trail back; persistence failures are logged and never
// influence a decision.
package audit

import (
	"context"
	"time"
)

// DecisionEvent is one persisted authorization decision.
type DecisionEvent struct {
	ID          string    `json:"id" gorm:"primaryKey"`
	Subject     string    `json:"subject"`     // JSON text of the subscription slot
	Action      string    `json:"action"`      // JSON text
	Resource    string    `json:"resource"`    // JSON text
	Environment string    `json:"environment"` // JSON text
	Decision    string    `json:"decision" gorm:"index"`
	Obligations string    `json:"obligations,omitempty"` // JSON array text
	Advice      string    `json:"advice,omitempty"`      // JSON array text
	Transformed bool      `json:"transformed"`           // a resource replacement was returned
	DurationMS  int64     `json:"duration_ms"`
	CreatedAt   time.Time `json:"created_at" gorm:"index"`
}

// Store persists and queries decision events.
type Store interface {
	// Save persists one event.
	Save(ctx context.Context, event *DecisionEvent) error

	// Query returns events matching the filter, newest first.
	Query(ctx context.Context, filter Filter) ([]DecisionEvent, error)

	// Count returns the number of events matching the filter.
	Count(ctx context.Context, filter Filter) (int64, error)

	// Purge deletes events older than the specified time.
	// Returns the number of events deleted.
	Purge(ctx context.Context, olderThan time.Time) (int64, error)
}

// Filter for querying decision events. Zero fields are ignored.
type Filter struct {
	Decision string
	Since    time.Time
	Until    time.Time
	Limit    int
}
