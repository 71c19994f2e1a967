package storage

import (
	"context"
	"time"

	"pulsebot/internal/behavior"
	"pulsebot/internal/policy"
)

// Config configures storage.
//
// Driver values:
//   - "sqlite": SQLite database file (default)
//   - "memory": in-process maps, nothing survives a restart
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Delivery is one notification hand-off, recorded when a validated,
// policy-approved decision is passed to the delivery sink.
type Delivery struct {
	ID          string
	UserID      string
	CommunityID string
	Message     string
	Priority    string
	Tone        string
	CreatedAt   time.Time
	Read        bool
}

// Store is the persistence API used by the pipeline.
type Store interface {
	policy.StateStore
	behavior.ActivitySource
	behavior.Directory

	SaveDelivery(ctx context.Context, d Delivery) error
	AppendActivity(ctx context.Context, e behavior.ActivityEntry) error

	Close() error
}
