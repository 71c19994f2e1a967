package scheduler

import (
	"context"
	"errors"
	"time"

	"pulsebot/internal/behavior"
	"pulsebot/internal/oracle"
	"pulsebot/internal/policy"
)

// ErrCycleActive is returned when a trigger fires while a cycle is
// still draining. The trigger is skipped, never queued.
var ErrCycleActive = errors.New("scheduler: cycle already running")

type Config struct {
	Enabled bool

	// Spec is a cron expression for the periodic trigger.
	Spec string

	// Workers bounds concurrent per-user evaluations within a community.
	Workers int

	Timezone string

	// RunOnStart fires one cycle immediately after Start.
	RunOnStart bool
}

// Skip reasons produced by the cycle itself; policy reasons pass
// through from the engine unchanged.
const (
	SkipNoContext        = "no_context"
	SkipOracleError      = "oracle_error"
	SkipOracleDeclined   = "oracle_declined"
	SkipPolicyValidation = "policy_validation_failed"
	SkipProcessingError  = "processing_error"
)

// Gate is the policy engine surface the scheduler needs.
type Gate interface {
	CanNotify(ctx context.Context, key policy.Key) (policy.CheckResult, error)
	RecordNotification(ctx context.Context, key policy.Key) error
	ValidateDecision(d *oracle.Decision) error
}

// ContextSource builds decision contexts.
type ContextSource interface {
	Build(ctx context.Context, userID, communityID string) (*behavior.Context, error)
}

// Oracle makes the notify/skip decision for one context.
type Oracle interface {
	Decide(ctx context.Context, dctx *behavior.Context, sig behavior.Signals) (*oracle.Decision, error)
}

// Handoff is the payload passed to the delivery collaborator. The
// pipeline's responsibility ends at handing it over once.
type Handoff struct {
	ID          string
	UserID      string
	CommunityID string
	Message     string
	Priority    oracle.Priority
	Tone        oracle.Tone
	Timestamp   time.Time
}

// Sink receives validated, policy-approved notifications for transport.
type Sink interface {
	Deliver(ctx context.Context, h Handoff) error
}

// CommunityReport aggregates one community's outcome within a cycle.
type CommunityReport struct {
	CommunityID string `json:"community_id"`
	Name        string `json:"name"`
	Members     int    `json:"members"`
	Sent        int    `json:"sent"`
	Skipped     int    `json:"skipped"`
}

// CycleReport summarizes one full scheduler cycle.
type CycleReport struct {
	ID          string            `json:"id"`
	StartedAt   time.Time         `json:"started_at"`
	Duration    time.Duration     `json:"duration"`
	Communities []CommunityReport `json:"communities"`
	Sent        int               `json:"sent"`
	Skipped     int               `json:"skipped"`
	SkipReasons map[string]int    `json:"skip_reasons"`
}

// Snapshot is the externally visible scheduler state.
type Snapshot struct {
	Running    bool         `json:"running"`
	NextRun    time.Time    `json:"next_run,omitzero"`
	LastReport *CycleReport `json:"last_report,omitempty"`
}
