package policy

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// Key identifies one (user, community) rate-limiting state.
//
// It is an explicit composite type so distinct identifier spaces can
// never collide the way concatenated strings can.
type Key struct {
	UserID      string
	CommunityID string
}

// hash64 mixes both parts with a separator byte so ("ab","c") and
// ("a","bc") hash differently.
func (k Key) hash64() uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(k.UserID))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(k.CommunityID))
	return h.Sum64()
}

// QuietHours is an hour-of-day window during which notifications are
// suppressed. Start >= End wraps past midnight.
type QuietHours struct {
	Start int
	End   int
}

// Contains reports whether the given hour falls inside the window.
func (q QuietHours) Contains(hour int) bool {
	if q.Start < q.End {
		return hour >= q.Start && hour < q.End
	}
	return hour >= q.Start || hour < q.End
}

// Preference holds one pair's notification settings.
type Preference struct {
	Enabled         bool
	Quiet           QuietHours
	MaxPerDay       int
	CooldownMinutes int
}

// DefaultPreference is applied when a pair is seen for the first time.
func DefaultPreference() Preference {
	return Preference{
		Enabled:         true,
		Quiet:           QuietHours{Start: 22, End: 8},
		MaxPerDay:       3,
		CooldownMinutes: 720,
	}
}

// State is the persisted rate-limiting state for one pair. Zero times
// mean "never".
type State struct {
	Key               Key
	LastNotification  time.Time
	NotificationCount int
	LastIgnored       time.Time
	IgnoreCount       int
	Preference        Preference
}

// Reason explains a policy verdict.
type Reason string

const (
	ReasonNewUser        Reason = "new_user"
	ReasonApproved       Reason = "policy_approved"
	ReasonDisabled       Reason = "notifications_disabled"
	ReasonQuietHours     Reason = "quiet_hours"
	ReasonCooldown       Reason = "cooldown_active"
	ReasonDailyLimit     Reason = "daily_limit_reached"
	ReasonRepeatedIgnore Reason = "repeated_ignore"
)

// CheckResult is the outcome of one CanNotify evaluation.
type CheckResult struct {
	Allowed bool
	Reason  Reason

	// CooldownRemaining is set when Reason is ReasonCooldown.
	CooldownRemaining time.Duration
}

// StateStore persists per-pair policy state. Implementations must
// support upsert semantics; the engine serializes access per key.
type StateStore interface {
	PolicyState(ctx context.Context, key Key) (*State, bool, error)
	PutPolicyState(ctx context.Context, st *State) error
}

// ErrStateDesync marks a persistence failure after a decision was
// already made; the notification still counts as sent for
// rate-limiting purposes, so the durable state is now behind.
var ErrStateDesync = errors.New("policy: state desync after recorded notification")
