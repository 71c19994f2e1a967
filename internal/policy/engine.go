package policy

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"pulsebot/internal/oracle"
	"pulsebot/pkg/logx"
)

const lockStripes = 64

// Engine owns per-pair rate-limiting state: it gates candidate
// notifications against quiet hours, cooldown, the daily cap, and
// repeated-ignore suppression, and records outcomes.
//
// Keys are independent; operations on the same key are serialized via
// striped locks, and no lock is ever held across external calls.
type Engine struct {
	store StateStore
	cache *lruCache
	locks [lockStripes]sync.Mutex

	defaults        Preference
	ignoreWindow    time.Duration
	ignoreThreshold int

	loc *time.Location
	now func() time.Time
	log logx.Logger
}

type EngineOption func(*Engine)

// WithDefaults overrides the preference applied to first-seen pairs.
func WithDefaults(p Preference) EngineOption {
	return func(e *Engine) { e.defaults = p }
}

// WithCacheSize bounds the in-process state cache.
func WithCacheSize(n int) EngineOption {
	return func(e *Engine) { e.cache = newLRUCache(n) }
}

// WithIgnorePolicy overrides the repeated-ignore suppression window and
// threshold (deny while ignores within window exceed threshold).
func WithIgnorePolicy(window time.Duration, threshold int) EngineOption {
	return func(e *Engine) {
		if window > 0 {
			e.ignoreWindow = window
		}
		if threshold > 0 {
			e.ignoreThreshold = threshold
		}
	}
}

// WithLocation sets the timezone used for quiet hours and the daily
// cap's day boundary.
func WithLocation(loc *time.Location) EngineOption {
	return func(e *Engine) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

func NewEngine(store StateStore, log logx.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		store:           store,
		cache:           newLRUCache(1024),
		defaults:        DefaultPreference(),
		ignoreWindow:    6 * time.Hour,
		ignoreThreshold: 2,
		loc:             time.Local,
		now:             time.Now,
		log:             log,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

func (e *Engine) lock(key Key) func() {
	mu := &e.locks[key.hash64()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// CanNotify evaluates the gate checks in fixed order; the first failing
// check wins. A pair seen for the first time gets a default entry and is
// allowed through.
func (e *Engine) CanNotify(ctx context.Context, key Key) (CheckResult, error) {
	defer e.lock(key)()

	st, found, err := e.loadState(ctx, key)
	if err != nil {
		return CheckResult{}, err
	}
	if !found {
		st = &State{Key: key, Preference: e.defaults}
		if err := e.store.PutPolicyState(ctx, st); err != nil {
			// The entry will be recreated on the next check; allow anyway.
			e.log.Warn("failed persisting new policy entry",
				logx.String("user", key.UserID), logx.String("community", key.CommunityID), logx.Err(err))
		}
		e.cache.Put(key, st)
		return CheckResult{Allowed: true, Reason: ReasonNewUser}, nil
	}

	now := e.now().In(e.loc)
	pref := st.Preference

	if !pref.Enabled {
		return CheckResult{Reason: ReasonDisabled}, nil
	}

	if pref.Quiet.Contains(now.Hour()) {
		return CheckResult{Reason: ReasonQuietHours}, nil
	}

	if !st.LastNotification.IsZero() {
		cooldown := time.Duration(pref.CooldownMinutes) * time.Minute
		if since := now.Sub(st.LastNotification); since < cooldown {
			return CheckResult{Reason: ReasonCooldown, CooldownRemaining: cooldown - since}, nil
		}
	}

	if e.sentToday(st, now) >= pref.MaxPerDay {
		return CheckResult{Reason: ReasonDailyLimit}, nil
	}

	if !st.LastIgnored.IsZero() &&
		now.Sub(st.LastIgnored) < e.ignoreWindow &&
		st.IgnoreCount > e.ignoreThreshold {
		return CheckResult{Reason: ReasonRepeatedIgnore}, nil
	}

	return CheckResult{Allowed: true, Reason: ReasonApproved}, nil
}

// RecordNotification marks a notification as sent: it stamps the time,
// bumps the daily counter, and clears ignore tracking. If the durable
// write fails the in-process state still advances and ErrStateDesync is
// returned, so the send cannot be double-counted on retry.
func (e *Engine) RecordNotification(ctx context.Context, key Key) error {
	defer e.lock(key)()

	st := e.loadOrDefault(ctx, key)
	now := e.now().In(e.loc)

	if sameDay(st.LastNotification, now, e.loc) {
		st.NotificationCount++
	} else {
		st.NotificationCount = 1
	}
	st.LastNotification = now
	st.LastIgnored = time.Time{}
	st.IgnoreCount = 0

	e.cache.Put(key, st)
	if err := e.store.PutPolicyState(ctx, st); err != nil {
		e.log.Error("policy state desync: persist failed after recorded notification",
			logx.String("user", key.UserID), logx.String("community", key.CommunityID), logx.Err(err))
		return fmt.Errorf("%w: %v", ErrStateDesync, err)
	}
	return nil
}

// RecordIgnore counts a notification the user did not engage with.
func (e *Engine) RecordIgnore(ctx context.Context, key Key) error {
	defer e.lock(key)()

	st := e.loadOrDefault(ctx, key)
	st.LastIgnored = e.now().In(e.loc)
	st.IgnoreCount++

	e.cache.Put(key, st)
	if err := e.store.PutPolicyState(ctx, st); err != nil {
		return fmt.Errorf("persist ignore: %w", err)
	}
	return nil
}

// ValidateDecision is the second-line content check applied to oracle
// output right before delivery, independent of the adapter's own
// validation.
func (e *Engine) ValidateDecision(d *oracle.Decision) error {
	var issues []string
	if d == nil {
		return fmt.Errorf("policy: nil decision")
	}
	if strings.TrimSpace(d.Message) == "" {
		issues = append(issues, "empty message")
	}
	if len(d.Message) > oracle.MaxMessageLen {
		issues = append(issues, fmt.Sprintf("message exceeds %d characters", oracle.MaxMessageLen))
	}
	if !oracle.ValidPriority(d.Priority) {
		issues = append(issues, "invalid priority")
	}
	if !oracle.ValidTone(d.Tone) {
		issues = append(issues, "invalid tone")
	}
	if len(issues) > 0 {
		return fmt.Errorf("policy: decision rejected: %s", strings.Join(issues, "; "))
	}
	return nil
}

// Preferences returns the stored preference for a pair, or the defaults
// when the pair has no entry yet. Reading never creates an entry.
func (e *Engine) Preferences(ctx context.Context, key Key) (Preference, error) {
	defer e.lock(key)()

	st, found, err := e.loadState(ctx, key)
	if err != nil {
		return Preference{}, err
	}
	if !found {
		return e.defaults, nil
	}
	return st.Preference, nil
}

// UpdatePreferences validates and stores a new preference for a pair.
func (e *Engine) UpdatePreferences(ctx context.Context, key Key, p Preference) error {
	if p.Quiet.Start < 0 || p.Quiet.Start > 23 || p.Quiet.End < 0 || p.Quiet.End > 23 {
		return fmt.Errorf("policy: quiet hours out of range: %d-%d", p.Quiet.Start, p.Quiet.End)
	}
	if p.MaxPerDay < 0 {
		return fmt.Errorf("policy: max_per_day must be >= 0")
	}
	if p.CooldownMinutes < 0 {
		return fmt.Errorf("policy: cooldown_minutes must be >= 0")
	}

	defer e.lock(key)()

	st := e.loadOrDefault(ctx, key)
	st.Preference = p

	e.cache.Put(key, st)
	if err := e.store.PutPolicyState(ctx, st); err != nil {
		return fmt.Errorf("persist preferences: %w", err)
	}
	return nil
}

// ---- state loading ----

func (e *Engine) loadState(ctx context.Context, key Key) (*State, bool, error) {
	if st, ok := e.cache.Get(key); ok {
		return st, true, nil
	}
	st, found, err := e.store.PolicyState(ctx, key)
	if err != nil {
		return nil, false, fmt.Errorf("load policy state: %w", err)
	}
	if found {
		e.cache.Put(key, st)
	}
	return st, found, nil
}

// loadOrDefault is used on write paths, where a read failure must not
// block recording: the freshest known state wins, falling back to a new
// default entry.
func (e *Engine) loadOrDefault(ctx context.Context, key Key) *State {
	st, found, err := e.loadState(ctx, key)
	if err != nil {
		e.log.Warn("policy state read failed; recording against fresh entry",
			logx.String("user", key.UserID), logx.String("community", key.CommunityID), logx.Err(err))
	}
	if !found || st == nil {
		st = &State{Key: key, Preference: e.defaults}
	}
	return st
}

// sentToday returns the daily counter if the last notification falls on
// the same calendar day as now, else zero.
func (e *Engine) sentToday(st *State, now time.Time) int {
	if st.LastNotification.IsZero() || !sameDay(st.LastNotification, now, e.loc) {
		return 0
	}
	return st.NotificationCount
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
