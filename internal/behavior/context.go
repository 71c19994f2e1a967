package behavior

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"pulsebot/pkg/logx"
)

// ErrNoContext is returned when a user cannot be evaluated: either the
// profile is unknown or there is no recorded behavior to reason about.
var ErrNoContext = errors.New("behavior: no context available")

const (
	defaultWindow = 7 * 24 * time.Hour
	defaultLimit  = 100

	newMemberTenure   = 30 * 24 * time.Hour
	inactiveGap       = 48 * time.Hour
	highlyEngagedMin  = 20
	communityActivity = 24 * time.Hour
)

// RecentBehavior aggregates one user's activity window.
type RecentBehavior struct {
	Messages         int
	VoiceTimeHours   int
	LastActivityType EventType
	LastActivityTime time.Time
	MostActiveDay    string
	PeakHours        []string
	TotalActivities  int
}

// CommunityContext summarizes the community a decision is made for.
type CommunityContext struct {
	Name            string
	Description     string
	MemberCount     int
	ChannelCount    int
	ActivityLast24h int
}

// Flags are the derived booleans the oracle keys on.
type Flags struct {
	NewMember     bool
	Inactive      bool
	HighlyEngaged bool
	Quiet         bool
}

// Context is the full decision context for one (user, community) pair.
// Built fresh per decision and never persisted.
type Context struct {
	BuiltAt   time.Time
	Profile   User
	Recent    RecentBehavior
	Community *CommunityContext
	Flags     Flags

	// Window holds the raw entries backing Recent (newest first), so
	// callers can derive Signals without a second fetch.
	Window []ActivityEntry
}

// ContextBuilder assembles decision contexts from the activity source and
// the account/community directory.
type ContextBuilder struct {
	activity ActivitySource
	dir      Directory

	window time.Duration
	limit  int

	now func() time.Time
	log logx.Logger
}

type BuilderOption func(*ContextBuilder)

// WithWindow overrides the activity window and entry limit.
func WithWindow(window time.Duration, limit int) BuilderOption {
	return func(b *ContextBuilder) {
		if window > 0 {
			b.window = window
		}
		if limit > 0 {
			b.limit = limit
		}
	}
}

// WithClock overrides the wall clock (tests).
func WithClock(now func() time.Time) BuilderOption {
	return func(b *ContextBuilder) { b.now = now }
}

func NewContextBuilder(activity ActivitySource, dir Directory, log logx.Logger, opts ...BuilderOption) *ContextBuilder {
	b := &ContextBuilder{
		activity: activity,
		dir:      dir,
		window:   defaultWindow,
		limit:    defaultLimit,
		now:      time.Now,
		log:      log,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Build fetches profile, recent behavior, and community context
// concurrently and merges them. It returns ErrNoContext when the profile
// is missing or the user has no activity in the window; a missing
// community is tolerated (the context simply carries no community block).
func (b *ContextBuilder) Build(ctx context.Context, userID, communityID string) (*Context, error) {
	now := b.now()

	var (
		user      *User
		window    []ActivityEntry
		community *CommunityContext
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		u, err := b.dir.User(gctx, userID)
		if err != nil {
			return fmt.Errorf("fetch profile: %w", err)
		}
		user = u
		return nil
	})
	g.Go(func() error {
		entries, err := b.activity.RecentActivity(gctx, userID, now.Add(-b.window), b.limit)
		if err != nil {
			return fmt.Errorf("fetch activity: %w", err)
		}
		window = entries
		return nil
	})
	g.Go(func() error {
		c, err := b.dir.Community(gctx, communityID)
		if err != nil || c == nil {
			// Community context is best-effort.
			if err != nil {
				b.log.Debug("community context unavailable",
					logx.String("community", communityID), logx.Err(err))
			}
			return nil
		}
		count, err := b.activity.CommunityActivityCount(gctx, communityID, now.Add(-communityActivity))
		if err != nil {
			count = 0
		}
		community = &CommunityContext{
			Name:            c.Name,
			Description:     c.Description,
			MemberCount:     len(c.MemberIDs),
			ChannelCount:    len(c.ChannelIDs),
			ActivityLast24h: count,
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if user == nil || len(window) == 0 {
		return nil, ErrNoContext
	}

	recent := summarizeRecent(window)

	return &Context{
		BuiltAt:   now,
		Profile:   *user,
		Recent:    recent,
		Community: community,
		Flags: Flags{
			NewMember:     now.Sub(user.CreatedAt) < newMemberTenure,
			Inactive:      !recent.LastActivityTime.IsZero() && now.Sub(recent.LastActivityTime) > inactiveGap,
			HighlyEngaged: recent.TotalActivities > highlyEngagedMin,
			Quiet:         recent.Messages == 0 && recent.VoiceTimeHours == 0,
		},
		Window: window,
	}, nil
}

func summarizeRecent(window []ActivityEntry) RecentBehavior {
	var messages, voiceSec int
	for _, e := range window {
		switch e.EventType {
		case EventMessageSent:
			messages++
		case EventVoiceJoined:
			voiceSec += e.Metadata.DurationSec
		}
	}

	r := RecentBehavior{
		Messages:        messages,
		VoiceTimeHours:  int(math.Round(float64(voiceSec) / 3600)),
		MostActiveDay:   mostActiveDay(window),
		PeakHours:       peakHours(window),
		TotalActivities: len(window),
	}
	if len(window) > 0 {
		r.LastActivityType = window[0].EventType
		r.LastActivityTime = window[0].Timestamp
	}
	return r
}

func mostActiveDay(window []ActivityEntry) string {
	if len(window) == 0 {
		return "unknown"
	}
	var counts [7]int
	for _, e := range window {
		counts[e.Timestamp.Weekday()]++
	}
	best := 0
	for d := 1; d < 7; d++ {
		if counts[d] > counts[best] {
			best = d
		}
	}
	return time.Weekday(best).String()
}

// peakHours returns the top three hours-of-day by event count, busiest
// first, earlier hour winning ties.
func peakHours(window []ActivityEntry) []string {
	var counts [24]int
	for _, e := range window {
		counts[e.Timestamp.Hour()]++
	}

	hours := make([]int, 0, 24)
	for h, n := range counts {
		if n > 0 {
			hours = append(hours, h)
		}
	}
	sort.Slice(hours, func(i, j int) bool {
		if counts[hours[i]] != counts[hours[j]] {
			return counts[hours[i]] > counts[hours[j]]
		}
		return hours[i] < hours[j]
	})
	if len(hours) > 3 {
		hours = hours[:3]
	}

	out := make([]string, len(hours))
	for i, h := range hours {
		out[i] = fmt.Sprintf("%d:00", h)
	}
	return out
}
