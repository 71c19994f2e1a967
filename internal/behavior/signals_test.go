package behavior

import (
	"reflect"
	"testing"
	"time"
)

var sigNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func entry(typ EventType, age time.Duration, channel string) ActivityEntry {
	return ActivityEntry{
		UserID:      "u1",
		CommunityID: "c1",
		EventType:   typ,
		Metadata:    ActivityMetadata{ChannelID: channel},
		Timestamp:   sigNow.Add(-age),
	}
}

func TestInactivityLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		user User
		want InactivityLevel
	}{
		{"recent", User{LastActive: sigNow.Add(-time.Hour)}, InactivityLow},
		{"just under six hours", User{LastActive: sigNow.Add(-6*time.Hour + time.Minute)}, InactivityLow},
		{"same day", User{LastActive: sigNow.Add(-10 * time.Hour)}, InactivityMedium},
		{"gone for days", User{LastActive: sigNow.Add(-72 * time.Hour)}, InactivityHigh},
		{"never active falls back to signup", User{CreatedAt: sigNow.Add(-2 * time.Hour)}, InactivityLow},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := inactivityLevel(sigNow, tc.user); got != tc.want {
				t.Fatalf("inactivityLevel = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestEngagementTrend(t *testing.T) {
	t.Parallel()

	// Window entries are newest first; ages relative to sigNow.
	mk := func(ages ...time.Duration) []ActivityEntry {
		out := make([]ActivityEntry, len(ages))
		for i, a := range ages {
			out[i] = entry(EventMessageSent, a, "")
		}
		return out
	}

	tests := []struct {
		name   string
		window []ActivityEntry
		want   Trend
	}{
		{"empty", nil, TrendUnknown},
		{"single entry", mk(time.Hour), TrendIncreasing},
		{
			"clustered late",
			mk(1*time.Hour, 2*time.Hour, 3*time.Hour, 40*time.Hour),
			TrendIncreasing,
		},
		{
			"clustered early",
			mk(1*time.Hour, 38*time.Hour, 39*time.Hour, 40*time.Hour),
			TrendDropping,
		},
		{
			"balanced halves",
			mk(1*time.Hour, 2*time.Hour, 30*time.Hour, 31*time.Hour),
			TrendStable,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := engagementTrend(tc.window); got != tc.want {
				t.Fatalf("engagementTrend = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestUserMood(t *testing.T) {
	t.Parallel()

	rep := func(typ EventType, n int) []ActivityEntry {
		out := make([]ActivityEntry, n)
		for i := range out {
			out[i] = entry(typ, time.Duration(i)*time.Minute, "")
		}
		return out
	}

	tests := []struct {
		name string
		sub  []ActivityEntry
		want Mood
	}{
		{"no interactions", rep(EventInactivityDetected, 3), MoodNeutral},
		{"voice heavy", rep(EventVoiceJoined, 5), MoodPositive},
		{"messages only", rep(EventMessageSent, 5), MoodNeutral},
		{
			"inactivity dominates",
			append(rep(EventMessageSent, 2), rep(EventInactivityDetected, 1)...),
			MoodFrustrated,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := userMood(tc.sub); got != tc.want {
				t.Fatalf("userMood = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestSocialState(t *testing.T) {
	t.Parallel()

	rep := func(typ EventType, n int) []ActivityEntry {
		out := make([]ActivityEntry, n)
		for i := range out {
			out[i] = entry(typ, time.Duration(i)*time.Minute, "")
		}
		return out
	}

	tests := []struct {
		name string
		sub  []ActivityEntry
		want SocialState
	}{
		{"nothing", nil, SocialIsolated},
		{"reactions only", rep(EventReactionAdded, 4), SocialIsolated},
		{"a few messages", rep(EventMessageSent, 3), SocialActive},
		{"chatty", rep(EventMessageSent, 6), SocialSocial},
		{"one voice join", rep(EventVoiceJoined, 1), SocialSocial},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := socialState(tc.sub); got != tc.want {
				t.Fatalf("socialState = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestTopicInterests(t *testing.T) {
	t.Parallel()

	window := []ActivityEntry{
		entry(EventMessageSent, 1*time.Minute, "gaming"),
		entry(EventMessageSent, 2*time.Minute, "music"),
		entry(EventMessageSent, 3*time.Minute, "gaming"),
		entry(EventMessageSent, 4*time.Minute, "memes"),
		entry(EventMessageSent, 5*time.Minute, "music"),
		entry(EventMessageSent, 6*time.Minute, "dev"),
		entry(EventVoiceJoined, 7*time.Minute, ""),
	}

	got := topicInterests(window)
	// gaming and music tie at 2; gaming appeared first. memes and dev tie
	// at 1; memes appeared first and takes the last slot.
	want := []string{"gaming", "music", "memes"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("topicInterests = %v, want %v", got, want)
	}
}

func TestBuildSignalsComposes(t *testing.T) {
	t.Parallel()

	user := User{
		ID:         "u1",
		CreatedAt:  sigNow.Add(-10 * 7 * 24 * time.Hour),
		LastActive: sigNow.Add(-2 * time.Hour),
	}
	window := []ActivityEntry{
		entry(EventMessageSent, 2*time.Hour, "general"),
		entry(EventReactionAdded, 3*time.Hour, "general"),
	}

	sig := BuildSignals(sigNow, user, window)
	if sig.UserID != "u1" {
		t.Fatalf("UserID = %q", sig.UserID)
	}
	if sig.InactivityLevel != InactivityLow {
		t.Fatalf("InactivityLevel = %q", sig.InactivityLevel)
	}
	if sig.TotalActivities != 2 {
		t.Fatalf("TotalActivities = %d", sig.TotalActivities)
	}
	if sig.MemberSinceWeeks != 10 {
		t.Fatalf("MemberSinceWeeks = %d", sig.MemberSinceWeeks)
	}
	if !reflect.DeepEqual(sig.TopicInterests, []string{"general"}) {
		t.Fatalf("TopicInterests = %v", sig.TopicInterests)
	}
}

func TestBuildSignalsDeterministic(t *testing.T) {
	t.Parallel()

	user := User{ID: "u1", CreatedAt: sigNow.Add(-60 * 24 * time.Hour), LastActive: sigNow.Add(-30 * time.Hour)}
	window := []ActivityEntry{
		entry(EventMessageSent, 1*time.Hour, "a"),
		entry(EventVoiceJoined, 5*time.Hour, "b"),
		entry(EventReactionAdded, 70*time.Hour, "a"),
	}

	a := BuildSignals(sigNow, user, window)
	b := BuildSignals(sigNow, user, window)
	if !reflect.DeepEqual(a, b) {
		t.Fatalf("identical inputs produced different signals:\n%+v\n%+v", a, b)
	}
}
