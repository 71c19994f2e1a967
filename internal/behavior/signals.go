package behavior

import (
	"sort"
	"time"
)

// InactivityLevel buckets hours since last activity.
type InactivityLevel string

const (
	InactivityLow    InactivityLevel = "low"
	InactivityMedium InactivityLevel = "medium"
	InactivityHigh   InactivityLevel = "high"
)

// Trend describes how activity volume changed across the window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendStable     Trend = "stable"
	TrendDropping   Trend = "dropping"
	TrendUnknown    Trend = "unknown"
)

type Mood string

const (
	MoodFrustrated Mood = "frustrated"
	MoodNeutral    Mood = "neutral"
	MoodPositive   Mood = "positive"
)

type SocialState string

const (
	SocialIsolated SocialState = "isolated"
	SocialActive   SocialState = "active"
	SocialSocial   SocialState = "social"
)

// Signals is the compact behavioral summary fed to the decision oracle.
// It is recomputed per cycle and never persisted.
type Signals struct {
	UserID           string
	InactivityLevel  InactivityLevel
	EngagementTrend  Trend
	Mood             Mood
	SocialState      SocialState
	TopicInterests   []string
	TotalActivities  int
	MemberSinceWeeks int
}

// moodWindow bounds the sub-window used for mood and social-state scoring.
const moodWindow = 20

// BuildSignals converts a user's recent activity window into behavioral
// signals. The window must be sorted descending by timestamp (newest
// first), as returned by ActivitySource.RecentActivity.
//
// Pure aside from the caller-supplied now; identical inputs give
// identical outputs.
func BuildSignals(now time.Time, user User, window []ActivityEntry) Signals {
	sub := window
	if len(sub) > moodWindow {
		sub = sub[:moodWindow]
	}

	return Signals{
		UserID:           user.ID,
		InactivityLevel:  inactivityLevel(now, user),
		EngagementTrend:  engagementTrend(window),
		Mood:             userMood(sub),
		SocialState:      socialState(sub),
		TopicInterests:   topicInterests(window),
		TotalActivities:  len(window),
		MemberSinceWeeks: int(now.Sub(user.CreatedAt).Hours() / (24 * 7)),
	}
}

func inactivityLevel(now time.Time, user User) InactivityLevel {
	last := user.LastActive
	if last.IsZero() {
		last = user.CreatedAt
	}
	switch hours := now.Sub(last).Hours(); {
	case hours < 6:
		return InactivityLow
	case hours < 24:
		return InactivityMedium
	default:
		return InactivityHigh
	}
}

// engagementTrend splits the window's time span at its midpoint and
// compares event counts in the older half against the newer half.
func engagementTrend(window []ActivityEntry) Trend {
	if len(window) == 0 {
		return TrendUnknown
	}
	newest := window[0].Timestamp
	oldest := window[len(window)-1].Timestamp
	mid := oldest.Add(newest.Sub(oldest) / 2)

	var early, late int
	for _, e := range window {
		if e.Timestamp.Before(mid) {
			early++
		} else {
			late++
		}
	}

	switch {
	case float64(late) > float64(early)*1.2:
		return TrendIncreasing
	case float64(late) < float64(early)*0.8:
		return TrendDropping
	default:
		return TrendStable
	}
}

func userMood(sub []ActivityEntry) Mood {
	var messages, reactions, voice, negative int
	for _, e := range sub {
		switch e.EventType {
		case EventMessageSent:
			messages++
		case EventReactionAdded:
			reactions++
		case EventVoiceJoined:
			voice++
		case EventInactivityDetected:
			negative++
		}
	}

	interactions := messages + reactions + voice
	if interactions == 0 {
		return MoodNeutral
	}

	score := voice*2 + reactions + messages
	if float64(negative) > float64(interactions)*0.3 {
		return MoodFrustrated
	}
	if float64(score) > float64(interactions)*1.5 {
		return MoodPositive
	}
	return MoodNeutral
}

func socialState(sub []ActivityEntry) SocialState {
	var messages, voiceJoins int
	for _, e := range sub {
		switch e.EventType {
		case EventMessageSent:
			messages++
		case EventVoiceJoined:
			voiceJoins++
		}
	}
	switch {
	case voiceJoins > 0 || messages > 5:
		return SocialSocial
	case messages > 0:
		return SocialActive
	default:
		return SocialIsolated
	}
}

// topicInterests returns the three most-referenced channel identifiers,
// ties broken by first appearance in the window.
func topicInterests(window []ActivityEntry) []string {
	counts := map[string]int{}
	firstSeen := map[string]int{}
	for i, e := range window {
		ch := e.Metadata.ChannelID
		if ch == "" {
			continue
		}
		if _, ok := counts[ch]; !ok {
			firstSeen[ch] = i
		}
		counts[ch]++
	}

	channels := make([]string, 0, len(counts))
	for ch := range counts {
		channels = append(channels, ch)
	}
	sort.Slice(channels, func(i, j int) bool {
		a, b := channels[i], channels[j]
		if counts[a] != counts[b] {
			return counts[a] > counts[b]
		}
		return firstSeen[a] < firstSeen[b]
	})

	if len(channels) > 3 {
		channels = channels[:3]
	}
	return channels
}
