package behavior

import (
	"context"
	"time"
)

// EventType classifies a tracked activity event.
type EventType string

const (
	EventMessageSent        EventType = "message_sent"
	EventUserJoined         EventType = "user_joined"
	EventUserLeft           EventType = "user_left"
	EventReactionAdded      EventType = "reaction_added"
	EventVoiceJoined        EventType = "voice_joined"
	EventVoiceLeft          EventType = "voice_left"
	EventCommandUsed        EventType = "command_used"
	EventRoleChanged        EventType = "role_changed"
	EventInactivityDetected EventType = "inactivity_detected"
)

// ActivityEntry is one immutable activity-log record, produced by the
// surrounding chat system on every tracked event.
type ActivityEntry struct {
	UserID      string
	CommunityID string
	EventType   EventType
	Metadata    ActivityMetadata
	Timestamp   time.Time
}

type ActivityMetadata struct {
	ChannelID     string
	MessageID     string
	ReactionEmoji string
	// DurationSec is the voice-session length for voice events.
	DurationSec int
	Role        string
}

// User is the profile record supplied by the account directory.
type User struct {
	ID         string
	Username   string
	CreatedAt  time.Time
	LastActive time.Time
	Avatar     string
}

// Community is the community record supplied by the directory.
type Community struct {
	ID          string
	Name        string
	Description string
	MemberIDs   []string
	ChannelIDs  []string
}

// ActivitySource reads activity-log records written by external subsystems.
type ActivitySource interface {
	// RecentActivity returns entries for one user newer than since,
	// sorted descending by timestamp, at most limit entries.
	RecentActivity(ctx context.Context, userID string, since time.Time, limit int) ([]ActivityEntry, error)

	// CommunityActivityCount counts entries for a community newer than since.
	CommunityActivityCount(ctx context.Context, communityID string, since time.Time) (int, error)
}

// Directory resolves users and communities.
type Directory interface {
	User(ctx context.Context, userID string) (*User, error)
	Community(ctx context.Context, communityID string) (*Community, error)
	Communities(ctx context.Context) ([]Community, error)
}
