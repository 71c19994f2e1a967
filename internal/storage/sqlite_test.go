package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"pulsebot/internal/behavior"
	"pulsebot/internal/policy"
	"pulsebot/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{
		Driver:      "sqlite",
		Path:        filepath.Join(t.TempDir(), "test.db"),
		BusyTimeout: time.Second,
	}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()

	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatalf("unknown driver accepted")
	}
}

func TestOpenMemoryDriver(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{Driver: "memory"}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, ok := st.(*Memory); !ok {
		t.Fatalf("got %T, want *Memory", st)
	}
}

func TestPolicyStateRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openTestStore(t)
	key := policy.Key{UserID: "u1", CommunityID: "c1"}

	if _, found, err := st.PolicyState(ctx, key); err != nil || found {
		t.Fatalf("fresh store: found=%v err=%v", found, err)
	}

	now := time.Now().Truncate(time.Millisecond)
	want := policy.State{
		Key:               key,
		LastNotification:  now,
		NotificationCount: 2,
		LastIgnored:       now.Add(-time.Hour),
		IgnoreCount:       1,
		Preference: policy.Preference{
			Enabled:         true,
			Quiet:           policy.QuietHours{Start: 23, End: 7},
			MaxPerDay:       5,
			CooldownMinutes: 90,
		},
	}
	if err := st.PutPolicyState(ctx, &want); err != nil {
		t.Fatalf("PutPolicyState: %v", err)
	}

	got, found, err := st.PolicyState(ctx, key)
	if err != nil || !found {
		t.Fatalf("PolicyState: found=%v err=%v", found, err)
	}
	if !got.LastNotification.Equal(want.LastNotification) || got.NotificationCount != 2 {
		t.Fatalf("got %+v", got)
	}
	if got.Preference != want.Preference {
		t.Fatalf("preference = %+v, want %+v", got.Preference, want.Preference)
	}

	// Upsert: the same key updates in place, and zero times come back zero.
	want.LastIgnored = time.Time{}
	want.IgnoreCount = 0
	if err := st.PutPolicyState(ctx, &want); err != nil {
		t.Fatalf("PutPolicyState update: %v", err)
	}
	got, _, err = st.PolicyState(ctx, key)
	if err != nil {
		t.Fatalf("PolicyState: %v", err)
	}
	if !got.LastIgnored.IsZero() || got.IgnoreCount != 0 {
		t.Fatalf("update not applied: %+v", got)
	}
}

func TestActivityLog(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	for i := 0; i < 5; i++ {
		err := st.AppendActivity(ctx, behavior.ActivityEntry{
			UserID:      "u1",
			CommunityID: "c1",
			EventType:   behavior.EventMessageSent,
			Metadata:    behavior.ActivityMetadata{ChannelID: "general"},
			Timestamp:   now.Add(-time.Duration(i) * time.Hour),
		})
		if err != nil {
			t.Fatalf("AppendActivity: %v", err)
		}
	}
	// Another user's entry must not leak into u1's window.
	if err := st.AppendActivity(ctx, behavior.ActivityEntry{
		UserID:    "u2",
		EventType: behavior.EventMessageSent,
		Timestamp: now,
	}); err != nil {
		t.Fatalf("AppendActivity: %v", err)
	}

	got, err := st.RecentActivity(ctx, "u1", now.Add(-3*time.Hour), 10)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("entries = %d, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.After(got[i-1].Timestamp) {
			t.Fatalf("entries not newest-first: %v", got)
		}
	}
	if got[0].Metadata.ChannelID != "general" {
		t.Fatalf("metadata lost: %+v", got[0])
	}

	limited, err := st.RecentActivity(ctx, "u1", now.Add(-100*time.Hour), 2)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limit ignored: %d entries", len(limited))
	}

	n, err := st.CommunityActivityCount(ctx, "c1", now.Add(-2*time.Hour))
	if err != nil {
		t.Fatalf("CommunityActivityCount: %v", err)
	}
	if n != 3 {
		t.Fatalf("count = %d, want 3", n)
	}
}

func TestDirectoryRoundTrip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openTestStore(t)
	now := time.Now().Truncate(time.Millisecond)

	seeder, ok := st.(interface {
		UpsertUser(ctx context.Context, u behavior.User) error
		UpsertCommunity(ctx context.Context, c behavior.Community) error
	})
	if !ok {
		t.Fatalf("store has no seeding surface")
	}

	if err := seeder.UpsertUser(ctx, behavior.User{
		ID: "u1", Username: "ada", CreatedAt: now.Add(-48 * time.Hour), LastActive: now,
	}); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}
	if err := seeder.UpsertCommunity(ctx, behavior.Community{
		ID: "c1", Name: "gophers", Description: "a place",
		MemberIDs: []string{"u1", "u2"}, ChannelIDs: []string{"general"},
	}); err != nil {
		t.Fatalf("UpsertCommunity: %v", err)
	}

	u, err := st.User(ctx, "u1")
	if err != nil || u == nil {
		t.Fatalf("User: %v, %v", u, err)
	}
	if u.Username != "ada" || !u.LastActive.Equal(now) {
		t.Fatalf("user = %+v", u)
	}
	if ghost, err := st.User(ctx, "nobody"); err != nil || ghost != nil {
		t.Fatalf("missing user: %v, %v", ghost, err)
	}

	c, err := st.Community(ctx, "c1")
	if err != nil || c == nil {
		t.Fatalf("Community: %v, %v", c, err)
	}
	if len(c.MemberIDs) != 2 || len(c.ChannelIDs) != 1 {
		t.Fatalf("community = %+v", c)
	}

	all, err := st.Communities(ctx)
	if err != nil || len(all) != 1 || all[0].Name != "gophers" {
		t.Fatalf("Communities = %+v, %v", all, err)
	}
}

func TestSaveDelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	st := openTestStore(t)

	err := st.SaveDelivery(ctx, Delivery{
		ID:          "d1",
		UserID:      "u1",
		CommunityID: "c1",
		Message:     "hello",
		Priority:    "low",
		Tone:        "friendly",
	})
	if err != nil {
		t.Fatalf("SaveDelivery: %v", err)
	}
	// Duplicate IDs are a caller bug and must surface.
	if err := st.SaveDelivery(ctx, Delivery{ID: "d1", UserID: "u1", CommunityID: "c1"}); err == nil {
		t.Fatalf("duplicate delivery id accepted")
	}
}
