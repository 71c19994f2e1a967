package storage

import (
	"context"
	"testing"
	"time"

	"pulsebot/internal/behavior"
	"pulsebot/internal/policy"
)

func TestMemoryPolicyStateIsolation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	key := policy.Key{UserID: "u1", CommunityID: "c1"}

	st := &policy.State{Key: key, IgnoreCount: 1}
	if err := m.PutPolicyState(ctx, st); err != nil {
		t.Fatalf("PutPolicyState: %v", err)
	}

	got, found, err := m.PolicyState(ctx, key)
	if err != nil || !found {
		t.Fatalf("PolicyState: found=%v err=%v", found, err)
	}
	// Returned value is a copy; mutating it must not touch the store.
	got.IgnoreCount = 99
	again, _, _ := m.PolicyState(ctx, key)
	if again.IgnoreCount != 1 {
		t.Fatalf("store state aliased by caller copy: %+v", again)
	}
}

func TestMemoryRecentActivityOrderAndLimit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	now := time.Now()

	// Insert oldest-first; reads must come back newest-first.
	for i := 3; i >= 0; i-- {
		_ = m.AppendActivity(ctx, behavior.ActivityEntry{
			UserID:    "u1",
			EventType: behavior.EventMessageSent,
			Timestamp: now.Add(-time.Duration(i) * time.Hour),
		})
	}

	got, err := m.RecentActivity(ctx, "u1", now.Add(-48*time.Hour), 3)
	if err != nil {
		t.Fatalf("RecentActivity: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("entries = %d, want 3", len(got))
	}
	if !got[0].Timestamp.Equal(now) {
		t.Fatalf("newest entry not first: %v", got[0].Timestamp)
	}
}

func TestMemoryCommunitiesSorted(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	for _, id := range []string{"zeta", "alpha", "mid"} {
		_ = m.UpsertCommunity(ctx, behavior.Community{ID: id, Name: id})
	}

	all, err := m.Communities(ctx)
	if err != nil {
		t.Fatalf("Communities: %v", err)
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, c := range all {
		if c.ID != want[i] {
			t.Fatalf("order = %v", all)
		}
	}
}

func TestMemoryDeliveriesSnapshot(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemory()
	_ = m.SaveDelivery(ctx, Delivery{ID: "d1", UserID: "u1"})

	snap := m.Deliveries()
	if len(snap) != 1 || snap[0].ID != "d1" {
		t.Fatalf("snapshot = %+v", snap)
	}
	if snap[0].CreatedAt.IsZero() {
		t.Fatalf("CreatedAt not stamped")
	}
}
