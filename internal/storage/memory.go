package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"pulsebot/internal/behavior"
	"pulsebot/internal/policy"
)

// Memory is a map-backed Store. Nothing survives a restart; it exists
// for tests and for running the pipeline without a database file.
type Memory struct {
	mu sync.RWMutex

	states      map[policy.Key]policy.State
	activity    []behavior.ActivityEntry
	users       map[string]behavior.User
	communities map[string]behavior.Community
	deliveries  []Delivery
}

func NewMemory() *Memory {
	return &Memory{
		states:      map[policy.Key]policy.State{},
		users:       map[string]behavior.User{},
		communities: map[string]behavior.Community{},
	}
}

func (m *Memory) Close() error { return nil }

func (m *Memory) PolicyState(_ context.Context, key policy.Key) (*policy.State, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	st, ok := m.states[key]
	if !ok {
		return nil, false, nil
	}
	cp := st
	return &cp, true, nil
}

func (m *Memory) PutPolicyState(_ context.Context, st *policy.State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[st.Key] = *st
	return nil
}

func (m *Memory) AppendActivity(_ context.Context, e behavior.ActivityEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activity = append(m.activity, e)
	return nil
}

func (m *Memory) RecentActivity(_ context.Context, userID string, since time.Time, limit int) ([]behavior.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []behavior.ActivityEntry
	for _, e := range m.activity {
		if e.UserID == userID && !e.Timestamp.Before(since) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) CommunityActivityCount(_ context.Context, communityID string, since time.Time) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, e := range m.activity {
		if e.CommunityID == communityID && !e.Timestamp.Before(since) {
			n++
		}
	}
	return n, nil
}

func (m *Memory) User(_ context.Context, userID string) (*behavior.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[userID]
	if !ok {
		return nil, nil
	}
	cp := u
	return &cp, nil
}

func (m *Memory) Community(_ context.Context, communityID string) (*behavior.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.communities[communityID]
	if !ok {
		return nil, nil
	}
	cp := c
	return &cp, nil
}

func (m *Memory) Communities(_ context.Context) ([]behavior.Community, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.communities))
	for id := range m.communities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]behavior.Community, 0, len(ids))
	for _, id := range ids {
		out = append(out, m.communities[id])
	}
	return out, nil
}

func (m *Memory) SaveDelivery(_ context.Context, d Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deliveries = append(m.deliveries, d)
	return nil
}

// Deliveries returns a snapshot of recorded hand-offs (tests).
func (m *Memory) Deliveries() []Delivery {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Delivery(nil), m.deliveries...)
}

func (m *Memory) UpsertUser(_ context.Context, u behavior.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	return nil
}

func (m *Memory) UpsertCommunity(_ context.Context, c behavior.Community) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.communities[c.ID] = c
	return nil
}
