package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"pulsebot/internal/behavior"
	"pulsebot/internal/policy"
	"pulsebot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./pulsebot.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- policy state ----

func (s *sqliteStore) PolicyState(ctx context.Context, key policy.Key) (*policy.State, bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT last_notification, notification_count, last_ignored, ignore_count,
		        pref_enabled, pref_quiet_start, pref_quiet_end, pref_max_per_day, pref_cooldown_minutes
		 FROM policy_state WHERE user_id = ? AND community_id = ?`,
		key.UserID, key.CommunityID)

	var (
		lastNotif, lastIgnored sql.NullInt64
		enabled                int
		st                     = policy.State{Key: key}
	)
	err := row.Scan(&lastNotif, &st.NotificationCount, &lastIgnored, &st.IgnoreCount,
		&enabled, &st.Preference.Quiet.Start, &st.Preference.Quiet.End,
		&st.Preference.MaxPerDay, &st.Preference.CooldownMinutes)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	st.Preference.Enabled = enabled != 0
	st.LastNotification = msTime(lastNotif)
	st.LastIgnored = msTime(lastIgnored)
	return &st, true, nil
}

func (s *sqliteStore) PutPolicyState(ctx context.Context, st *policy.State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO policy_state(user_id, community_id, last_notification, notification_count,
		                          last_ignored, ignore_count, pref_enabled, pref_quiet_start,
		                          pref_quiet_end, pref_max_per_day, pref_cooldown_minutes)
		 VALUES(?,?,?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(user_id, community_id) DO UPDATE SET
		   last_notification=excluded.last_notification,
		   notification_count=excluded.notification_count,
		   last_ignored=excluded.last_ignored,
		   ignore_count=excluded.ignore_count,
		   pref_enabled=excluded.pref_enabled,
		   pref_quiet_start=excluded.pref_quiet_start,
		   pref_quiet_end=excluded.pref_quiet_end,
		   pref_max_per_day=excluded.pref_max_per_day,
		   pref_cooldown_minutes=excluded.pref_cooldown_minutes`,
		st.Key.UserID, st.Key.CommunityID,
		nullMS(st.LastNotification), st.NotificationCount,
		nullMS(st.LastIgnored), st.IgnoreCount,
		boolInt(st.Preference.Enabled), st.Preference.Quiet.Start, st.Preference.Quiet.End,
		st.Preference.MaxPerDay, st.Preference.CooldownMinutes)
	return err
}

// ---- activity ----

func (s *sqliteStore) AppendActivity(ctx context.Context, e behavior.ActivityEntry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO activity_log(user_id, community_id, event_type, channel_id, message_id,
		                          reaction_emoji, duration_sec, role, ts)
		 VALUES(?,?,?,?,?,?,?,?,?)`,
		e.UserID, nullStr(e.CommunityID), string(e.EventType),
		nullStr(e.Metadata.ChannelID), nullStr(e.Metadata.MessageID),
		nullStr(e.Metadata.ReactionEmoji), e.Metadata.DurationSec, nullStr(e.Metadata.Role),
		e.Timestamp.UnixMilli())
	return err
}

func (s *sqliteStore) RecentActivity(ctx context.Context, userID string, since time.Time, limit int) ([]behavior.ActivityEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, community_id, event_type, channel_id, message_id, reaction_emoji,
		        duration_sec, role, ts
		 FROM activity_log WHERE user_id = ? AND ts >= ?
		 ORDER BY ts DESC LIMIT ?`,
		userID, since.UnixMilli(), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []behavior.ActivityEntry
	for rows.Next() {
		var (
			e                                      behavior.ActivityEntry
			community, channel, message, emoji, rl sql.NullString
			dur                                    sql.NullInt64
			ms                                     int64
			et                                     string
		)
		if err := rows.Scan(&e.UserID, &community, &et, &channel, &message, &emoji, &dur, &rl, &ms); err != nil {
			return nil, err
		}
		e.CommunityID = community.String
		e.EventType = behavior.EventType(et)
		e.Metadata = behavior.ActivityMetadata{
			ChannelID:     channel.String,
			MessageID:     message.String,
			ReactionEmoji: emoji.String,
			DurationSec:   int(dur.Int64),
			Role:          rl.String,
		}
		e.Timestamp = time.UnixMilli(ms)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CommunityActivityCount(ctx context.Context, communityID string, since time.Time) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_log WHERE community_id = ? AND ts >= ?`,
		communityID, since.UnixMilli()).Scan(&n)
	return n, err
}

// ---- directory ----

func (s *sqliteStore) User(ctx context.Context, userID string) (*behavior.User, error) {
	var (
		u          = behavior.User{ID: userID}
		created    int64
		lastActive sql.NullInt64
		avatar     sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, created_at, last_active, avatar FROM users WHERE id = ?`, userID).
		Scan(&u.Username, &created, &lastActive, &avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	u.CreatedAt = time.UnixMilli(created)
	u.LastActive = msTime(lastActive)
	u.Avatar = avatar.String
	return &u, nil
}

func (s *sqliteStore) Community(ctx context.Context, communityID string) (*behavior.Community, error) {
	var (
		c    = behavior.Community{ID: communityID}
		desc sql.NullString
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT name, description FROM communities WHERE id = ?`, communityID).
		Scan(&c.Name, &desc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	c.Description = desc.String

	if c.MemberIDs, err = s.stringColumn(ctx,
		`SELECT user_id FROM community_members WHERE community_id = ? ORDER BY user_id`, communityID); err != nil {
		return nil, err
	}
	if c.ChannelIDs, err = s.stringColumn(ctx,
		`SELECT channel_id FROM community_channels WHERE community_id = ? ORDER BY channel_id`, communityID); err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *sqliteStore) Communities(ctx context.Context) ([]behavior.Community, error) {
	ids, err := s.stringColumn(ctx, `SELECT id FROM communities ORDER BY id`)
	if err != nil {
		return nil, err
	}
	out := make([]behavior.Community, 0, len(ids))
	for _, id := range ids {
		c, err := s.Community(ctx, id)
		if err != nil {
			return nil, err
		}
		if c != nil {
			out = append(out, *c)
		}
	}
	return out, nil
}

// ---- deliveries ----

func (s *sqliteStore) SaveDelivery(ctx context.Context, d Delivery) error {
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO deliveries(id, user_id, community_id, message, priority, tone, created_at, read)
		 VALUES(?,?,?,?,?,?,?,?)`,
		d.ID, d.UserID, d.CommunityID, d.Message, d.Priority, d.Tone,
		d.CreatedAt.UnixMilli(), boolInt(d.Read))
	return err
}

// ---- seeding (used by the surrounding system's sync jobs and tests) ----

func (s *sqliteStore) UpsertUser(ctx context.Context, u behavior.User) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, created_at, last_active, avatar) VALUES(?,?,?,?,?)
		 ON CONFLICT(id) DO UPDATE SET
		   username=excluded.username, created_at=excluded.created_at,
		   last_active=excluded.last_active, avatar=excluded.avatar`,
		u.ID, u.Username, u.CreatedAt.UnixMilli(), nullMS(u.LastActive), nullStr(u.Avatar))
	return err
}

func (s *sqliteStore) UpsertCommunity(ctx context.Context, c behavior.Community) error {
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO communities(id, name, description) VALUES(?,?,?)
		 ON CONFLICT(id) DO UPDATE SET name=excluded.name, description=excluded.description`,
		c.ID, c.Name, nullStr(c.Description)); err != nil {
		return err
	}
	for _, m := range c.MemberIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO community_members(community_id, user_id) VALUES(?,?)`, c.ID, m); err != nil {
			return err
		}
	}
	for _, ch := range c.ChannelIDs {
		if _, err := s.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO community_channels(community_id, channel_id) VALUES(?,?)`, c.ID, ch); err != nil {
			return err
		}
	}
	return nil
}

// ---- helpers ----

func (s *sqliteStore) stringColumn(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func msTime(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64)
}

func nullMS(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UnixMilli()
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
