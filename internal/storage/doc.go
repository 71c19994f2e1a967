package storage

// Package storage is the persistence layer behind the notification
// pipeline. It owns the durable per-pair policy state and acts as the
// read-side adapter for records written by the surrounding chat system:
// activity-log entries, user profiles, and community membership. It also
// stores delivery hand-offs for in-app consumption.
