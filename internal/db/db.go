package db

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Connect opens the Postgres pool and applies migrations.
func Connect(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return db, nil
}

// The users table belongs to the account service; it is created here only so
// presence updates have somewhere to land in a fresh database.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		profile_image TEXT NOT NULL DEFAULT '',
		online_status TEXT NOT NULL DEFAULT 'offline',
		last_seen TIMESTAMPTZ
	);`,
	`CREATE TABLE IF NOT EXISTS conversations (
		id TEXT PRIMARY KEY,
		type TEXT NOT NULL CHECK (type IN ('private', 'group')),
		participant_ids TEXT[] NOT NULL DEFAULT '{}',
		name TEXT NOT NULL DEFAULT '',
		group_image TEXT NOT NULL DEFAULT '',
		admin_ids TEXT[] NOT NULL DEFAULT '{}',
		pair_key TEXT UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);`,
	`CREATE INDEX IF NOT EXISTS conversations_participants_idx ON conversations USING GIN (participant_ids);`,
	`CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
		sender_id TEXT NOT NULL,
		receiver_id TEXT NOT NULL DEFAULT '',
		content JSONB NOT NULL,
		status TEXT NOT NULL DEFAULT 'sent' CHECK (status IN ('sent', 'delivered', 'read')),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		deleted_for_all BOOLEAN NOT NULL DEFAULT FALSE,
		deleted_for TEXT[] NOT NULL DEFAULT '{}',
		reactions JSONB NOT NULL DEFAULT '[]',
		reply_to_id TEXT NOT NULL DEFAULT '',
		forwarded_from TEXT NOT NULL DEFAULT ''
	);`,
	`CREATE INDEX IF NOT EXISTS messages_conversation_idx ON messages (conversation_id, created_at);`,
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	slog.Info("database migrations applied", "count", len(migrations))
	return nil
}
