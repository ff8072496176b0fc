// Package db is the Postgres store: account balances, the append-only
// transaction ledger, reactdrops and per-user settings.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

type DB struct {
	pool *pgxpool.Pool
}

type PoolConfig struct {
	MaxConns int32
}

func New(ctx context.Context, databaseURL string, pc PoolConfig) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	cfg.HealthCheckPeriod = 15 * time.Second
	cfg.ConnConfig.ConnectTimeout = 5 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{pool: pool}, nil
}

func (db *DB) Close() {
	db.pool.Close()
}

// Ping backs the health endpoint.
func (db *DB) Ping(ctx context.Context) error {
	return db.pool.Ping(ctx)
}

// RunMigrations creates the schema. Every statement is idempotent.
func (db *DB) RunMigrations(ctx context.Context) error {
	_, err := db.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			user_id TEXT PRIMARY KEY,
			balance BIGINT NOT NULL DEFAULT 0 CHECK (balance >= 0),
			notification TEXT CHECK (notification IN ('all', 'channel', 'dm', 'off')),
			blacklisted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);

		CREATE TABLE IF NOT EXISTS ledger_entries (
			id BIGSERIAL PRIMARY KEY,
			event_id UUID NOT NULL,
			source_id TEXT NOT NULL REFERENCES accounts(user_id),
			dest_id TEXT NOT NULL REFERENCES accounts(user_id),
			amount BIGINT NOT NULL CHECK (amount > 0),
			kind TEXT NOT NULL CHECK (kind IN ('direct', 'role', 'reactdrop')),
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_event ON ledger_entries(event_id);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_source ON ledger_entries(source_id, id DESC);
		CREATE INDEX IF NOT EXISTS idx_ledger_entries_dest ON ledger_entries(dest_id, id DESC);

		CREATE TABLE IF NOT EXISTS reactdrops (
			id BIGSERIAL PRIMARY KEY,
			initiator_id TEXT NOT NULL REFERENCES accounts(user_id),
			trigger_emoji TEXT NOT NULL,
			amount BIGINT NOT NULL CHECK (amount > 0),
			guild_id TEXT NOT NULL DEFAULT '',
			channel_id TEXT NOT NULL,
			message_id TEXT NOT NULL,
			deadline TIMESTAMPTZ NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending'
				CHECK (status IN ('pending', 'settling', 'settled', 'expired', 'failed')),
			event_id UUID,
			failure TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_reactdrops_status_deadline ON reactdrops(status, deadline);
		CREATE INDEX IF NOT EXISTS idx_reactdrops_initiator ON reactdrops(initiator_id, status);
	`)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}
