package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

// Config holds connection pool settings
type Config struct {
	DSN      string
	MaxConns int
	Timeout  time.Duration
}

// Connect opens a postgres pool and verifies connectivity with a ping
func Connect(cfg Config) (*sqlx.DB, error) {
	db, err := sqlx.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// EnsureSchema creates the schema and tables if they do not exist (idempotent).
func EnsureSchema(ctx context.Context, db *sqlx.DB) error {
	const ddl = `
CREATE SCHEMA IF NOT EXISTS bank;
CREATE TABLE IF NOT EXISTS bank.users (
  id BIGSERIAL PRIMARY KEY,
  username VARCHAR(50) NOT NULL,
  email VARCHAR(255) NOT NULL,
  password_hash TEXT NOT NULL,
  role VARCHAR(20) NOT NULL DEFAULT 'USER',
  enabled BOOLEAN NOT NULL DEFAULT true,
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  CONSTRAINT users_username_key UNIQUE (username),
  CONSTRAINT users_email_key UNIQUE (email)
);
CREATE TABLE IF NOT EXISTS bank.cards (
  id BIGSERIAL PRIMARY KEY,
  encrypted_card_number VARCHAR(500) NOT NULL,
  masked_card_number VARCHAR(19) NOT NULL,
  owner_id BIGINT NOT NULL REFERENCES bank.users(id) ON DELETE CASCADE,
  cardholder_name VARCHAR(100) NOT NULL,
  expiry_date DATE NOT NULL,
  status VARCHAR(20) NOT NULL CHECK (status IN ('ACTIVE', 'BLOCKED', 'EXPIRED')),
  balance NUMERIC(15, 2) NOT NULL DEFAULT 0 CHECK (balance >= 0),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_cards_owner_id ON bank.cards(owner_id);
CREATE INDEX IF NOT EXISTS idx_cards_status_expiry ON bank.cards(status, expiry_date);
CREATE TABLE IF NOT EXISTS bank.transfers (
  id UUID PRIMARY KEY,
  owner_id BIGINT NOT NULL,
  from_card_id BIGINT NOT NULL,
  to_card_id BIGINT NOT NULL,
  amount NUMERIC(15, 2) NOT NULL CHECK (amount > 0),
  created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
  seq BIGSERIAL NOT NULL
);
ALTER TABLE bank.transfers ADD COLUMN IF NOT EXISTS seq BIGSERIAL;
CREATE INDEX IF NOT EXISTS idx_transfers_from ON bank.transfers(from_card_id);
CREATE INDEX IF NOT EXISTS idx_transfers_to ON bank.transfers(to_card_id);
`
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}
