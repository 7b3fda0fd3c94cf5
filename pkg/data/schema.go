package data

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS elections (
	id              TEXT PRIMARY KEY,
	title           TEXT NOT NULL,
	description     TEXT NOT NULL DEFAULT '',
	start_time      TIMESTAMPTZ NOT NULL,
	end_time        TIMESTAMPTZ NOT NULL,
	eligibility     TEXT NOT NULL,
	privacy         TEXT NOT NULL,
	guardian_count  INTEGER NOT NULL,
	quorum          INTEGER NOT NULL,
	phase           TEXT NOT NULL,
	eligible_voters INTEGER NOT NULL DEFAULT 0,
	candidates      JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS guardians (
	election_id TEXT NOT NULL,
	sequence    INTEGER NOT NULL,
	email       TEXT NOT NULL,
	submitted   BOOLEAN NOT NULL DEFAULT FALSE,
	job_state   TEXT NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (election_id, email)
);

CREATE TABLE IF NOT EXISTS vote_receipts (
	id              TEXT PRIMARY KEY,
	election_id     TEXT NOT NULL,
	tracking_code   TEXT NOT NULL,
	hash            TEXT NOT NULL,
	disposition     TEXT NOT NULL,
	challenge_match BOOLEAN,
	created_at      TIMESTAMPTZ NOT NULL,
	UNIQUE (election_id, tracking_code)
);

CREATE TABLE IF NOT EXISTS audit_entries (
	id          TEXT PRIMARY KEY,
	election_id TEXT NOT NULL,
	action      TEXT NOT NULL,
	actor       TEXT NOT NULL DEFAULT '',
	detail      TEXT NOT NULL DEFAULT '',
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_guardians_election ON guardians (election_id);
CREATE INDEX IF NOT EXISTS idx_vote_receipts_election ON vote_receipts (election_id);
CREATE INDEX IF NOT EXISTS idx_audit_entries_election ON audit_entries (election_id, created_at);
`

// EnsureSchema creates the local store tables if they do not exist
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("executing schema: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing schema transaction: %w", err)
	}

	return nil
}
