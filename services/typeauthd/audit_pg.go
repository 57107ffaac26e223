package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	_ "github.com/lib/pq"
)

// auditStore records authentication outcomes outside the encrypted vault so
// operators can query them with plain SQL.
type auditStore interface {
	Record(ctx context.Context, event auditEvent) error
	Close() error
}

type auditEvent struct {
	UserID   string
	Action   string
	Decision string
	Ensemble float64
	Detail   any
}

// pgAudit writes audit rows to Postgres.
type pgAudit struct {
	db *sql.DB
}

func newPGAudit(databaseURL string) (*pgAudit, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS typeauthn_audit (
			id BIGSERIAL PRIMARY KEY,
			ts TIMESTAMPTZ NOT NULL DEFAULT now(),
			user_id TEXT NOT NULL,
			action TEXT NOT NULL,
			decision TEXT NOT NULL DEFAULT '',
			ensemble DOUBLE PRECISION NOT NULL DEFAULT 0,
			detail JSONB
		);
		CREATE INDEX IF NOT EXISTS idx_typeauthn_audit_user_ts ON typeauthn_audit (user_id, ts DESC);
	`); err != nil {
		db.Close()
		return nil, err
	}
	return &pgAudit{db: db}, nil
}

func (a *pgAudit) Record(ctx context.Context, event auditEvent) error {
	detail, err := json.Marshal(event.Detail)
	if err != nil {
		detail = []byte("{}")
	}
	_, err = a.db.ExecContext(ctx,
		`INSERT INTO typeauthn_audit (user_id, action, decision, ensemble, detail) VALUES ($1, $2, $3, $4, $5)`,
		event.UserID, event.Action, event.Decision, event.Ensemble, detail)
	return err
}

func (a *pgAudit) Close() error { return a.db.Close() }

// nopAudit drops events. Used with DISABLE_DB=true for local development.
type nopAudit struct{}

func (nopAudit) Record(ctx context.Context, event auditEvent) error { return nil }
func (nopAudit) Close() error                                       { return nil }
