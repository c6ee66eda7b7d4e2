// Package store persists completed documents to PostgreSQL.
package store

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/snarg/voxdoc/internal/session"
)

type DB struct {
	Pool *pgxpool.Pool
	log  zerolog.Logger
}

func Connect(ctx context.Context, databaseURL string, log zerolog.Logger) (*DB, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	db := &DB{Pool: pool, log: log}
	if err := db.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Info().
		Str("url", maskDSN(databaseURL)).
		Int32("max_conns", cfg.MaxConns).
		Int32("min_conns", cfg.MinConns).
		Msg("database connected")

	return db, nil
}

const documentsSchema = `
CREATE TABLE IF NOT EXISTS documents (
    id                   BIGSERIAL PRIMARY KEY,
    session_id           TEXT        NOT NULL,
    transcript           TEXT        NOT NULL,
    final_document       TEXT        NOT NULL,
    cognitive_load_index INTEGER     NOT NULL,
    analysis             JSONB,
    metrics              JSONB       NOT NULL,
    warnings             JSONB       NOT NULL DEFAULT '[]',
    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_documents_session_id ON documents (session_id);
CREATE INDEX IF NOT EXISTS idx_documents_created_at ON documents (created_at);
`

func (db *DB) ensureSchema(ctx context.Context) error {
	_, err := db.Pool.Exec(ctx, documentsSchema)
	return err
}

// StoreDocument inserts a completed pipeline state. Implements jobs.Sink.
func (db *DB) StoreDocument(ctx context.Context, state *session.State) error {
	analysis, err := json.Marshal(state.Analysis)
	if err != nil {
		return err
	}
	metrics, err := json.Marshal(state.Metrics)
	if err != nil {
		return err
	}
	warnings, err := json.Marshal(state.Warnings)
	if err != nil {
		return err
	}
	if state.Warnings == nil {
		warnings = []byte("[]")
	}

	_, err = db.Pool.Exec(ctx, `
		INSERT INTO documents (session_id, transcript, final_document, cognitive_load_index, analysis, metrics, warnings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		state.SessionID, state.Transcript, state.FinalDocument,
		state.CognitiveLoadIndex, analysis, metrics, warnings,
	)
	if err != nil {
		return err
	}

	db.log.Debug().Str("session_id", state.SessionID).Msg("document stored")
	return nil
}

func (db *DB) Name() string { return "postgres" }

// DocumentRow is one persisted document summary.
type DocumentRow struct {
	ID                 int64     `json:"id"`
	SessionID          string    `json:"session_id"`
	FinalDocument      string    `json:"final_document"`
	CognitiveLoadIndex int       `json:"cognitive_load_index"`
	CreatedAt          time.Time `json:"created_at"`
}

// RecentDocuments returns the newest documents, capped at limit.
func (db *DB) RecentDocuments(ctx context.Context, limit int) ([]DocumentRow, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	rows, err := db.Pool.Query(ctx, `
		SELECT id, session_id, final_document, cognitive_load_index, created_at
		FROM documents ORDER BY created_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DocumentRow
	for rows.Next() {
		var d DocumentRow
		if err := rows.Scan(&d.ID, &d.SessionID, &d.FinalDocument, &d.CognitiveLoadIndex, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (db *DB) HealthCheck(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return db.Pool.Ping(ctx)
}

func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		if _, hasPass := u.User.Password(); hasPass {
			u.User = url.UserPassword(u.User.Username(), "***")
		}
	}
	return u.String()
}

func (db *DB) Close() {
	db.log.Info().Msg("closing database pool")
	db.Pool.Close()
}
