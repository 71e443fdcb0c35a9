// Package db is the optional durable-journal backend: a Postgres-backed
// implementation of journal.Store for deployments that want the L7
// resolution journal to survive a process restart, grounded on the
// teacher's sqlx + lib/pq repository pattern.
package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/khryptorgraphics/corpus-sync/internal/crdt"
	"github.com/khryptorgraphics/corpus-sync/internal/journal"
	"github.com/khryptorgraphics/corpus-sync/internal/resolve"
)

// Config mirrors the teacher's DatabaseConfig Postgres fields, trimmed to
// what the journal table needs.
type Config struct {
	Host            string
	Port            int
	Name            string
	User            string
	Password        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxOpenConns == 0 {
		c.MaxOpenConns = 25
	}
	if c.MaxIdleConns == 0 {
		c.MaxIdleConns = 5
	}
	if c.ConnMaxLifetime == 0 {
		c.ConnMaxLifetime = 5 * time.Minute
	}
	if c.SSLMode == "" {
		c.SSLMode = "prefer"
	}
	return c
}

// JournalStore is a journal.Store backed by a `resolution_journal` table.
// Retention (§4.6's per-record cap) is enforced on write via a trailing
// DELETE rather than in memory, so many processes sharing one database
// converge on the same view.
type JournalStore struct {
	db        *sqlx.DB
	retention int
}

// Open connects to Postgres and returns a ready JournalStore. Callers are
// expected to have already applied the `resolution_journal` migration
// (see Schema for the DDL this store assumes).
func Open(ctx context.Context, cfg Config, retention int) (*JournalStore, error) {
	cfg = cfg.withDefaults()
	if retention <= 0 {
		retention = 10
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Name, cfg.SSLMode)

	conn, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := conn.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &JournalStore{db: conn, retention: retention}, nil
}

// Schema is the DDL this store assumes has already been applied.
const Schema = `
CREATE TABLE IF NOT EXISTS resolution_journal (
	id             TEXT PRIMARY KEY,
	record_id      TEXT NOT NULL,
	strategy       TEXT NOT NULL,
	winner_site_id TEXT NOT NULL,
	local_version  BIGINT NOT NULL,
	remote_version BIGINT NOT NULL,
	resolved_at    TIMESTAMPTZ NOT NULL,
	details        JSONB
);
CREATE INDEX IF NOT EXISTS resolution_journal_record_idx ON resolution_journal (record_id, resolved_at DESC);
CREATE INDEX IF NOT EXISTS resolution_journal_resolved_at_idx ON resolution_journal (resolved_at);
`

type journalRow struct {
	ID            string          `db:"id"`
	RecordID      string          `db:"record_id"`
	Strategy      string          `db:"strategy"`
	WinnerSiteID  string          `db:"winner_site_id"`
	LocalVersion  uint64          `db:"local_version"`
	RemoteVersion uint64          `db:"remote_version"`
	ResolvedAt    time.Time       `db:"resolved_at"`
	Details       json.RawMessage `db:"details"`
}

func (r journalRow) toEntry() journal.Entry {
	return journal.Entry{
		ID:            r.ID,
		RecordID:      r.RecordID,
		Strategy:      resolve.Strategy(r.Strategy),
		WinnerSiteID:  crdt.SiteID(r.WinnerSiteID),
		LocalVersion:  r.LocalVersion,
		RemoteVersion: r.RemoteVersion,
		ResolvedAt:    r.ResolvedAt,
		Details:       r.Details,
	}
}

// Append is idempotent on (id): replaying the same journal entry is a
// no-op rather than a duplicate insert (§8).
func (s *JournalStore) Append(entry journal.Entry) error {
	ctx := context.Background()
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	row := journalRow{
		ID:            entry.ID,
		RecordID:      entry.RecordID,
		Strategy:      string(entry.Strategy),
		WinnerSiteID:  string(entry.WinnerSiteID),
		LocalVersion:  entry.LocalVersion,
		RemoteVersion: entry.RemoteVersion,
		ResolvedAt:    entry.ResolvedAt,
		Details:       entry.Details,
	}
	_, err = tx.NamedExecContext(ctx, `
		INSERT INTO resolution_journal (id, record_id, strategy, winner_site_id, local_version, remote_version, resolved_at, details)
		VALUES (:id, :record_id, :strategy, :winner_site_id, :local_version, :remote_version, :resolved_at, :details)
		ON CONFLICT (id) DO NOTHING`, row)
	if err != nil {
		return fmt.Errorf("insert journal entry: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		DELETE FROM resolution_journal
		WHERE record_id = $1 AND id NOT IN (
			SELECT id FROM resolution_journal WHERE record_id = $1 ORDER BY resolved_at DESC LIMIT $2
		)`, entry.RecordID, s.retention)
	if err != nil {
		return fmt.Errorf("enforce journal retention: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit journal append: %w", err)
	}
	return nil
}

func (s *JournalStore) ByRecord(recordID string) ([]journal.Entry, error) {
	var rows []journalRow
	err := s.db.Select(&rows, `
		SELECT id, record_id, strategy, winner_site_id, local_version, remote_version, resolved_at, details
		FROM resolution_journal WHERE record_id = $1 ORDER BY resolved_at DESC`, recordID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select journal entries: %w", err)
	}
	out := make([]journal.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out, nil
}

func (s *JournalStore) Since(t time.Time) ([]journal.Entry, error) {
	var rows []journalRow
	err := s.db.Select(&rows, `
		SELECT id, record_id, strategy, winner_site_id, local_version, remote_version, resolved_at, details
		FROM resolution_journal WHERE resolved_at >= $1 ORDER BY resolved_at ASC`, t)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("select journal entries since: %w", err)
	}
	out := make([]journal.Entry, len(rows))
	for i, r := range rows {
		out[i] = r.toEntry()
	}
	return out, nil
}

// Close releases the underlying connection pool.
func (s *JournalStore) Close() error { return s.db.Close() }

var _ journal.Store = (*JournalStore)(nil)
