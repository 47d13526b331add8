package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"ebpfhollow/histogram"
)

type SQLite struct {
	db  *sql.DB
	log *zap.Logger
}

var _ Store = (*SQLite)(nil)

// NewSQLite opens (or creates) the SQLite file at dbPath and runs the
// migration that creates the history tables if they do not exist.
// The caller must call Close() when the program shuts down.
func NewSQLite(dbPath string, log *zap.Logger) (*SQLite, error) {
	// modernc.org/sqlite is pure Go and works without CGO.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; the loop is the only writer anyway
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	s := &SQLite{db: db, log: log}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migration: %w", err)
	}
	return s, nil
}

func (s *SQLite) migrate() error {
	const stmt = `
CREATE TABLE IF NOT EXISTS sections (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts        INTEGER NOT NULL,
    source    TEXT NOT NULL,
    name      TEXT NOT NULL,
    unit      TEXT NOT NULL,
    total     INTEGER NOT NULL,
    buckets   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sections_name_ts ON sections(name, ts);
CREATE TABLE IF NOT EXISTS aggregates (
    id        INTEGER PRIMARY KEY AUTOINCREMENT,
    ts        INTEGER NOT NULL,
    key       TEXT NOT NULL,
    value     TEXT NOT NULL,
    numeric   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_aggregates_ts ON aggregates(ts);
`
	if _, err := s.db.Exec(stmt); err != nil {
		return fmt.Errorf("create history tables: %w", err)
	}
	s.log.Debug("SQLite migration applied")
	return nil
}

// documentTime is the document's own timestamp, or now when it has none.
func documentTime(doc *histogram.Document) time.Time {
	if ts, err := time.Parse(time.RFC3339Nano, doc.Metadata.Timestamp); err == nil {
		return ts.UTC()
	}
	return time.Now().UTC()
}

// Save stores a document in a single transaction.
func (s *SQLite) Save(ctx context.Context, doc *histogram.Document) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // no-op after commit

	secStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO sections (ts, source, name, unit, total, buckets) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare section insert: %w", err)
	}
	defer secStmt.Close()

	aggStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO aggregates (ts, key, value, numeric) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare aggregate insert: %w", err)
	}
	defer aggStmt.Close()

	ts := documentTime(doc).UnixNano()
	for _, name := range doc.Names() {
		sec := doc.Metrics[name]
		if _, err := secStmt.ExecContext(ctx, ts, doc.Metadata.SourceFile, name, sec.Unit(), sec.Total, sec.NonZero()); err != nil {
			return fmt.Errorf("exec insert for %s: %w", name, err)
		}
	}
	for key, v := range doc.Aggregates {
		if _, err := aggStmt.ExecContext(ctx, ts, key, v.String(), !v.IsText); err != nil {
			return fmt.Errorf("exec insert for aggregate %s: %w", key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	s.log.Debug("document persisted",
		zap.Time("ts", time.Unix(0, ts)),
		zap.Int("sections", len(doc.Metrics)),
		zap.Int("aggregates", len(doc.Aggregates)))
	return nil
}

// Query returns section rows in [from, to]. A zero bound is open.
func (s *SQLite) Query(ctx context.Context, section string, from, to time.Time) ([]SectionRecord, error) {
	q := `SELECT id, ts, source, name, unit, total, buckets FROM sections WHERE ts >= ? AND ts <= ?`
	args := []any{lowerBound(from), upperBound(to)}
	if section != "" {
		q += ` AND name = ?`
		args = append(args, section)
	}
	q += ` ORDER BY ts ASC, name ASC`

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query sections: %w", err)
	}
	defer rows.Close()

	var out []SectionRecord
	for rows.Next() {
		var (
			r  SectionRecord
			ts int64
		)
		if err := rows.Scan(&r.ID, &ts, &r.Source, &r.Section, &r.Unit, &r.Total, &r.Buckets); err != nil {
			return nil, fmt.Errorf("scan section row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

// Aggregates returns aggregate rows in [from, to]. A zero bound is open.
func (s *SQLite) Aggregates(ctx context.Context, from, to time.Time) ([]AggregateRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT ts, key, value, numeric FROM aggregates WHERE ts >= ? AND ts <= ? ORDER BY ts ASC, key ASC`,
		lowerBound(from), upperBound(to))
	if err != nil {
		return nil, fmt.Errorf("query aggregates: %w", err)
	}
	defer rows.Close()

	var out []AggregateRecord
	for rows.Next() {
		var (
			r  AggregateRecord
			ts int64
		)
		if err := rows.Scan(&ts, &r.Key, &r.Value, &r.Numeric); err != nil {
			return nil, fmt.Errorf("scan aggregate row: %w", err)
		}
		r.Timestamp = time.Unix(0, ts).UTC()
		out = append(out, r)
	}
	return out, rows.Err()
}

func lowerBound(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func upperBound(t time.Time) int64 {
	if t.IsZero() {
		return 1<<63 - 1
	}
	return t.UnixNano()
}

// Close shuts down the database connection.
func (s *SQLite) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}
