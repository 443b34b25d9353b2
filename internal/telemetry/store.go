package telemetry

import (
	"context"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go driver, no cgo

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

// FileName is the telemetry database inside the data dir.
const FileName = "telemetry.db"

const telemetrySchema = `
CREATE TABLE IF NOT EXISTS query_outcomes (
	date    TEXT NOT NULL,
	outcome TEXT NOT NULL,
	count   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, outcome)
);
CREATE TABLE IF NOT EXISTS query_latency (
	date   TEXT NOT NULL,
	bucket TEXT NOT NULL,
	count  INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (date, bucket)
);
CREATE TABLE IF NOT EXISTS dropped_web (
	date  TEXT PRIMARY KEY,
	count INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS query_terms (
	term      TEXT PRIMARY KEY,
	count     INTEGER NOT NULL DEFAULT 0,
	last_seen TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_query_terms_count ON query_terms(count DESC);
CREATE TABLE IF NOT EXISTS unanswered_queries (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	query     TEXT NOT NULL,
	outcome   TEXT NOT NULL,
	timestamp TEXT NOT NULL
);
`

// SQLiteStore persists telemetry in a SQLite file.
type SQLiteStore struct {
	db *sqlx.DB
	// unansweredCap bounds unanswered_queries; older rows are deleted on Save.
	unansweredCap int
}

var _ Store = (*SQLiteStore)(nil)

// OpenSQLiteStore opens (creating if needed) dataDir/telemetry.db.
func OpenSQLiteStore(dataDir string, unansweredCap int) (*SQLiteStore, error) {
	path := filepath.Join(dataDir, FileName)
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, cerrors.StorageError("open telemetry "+path, err)
	}
	db.SetMaxOpenConns(1)

	for _, stmt := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		telemetrySchema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, cerrors.StorageError("initialize telemetry "+path, err)
		}
	}
	if unansweredCap < 1 {
		unansweredCap = DefaultOptions().UnansweredCapacity
	}
	return &SQLiteStore{db: db, unansweredCap: unansweredCap}, nil
}

// Save adds b to the stored counts in one transaction.
func (s *SQLiteStore) Save(ctx context.Context, b *Batch) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return cerrors.StorageError("begin telemetry save", err)
	}
	defer func() { _ = tx.Rollback() }()

	exec := func(query string, args ...any) {
		if err != nil {
			return
		}
		_, err = tx.ExecContext(ctx, query, args...)
	}

	for o, n := range b.Outcomes {
		exec(`INSERT INTO query_outcomes (date, outcome, count) VALUES (?, ?, ?)
			ON CONFLICT(date, outcome) DO UPDATE SET count = count + excluded.count`, b.Date, string(o), n)
	}
	for bucket, n := range b.Latency {
		exec(`INSERT INTO query_latency (date, bucket, count) VALUES (?, ?, ?)
			ON CONFLICT(date, bucket) DO UPDATE SET count = count + excluded.count`, b.Date, string(bucket), n)
	}
	if b.DroppedWeb > 0 {
		exec(`INSERT INTO dropped_web (date, count) VALUES (?, ?)
			ON CONFLICT(date) DO UPDATE SET count = count + excluded.count`, b.Date, b.DroppedWeb)
	}
	now := time.Now().UTC().Format(time.RFC3339)
	for term, n := range b.Terms {
		exec(`INSERT INTO query_terms (term, count, last_seen) VALUES (?, ?, ?)
			ON CONFLICT(term) DO UPDATE SET count = count + excluded.count, last_seen = excluded.last_seen`,
			term, n, now)
	}
	for _, q := range b.Unanswered {
		exec(`INSERT INTO unanswered_queries (query, outcome, timestamp) VALUES (?, ?, ?)`,
			q.Query, string(q.Outcome), q.Timestamp.UTC().Format(time.RFC3339Nano))
	}
	exec(`DELETE FROM unanswered_queries WHERE id NOT IN
		(SELECT id FROM unanswered_queries ORDER BY id DESC LIMIT ?)`, s.unansweredCap)
	if err != nil {
		return cerrors.StorageError("save telemetry", err)
	}

	if err := tx.Commit(); err != nil {
		return cerrors.StorageError("commit telemetry", err)
	}
	return nil
}

type countRow struct {
	Key   string `db:"key"`
	Count int64  `db:"count"`
}

type unansweredRow struct {
	Query     string `db:"query"`
	Outcome   string `db:"outcome"`
	Timestamp string `db:"timestamp"`
}

// Load sums the counts of days on or after since (YYYY-MM-DD; empty means
// all days). Terms and unanswered queries are not filtered by date.
func (s *SQLiteStore) Load(ctx context.Context, since string, topTerms int) (*Snapshot, error) {
	readErr := func(what string, err error) error {
		return cerrors.New(cerrors.ErrCodeFileRead, "read telemetry "+what, err)
	}

	snap := &Snapshot{
		Outcomes: make(map[Outcome]int64),
		Latency:  make(map[LatencyBucket]int64),
	}

	var first string
	if err := s.db.GetContext(ctx, &first,
		`SELECT COALESCE(MIN(date), '') FROM query_outcomes WHERE date >= ?`, since); err != nil {
		return nil, readErr("first day", err)
	}
	if t, err := time.Parse("2006-01-02", first); err == nil {
		snap.Since = t
	}

	var rows []countRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT outcome AS key, SUM(count) AS count FROM query_outcomes WHERE date >= ? GROUP BY outcome`,
		since); err != nil {
		return nil, readErr("outcomes", err)
	}
	for _, r := range rows {
		snap.Outcomes[Outcome(r.Key)] = r.Count
		snap.TotalQueries += r.Count
	}

	rows = nil
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT bucket AS key, SUM(count) AS count FROM query_latency WHERE date >= ? GROUP BY bucket`,
		since); err != nil {
		return nil, readErr("latency", err)
	}
	for _, r := range rows {
		snap.Latency[LatencyBucket(r.Key)] = r.Count
	}

	if err := s.db.GetContext(ctx, &snap.DroppedWeb,
		`SELECT COALESCE(SUM(count), 0) FROM dropped_web WHERE date >= ?`, since); err != nil {
		return nil, readErr("dropped passages", err)
	}

	rows = nil
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT term AS key, count FROM query_terms ORDER BY count DESC, term LIMIT ?`, topTerms); err != nil {
		return nil, readErr("terms", err)
	}
	for _, r := range rows {
		snap.TopTerms = append(snap.TopTerms, TermCount{Term: r.Key, Count: r.Count})
	}

	var unanswered []unansweredRow
	if err := s.db.SelectContext(ctx, &unanswered,
		`SELECT query, outcome, timestamp FROM unanswered_queries ORDER BY id DESC`); err != nil {
		return nil, readErr("unanswered queries", err)
	}
	for _, r := range unanswered {
		ts, _ := time.Parse(time.RFC3339Nano, r.Timestamp)
		snap.Unanswered = append(snap.Unanswered, UnansweredQuery{
			Query: r.Query, Outcome: Outcome(r.Outcome), Timestamp: ts,
		})
	}
	return snap, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
