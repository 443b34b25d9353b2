package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure Go driver, no cgo

	cerrors "github.com/Aman-CERP/careindex/internal/errors"
)

const chunkSchema = `
CREATE TABLE IF NOT EXISTS chunks (
	key         INTEGER PRIMARY KEY,
	chunk_id    TEXT NOT NULL UNIQUE,
	kind        TEXT NOT NULL,
	document_id TEXT NOT NULL,
	chunk_index INTEGER NOT NULL,
	title       TEXT NOT NULL,
	source_ref  TEXT NOT NULL,
	domain      TEXT NOT NULL,
	path        TEXT NOT NULL,
	text        TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_chunks_document ON chunks(document_id);
`

const insertChunk = `INSERT INTO chunks
	(key, chunk_id, kind, document_id, chunk_index, title, source_ref, domain, path, text)
	VALUES (:key, :chunk_id, :kind, :document_id, :chunk_index, :title, :source_ref, :domain, :path, :text)`

// ChunkTable stores chunk text and citation fields in SQLite.
type ChunkTable struct {
	db   *sqlx.DB
	path string
}

// OpenChunkTable opens (creating if needed) the chunk table at path.
func OpenChunkTable(path string) (*ChunkTable, error) {
	db, err := sqlx.Open("sqlite", path)
	if err != nil {
		return nil, cerrors.StorageError("open chunk table "+path, err)
	}

	// One writer; collections are written once and then only read.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	// Pragmas are set by statement: the driver ignores most DSN options.
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, cerrors.StorageError("configure chunk table", err)
		}
	}
	if _, err := db.Exec(chunkSchema); err != nil {
		_ = db.Close()
		return nil, cerrors.StorageError("create chunk schema", err)
	}
	return &ChunkTable{db: db, path: path}, nil
}

// Insert writes chunks in one transaction.
func (t *ChunkTable) Insert(ctx context.Context, chunks []Chunk) error {
	tx, err := t.db.BeginTxx(ctx, nil)
	if err != nil {
		return cerrors.StorageError("begin chunk insert", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareNamedContext(ctx, insertChunk)
	if err != nil {
		return cerrors.StorageError("prepare chunk insert", err)
	}
	defer func() { _ = stmt.Close() }()

	for i := range chunks {
		if _, err := stmt.ExecContext(ctx, &chunks[i]); err != nil {
			return cerrors.StorageError("insert chunk "+chunks[i].ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cerrors.StorageError("commit chunk insert", err)
	}
	return nil
}

// Get returns the chunks for keys, in the order of keys. Unknown keys are
// skipped.
func (t *ChunkTable) Get(ctx context.Context, keys []uint64) ([]Chunk, error) {
	if len(keys) == 0 {
		return nil, nil
	}
	query, args, err := sqlx.In(`SELECT * FROM chunks WHERE key IN (?)`, keys)
	if err != nil {
		return nil, cerrors.InternalError("build chunk query", err)
	}

	var rows []Chunk
	if err := t.db.SelectContext(ctx, &rows, t.db.Rebind(query), args...); err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read chunks", err)
	}

	byKey := make(map[uint64]Chunk, len(rows))
	for _, c := range rows {
		byKey[c.Key] = c
	}
	out := make([]Chunk, 0, len(keys))
	for _, k := range keys {
		if c, ok := byKey[k]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

// ByDocument returns the chunks of one document ordered by index.
func (t *ChunkTable) ByDocument(ctx context.Context, docID string) ([]Chunk, error) {
	var rows []Chunk
	err := t.db.SelectContext(ctx, &rows,
		`SELECT * FROM chunks WHERE document_id = ? ORDER BY chunk_index`, docID)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "read chunks of "+docID, err)
	}
	return rows, nil
}

// Count returns the number of chunks.
func (t *ChunkTable) Count(ctx context.Context) (int, error) {
	var n int
	if err := t.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM chunks`); err != nil {
		return 0, cerrors.New(cerrors.ErrCodeFileRead, "count chunks", err)
	}
	return n, nil
}

// DocumentIDs returns the distinct document ids, sorted.
func (t *ChunkTable) DocumentIDs(ctx context.Context) ([]string, error) {
	var ids []string
	err := t.db.SelectContext(ctx, &ids, `SELECT DISTINCT document_id FROM chunks ORDER BY document_id`)
	if err != nil {
		return nil, cerrors.New(cerrors.ErrCodeFileRead, "list documents", err)
	}
	return ids, nil
}

// Verify runs SQLite's quick integrity check.
func (t *ChunkTable) Verify(ctx context.Context) error {
	var result string
	if err := t.db.GetContext(ctx, &result, `PRAGMA quick_check`); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		return cerrors.New(cerrors.ErrCodeIndexCorrupt, "integrity check "+t.path, err)
	}
	if result != "ok" {
		return cerrors.New(cerrors.ErrCodeIndexCorrupt, fmt.Sprintf("chunk table %s corrupt: %s", t.path, result), nil)
	}
	return nil
}

// Close checkpoints the WAL and closes the database.
func (t *ChunkTable) Close() error {
	_, _ = t.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return t.db.Close()
}
