// Package store provides the SQLite-backed metadata store: document and
// lecture rows, upload checksum deduplication, and per-message citation
// persistence. Vector data lives in Qdrant; this store holds everything
// relational.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("store: not found")

// Status tracks the ingestion lifecycle of a source.
type Status string

const (
	// StatusUploaded means the raw file is stored but not yet processed.
	StatusUploaded Status = "uploaded"
	// StatusProcessing means a background ingestion job is running.
	StatusProcessing Status = "processing"
	// StatusCompleted means ingestion finished and the source is searchable.
	// Sources whose ingestion fails are deleted outright, never parked in a
	// failed state.
	StatusCompleted Status = "completed"
)

// Document is a slide-deck source row.
type Document struct {
	// ID is the opaque document id (uuid).
	ID string
	// OwnerID is the uploading actor; slide content is personal to them.
	OwnerID string
	// CourseID scopes the document to a course.
	CourseID string
	// Filename is the original upload filename.
	Filename string
	// Title is the display title (defaults to the filename stem).
	Title string
	// StorageKey locates the raw file in blob storage.
	StorageKey string
	// Checksum is the SHA-256 of the raw file, used for upload dedup.
	Checksum string
	// Status is the ingestion lifecycle state.
	Status Status
	// CreatedAt is when the row was inserted.
	CreatedAt time.Time
	// UpdatedAt is when the row last changed.
	UpdatedAt time.Time
}

// Lecture is a spoken-lecture source row. Lecture content is shared within
// a course, so there is no owner column.
type Lecture struct {
	// ID is the opaque lecture id (uuid).
	ID string
	// CourseID scopes the lecture to a course.
	CourseID string
	// Title is the display title.
	Title string
	// StorageKey locates the raw transcript in blob storage.
	StorageKey string
	// Status is the ingestion lifecycle state.
	Status Status
	// CreatedAt is when the row was inserted.
	CreatedAt time.Time
	// UpdatedAt is when the row last changed.
	UpdatedAt time.Time
}

// Store is the SQLite-backed metadata store.
type Store struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the metadata database.
// It resolves to ~/.studybuddy/studybuddy.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".studybuddy")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "studybuddy.db"), nil
}

// Open opens (or creates) a Store at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*Store, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *Store) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS documents (
    id           TEXT    PRIMARY KEY,
    owner_id     TEXT    NOT NULL,
    course_id    TEXT    NOT NULL,
    filename     TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    storage_key  TEXT    NOT NULL,
    checksum     TEXT    NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('uploaded','processing','completed','failed')),
    created_at   INTEGER NOT NULL,  -- Unix timestamp (seconds)
    updated_at   INTEGER NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_documents_owner_course_checksum
    ON documents (owner_id, course_id, checksum);

CREATE TABLE IF NOT EXISTS lectures (
    id           TEXT    PRIMARY KEY,
    course_id    TEXT    NOT NULL,
    title        TEXT    NOT NULL,
    storage_key  TEXT    NOT NULL,
    status       TEXT    NOT NULL CHECK(status IN ('uploaded','processing','completed','failed')),
    created_at   INTEGER NOT NULL,
    updated_at   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_lectures_course ON lectures (course_id);

CREATE TABLE IF NOT EXISTS message_sources (
    message_id   TEXT    NOT NULL,
    position     INTEGER NOT NULL,
    payload      TEXT    NOT NULL,  -- JSON-encoded citation record
    created_at   INTEGER NOT NULL,
    PRIMARY KEY (message_id, position)
);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// ── documents ──

// CreateDocument inserts a new document row.
func (s *Store) CreateDocument(ctx context.Context, d *Document) error {
	const q = `
INSERT INTO documents (id, owner_id, course_id, filename, title, storage_key, checksum, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, q,
		d.ID, d.OwnerID, d.CourseID, d.Filename, d.Title, d.StorageKey, d.Checksum, string(d.Status), now, now)
	if err != nil {
		return fmt.Errorf("store: create document: %w", err)
	}
	return nil
}

// GetDocument returns the document with the given id, or ErrNotFound.
func (s *Store) GetDocument(ctx context.Context, id string) (*Document, error) {
	const q = `
SELECT id, owner_id, course_id, filename, title, storage_key, checksum, status, created_at, updated_at
FROM documents WHERE id = ?`
	return scanDocument(s.db.QueryRowContext(ctx, q, id))
}

// FindDocumentByChecksum returns an existing document with the same owner,
// course and file checksum, or (nil, nil) when none exists. Used to make
// duplicate uploads return the original id without reprocessing.
func (s *Store) FindDocumentByChecksum(ctx context.Context, ownerID, courseID, checksum string) (*Document, error) {
	const q = `
SELECT id, owner_id, course_id, filename, title, storage_key, checksum, status, created_at, updated_at
FROM documents WHERE owner_id = ? AND course_id = ? AND checksum = ?`
	doc, err := scanDocument(s.db.QueryRowContext(ctx, q, ownerID, courseID, checksum))
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	return doc, err
}

// UpdateDocumentStatus transitions a document's ingestion status.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id string, status Status) error {
	const q = `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: update document status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteDocument removes the document row. Deleting an absent id is a no-op.
func (s *Store) DeleteDocument(ctx context.Context, id string) error {
	const q = `DELETE FROM documents WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("store: delete document: %w", err)
	}
	return nil
}

// scanDocument reads one document row, translating sql.ErrNoRows to ErrNotFound.
func scanDocument(row *sql.Row) (*Document, error) {
	var d Document
	var status string
	var created, updated int64
	err := row.Scan(&d.ID, &d.OwnerID, &d.CourseID, &d.Filename, &d.Title,
		&d.StorageKey, &d.Checksum, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan document: %w", err)
	}
	d.Status = Status(status)
	d.CreatedAt = time.Unix(created, 0)
	d.UpdatedAt = time.Unix(updated, 0)
	return &d, nil
}

// ── lectures ──

// CreateLecture inserts a new lecture row.
func (s *Store) CreateLecture(ctx context.Context, l *Lecture) error {
	const q = `
INSERT INTO lectures (id, course_id, title, storage_key, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)`
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx, q, l.ID, l.CourseID, l.Title, l.StorageKey, string(l.Status), now, now)
	if err != nil {
		return fmt.Errorf("store: create lecture: %w", err)
	}
	return nil
}

// GetLecture returns the lecture with the given id, or ErrNotFound.
func (s *Store) GetLecture(ctx context.Context, id string) (*Lecture, error) {
	const q = `
SELECT id, course_id, title, storage_key, status, created_at, updated_at
FROM lectures WHERE id = ?`
	var l Lecture
	var status string
	var created, updated int64
	err := s.db.QueryRowContext(ctx, q, id).Scan(
		&l.ID, &l.CourseID, &l.Title, &l.StorageKey, &status, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan lecture: %w", err)
	}
	l.Status = Status(status)
	l.CreatedAt = time.Unix(created, 0)
	l.UpdatedAt = time.Unix(updated, 0)
	return &l, nil
}

// UpdateLectureStatus transitions a lecture's ingestion status.
func (s *Store) UpdateLectureStatus(ctx context.Context, id string, status Status) error {
	const q = `UPDATE lectures SET status = ?, updated_at = ? WHERE id = ?`
	res, err := s.db.ExecContext(ctx, q, string(status), time.Now().Unix(), id)
	if err != nil {
		return fmt.Errorf("store: update lecture status: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteLecture removes the lecture row. Deleting an absent id is a no-op.
func (s *Store) DeleteLecture(ctx context.Context, id string) error {
	const q = `DELETE FROM lectures WHERE id = ?`
	if _, err := s.db.ExecContext(ctx, q, id); err != nil {
		return fmt.Errorf("store: delete lecture: %w", err)
	}
	return nil
}

// ── message sources ──

// SaveMessageSources persists the citation payloads for one completed chat
// message, keyed by the model runtime's message id. Re-saving the same
// message is a no-op (INSERT OR IGNORE), so post-completion persistence can
// be retried safely.
func (s *Store) SaveMessageSources(ctx context.Context, messageID string, payloads []json.RawMessage) error {
	if len(payloads) == 0 {
		return nil
	}
	const q = `
INSERT OR IGNORE INTO message_sources (message_id, position, payload, created_at)
VALUES (?, ?, ?, ?)`
	now := time.Now().Unix()
	for i, p := range payloads {
		if _, err := s.db.ExecContext(ctx, q, messageID, i, string(p), now); err != nil {
			return fmt.Errorf("store: save message sources: %w", err)
		}
	}
	return nil
}

// MessageSources returns the citation payloads for a message in their
// original emission order. A message with no persisted sources yields an
// empty slice, not an error.
func (s *Store) MessageSources(ctx context.Context, messageID string) ([]json.RawMessage, error) {
	const q = `SELECT payload FROM message_sources WHERE message_id = ? ORDER BY position ASC`
	rows, err := s.db.QueryContext(ctx, q, messageID)
	if err != nil {
		return nil, fmt.Errorf("store: message sources: %w", err)
	}
	defer rows.Close()

	var payloads []json.RawMessage
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("store: message sources scan: %w", err)
		}
		payloads = append(payloads, json.RawMessage(p))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: message sources rows: %w", err)
	}
	return payloads, nil
}

// Ping verifies the database connection, for readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
