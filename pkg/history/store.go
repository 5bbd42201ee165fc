// Package history keeps a sqlite log of ticks and the dispatches they made.
package history

import (
	"context"
	"crypto/rand"
	"database/sql"
	_ "embed"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/oklog/ulid/v2"

	"github.com/harrisonrobin/taskbell/pkg/scheduler"
)

//go:embed schema.sql
var schemaSQL string

// timeFormat has a fixed width so that timestamps sort as text.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

// Dispatch is one recorded delivery attempt.
type Dispatch struct {
	ID          string    `json:"id"`
	TickID      string    `json:"tick_id"`
	Key         string    `json:"key"`
	Description string    `json:"description"`
	Filter      string    `json:"filter"`
	Target      string    `json:"target"`
	Delivered   bool      `json:"delivered"`
	Error       string    `json:"error,omitempty"`
	SentAt      time.Time `json:"sent_at"`
}

// Store records scheduler reports. It implements scheduler.Recorder.
type Store struct {
	db *sql.DB

	mu      sync.Mutex
	entropy io.Reader
}

// Open opens (and creates if needed) the database at dbPath.
func Open(dbPath string) (*Store, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_fk=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db, entropy: ulid.Monotonic(rand.Reader, 0)}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) newID(t time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, err := ulid.New(ulid.Timestamp(t), s.entropy)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Record stores a tick and all of its dispatch results in one transaction.
func (s *Store) Record(ctx context.Context, r *scheduler.Report) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO ticks (id, started_at, finished_at, documents, excluded, read_errors, tasks, due, suppressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Started.UTC().Format(timeFormat), r.Finished.UTC().Format(timeFormat),
		r.Documents, r.Excluded, len(r.ReadErrors), r.Tasks, r.Due, r.Suppressed,
	)
	if err != nil {
		return fmt.Errorf("failed to insert tick: %w", err)
	}

	for _, res := range r.Results {
		id, err := s.newID(res.At)
		if err != nil {
			return fmt.Errorf("failed to generate id: %w", err)
		}
		var errText sql.NullString
		if res.Error != "" {
			errText = sql.NullString{String: res.Error, Valid: true}
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO dispatches (id, tick_id, task_key, description, filter, target, delivered, error, sent_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			id, r.ID, res.Key, res.Description, res.Filter, res.Target, res.Delivered, errText,
			res.At.UTC().Format(timeFormat),
		)
		if err != nil {
			return fmt.Errorf("failed to insert dispatch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	return nil
}

// Recent returns up to limit dispatches, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Dispatch, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tick_id, task_key, description, filter, target, delivered, error, sent_at
		FROM dispatches
		ORDER BY sent_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("history query failed: %w", err)
	}
	defer rows.Close()

	var out []Dispatch
	for rows.Next() {
		var d Dispatch
		var errText sql.NullString
		var sentAt string
		if err := rows.Scan(&d.ID, &d.TickID, &d.Key, &d.Description, &d.Filter, &d.Target, &d.Delivered, &errText, &sentAt); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		d.Error = errText.String
		d.SentAt, err = time.Parse(timeFormat, sentAt)
		if err != nil {
			return nil, fmt.Errorf("bad timestamp %q: %w", sentAt, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// CountTicks returns the number of recorded ticks.
func (s *Store) CountTicks(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ticks`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}
