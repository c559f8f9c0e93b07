// Package history keeps a local SQLite ledger of finished transfers.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/radek00/PeerDrop/internal/webrtc"
)

// Direction of a recorded transfer.
type Direction string

const (
	DirectionSend    Direction = "send"
	DirectionReceive Direction = "receive"
)

// DefaultListLimit caps List when no limit is given.
const DefaultListLimit = 50

var ErrNotFound = errors.New("history record not found")

var migrations = []string{
	`
CREATE TABLE IF NOT EXISTS transfers (
  id           TEXT PRIMARY KEY,
  direction    TEXT NOT NULL CHECK(direction IN ('send','receive')),
  peer_name    TEXT NOT NULL DEFAULT '',
  file_name    TEXT NOT NULL,
  file_size    INTEGER NOT NULL,
  bytes        INTEGER NOT NULL DEFAULT 0,
  status       TEXT NOT NULL CHECK(status IN ('pending','in_progress','rejected','completed','error','cancelled')),
  stored_path  TEXT NOT NULL DEFAULT '',
  error        TEXT NOT NULL DEFAULT '',
  started_at   INTEGER NOT NULL,
  finished_at  INTEGER NOT NULL
);
`,
	`
CREATE INDEX IF NOT EXISTS idx_transfers_finished
ON transfers (finished_at DESC, id);
`,
}

// Record is one finished transfer.
type Record struct {
	ID         string
	Direction  Direction
	PeerName   string
	FileName   string
	Size       int64
	Bytes      int64
	Status     webrtc.TransferStatus
	Path       string
	Error      string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Store wraps the SQLite connection.
type Store struct {
	db        *sql.DB
	closeOnce sync.Once
}

// Open opens (or creates) the ledger at path and runs migrations.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000", filepath.ToSlash(path))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite database: %w", err)
	}

	s := &Store{db: db}
	if err := s.enableWALMode(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the SQLite connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var closeErr error
	s.closeOnce.Do(func() {
		closeErr = s.db.Close()
	})
	return closeErr
}

// Add inserts rec, filling in ID and timestamps when unset, and returns the
// stored record.
func (s *Store) Add(rec Record) (Record, error) {
	if rec.FileName == "" {
		return Record{}, errors.New("file name is required")
	}
	if rec.Direction != DirectionSend && rec.Direction != DirectionReceive {
		return Record{}, fmt.Errorf("invalid direction %q", rec.Direction)
	}
	if !rec.Status.Valid() {
		return Record{}, fmt.Errorf("invalid status %q", rec.Status)
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	if rec.StartedAt.IsZero() {
		rec.StartedAt = rec.FinishedAt
	}

	_, err := s.db.Exec(
		`INSERT INTO transfers (
			id,
			direction,
			peer_name,
			file_name,
			file_size,
			bytes,
			status,
			stored_path,
			error,
			started_at,
			finished_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID,
		string(rec.Direction),
		rec.PeerName,
		rec.FileName,
		rec.Size,
		rec.Bytes,
		string(rec.Status),
		rec.Path,
		rec.Error,
		rec.StartedAt.UnixMilli(),
		rec.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return Record{}, fmt.Errorf("insert transfer %q: %w", rec.ID, err)
	}
	return rec, nil
}

// Get fetches one record by id.
func (s *Store) Get(id string) (Record, error) {
	row := s.db.QueryRow(selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Record{}, ErrNotFound
		}
		return Record{}, fmt.Errorf("get transfer %q: %w", id, err)
	}
	return rec, nil
}

// List returns the most recent records first. limit <= 0 uses DefaultListLimit.
func (s *Store) List(limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	rows, err := s.db.Query(selectColumns+` ORDER BY finished_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return out, nil
}

// Prune deletes records finished before cutoff and reports how many went.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM transfers WHERE finished_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune transfers: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("read rows affected for prune: %w", err)
	}
	return n, nil
}

const selectColumns = `SELECT
	id,
	direction,
	peer_name,
	file_name,
	file_size,
	bytes,
	status,
	stored_path,
	error,
	started_at,
	finished_at
FROM transfers`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec               Record
		direction, status string
		started, finished int64
	)
	if err := row.Scan(
		&rec.ID,
		&direction,
		&rec.PeerName,
		&rec.FileName,
		&rec.Size,
		&rec.Bytes,
		&status,
		&rec.Path,
		&rec.Error,
		&started,
		&finished,
	); err != nil {
		return Record{}, err
	}
	rec.Direction = Direction(direction)
	rec.Status = webrtc.TransferStatus(status)
	rec.StartedAt = time.UnixMilli(started)
	rec.FinishedAt = time.UnixMilli(finished)
	return rec, nil
}

func (s *Store) applyMigrations() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version;").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version >= len(migrations) {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for i := version; i < len(migrations); i++ {
		if _, err := tx.Exec(migrations[i]); err != nil {
			return fmt.Errorf("apply migration %d: %w", i+1, err)
		}
		if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d;", i+1)); err != nil {
			return fmt.Errorf("set schema version %d: %w", i+1, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration transaction: %w", err)
	}
	return nil
}

func (s *Store) enableWALMode() error {
	var journalMode string
	if err := s.db.QueryRow("PRAGMA journal_mode=WAL;").Scan(&journalMode); err != nil {
		return fmt.Errorf("enable WAL mode: %w", err)
	}
	if !strings.EqualFold(journalMode, "wal") {
		return fmt.Errorf("enable WAL mode: unexpected journal mode %q", journalMode)
	}
	return nil
}
