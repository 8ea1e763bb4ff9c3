// Package sqlite keeps calibration sessions and measurements in an embedded
// SQLite database, one row per record. The in-memory store owns transaction
// semantics; committed changes are written through row by row.
package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"spectrocal/internal/infra/persistence/memory"
	"spectrocal/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const defaultPath = "spectrocal.db"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		target TEXT NOT NULL,
		status TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		payload BLOB NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS measurements (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		label TEXT NOT NULL,
		created_at TEXT NOT NULL,
		payload BLOB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS measurements_session ON measurements(session_id)`,
}

// Store is a memory.Store written through to SQLite.
type Store struct {
	*memory.Store
	db   *sql.DB
	path string

	mu           sync.Mutex
	sessions     map[string][]byte
	measurements map[string][]byte
}

// NewStore opens (creating if needed) the database at path and loads its
// records.
func NewStore(path string, engine *domain.RulesEngine) (*Store, error) {
	if path == "" {
		path = defaultPath
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, fmt.Errorf("create dirs: %w", err)
	}
	db, err := sql.Open("sqlite", path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite serialises writers.
	db.SetMaxOpenConns(1)
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("create schema: %w", err)
		}
	}
	s := &Store{
		Store:        memory.NewStore(engine),
		db:           db,
		path:         path,
		sessions:     make(map[string][]byte),
		measurements: make(map[string][]byte),
	}
	if err := s.load(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) load() error {
	snap := memory.Snapshot{
		Sessions:     make(map[string]memory.Session),
		Measurements: make(map[string]memory.Measurement),
	}
	if err := loadRows(s.db, "sessions", s.sessions, func(id string, payload []byte) error {
		var v memory.Session
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Sessions[id] = v
		return nil
	}); err != nil {
		return err
	}
	if err := loadRows(s.db, "measurements", s.measurements, func(id string, payload []byte) error {
		var v memory.Measurement
		if err := json.Unmarshal(payload, &v); err != nil {
			return err
		}
		snap.Measurements[id] = v
		return nil
	}); err != nil {
		return err
	}
	s.ImportState(snap)
	return nil
}

func loadRows(db *sql.DB, table string, written map[string][]byte, decode func(id string, payload []byte) error) error {
	rows, err := db.Query(`SELECT id, payload FROM ` + table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var (
			id      string
			payload []byte
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := decode(id, payload); err != nil {
			return fmt.Errorf("decode %s %s: %w", table, id, err)
		}
		written[id] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	return nil
}

// pending lists the rows to upsert and delete for one table.
type pending struct {
	encoded map[string][]byte
	upserts []string
	deletes []string
}

func diff[T any](written map[string][]byte, current map[string]T) (pending, error) {
	p := pending{encoded: make(map[string][]byte, len(current))}
	for id, v := range current {
		data, err := json.Marshal(v)
		if err != nil {
			return pending{}, fmt.Errorf("encode %s: %w", id, err)
		}
		p.encoded[id] = data
		if prev, ok := written[id]; !ok || !bytes.Equal(prev, data) {
			p.upserts = append(p.upserts, id)
		}
	}
	for id := range written {
		if _, ok := current[id]; !ok {
			p.deletes = append(p.deletes, id)
		}
	}
	return p, nil
}

func (p pending) empty() bool { return len(p.upserts) == 0 && len(p.deletes) == 0 }

func (p pending) apply(written map[string][]byte) {
	for _, id := range p.upserts {
		written[id] = p.encoded[id]
	}
	for _, id := range p.deletes {
		delete(written, id)
	}
}

func (s *Store) persist(ctx context.Context) (retErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ExportState()
	sessions, err := diff(s.sessions, snap.Sessions)
	if err != nil {
		return err
	}
	measurements, err := diff(s.measurements, snap.Measurements)
	if err != nil {
		return err
	}
	if sessions.empty() && measurements.empty() {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, id := range sessions.upserts {
		v := snap.Sessions[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO sessions(id,target,status,updated_at,payload) VALUES(?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET target=excluded.target, status=excluded.status, updated_at=excluded.updated_at, payload=excluded.payload`,
			id, string(v.Target), string(v.Status), v.UpdatedAt.UTC().Format(time.RFC3339Nano), sessions.encoded[id]); err != nil {
			return fmt.Errorf("upsert session %s: %w", id, err)
		}
	}
	for _, id := range measurements.upserts {
		v := snap.Measurements[id]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO measurements(id,session_id,label,created_at,payload) VALUES(?,?,?,?,?)
			ON CONFLICT(id) DO UPDATE SET session_id=excluded.session_id, label=excluded.label, payload=excluded.payload`,
			id, v.SessionID, v.Label, v.CreatedAt.UTC().Format(time.RFC3339Nano), measurements.encoded[id]); err != nil {
			return fmt.Errorf("upsert measurement %s: %w", id, err)
		}
	}
	for _, id := range sessions.deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete session %s: %w", id, err)
		}
	}
	for _, id := range measurements.deletes {
		if _, err := tx.ExecContext(ctx, `DELETE FROM measurements WHERE id = ?`, id); err != nil {
			return fmt.Errorf("delete measurement %s: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	sessions.apply(s.sessions)
	measurements.apply(s.measurements)
	return nil
}

// RunInTransaction commits fn in memory and then writes the changed rows.
func (s *Store) RunInTransaction(ctx context.Context, fn func(tx domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.persist(ctx)
}

// DB exposes the database handle.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the database path.
func (s *Store) Path() string { return s.path }

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }
