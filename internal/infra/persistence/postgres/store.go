// Package postgres keeps calibration sessions and measurements in Postgres.
// State is held by the in-memory store; after every committed transaction the
// buckets whose JSON changed are upserted into one JSONB row each.
package postgres

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"spectrocal/internal/infra/persistence/memory"
	"spectrocal/pkg/domain"
)

var _ domain.PersistentStore = (*Store)(nil)

const (
	driverName = "pgx"
	defaultDSN = "postgres://localhost/spectrocal?sslmode=disable"
	table      = "spectrocal_snapshot"
)

const (
	bucketSessions     = "sessions"
	bucketMeasurements = "measurements"
)

var buckets = []string{bucketSessions, bucketMeasurements}

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

// Store is a memory.Store mirrored to Postgres.
type Store struct {
	*memory.Store
	db *sql.DB

	mu       sync.Mutex
	written  map[string][]byte
	revision int64
}

// NewStore connects to dsn (a local default when empty), creates the snapshot
// table and loads any previous state.
func NewStore(ctx context.Context, dsn string, engine *domain.RulesEngine) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(driverName, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := &Store{Store: memory.NewStore(engine), db: db, written: make(map[string][]byte)}
	if err := s.migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := s.load(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// RunInTransaction commits fn in memory and then writes the changed buckets.
// A failed write is returned but the in-memory commit stands.
func (s *Store) RunInTransaction(ctx context.Context, fn func(domain.Transaction) error) (domain.Result, error) {
	res, err := s.Store.RunInTransaction(ctx, fn)
	if err != nil {
		return res, err
	}
	return res, s.persist(ctx)
}

// DB exposes the connection pool.
func (s *Store) DB() *sql.DB { return s.db }

// Revision counts snapshot writes since the table was created.
func (s *Store) Revision() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// Close releases the connection pool.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate(ctx context.Context) error {
	ddl := `CREATE TABLE IF NOT EXISTS ` + table + ` (
		bucket TEXT PRIMARY KEY,
		payload JSONB NOT NULL,
		revision BIGINT NOT NULL DEFAULT 0
	)`
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create %s: %w", table, err)
	}
	return nil
}

func encodeBuckets(snap *memory.Snapshot) (map[string][]byte, error) {
	out := make(map[string][]byte, len(buckets))
	for name, v := range map[string]any{
		bucketSessions:     snap.Sessions,
		bucketMeasurements: snap.Measurements,
	} {
		data, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", name, err)
		}
		out[name] = data
	}
	return out, nil
}

func (s *Store) load(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT bucket, payload, revision FROM `+table)
	if err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	var snap memory.Snapshot
	for rows.Next() {
		var (
			bucket   string
			payload  []byte
			revision int64
		)
		if err := rows.Scan(&bucket, &payload, &revision); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if revision > s.revision {
			s.revision = revision
		}
		if len(payload) == 0 {
			continue
		}
		var target any
		switch bucket {
		case bucketSessions:
			target = &snap.Sessions
		case bucketMeasurements:
			target = &snap.Measurements
		default:
			continue
		}
		if err := json.Unmarshal(payload, target); err != nil {
			return fmt.Errorf("decode %s: %w", bucket, err)
		}
		s.written[bucket] = payload
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate %s: %w", table, err)
	}
	s.Store.ImportState(snap)
	return nil
}

func (s *Store) persist(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.ExportState()
	encoded, err := encodeBuckets(&snap)
	if err != nil {
		return err
	}
	var changed []string
	for _, name := range buckets {
		if prev, ok := s.written[name]; !ok || !bytes.Equal(prev, encoded[name]) {
			changed = append(changed, name)
		}
	}
	if len(changed) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	revision := s.revision + 1
	for _, name := range changed {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO `+table+`(bucket,payload,revision) VALUES($1,$2,$3) ON CONFLICT(bucket) DO UPDATE SET payload=EXCLUDED.payload, revision=EXCLUDED.revision`,
			name, encoded[name], revision); err != nil {
			return fmt.Errorf("upsert %s: %w", name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	committed = true
	s.revision = revision
	for _, name := range changed {
		s.written[name] = encoded[name]
	}
	return nil
}

// OverrideSQLOpen replaces sql.Open for tests and returns a restore function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
