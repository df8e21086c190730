package checkpoint

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// Pool is the subset of pgxpool.Pool the store needs. pgxmock's pool
// interface satisfies it, which keeps the Postgres backend unit-testable.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// lockSession is the single pinned connection holding the advisory lock.
type lockSession interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// advisoryLockKey identifies the enrichment run lock within the database.
const advisoryLockKey int64 = 0x636974656d6170 // "citemap"

// PostgresStore implements Store on a pgx connection pool, for deployments
// where the run state lives on shared infrastructure rather than local disk.
//
// The run lock is a session-scoped pg_advisory_lock held on one pinned pool
// connection: if the process crashes, the server drops the session and the
// lock with it, so the restart resumes without manual cleanup.
type PostgresStore struct {
	pool    Pool
	lock    lockSession
	release func()
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS enrich_progress (
	id          INT PRIMARY KEY CHECK (id = 1),
	snapshot    JSONB NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS enrich_results (
	id           INT PRIMARY KEY CHECK (id = 1),
	records      JSONB NOT NULL,
	committed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgres connects, migrates, and takes the session advisory lock.
// Returns ErrLocked when another live session already holds it.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	if _, err := pool.Exec(ctx, postgresMigration); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: migrate")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: pin lock connection")
	}
	s := &PostgresStore{pool: pool, lock: conn, release: conn.Release}
	if err := s.acquireLock(ctx); err != nil {
		conn.Release()
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) acquireLock(ctx context.Context) error {
	var acquired bool
	err := s.lock.QueryRow(ctx,
		`SELECT pg_try_advisory_lock($1)`, advisoryLockKey).Scan(&acquired)
	if err != nil {
		return eris.Wrap(err, "postgres: acquire lock")
	}
	if !acquired {
		return ErrLocked
	}
	return nil
}

// Close releases the advisory lock, its pinned connection, and the pool.
func (s *PostgresStore) Close() error {
	_, err := s.lock.Exec(context.Background(),
		`SELECT pg_advisory_unlock($1)`, advisoryLockKey)
	if s.release != nil {
		s.release()
	}
	s.pool.Close()
	return eris.Wrap(err, "postgres: release lock")
}

func (s *PostgresStore) Load(ctx context.Context) (*model.Progress, error) {
	var snapshot []byte
	err := s.pool.QueryRow(ctx,
		`SELECT snapshot FROM enrich_progress WHERE id = 1`).Scan(&snapshot)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: load progress")
	}

	var p model.Progress
	if err := json.Unmarshal(snapshot, &p); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal progress")
	}
	return &p, nil
}

func (s *PostgresStore) Save(ctx context.Context, p *model.Progress) error {
	snapshot, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal progress")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO enrich_progress (id, snapshot, updated_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			snapshot = EXCLUDED.snapshot,
			updated_at = now()`,
		snapshot,
	)
	return eris.Wrap(err, "postgres: save progress")
}

func (s *PostgresStore) LoadFinal(ctx context.Context) ([]model.AffiliationRecord, bool, error) {
	var recordsJSON []byte
	err := s.pool.QueryRow(ctx,
		`SELECT records FROM enrich_results WHERE id = 1`).Scan(&recordsJSON)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "postgres: load results")
	}

	var records []model.AffiliationRecord
	if err := json.Unmarshal(recordsJSON, &records); err != nil {
		return nil, false, eris.Wrap(err, "postgres: unmarshal results")
	}
	return records, true, nil
}

func (s *PostgresStore) CommitFinal(ctx context.Context, records []model.AffiliationRecord) error {
	if records == nil {
		records = []model.AffiliationRecord{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal results")
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO enrich_results (id, records, committed_at)
		VALUES (1, $1, now())
		ON CONFLICT (id) DO UPDATE SET
			records = EXCLUDED.records,
			committed_at = now()`,
		recordsJSON,
	)
	return eris.Wrap(err, "postgres: commit results")
}

func (s *PostgresStore) ClearProgress(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM enrich_progress WHERE id = 1`)
	return eris.Wrap(err, "postgres: clear progress")
}
