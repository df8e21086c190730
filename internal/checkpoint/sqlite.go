package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"syscall"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. Progress and the
// final result set are single-row tables holding JSON snapshots; statement
// atomicity gives the crash-safe save guarantee.
type SQLiteStore struct {
	db    *sql.DB
	owner string
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS enrich_progress (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	snapshot    TEXT NOT NULL,
	updated_at  DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrich_results (
	id           INTEGER PRIMARY KEY CHECK (id = 1),
	records      TEXT NOT NULL,
	committed_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS enrich_lock (
	id          INTEGER PRIMARY KEY CHECK (id = 1),
	owner       TEXT NOT NULL,
	pid         INTEGER NOT NULL,
	acquired_at DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// NewSQLite opens (or creates) the database, configures WAL mode, runs the
// migration, and takes the advisory lock row. Returns ErrLocked when another
// run already holds it.
func NewSQLite(ctx context.Context, dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}

	s := &SQLiteStore{db: db, owner: uuid.New().String()}
	if _, err := db.ExecContext(ctx, sqliteMigration); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: migrate")
	}
	if err := s.acquireLock(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// acquireLock takes the single lock row. The row records the holder's pid:
// when that process no longer exists the lock is stale (a crashed run) and is
// stolen, so restart-after-crash resumes without manual cleanup.
func (s *SQLiteStore) acquireLock(ctx context.Context) error {
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO enrich_lock (id, owner, pid) VALUES (1, ?, ?)`,
		s.owner, os.Getpid())
	if err != nil {
		return eris.Wrap(err, "sqlite: acquire lock")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	var holderPid int
	if err := s.db.QueryRowContext(ctx,
		`SELECT pid FROM enrich_lock WHERE id = 1`).Scan(&holderPid); err != nil {
		return eris.Wrap(err, "sqlite: read lock holder")
	}
	if pidAlive(holderPid) {
		return ErrLocked
	}

	// Guard the steal on the stale pid so two racing restarts cannot both win.
	res, err = s.db.ExecContext(ctx,
		`UPDATE enrich_lock SET owner = ?, pid = ?, acquired_at = datetime('now')
		 WHERE id = 1 AND pid = ?`,
		s.owner, os.Getpid(), holderPid)
	if err != nil {
		return eris.Wrap(err, "sqlite: steal stale lock")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrLocked
	}
	return nil
}

// pidAlive reports whether a process with the given pid exists. EPERM means
// it exists but belongs to another user.
func pidAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := syscall.Kill(pid, 0)
	return err == nil || err == syscall.EPERM
}

// Close releases the lock row and the database handle.
func (s *SQLiteStore) Close() error {
	if _, err := s.db.Exec(`DELETE FROM enrich_lock WHERE id = 1 AND owner = ?`, s.owner); err != nil {
		s.db.Close()
		return eris.Wrap(err, "sqlite: release lock")
	}
	return s.db.Close()
}

func (s *SQLiteStore) Load(ctx context.Context) (*model.Progress, error) {
	var snapshot string
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM enrich_progress WHERE id = 1`).Scan(&snapshot)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: load progress")
	}

	var p model.Progress
	if err := json.Unmarshal([]byte(snapshot), &p); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal progress")
	}
	return &p, nil
}

func (s *SQLiteStore) Save(ctx context.Context, p *model.Progress) error {
	snapshot, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal progress")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrich_progress (id, snapshot, updated_at)
		VALUES (1, ?, datetime('now'))
		ON CONFLICT (id) DO UPDATE SET
			snapshot = excluded.snapshot,
			updated_at = excluded.updated_at`,
		string(snapshot),
	)
	return eris.Wrap(err, "sqlite: save progress")
}

func (s *SQLiteStore) LoadFinal(ctx context.Context) ([]model.AffiliationRecord, bool, error) {
	var recordsJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT records FROM enrich_results WHERE id = 1`).Scan(&recordsJSON)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "sqlite: load results")
	}

	var records []model.AffiliationRecord
	if err := json.Unmarshal([]byte(recordsJSON), &records); err != nil {
		return nil, false, eris.Wrap(err, "sqlite: unmarshal results")
	}
	return records, true, nil
}

func (s *SQLiteStore) CommitFinal(ctx context.Context, records []model.AffiliationRecord) error {
	if records == nil {
		records = []model.AffiliationRecord{}
	}
	recordsJSON, err := json.Marshal(records)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal results")
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO enrich_results (id, records, committed_at)
		VALUES (1, ?, datetime('now'))
		ON CONFLICT (id) DO UPDATE SET
			records = excluded.records,
			committed_at = excluded.committed_at`,
		string(recordsJSON),
	)
	return eris.Wrap(err, "sqlite: commit results")
}

func (s *SQLiteStore) ClearProgress(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM enrich_progress WHERE id = 1`)
	return eris.Wrap(err, "sqlite: clear progress")
}
