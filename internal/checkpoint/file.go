package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rotisserie/eris"

	"github.com/scholarmap/citemap-cli/internal/model"
)

const (
	progressFile = "progress.json"
	resultsFile  = "results.json"
	lockFile     = "citemap.lock"
)

// FileStore keeps run state as JSON files under a run directory. Saves go
// through a temp file and an atomic rename so a crash mid-write never leaves
// a half-written snapshot behind.
type FileStore struct {
	dir  string
	lock *os.File
}

// NewFile creates the run directory if needed and takes the advisory lock.
// Returns ErrLocked when another process already holds it. The lock is a
// flock on the lock file, not the file's existence: the kernel drops it when
// the holding process dies, so a crashed run never blocks the restart that
// resumes it.
func NewFile(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "file: create run dir %s", dir)
	}

	f, err := os.OpenFile(filepath.Join(dir, lockFile), os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, eris.Wrap(err, "file: open lock")
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()
		if err == syscall.EWOULDBLOCK {
			return nil, ErrLocked
		}
		return nil, eris.Wrap(err, "file: acquire lock")
	}

	// Pid is informational only; exclusion comes from the flock.
	if err := f.Truncate(0); err == nil {
		fmt.Fprintf(f, "%d\n", os.Getpid())
	}
	return &FileStore{dir: dir, lock: f}, nil
}

// Close releases the advisory lock. The lock file itself stays behind; a
// stale file without a live flock does not block anyone.
func (s *FileStore) Close() error {
	if err := syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN); err != nil {
		s.lock.Close()
		return eris.Wrap(err, "file: release lock")
	}
	return eris.Wrap(s.lock.Close(), "file: close lock")
}

func (s *FileStore) Load(_ context.Context) (*model.Progress, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, progressFile))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "file: read progress")
	}

	var p model.Progress
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, eris.Wrap(err, "file: unmarshal progress")
	}
	return &p, nil
}

func (s *FileStore) Save(_ context.Context, p *model.Progress) error {
	data, err := json.Marshal(p)
	if err != nil {
		return eris.Wrap(err, "file: marshal progress")
	}
	return s.writeAtomic(progressFile, data)
}

func (s *FileStore) LoadFinal(_ context.Context) ([]model.AffiliationRecord, bool, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, resultsFile))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, eris.Wrap(err, "file: read results")
	}

	var records []model.AffiliationRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, false, eris.Wrap(err, "file: unmarshal results")
	}
	return records, true, nil
}

func (s *FileStore) CommitFinal(_ context.Context, records []model.AffiliationRecord) error {
	if records == nil {
		records = []model.AffiliationRecord{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return eris.Wrap(err, "file: marshal results")
	}
	return s.writeAtomic(resultsFile, data)
}

func (s *FileStore) ClearProgress(_ context.Context) error {
	if err := os.Remove(filepath.Join(s.dir, progressFile)); err != nil && !os.IsNotExist(err) {
		return eris.Wrap(err, "file: clear progress")
	}
	return nil
}

// writeAtomic writes data to a temp file in the run directory, fsyncs it, and
// renames it over the target. Rename within one directory is atomic on POSIX.
func (s *FileStore) writeAtomic(name string, data []byte) error {
	tmp, err := os.CreateTemp(s.dir, name+".tmp-*")
	if err != nil {
		return eris.Wrapf(err, "file: create temp for %s", name)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "file: write temp for %s", name)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return eris.Wrapf(err, "file: sync temp for %s", name)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "file: close temp for %s", name)
	}

	if err := os.Rename(tmpName, filepath.Join(s.dir, name)); err != nil {
		os.Remove(tmpName)
		return eris.Wrapf(err, "file: rename into %s", name)
	}
	return nil
}
