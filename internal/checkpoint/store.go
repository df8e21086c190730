// Package checkpoint persists enrichment run state: the mid-run progress
// snapshot saved after every item, and the final deduplicated result set that
// supersedes it. Three backends share one contract: a local JSON directory,
// SQLite, and Postgres.
package checkpoint

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// ErrLocked is returned when another engine instance holds the store's
// advisory lock. Concurrent engines against one store are not supported.
var ErrLocked = eris.New("checkpoint: store locked by another run")

// Store is the durable persistence contract for one enrichment run.
//
// Save must be atomic with respect to a process crash: a reader never
// observes a snapshot that is neither the old nor the new state. CommitFinal
// is called exactly once per completed run; after it, ClearProgress removes
// the intermediate snapshot so Load returns nil.
type Store interface {
	// Load returns the in-progress snapshot, or nil when none exists.
	Load(ctx context.Context) (*model.Progress, error)
	// Save atomically replaces the in-progress snapshot.
	Save(ctx context.Context, p *model.Progress) error
	// LoadFinal returns the committed final result set. ok is false when no
	// final set has been committed (an empty committed set is still ok=true).
	LoadFinal(ctx context.Context) (records []model.AffiliationRecord, ok bool, err error)
	// CommitFinal durably writes the final result set.
	CommitFinal(ctx context.Context, records []model.AffiliationRecord) error
	// ClearProgress removes the in-progress snapshot, if any.
	ClearProgress(ctx context.Context) error
	// Close releases the advisory lock and any underlying resources.
	Close() error
}
