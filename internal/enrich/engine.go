package enrich

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/scholarmap/citemap-cli/internal/checkpoint"
	"github.com/scholarmap/citemap-cli/internal/model"
)

// Engine drives checkpointed enrichment passes over an ordered work list.
//
// A run is: a sequential first pass over every unprocessed item, a
// reconciliation step that recovers items no pass accounted for, up to
// maxRetryPasses retry passes over the outstanding set, and a finalize step
// that commits the deduplicated result set and discards the progress
// snapshot. State is persisted after every item so an interruption loses at
// most the one item in flight, and a restarted run resumes without
// re-querying completed items.
//
// Items are processed one at a time in ascending index order. The lookup
// service blocks callers that fan out, so raising concurrency here would
// increase the failure rate, not the throughput.
type Engine struct {
	store     checkpoint.Store
	client    Looker
	saveEvery int
}

// EngineOption configures the engine.
type EngineOption func(*Engine)

// WithSaveInterval checkpoints every n items instead of every item, trading
// a larger loss window for fewer writes. Values below 1 mean every item.
func WithSaveInterval(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.saveEvery = n
		}
	}
}

// NewEngine creates an engine over the given store and lookup client.
func NewEngine(store checkpoint.Store, client Looker, opts ...EngineOption) *Engine {
	e := &Engine{store: store, client: client, saveEvery: 1}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunReport summarizes a completed (or short-circuited) run.
type RunReport struct {
	// Records is the final deduplicated result set.
	Records []model.AffiliationRecord
	// Failed holds the items still outstanding after the last retry pass.
	// They are reported, never silently dropped, and excluded from Records.
	Failed []model.PendingItem
	// Resumed is true when the run continued from a prior snapshot.
	Resumed bool
	// ShortCircuited is true when a committed final set was returned without
	// any processing.
	ShortCircuited bool
}

// Run processes the work list to completion and returns the final result
// set. If a final set was already committed by an earlier run it is returned
// as-is. A checkpoint write failure aborts the run; the last persisted
// snapshot remains valid for the next invocation. Context cancellation is a
// clean suspend: the in-flight item's checkpoint write completes first, and
// Run returns the context error.
func (e *Engine) Run(ctx context.Context, items []model.WorkItem, maxRetryPasses int) (*RunReport, error) {
	log := zap.L().With(zap.String("component", "enrich.engine"))

	// A committed final set is authoritative: skip all processing.
	if records, ok, err := e.store.LoadFinal(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: load final results")
	} else if ok {
		log.Info("final result set already committed, skipping run",
			zap.Int("records", len(records)))
		return &RunReport{Records: records, ShortCircuited: true}, nil
	}

	prog, err := e.store.Load(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "engine: load progress")
	}
	resumed := prog != nil
	if prog == nil {
		prog = model.NewProgress()
	}
	st := newRunState(items, prog)

	// Pass 1: sequential scan from the cursor, checkpointing as we go.
	start := prog.Cursor + 1
	if resumed {
		log.Info("resuming run",
			zap.Int("cursor", prog.Cursor),
			zap.Int("total", len(items)),
			zap.Int("collected", len(st.results)),
			zap.Int("pending", len(st.pending)),
			zap.Int("pass", prog.Pass))
	}
	sinceSave := 0
	for i := start; i < len(items); i++ {
		res := e.client.Lookup(ctx, items[i])
		st.apply(i, items[i], res)
		prog.Cursor = i

		sinceSave++
		if sinceSave >= e.saveEvery || i == len(items)-1 || ctx.Err() != nil {
			if err := e.persist(ctx, prog, st); err != nil {
				return nil, err
			}
			sinceSave = 0
		}
		if err := ctx.Err(); err != nil {
			log.Info("run suspended during first pass", zap.Int("cursor", i))
			return nil, err
		}
	}
	log.Info("first pass complete",
		zap.Int("collected", len(st.results)),
		zap.Int("failed", len(st.pending)))

	// Reconcile: queue any index that neither succeeded nor was recorded as
	// failed. Steady state adds nothing; it recovers items dropped by an
	// interrupted retry pass or an earlier partial run.
	if missing := st.reconcile(); missing > 0 {
		log.Warn("reconcile queued missing items", zap.Int("count", missing))
	}
	if err := e.persist(ctx, prog, st); err != nil {
		return nil, err
	}

	// Retry passes over the outstanding set.
	pass := prog.Pass
	if pass < 1 {
		pass = 1
	}
	for pass <= maxRetryPasses {
		batch := st.takePending()
		if len(batch) == 0 {
			break
		}
		prog.Pass = pass
		log.Info("retry pass starting",
			zap.Int("pass", pass),
			zap.Int("max_passes", maxRetryPasses),
			zap.Int("items", len(batch)))

		for _, pi := range batch {
			res := e.client.Lookup(ctx, pi.Item)
			st.apply(pi.Index, pi.Item, res)
			if err := e.persist(ctx, prog, st); err != nil {
				return nil, err
			}
			if err := ctx.Err(); err != nil {
				log.Info("run suspended during retry pass", zap.Int("pass", pass))
				return nil, err
			}
		}

		log.Info("retry pass complete",
			zap.Int("pass", pass),
			zap.Int("recovered", len(batch)-len(st.pending)),
			zap.Int("still_failing", len(st.pending)))
		pass++
	}

	// Finalize: commit the deduplicated set, then drop the snapshot.
	st.dropSatisfied()
	st.results = model.DedupeRecords(st.results)
	if err := e.store.CommitFinal(ctx, st.results); err != nil {
		return nil, eris.Wrap(err, "engine: commit final results")
	}
	if err := e.store.ClearProgress(ctx); err != nil {
		return nil, eris.Wrap(err, "engine: clear progress")
	}

	for _, pi := range st.pending {
		log.Warn("item permanently failed",
			zap.Int("index", pi.Index),
			zap.String("author_id", pi.Item.AuthorID))
	}
	log.Info("run complete",
		zap.Int("records", len(st.results)),
		zap.Int("permanently_failed", len(st.pending)))

	return &RunReport{Records: st.results, Failed: st.pending, Resumed: resumed}, nil
}

// persist flushes the in-memory state into the snapshot and saves it. A save
// failure is fatal to the run: continuing with unpersisted state would void
// the at-most-one-item loss guarantee.
func (e *Engine) persist(ctx context.Context, prog *model.Progress, st *runState) error {
	prog.Results = st.results
	prog.SetSatisfied(st.satisfied)
	prog.Pending = st.pending
	if err := e.store.Save(ctx, prog); err != nil {
		return eris.Wrap(err, "engine: save progress")
	}
	return nil
}

// runState is the engine's working view of a run, rebuilt from the snapshot
// on resume.
type runState struct {
	items     []model.WorkItem
	keyIndex  map[model.PaperKey][]int
	results   []model.AffiliationRecord
	seen      map[model.AffiliationRecord]struct{}
	satisfied map[int]struct{}
	pending   []model.PendingItem
}

func newRunState(items []model.WorkItem, prog *model.Progress) *runState {
	st := &runState{
		items:     items,
		keyIndex:  model.KeyIndex(items),
		results:   prog.Results,
		satisfied: prog.SatisfiedSet(),
		pending:   prog.Pending,
		seen:      make(map[model.AffiliationRecord]struct{}, len(prog.Results)),
	}
	for _, r := range prog.Results {
		st.seen[r] = struct{}{}
	}
	return st
}

// apply folds one lookup outcome into the state. A success records the
// result (if structurally novel) and satisfies every item sharing the paper
// key, not just the attempted one; anything else leaves the item pending.
func (st *runState) apply(index int, item model.WorkItem, res Result) {
	if res.Outcome != OutcomeSuccess {
		st.pending = append(st.pending, model.PendingItem{Index: index, Item: item})
		return
	}
	if _, dup := st.seen[res.Record]; !dup {
		st.seen[res.Record] = struct{}{}
		st.results = append(st.results, res.Record)
	}
	for _, sibling := range st.keyIndex[item.Key()] {
		st.satisfied[sibling] = struct{}{}
	}
}

// reconcile queues every index that is neither satisfied nor already
// pending, preserving ascending order, and re-deduplicates the result set.
// Returns how many missing items it queued.
func (st *runState) reconcile() int {
	// A pass-1 failure whose key a sibling later satisfied is not
	// outstanding: the record it would have produced already exists.
	st.dropSatisfied()

	inPending := make(map[int]struct{}, len(st.pending))
	for _, pi := range st.pending {
		inPending[pi.Index] = struct{}{}
	}

	missing := 0
	for i, item := range st.items {
		if _, ok := st.satisfied[i]; ok {
			continue
		}
		if _, ok := inPending[i]; ok {
			continue
		}
		st.pending = append(st.pending, model.PendingItem{Index: i, Item: item})
		missing++
	}
	sort.Slice(st.pending, func(a, b int) bool { return st.pending[a].Index < st.pending[b].Index })

	st.results = model.DedupeRecords(st.results)
	st.seen = make(map[model.AffiliationRecord]struct{}, len(st.results))
	for _, r := range st.results {
		st.seen[r] = struct{}{}
	}
	return missing
}

// takePending snapshots the outstanding set as the next pass's batch.
func (st *runState) takePending() []model.PendingItem {
	st.dropSatisfied()
	batch := st.pending
	st.pending = nil
	return batch
}

// dropSatisfied removes pending items whose index a sibling success has
// already satisfied.
func (st *runState) dropSatisfied() {
	kept := st.pending[:0]
	for _, pi := range st.pending {
		if _, ok := st.satisfied[pi.Index]; ok {
			continue
		}
		kept = append(kept, pi)
	}
	st.pending = kept
}
