package enrich

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scholarmap/citemap-cli/internal/checkpoint"
	"github.com/scholarmap/citemap-cli/internal/model"
)

// scriptedLooker returns a scripted Result per item and counts calls.
type scriptedLooker struct {
	fn     func(item model.WorkItem) Result
	calls  map[string]int
	total  int
	onCall func(total int)
}

func (l *scriptedLooker) Lookup(_ context.Context, item model.WorkItem) Result {
	if l.calls == nil {
		l.calls = make(map[string]int)
	}
	l.calls[item.AuthorID]++
	l.total++
	if l.onCall != nil {
		l.onCall(l.total)
	}
	return l.fn(item)
}

func successFor(name, affiliation string) func(model.WorkItem) Result {
	return func(item model.WorkItem) Result {
		return Result{Outcome: OutcomeSuccess, Record: model.AffiliationRecord{
			AuthorName:  name,
			CitingPaper: item.CitingPaper,
			CitedPaper:  item.CitedPaper,
			Affiliation: affiliation,
		}}
	}
}

func newTestStore(t *testing.T) checkpoint.Store {
	t.Helper()
	s, err := checkpoint.NewFile(filepath.Join(t.TempDir(), "run"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() }) //nolint:errcheck
	return s
}

// recordingStore counts saves and can be made to fail saving.
type recordingStore struct {
	checkpoint.Store
	saves      int
	failSaveAt int // fail the nth save; 0 = never
}

func (r *recordingStore) Save(ctx context.Context, p *model.Progress) error {
	r.saves++
	if r.failSaveAt > 0 && r.saves >= r.failSaveAt {
		return eris.New("disk full")
	}
	return r.Store.Save(ctx, p)
}

func TestEngine_ConcreteScenario(t *testing.T) {
	// Co-authors A and B share (p1, c1); A succeeds, B has no data, C succeeds.
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "C", CitingPaper: "p2", CitedPaper: "c1"},
	}
	looker := &scriptedLooker{fn: func(item model.WorkItem) Result {
		switch item.AuthorID {
		case "A":
			return successFor("Alice", "MIT")(item)
		case "C":
			return successFor("Carl", "MIT")(item)
		default:
			return Result{Outcome: OutcomeNoData}
		}
	}}
	store := newTestStore(t)

	report, err := NewEngine(store, looker).Run(context.Background(), items, 3)
	require.NoError(t, err)

	assert.Empty(t, report.Failed, "B is satisfied by A's success via the shared key")
	assert.ElementsMatch(t, []model.AffiliationRecord{
		{AuthorName: "Alice", CitingPaper: "p1", CitedPaper: "c1", Affiliation: "MIT"},
		{AuthorName: "Carl", CitingPaper: "p2", CitedPaper: "c1", Affiliation: "MIT"},
	}, report.Records)
	assert.Equal(t, 3, looker.total, "each item attempted exactly once, B never retried")
}

func TestEngine_SiblingPropagation(t *testing.T) {
	// A fails first, then sibling B succeeds: A must not be retried.
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p1", CitedPaper: "c1"},
	}
	looker := &scriptedLooker{fn: func(item model.WorkItem) Result {
		if item.AuthorID == "B" {
			return successFor("Bea", "ETH Zurich")(item)
		}
		return Result{Outcome: OutcomeFailure, Err: eris.New("blocked")}
	}}
	store := newTestStore(t)

	report, err := NewEngine(store, looker).Run(context.Background(), items, 3)
	require.NoError(t, err)

	assert.Empty(t, report.Failed)
	assert.Len(t, report.Records, 1)
	assert.Equal(t, 1, looker.calls["A"])
	assert.Equal(t, 1, looker.calls["B"])
}

func TestEngine_Deduplication(t *testing.T) {
	// Two distinct items resolving to the same record yield one copy.
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
	}
	looker := &scriptedLooker{fn: successFor("Alice", "MIT")}
	store := newTestStore(t)

	report, err := NewEngine(store, looker).Run(context.Background(), items, 1)
	require.NoError(t, err)

	assert.Len(t, report.Records, 1)
	assert.Empty(t, report.Failed)
}

func TestEngine_BoundedRetries(t *testing.T) {
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p2", CitedPaper: "c1"},
	}
	looker := &scriptedLooker{fn: func(model.WorkItem) Result {
		return Result{Outcome: OutcomeFailure, Err: eris.New("blocked")}
	}}
	store := newTestStore(t)

	report, err := NewEngine(store, looker).Run(context.Background(), items, 2)
	require.NoError(t, err)

	assert.Empty(t, report.Records)
	require.Len(t, report.Failed, 2)
	assert.Equal(t, 0, report.Failed[0].Index)
	assert.Equal(t, 1, report.Failed[1].Index)

	// 1 first-pass attempt + 2 retry passes per item.
	assert.Equal(t, 3, looker.calls["A"])
	assert.Equal(t, 3, looker.calls["B"])

	// The run still finalizes: an empty set is committed.
	records, ok, err := store.LoadFinal(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Empty(t, records)
}

func TestEngine_IdempotentFinalize(t *testing.T) {
	items := []model.WorkItem{{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"}}
	store := newTestStore(t)

	first, err := NewEngine(store, &scriptedLooker{fn: successFor("Alice", "MIT")}).
		Run(context.Background(), items, 1)
	require.NoError(t, err)

	fresh := &scriptedLooker{fn: successFor("Alice", "MIT")}
	second, err := NewEngine(store, fresh).Run(context.Background(), items, 1)
	require.NoError(t, err)

	assert.True(t, second.ShortCircuited)
	assert.Equal(t, first.Records, second.Records)
	assert.Zero(t, fresh.total, "a committed run never re-queries")
}

func TestEngine_ResumeAfterInterruption(t *testing.T) {
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p2", CitedPaper: "c1"},
		{AuthorID: "C", CitingPaper: "p3", CitedPaper: "c1"},
		{AuthorID: "D", CitingPaper: "p4", CitedPaper: "c1"},
		{AuthorID: "E", CitingPaper: "p5", CitedPaper: "c1"},
	}
	store := newTestStore(t)

	ctx, cancel := context.WithCancel(context.Background())
	interrupted := &scriptedLooker{
		fn: successFor("Someone", "MIT"),
		onCall: func(total int) {
			if total == 3 {
				cancel() // user interrupt after the third item's lookup
			}
		},
	}

	_, err := NewEngine(store, interrupted).Run(ctx, items, 1)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, interrupted.total)

	// Restart with a fresh context: the run resumes past the checkpoint.
	resumed := &scriptedLooker{fn: successFor("Someone", "MIT")}
	report, err := NewEngine(store, resumed).Run(context.Background(), items, 1)
	require.NoError(t, err)

	assert.True(t, report.Resumed)
	assert.Len(t, report.Records, 5)
	assert.Empty(t, report.Failed)

	// Completed items are never re-queried.
	for _, id := range []string{"A", "B", "C"} {
		assert.Zero(t, resumed.calls[id], "item %s was re-queried after resume", id)
	}
	assert.Equal(t, 1, resumed.calls["D"])
	assert.Equal(t, 1, resumed.calls["E"])
}

func TestEngine_ReconcileRecoversDroppedItems(t *testing.T) {
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p2", CitedPaper: "c1"},
	}
	store := newTestStore(t)

	// Simulate a snapshot that claims the first pass finished but tracked
	// neither successes nor failures.
	broken := model.NewProgress()
	broken.Cursor = len(items) - 1
	require.NoError(t, store.Save(context.Background(), broken))

	looker := &scriptedLooker{fn: successFor("Someone", "MIT")}
	report, err := NewEngine(store, looker).Run(context.Background(), items, 1)
	require.NoError(t, err)

	assert.Len(t, report.Records, 2, "reconcile queued the dropped items for retry")
	assert.Empty(t, report.Failed)
	assert.Equal(t, 2, looker.total)
}

func TestEngine_StorageFailureAborts(t *testing.T) {
	items := []model.WorkItem{
		{AuthorID: "A", CitingPaper: "p1", CitedPaper: "c1"},
		{AuthorID: "B", CitingPaper: "p2", CitedPaper: "c1"},
	}
	store := &recordingStore{Store: newTestStore(t), failSaveAt: 2}
	looker := &scriptedLooker{fn: successFor("Someone", "MIT")}

	_, err := NewEngine(store, looker).Run(context.Background(), items, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "save progress")

	// Nothing was finalized; the last good snapshot is still loadable.
	_, ok, ferr := store.LoadFinal(context.Background())
	require.NoError(t, ferr)
	assert.False(t, ok)

	prog, lerr := store.Load(context.Background())
	require.NoError(t, lerr)
	require.NotNil(t, prog)
	assert.Equal(t, 0, prog.Cursor)
}

func TestEngine_SaveInterval(t *testing.T) {
	items := make([]model.WorkItem, 6)
	for i := range items {
		items[i] = model.WorkItem{AuthorID: string(rune('A' + i)), CitingPaper: "p", CitedPaper: "c"}
	}
	store := &recordingStore{Store: newTestStore(t)}
	looker := &scriptedLooker{fn: successFor("Someone", "MIT")}

	report, err := NewEngine(store, looker, WithSaveInterval(3)).
		Run(context.Background(), items, 1)
	require.NoError(t, err)

	assert.Len(t, report.Records, 1, "identical records collapse")
	assert.Less(t, store.saves, len(items)+1, "batched checkpointing writes less often")
}
