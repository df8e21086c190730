package model

import "sort"

// PendingItem is a work item that has not yet produced a result, tagged with
// its original index so retry passes keep deterministic ordering.
type PendingItem struct {
	Index int      `json:"index"`
	Item  WorkItem `json:"item"`
}

// Progress is the durable mid-run snapshot of the enrichment engine. It is
// persisted after every item so an interruption loses at most the one item in
// flight, and deleted once the final result set is committed.
//
// Satisfied holds work-item indices rather than paper keys: whenever a lookup
// succeeds, the indices of every item sharing the paper key are recorded, so
// the sibling-propagation rule survives a restart.
type Progress struct {
	Results   []AffiliationRecord `json:"results"`
	Satisfied []int               `json:"satisfied"`
	Pending   []PendingItem       `json:"pending"`
	// Cursor is the last index completed by the first pass, -1 if none.
	Cursor int `json:"cursor"`
	// Pass is the current retry pass, 0 while the first pass is running.
	Pass int `json:"pass"`
}

// NewProgress returns an empty snapshot positioned before the first item.
func NewProgress() *Progress {
	return &Progress{Cursor: -1}
}

// SatisfiedSet expands the persisted index list into a set.
func (p *Progress) SatisfiedSet() map[int]struct{} {
	set := make(map[int]struct{}, len(p.Satisfied))
	for _, i := range p.Satisfied {
		set[i] = struct{}{}
	}
	return set
}

// SetSatisfied replaces the persisted index list from a set, sorted ascending
// so snapshots are byte-stable across runs.
func (p *Progress) SetSatisfied(set map[int]struct{}) {
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	p.Satisfied = out
}
