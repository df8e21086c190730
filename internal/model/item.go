// Package model defines the core value types shared across the enrichment
// pipeline: work items produced by the citation-graph crawler, the
// affiliation records the lookup yields, and the durable progress snapshot.
package model

// NoAuthorFound is the sentinel author id used by the upstream crawler when a
// citing paper has no resolvable author profile. Items carrying it require no
// external lookup and map to a canonical sentinel record.
const NoAuthorFound = "No_author_found"

// WorkItem is one unit of enrichment work: a citing author paired with the
// citing/cited paper titles that tie the lookup result back to the citation
// graph.
type WorkItem struct {
	AuthorID    string `json:"author_id"`
	CitingPaper string `json:"citing_paper"`
	CitedPaper  string `json:"cited_paper"`
}

// PaperKey identifies a citing/cited paper pairing. Multiple work items
// (co-authors on the same citation) share a key, and one successful lookup
// satisfies all of them.
type PaperKey struct {
	Citing string
	Cited  string
}

// Key returns the item's paper pairing key.
func (w WorkItem) Key() PaperKey {
	return PaperKey{Citing: w.CitingPaper, Cited: w.CitedPaper}
}

// NoAuthor reports whether the item carries the no-author sentinel.
func (w WorkItem) NoAuthor() bool {
	return w.AuthorID == NoAuthorFound
}

// KeyIndex maps each paper pairing to the ascending list of work-item indices
// sharing it.
func KeyIndex(items []WorkItem) map[PaperKey][]int {
	idx := make(map[PaperKey][]int, len(items))
	for i, it := range items {
		k := it.Key()
		idx[k] = append(idx[k], i)
	}
	return idx
}
