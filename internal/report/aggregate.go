package report

import (
	"sort"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// SummaryRow is one affiliation's slice of the result set.
type SummaryRow struct {
	Affiliation string
	AuthorCount int
	Authors     []string // unique, sorted
}

// Summarize groups records by affiliation and counts unique authors,
// excluding sentinel records. Rows are sorted by author count descending,
// ties broken by affiliation name.
func Summarize(records []model.AffiliationRecord) []SummaryRow {
	authors := make(map[string]map[string]struct{})
	for _, rec := range records {
		if rec.Sentinel() {
			continue
		}
		set, ok := authors[rec.Affiliation]
		if !ok {
			set = make(map[string]struct{})
			authors[rec.Affiliation] = set
		}
		set[rec.AuthorName] = struct{}{}
	}

	rows := make([]SummaryRow, 0, len(authors))
	for affiliation, set := range authors {
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		rows = append(rows, SummaryRow{
			Affiliation: affiliation,
			AuthorCount: len(names),
			Authors:     names,
		})
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].AuthorCount != rows[b].AuthorCount {
			return rows[a].AuthorCount > rows[b].AuthorCount
		}
		return rows[a].Affiliation < rows[b].Affiliation
	})
	return rows
}

// CategoryRow is one tracked institution's citation footprint.
type CategoryRow struct {
	Institution       string
	CitingPapers      int
	CitingResearchers int
	Researchers       []string // unique, sorted
	RawAffiliations   []string // unique, sorted
}

// CategoryReport is a full category table plus whatever the skip categories
// absorbed.
type CategoryReport struct {
	Rows []CategoryRow
	// Skipped counts records per skip-category name, so absorbed matches are
	// visible without polluting the table.
	Skipped map[string]int
}

type categoryAgg struct {
	papers       map[string]struct{}
	researchers  map[string]struct{}
	affiliations map[string]struct{}
}

// Categorize buckets records into the classifier's categories. Every
// non-skip category gets a row in rule order, zero counts included, so
// reports across runs stay positionally comparable.
func Categorize(records []model.AffiliationRecord, c *Classifier) *CategoryReport {
	aggs := make(map[string]*categoryAgg)
	skipped := make(map[string]int)

	for _, rec := range records {
		if rec.Sentinel() {
			continue
		}
		cat, ok := c.Classify(rec.Affiliation)
		if !ok {
			continue
		}
		if cat.Skip {
			skipped[cat.Name]++
			continue
		}
		agg, ok := aggs[cat.Name]
		if !ok {
			agg = &categoryAgg{
				papers:       make(map[string]struct{}),
				researchers:  make(map[string]struct{}),
				affiliations: make(map[string]struct{}),
			}
			aggs[cat.Name] = agg
		}
		agg.papers[rec.CitingPaper] = struct{}{}
		agg.researchers[rec.AuthorName] = struct{}{}
		agg.affiliations[rec.Affiliation] = struct{}{}
	}

	report := &CategoryReport{Skipped: skipped}
	for _, cat := range c.Categories() {
		if cat.Skip {
			continue
		}
		row := CategoryRow{Institution: cat.Name}
		if agg, ok := aggs[cat.Name]; ok {
			row.CitingPapers = len(agg.papers)
			row.CitingResearchers = len(agg.researchers)
			row.Researchers = sortedKeys(agg.researchers)
			row.RawAffiliations = sortedKeys(agg.affiliations)
		}
		report.Rows = append(report.Rows, row)
	}
	return report
}

func sortedKeys(set map[string]struct{}) []string {
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
