package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tealeg/xlsx/v2"

	"github.com/scholarmap/citemap-cli/internal/model"
)

func rec(author, citing, affiliation string) model.AffiliationRecord {
	return model.AffiliationRecord{
		AuthorName:  author,
		CitingPaper: citing,
		CitedPaper:  "Base Paper",
		Affiliation: affiliation,
	}
}

func TestClassify_FirstMatchWins(t *testing.T) {
	c := NewClassifier(GovernmentCategories())

	cat, ok := c.Classify("NASA Jet Propulsion Laboratory, Caltech")
	require.True(t, ok)
	assert.Equal(t, "NASA Jet Propulsion Lab", cat.Name)
	assert.False(t, cat.Skip)

	// Generic NASA falls through to the skip bucket, not to JPL or Ames.
	cat, ok = c.Classify("NASA Goddard Space Flight Center")
	require.True(t, ok)
	assert.Equal(t, "Other NASA", cat.Name)
	assert.True(t, cat.Skip)

	_, ok = c.Classify("University of Toronto")
	assert.False(t, ok)
}

func TestClassify_CaseInsensitive(t *testing.T) {
	c := NewClassifier(IndustryCategories())

	cat, ok := c.Classify("TOYOTA RESEARCH INSTITUTE")
	require.True(t, ok)
	assert.Equal(t, "Toyota Research Institute", cat.Name)
}

func TestLoadCategories(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
- name: Example Lab
  keywords: ["Example Lab", "exlab"]
- name: Absorbed
  keywords: ["noise"]
  skip: true
`), 0o644))

	categories, err := LoadCategories(path)
	require.NoError(t, err)
	require.Len(t, categories, 2)
	assert.Equal(t, []string{"example lab", "exlab"}, categories[0].Keywords, "keywords are lowercased")
	assert.True(t, categories[1].Skip)

	cat, ok := NewClassifier(categories).Classify("The EXLAB Group")
	require.True(t, ok)
	assert.Equal(t, "Example Lab", cat.Name)
}

func TestLoadCategories_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- name: NoKeywords\n  keywords: []\n"), 0o644))

	_, err := LoadCategories(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no keywords")
}

func TestSummarize(t *testing.T) {
	records := []model.AffiliationRecord{
		rec("Alice", "p1", "MIT"),
		rec("Bob", "p2", "MIT"),
		rec("Alice", "p3", "MIT"), // same author again, counted once
		rec("Carl", "p4", "ETH Zurich"),
		model.SentinelRecord(model.WorkItem{AuthorID: model.NoAuthorFound, CitingPaper: "p5", CitedPaper: "c"}),
	}

	rows := Summarize(records)
	require.Len(t, rows, 2, "sentinel records are excluded")

	assert.Equal(t, "MIT", rows[0].Affiliation)
	assert.Equal(t, 2, rows[0].AuthorCount)
	assert.Equal(t, []string{"Alice", "Bob"}, rows[0].Authors)
	assert.Equal(t, "ETH Zurich", rows[1].Affiliation)
}

func TestSummarize_TiesSortByName(t *testing.T) {
	rows := Summarize([]model.AffiliationRecord{
		rec("Alice", "p1", "Zeta Lab"),
		rec("Bob", "p2", "Alpha Lab"),
	})
	require.Len(t, rows, 2)
	assert.Equal(t, "Alpha Lab", rows[0].Affiliation)
	assert.Equal(t, "Zeta Lab", rows[1].Affiliation)
}

func TestCategorize(t *testing.T) {
	records := []model.AffiliationRecord{
		rec("Alice", "p1", "NASA Jet Propulsion Laboratory"),
		rec("Bob", "p1", "JPL, Caltech"),
		rec("Carl", "p2", "NASA Goddard"),
		rec("Dana", "p3", "INRIA Grenoble"),
	}
	report := Categorize(records, NewClassifier(GovernmentCategories()))

	// One row per non-skip category, in rule order, zeros included.
	require.Len(t, report.Rows, 11)
	assert.Equal(t, "NASA Jet Propulsion Lab", report.Rows[0].Institution)
	assert.Equal(t, 1, report.Rows[0].CitingPapers, "both JPL authors cite the same paper")
	assert.Equal(t, 2, report.Rows[0].CitingResearchers)
	assert.Equal(t, []string{"Alice", "Bob"}, report.Rows[0].Researchers)

	var inria, lincoln CategoryRow
	for _, row := range report.Rows {
		switch row.Institution {
		case "INRIA, France":
			inria = row
		case "MIT Lincoln Lab":
			lincoln = row
		}
	}
	assert.Equal(t, 1, inria.CitingResearchers)
	assert.Zero(t, lincoln.CitingResearchers, "unmatched categories still get a row")

	assert.Equal(t, 1, report.Skipped["Other NASA"])
}

func TestWriteSummaryCSV(t *testing.T) {
	var buf bytes.Buffer
	err := WriteSummaryCSV(&buf, []SummaryRow{
		{Affiliation: "MIT", AuthorCount: 2, Authors: []string{"Alice", "Bob"}},
	})
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "Affiliation,Author Count,Authors", lines[0])
	assert.Equal(t, "MIT,2,Alice; Bob", lines[1])
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	records := []model.AffiliationRecord{
		rec("Alice", "p1", "NVIDIA Research"),
		rec("Bob", "p2", "INRIA"),
	}

	err := Export(context.Background(), dir, records,
		NewClassifier(GovernmentCategories()),
		NewClassifier(IndustryCategories()))
	require.NoError(t, err)

	for _, name := range []string{SummaryFile, GovernmentFile, IndustryFile, WorkbookFile} {
		info, err := os.Stat(filepath.Join(dir, name))
		require.NoError(t, err, "missing %s", name)
		assert.Positive(t, info.Size())
	}

	wb, err := xlsx.OpenFile(filepath.Join(dir, WorkbookFile))
	require.NoError(t, err)
	require.Len(t, wb.Sheets, 3)
	assert.Equal(t, "Affiliations", wb.Sheets[0].Name)
}
