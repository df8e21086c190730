// Package worklist loads citing-author work lists from JSON and CSV files.
package worklist

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// csvHeader is the required header row for CSV work lists.
var csvHeader = []string{"author_id", "citing_paper", "cited_paper"}

// Load reads a work list from path, dispatching on the file extension.
// JSON files hold an array of objects with author_id, citing_paper and
// cited_paper keys; CSV files need a matching header row.
func Load(path string) ([]model.WorkItem, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "worklist: open %s", path)
	}
	defer f.Close() //nolint:errcheck

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".json":
		return ReadJSON(f)
	case ".csv":
		return ReadCSV(f)
	default:
		return nil, eris.Errorf("worklist: unsupported file extension %q (want .json or .csv)", ext)
	}
}

// ReadJSON parses a JSON array of work items.
func ReadJSON(r io.Reader) ([]model.WorkItem, error) {
	var items []model.WorkItem
	if err := json.NewDecoder(r).Decode(&items); err != nil {
		return nil, eris.Wrap(err, "worklist: decode json")
	}
	return validate(items)
}

// ReadCSV parses a headered CSV work list.
func ReadCSV(r io.Reader) ([]model.WorkItem, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(csvHeader)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("worklist: empty csv file")
	}
	if err != nil {
		return nil, eris.Wrap(err, "worklist: read csv header")
	}
	for i, want := range csvHeader {
		if strings.TrimSpace(strings.ToLower(header[i])) != want {
			return nil, eris.Errorf("worklist: unexpected csv header %v (want %v)", header, csvHeader)
		}
	}

	var items []model.WorkItem
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "worklist: read csv row")
		}
		items = append(items, model.WorkItem{
			AuthorID:    strings.TrimSpace(record[0]),
			CitingPaper: strings.TrimSpace(record[1]),
			CitedPaper:  strings.TrimSpace(record[2]),
		})
	}
	return validate(items)
}

// validate rejects rows that cannot be processed. Sentinel author ids are
// fine, blank paper titles are not: the paper key is how co-author results
// propagate, so an item without one can never be satisfied.
func validate(items []model.WorkItem) ([]model.WorkItem, error) {
	for i, item := range items {
		if item.AuthorID == "" {
			return nil, eris.Errorf("worklist: item %d has empty author_id", i)
		}
		if item.CitingPaper == "" || item.CitedPaper == "" {
			return nil, eris.Errorf("worklist: item %d (%s) has empty paper title", i, item.AuthorID)
		}
	}
	return items, nil
}
