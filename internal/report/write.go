package report

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"golang.org/x/sync/errgroup"

	"github.com/scholarmap/citemap-cli/internal/model"
)

// Output file names under the export directory.
const (
	SummaryFile    = "affiliation_summary.csv"
	GovernmentFile = "government_research_centers.csv"
	IndustryFile   = "industry_research_centers.csv"
	WorkbookFile   = "citation_report.xlsx"
)

// WriteSummaryCSV writes the affiliation summary table.
func WriteSummaryCSV(w io.Writer, rows []SummaryRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"Affiliation", "Author Count", "Authors"}); err != nil {
		return eris.Wrap(err, "report: write summary header")
	}
	for _, row := range rows {
		record := []string{row.Affiliation, strconv.Itoa(row.AuthorCount), strings.Join(row.Authors, "; ")}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "report: write summary row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush summary csv")
}

// WriteCategoryCSV writes a category table in rule order, zero rows included.
func WriteCategoryCSV(w io.Writer, rows []CategoryRow) error {
	cw := csv.NewWriter(w)
	header := []string{"Institution", "# of citing papers", "# of citing researchers", "Researchers", "Raw Affiliations"}
	if err := cw.Write(header); err != nil {
		return eris.Wrap(err, "report: write category header")
	}
	for _, row := range rows {
		record := []string{
			row.Institution,
			strconv.Itoa(row.CitingPapers),
			strconv.Itoa(row.CitingResearchers),
			strings.Join(row.Researchers, "; "),
			strings.Join(row.RawAffiliations, " | "),
		}
		if err := cw.Write(record); err != nil {
			return eris.Wrap(err, "report: write category row")
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "report: flush category csv")
}

// WriteWorkbook writes all three tables into one XLSX workbook.
func WriteWorkbook(path string, summary []SummaryRow, government, industry *CategoryReport) error {
	f := xlsx.NewFile()

	sheet, err := f.AddSheet("Affiliations")
	if err != nil {
		return eris.Wrap(err, "report: add affiliations sheet")
	}
	addRow(sheet, "Affiliation", "Author Count", "Authors")
	for _, row := range summary {
		addRow(sheet, row.Affiliation, strconv.Itoa(row.AuthorCount), strings.Join(row.Authors, "; "))
	}

	for _, tbl := range []struct {
		name   string
		report *CategoryReport
	}{
		{"Government Centers", government},
		{"Industry Centers", industry},
	} {
		sheet, err := f.AddSheet(tbl.name)
		if err != nil {
			return eris.Wrapf(err, "report: add %s sheet", tbl.name)
		}
		addRow(sheet, "Institution", "# of citing papers", "# of citing researchers")
		for _, row := range tbl.report.Rows {
			addRow(sheet, row.Institution, strconv.Itoa(row.CitingPapers), strconv.Itoa(row.CitingResearchers))
		}
	}

	return eris.Wrapf(f.Save(path), "report: save workbook %s", path)
}

func addRow(sheet *xlsx.Sheet, values ...string) {
	row := sheet.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

// Export aggregates the record set and writes all report files under dir,
// one writer per file. Any failure cancels the remaining writers.
func Export(ctx context.Context, dir string, records []model.AffiliationRecord, government, industry *Classifier) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return eris.Wrapf(err, "report: create output dir %s", dir)
	}

	summary := Summarize(records)
	gov := Categorize(records, government)
	ind := Categorize(records, industry)

	g, _ := errgroup.WithContext(ctx)
	g.Go(func() error {
		return writeCSVFile(filepath.Join(dir, SummaryFile), func(w io.Writer) error {
			return WriteSummaryCSV(w, summary)
		})
	})
	g.Go(func() error {
		return writeCSVFile(filepath.Join(dir, GovernmentFile), func(w io.Writer) error {
			return WriteCategoryCSV(w, gov.Rows)
		})
	})
	g.Go(func() error {
		return writeCSVFile(filepath.Join(dir, IndustryFile), func(w io.Writer) error {
			return WriteCategoryCSV(w, ind.Rows)
		})
	})
	g.Go(func() error {
		return WriteWorkbook(filepath.Join(dir, WorkbookFile), summary, gov, ind)
	})
	return g.Wait()
}

func writeCSVFile(path string, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "report: create %s", path)
	}
	if err := write(f); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return eris.Wrapf(f.Close(), "report: close %s", path)
}
