package main

import (
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarmap/citemap-cli/internal/report"
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Export reports from the committed result set",
	Long: `Aggregate the finalized affiliation records into report files:
an affiliation summary plus government and industry research center tables,
as CSV and a combined XLSX workbook.

Category rules can be replaced with YAML files via --government-rules and
--industry-rules.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("report"); err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "report"))

		outDir, _ := cmd.Flags().GetString("output")
		if outDir == "" {
			outDir = cfg.Report.OutputDir
		}

		government, err := loadClassifier(cmd, "government-rules", cfg.Report.GovernmentRules, report.GovernmentCategories)
		if err != nil {
			return err
		}
		industry, err := loadClassifier(cmd, "industry-rules", cfg.Report.IndustryRules, report.IndustryCategories)
		if err != nil {
			return err
		}

		store, err := newStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		records, ok, err := store.LoadFinal(ctx)
		if err != nil {
			return eris.Wrap(err, "report: load final results")
		}
		if !ok {
			return eris.New("report: no committed result set; run enrich to completion first")
		}

		if err := report.Export(ctx, outDir, records, government, industry); err != nil {
			return err
		}
		log.Info("reports written",
			zap.String("dir", outDir),
			zap.Int("records", len(records)))
		return nil
	},
}

// loadClassifier builds a classifier from the flag path, the config path, or
// the built-in rules, in that order.
func loadClassifier(cmd *cobra.Command, flag, configPath string, builtin func() []report.Category) (*report.Classifier, error) {
	path, _ := cmd.Flags().GetString(flag)
	if path == "" {
		path = configPath
	}
	if path == "" {
		return report.NewClassifier(builtin()), nil
	}
	categories, err := report.LoadCategories(path)
	if err != nil {
		return nil, err
	}
	return report.NewClassifier(categories), nil
}

func init() {
	reportCmd.Flags().String("output", "", "output directory (default from config)")
	reportCmd.Flags().String("government-rules", "", "YAML file replacing the built-in government center rules")
	reportCmd.Flags().String("industry-rules", "", "YAML file replacing the built-in industry center rules")
	rootCmd.AddCommand(reportCmd)
}
