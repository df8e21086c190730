package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarmap/citemap-cli/internal/enrich"
	"github.com/scholarmap/citemap-cli/internal/worklist"
	"github.com/scholarmap/citemap-cli/pkg/scholar"
)

var enrichCmd = &cobra.Command{
	Use:   "enrich",
	Short: "Run the checkpointed affiliation enrichment",
	Long: `Process a citing-author work list against the scholar lookup service.

Progress is checkpointed after every item, so Ctrl-C suspends the run
cleanly and re-running the command resumes it. Once a run finalizes, its
committed result set is returned as-is; re-running does no lookups.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("enrich"); err != nil {
			return err
		}

		log := zap.L().With(zap.String("command", "enrich"))

		input, _ := cmd.Flags().GetString("input")
		strategyStr, _ := cmd.Flags().GetString("strategy")
		if strategyStr == "" {
			strategyStr = cfg.Enrich.Strategy
		}
		strategy, err := enrich.ParseStrategy(strategyStr)
		if err != nil {
			return err
		}
		maxRetryPasses, _ := cmd.Flags().GetInt("max-retry-passes")
		if maxRetryPasses < 0 {
			maxRetryPasses = cfg.Enrich.MaxRetryPasses
		}

		items, err := worklist.Load(input)
		if err != nil {
			return err
		}
		log.Info("work list loaded", zap.String("input", input), zap.Int("items", len(items)))

		store, err := newStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		svc := scholar.NewClient(cfg.Scholar.Key,
			scholar.WithBaseURL(cfg.Scholar.BaseURL),
			scholar.WithRateLimit(cfg.Scholar.QPS))
		client := enrich.NewClient(svc, strategy,
			enrich.WithPacing(cfg.Enrich.MinDelay, cfg.Enrich.MaxDelay))
		engine := enrich.NewEngine(store, client,
			enrich.WithSaveInterval(cfg.Enrich.SaveEvery))

		report, err := engine.Run(ctx, items, maxRetryPasses)
		if eris.Is(err, context.Canceled) {
			log.Info("run suspended, progress saved; re-run to resume")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "enrich")
		}

		switch {
		case report.ShortCircuited:
			log.Info("results already committed, nothing to do",
				zap.Int("records", len(report.Records)))
		default:
			log.Info("enrichment complete",
				zap.Int("records", len(report.Records)),
				zap.Int("permanently_failed", len(report.Failed)),
				zap.Bool("resumed", report.Resumed))
		}
		return nil
	},
}

func init() {
	enrichCmd.Flags().String("input", "", "work list file (.json or .csv)")
	enrichCmd.Flags().String("strategy", "", "lookup strategy: aggressive or conservative (default from config)")
	enrichCmd.Flags().Int("max-retry-passes", -1, "retry passes over failing items (default from config)")
	_ = enrichCmd.MarkFlagRequired("input")
	rootCmd.AddCommand(enrichCmd)
}
