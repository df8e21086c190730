package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/scholarmap/citemap-cli/internal/checkpoint"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show checkpoint state for the configured store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("status"); err != nil {
			return err
		}

		store, err := newStore(ctx, cfg.Store)
		if eris.Is(err, checkpoint.ErrLocked) {
			fmt.Println("state: running (another process holds the store lock)")
			return nil
		}
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		if records, ok, err := store.LoadFinal(ctx); err != nil {
			return eris.Wrap(err, "status: load final results")
		} else if ok {
			fmt.Printf("state: finalized\nrecords: %d\n", len(records))
			return nil
		}

		prog, err := store.Load(ctx)
		if err != nil {
			return eris.Wrap(err, "status: load progress")
		}
		if prog == nil {
			fmt.Println("state: empty (no run started)")
			return nil
		}

		fmt.Printf("state: in progress\ncursor: %d\npass: %d\ncollected: %d\npending: %d\n",
			prog.Cursor, prog.Pass, len(prog.Results), len(prog.Pending))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
