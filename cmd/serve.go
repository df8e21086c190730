package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/scholarmap/citemap-cli/internal/checkpoint"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve read-only run state over HTTP",
	Long:  "Expose the checkpoint store's progress and committed results as JSON, for watching a long enrichment run from elsewhere.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		store, err := newStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		defer store.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeRouter(store),
		}

		go awaitShutdown(ctx, srv)

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// awaitShutdown stops the server once ctx is cancelled. Shutdown gets its own
// deadline: the signal context is already done at this point, and passing it
// through would abort the drain of in-flight requests immediately.
func awaitShutdown(ctx context.Context, srv *http.Server) {
	<-ctx.Done()
	zap.L().Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("server shutdown", zap.Error(err))
	}
}

// newServeRouter builds the read-only status API.
func newServeRouter(store checkpoint.Store) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/progress", func(w http.ResponseWriter, req *http.Request) {
		prog, err := store.Load(req.Context())
		if err != nil {
			zap.L().Error("load progress", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load progress"})
			return
		}
		if prog == nil {
			writeJSON(w, http.StatusOK, map[string]any{"state": "empty"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"state":     "in_progress",
			"cursor":    prog.Cursor,
			"pass":      prog.Pass,
			"collected": len(prog.Results),
			"pending":   len(prog.Pending),
		})
	})

	r.Get("/results", func(w http.ResponseWriter, req *http.Request) {
		records, ok, err := store.LoadFinal(req.Context())
		if err != nil {
			zap.L().Error("load final results", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "load results"})
			return
		}
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "no committed result set"})
			return
		}
		writeJSON(w, http.StatusOK, records)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
