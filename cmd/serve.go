package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pepwatch/ingest-cli/internal/model"
	"github.com/pepwatch/ingest-cli/internal/store"
)

var servePort int

// runTrigger is the slice of the orchestrator the job-trigger surface needs.
type runTrigger interface {
	RunFull(ctx context.Context, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error)
	RunVendor(ctx context.Context, vendorID int64, scrapeMode model.ScrapeMode) (*model.ScrapeRun, error)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the job-trigger HTTP server",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		runner := buildRunner(st)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newServeMux(st, runner),
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(context.Background())
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

// newServeMux builds the job-trigger routes. Runs execute asynchronously on
// a background context so a dropped client connection never kills a sweep.
func newServeMux(st store.Store, runner runTrigger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/runs/full", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Aggressive bool `json:"aggressive"`
		}
		if req.ContentLength > 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
				return
			}
		}

		go func() {
			run, err := runner.RunFull(context.Background(), scrapeMode(body.Aggressive))
			if err != nil {
				zap.L().Error("triggered full run failed", zap.Error(err))
				return
			}
			zap.L().Info("triggered full run complete",
				zap.String("run_id", run.ID),
				zap.String("status", string(run.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "run_mode": "full"})
	})

	r.Post("/runs/vendor/{vendorID}", func(w http.ResponseWriter, req *http.Request) {
		vendorID, err := strconv.ParseInt(chi.URLParam(req, "vendorID"), 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid vendor id"})
			return
		}

		go func() {
			run, err := runner.RunVendor(context.Background(), vendorID, model.ScrapeModeStandard)
			if err != nil {
				zap.L().Error("triggered vendor run failed",
					zap.Int64("vendor_id", vendorID),
					zap.Error(err),
				)
				return
			}
			zap.L().Info("triggered vendor run complete",
				zap.String("run_id", run.ID),
				zap.Int64("vendor_id", vendorID),
				zap.String("status", string(run.Status)),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]string{
			"status":    "accepted",
			"run_mode":  "vendor",
			"vendor_id": strconv.FormatInt(vendorID, 10),
		})
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			if errors.Is(err, store.ErrRunNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "run not found"})
				return
			}
			zap.L().Error("get run failed", zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "lookup failed"})
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
