package main

import (
	"context"
	"encoding/json"
	"errors"
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

	"github.com/sells-group/facility-cli/internal/fallback"
	"github.com/sells-group/facility-cli/internal/model"
	"github.com/sells-group/facility-cli/internal/monitoring"
	"github.com/sells-group/facility-cli/internal/pipeline"
)

var servePort int

// controller is the engine surface exposed over HTTP.
type controller interface {
	Run(ctx context.Context, entities []model.Entity) (*pipeline.RunResult, error)
	Running() bool
	Status() pipeline.Status
	Report() string
	SetBatchSize(n int) error
	SetMaxConsecutiveFailures(n int) error
	EnableStrategy(name string) error
	DisableStrategy(name string) error
	ReorderStrategies() []string
	ResetStats()
	ResetCircuits()
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the control server",
	Long:  "Serves the engine's report and runtime controls over HTTP, accepts facility lists for asynchronous runs, and checks alert thresholds in the background.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if servePort != 0 {
			cfg.Server.Port = servePort
		}

		env, err := initEngine(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		checker := monitoring.NewChecker(env.Engine.Snapshot, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
			Handler:           buildRouter(ctx, env.Engine, cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// buildRouter wires the control API. Runs started through /resolve live on
// ctx, not on the request.
func buildRouter(ctx context.Context, eng controller, origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "running": eng.Running()})
	})

	r.Get("/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, eng.Status())
	})

	r.Get("/report", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(eng.Report()))
	})

	r.Post("/batch-size", intControl("batch_size", eng.SetBatchSize))
	r.Post("/max-failures", intControl("max_consecutive_failures", eng.SetMaxConsecutiveFailures))

	r.Post("/strategies/{name}/enable", strategyControl(eng.EnableStrategy))
	r.Post("/strategies/{name}/disable", strategyControl(eng.DisableStrategy))
	r.Post("/strategies/reorder", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"order": eng.ReorderStrategies()})
	})

	r.Post("/stats/reset", func(w http.ResponseWriter, _ *http.Request) {
		eng.ResetStats()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	})
	r.Post("/circuits/reset", func(w http.ResponseWriter, _ *http.Request) {
		eng.ResetCircuits()
		writeJSON(w, http.StatusOK, map[string]string{"status": "closed"})
	})

	r.Post("/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Entities []model.Entity `json:"entities"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		entities := dropNameless(body.Entities)
		if len(entities) == 0 {
			writeError(w, http.StatusBadRequest, "entities with a name are required")
			return
		}
		if eng.Running() {
			writeError(w, http.StatusConflict, "a run is already in progress")
			return
		}

		go func() {
			res, err := eng.Run(ctx, entities)
			if err != nil {
				zap.L().Error("resolve run failed", zap.Int("entities", len(entities)), zap.Error(err))
				return
			}
			zap.L().Info("resolve run complete",
				zap.String("run_id", res.RunID),
				zap.Int("records", len(res.Records)),
				zap.Int("unresolved", res.Unresolved),
			)
		}()

		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "accepted",
			"entities": len(entities),
		})
	})

	return r
}

// intControl decodes {"<field>": n} and applies it with set.
func intControl(field string, set func(int) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body map[string]int
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		n, ok := body[field]
		if !ok {
			writeError(w, http.StatusBadRequest, field+" is required")
			return
		}
		if err := set(n); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{field: n})
	}
}

// strategyControl toggles the strategy named in the path.
func strategyControl(toggle func(string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		name := chi.URLParam(req, "name")
		if err := toggle(name); err != nil {
			if errors.Is(err, fallback.ErrUnknownStrategy) {
				writeError(w, http.StatusNotFound, "unknown strategy "+name)
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"strategy": name, "status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
