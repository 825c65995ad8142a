// cmd/compliance-manager/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"compliance-workflow/internal/app"
	"compliance-workflow/internal/common/camunda"
	"compliance-workflow/internal/common/config"
	"compliance-workflow/internal/common/logger"

	isn "compliance-workflow/internal/workers/compliance/issue-show-cause-notices"
	soo "compliance-workflow/internal/workers/compliance/sweep-overdue-observations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New("info", "json")
		bootLog.Fatal("config load failed", zap.Error(err))
	}

	zapLog := logger.Build(logger.Options{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	defer func() { _ = zapLog.Sync() }()
	log := logger.NewZapAdapter(zapLog).WithFields(map[string]interface{}{
		"service":  cfg.App.Name,
		"instance": cfg.App.InstanceID,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Init services (Postgres, Redis, optional Elasticsearch/SES/SNS) ---
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		zapLog.Fatal("application init failed", zap.Error(err))
	}
	defer a.Close()

	// --- Init Zeebe Client with retry ---
	zeebeClient, err := camunda.NewClient(ctx, cfg.Camunda, time.Minute, log)
	if err != nil {
		zapLog.Fatal("zeebe client failed after retries", zap.Error(err))
	}
	zapLog.Info("Zeebe client connected successfully")

	// --- Register workers ---
	var workers []*camunda.Worker

	if config.IsWorkerEnabled(cfg, soo.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, soo.TaskType)
		handler := soo.NewHandler(
			&soo.Config{Timeout: config.GetDuration(wcfg.Timeout)},
			a.Sweeper, a.Observability, log,
		)
		workers = append(workers, camunda.NewWorker(zeebeClient, soo.TaskType, wcfg, handler, log))
	}

	if config.IsWorkerEnabled(cfg, isn.TaskType) {
		wcfg := config.GetWorkerConfig(cfg, isn.TaskType)
		handler := isn.NewHandler(
			&isn.Config{Timeout: config.GetDuration(wcfg.Timeout)},
			a.Escalation, a.Observability, log,
		)
		workers = append(workers, camunda.NewWorker(zeebeClient, isn.TaskType, wcfg, handler, log))
	}
	zapLog.Info("workers registered", zap.Int("count", len(workers)))

	// --- In-process sweep ticker ---
	sweepDone := make(chan struct{})
	if cfg.Workflow.SweepEnabled {
		go func() {
			defer close(sweepDone)
			a.Sweeper.Run(ctx)
		}()
	} else {
		close(sweepDone)
	}

	// --- Health & Metrics Server ---
	srv := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           newMux(a, zeebeClient),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		zapLog.Info("Health/Metrics server listening", zap.String("address", cfg.Server.Address))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zapLog.Error("Health/Metrics server failed", zap.Error(err))
		}
	}()

	// --- Graceful Shutdown ---
	<-ctx.Done()
	zapLog.Info("Shutdown signal received, stopping workers...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLog.Error("Error stopping health server", zap.Error(err))
	}
	for _, w := range workers {
		w.Stop()
	}
	<-sweepDone

	if err := zeebeClient.Close(); err != nil {
		zapLog.Error("Error closing Zeebe client", zap.Error(err))
	}

	zapLog.Info("Compliance manager stopped gracefully")
}

func newMux(a *app.App, zeebeClient zbc.Client) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeStatus(w, http.StatusOK, map[string]string{
			"status": "healthy",
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		code := http.StatusOK
		if err := a.Ready(r.Context()); err != nil {
			checks["database"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := camunda.HealthCheck(r.Context(), zeebeClient, 3*time.Second); err != nil {
			checks["zeebe"] = err.Error()
			code = http.StatusServiceUnavailable
		}
		if err := a.Redis.Ping(r.Context()); err != nil {
			// degraded, not fatal
			checks["redis"] = err.Error()
		}
		status := "ready"
		if code != http.StatusOK {
			status = "not_ready"
		}
		writeStatus(w, code, map[string]interface{}{
			"status": status,
			"checks": checks,
			"time":   time.Now().Format(time.RFC3339),
		})
	})
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func writeStatus(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
