// Command worker runs the reconciliation poller and the expiry and orphan sweeps.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sender-identity/internal/app"
	"github.com/sender-identity/internal/config"
	"golang.org/x/sync/errgroup"
)

const sweepLimit = 100

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, reading from environment")
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	infra, err := app.Open(ctx, cfg)
	if err != nil {
		log.Fatalf("startup: %v", err)
	}
	defer infra.Close()
	engine := infra.Engine()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{Addr: fmt.Sprintf(":%s", cfg.MetricsPort), Handler: mux, ReadTimeout: 5 * time.Second}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("poller started", "interval", cfg.WorkerInterval, "batch", cfg.WorkerBatchSize)
		return infra.Scheduler.Run(ctx, cfg.WorkerInterval, cfg.WorkerBatchSize, engine.Poller.Handle)
	})
	g.Go(func() error {
		ticker := time.NewTicker(cfg.SweepInterval)
		defer ticker.Stop()
		for {
			sweep(ctx, engine)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	g.Go(func() error {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("worker stopped: %v", err)
	}
	log.Println("Worker stopped")
}

func sweep(ctx context.Context, e *app.Engine) {
	if res, err := e.Cleaner.SweepExpired(ctx, sweepLimit); err != nil {
		slog.Error("expiry sweep failed", "err", err)
	} else if res.Examined > 0 {
		slog.Info("expiry sweep", "examined", res.Examined, "resolved", res.Resolved, "failed", res.Failed)
	}
	if res, err := e.Cleaner.SweepOrphans(ctx, sweepLimit); err != nil {
		slog.Error("orphan sweep failed", "err", err)
	} else if res.Examined > 0 {
		slog.Info("orphan sweep", "examined", res.Examined, "resolved", res.Resolved, "failed", res.Failed)
	}
}
