package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/laundryhub/api/internal/config"
	"github.com/laundryhub/api/internal/database"
	"github.com/laundryhub/api/internal/events"
	"github.com/laundryhub/api/internal/router"
	"github.com/laundryhub/api/internal/service"
	"github.com/laundryhub/api/internal/telemetry"
	"github.com/laundryhub/api/internal/ws"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
)

const (
	serviceName    = "laundryhub-api"
	serviceVersion = "0.1.0"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.TracingEnabled {
		shutdownTracer, err := telemetry.InitTracerProvider(ctx, cfg.OTLPEndpoint, serviceName, serviceVersion)
		if err != nil {
			return fmt.Errorf("init tracer: %w", err)
		}
		defer shutdownTracer(context.Background())
	}

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider(serviceName, serviceVersion)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	defer shutdownMeter(context.Background())

	instruments, err := telemetry.NewInstruments(otel.Meter(serviceName))
	if err != nil {
		return fmt.Errorf("register instruments: %w", err)
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping database: %w", err)
	}
	logger.Info("connected to database")

	hub := ws.NewHub()
	publishers := events.Fanout{hub}
	if len(cfg.KafkaBrokers) > 0 {
		kafka := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kafka.Close()
		publishers = append(publishers, kafka)
		logger.Info("publishing order events to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	orders := service.NewOrderService(pool, func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}, service.Options{
		LockTTL:        cfg.LockTTL,
		DraftRetention: cfg.DraftRetention,
		Publisher:      publishers,
		Instruments:    instruments,
		Logger:         logger,
	})

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: router.New(cfg, router.Deps{
			Operators: database.New(pool),
			Orders:    orders,
			Hub:       hub,
			Metrics:   metricsHandler,
		}),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		sweep(gctx, orders, cfg.SweepInterval, logger)
		return nil
	})
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

// sweep deletes expired edit leases and due drafts every interval.
func sweep(ctx context.Context, orders *service.OrderService, interval time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		res, err := orders.Sweep(ctx)
		if err != nil {
			logger.Error("sweep failed", "error", err)
			continue
		}
		if res.ExpiredLocks > 0 || res.DeletedDrafts > 0 {
			logger.Info("sweep", "expired_locks", res.ExpiredLocks, "deleted_drafts", res.DeletedDrafts)
		}
	}
}
