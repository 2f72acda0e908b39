package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/reservalo/booking-api/internal/config"
	"github.com/reservalo/booking-api/internal/repository/postgres"
	closureService "github.com/reservalo/booking-api/internal/service/closure"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	internalworker "github.com/reservalo/booking-api/internal/worker"
	"github.com/reservalo/booking-api/pkg/clock"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
	"github.com/reservalo/booking-api/pkg/messaging/redis"
	"github.com/reservalo/booking-api/pkg/metrics"
	"github.com/reservalo/booking-api/pkg/worker"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("booking_worker")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(base)
	debtRepo := postgres.NewDebtRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	broker, err := redis.NewRedisBroker(redis.Config{
		URL:          cfg.Redis.URL,
		MaxRetries:   cfg.Redis.MaxRetries,
		RetryBackoff: cfg.Redis.RetryBackoff,
		PoolSize:     cfg.Redis.PoolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
	}, &appLogger.ZL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer broker.Close()

	locks := keylock.New()
	clk := clock.New()
	loc := cfg.Location()

	lifecycleSvc := lifecycleService.NewService(appointmentRepo, locks, clk, loc, appLogger, m)
	closureSvc := closureService.NewService(appointmentRepo, lifecycleSvc, locks, clk, loc,
		closureService.Config{GraceWindow: cfg.Closure.GraceWindow}, appLogger)

	processor := worker.NewOutboxProcessor(outboxRepo, broker, worker.OutboxProcessorConfig{
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		RetryAttempts: cfg.Outbox.RetryAttempts,
		RetryDelay:    cfg.Outbox.RetryDelay,
	}, appLogger, m)

	sweeper := internalworker.NewSweeper(lifecycleSvc, closureSvc, debtRepo, outboxRepo, clk,
		internalworker.SweeperConfig{
			Interval:        cfg.Closure.SweepInterval,
			RetainOutboxFor: cfg.Outbox.RetainFor,
		}, appLogger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		processor.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		sweeper.Start(ctx)
	}()

	// Metrics endpoint for scraping the worker.
	metricsSrv := &http.Server{Addr: ":9091", Handler: promhttp.Handler()}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	log.Info().Msg("worker started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down worker...")

	cancel()
	wg.Wait()
	_ = metricsSrv.Close()

	log.Info().Msg("worker exited properly")
}
