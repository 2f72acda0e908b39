package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	appointmentHandler "github.com/reservalo/booking-api/internal/handler/appointment"
	closureHandler "github.com/reservalo/booking-api/internal/handler/closure"
	healthHandler "github.com/reservalo/booking-api/internal/handler/health"
	rescheduleHandler "github.com/reservalo/booking-api/internal/handler/reschedule"
	settlementHandler "github.com/reservalo/booking-api/internal/handler/settlement"

	"github.com/reservalo/booking-api/internal/config"
	"github.com/reservalo/booking-api/internal/gateway/calendar"
	"github.com/reservalo/booking-api/internal/gateway/payments"
	"github.com/reservalo/booking-api/internal/repository/postgres"
	"github.com/reservalo/booking-api/internal/router"
	closureService "github.com/reservalo/booking-api/internal/service/closure"
	lifecycleService "github.com/reservalo/booking-api/internal/service/lifecycle"
	rescheduleService "github.com/reservalo/booking-api/internal/service/reschedule"
	settlementService "github.com/reservalo/booking-api/internal/service/settlement"
	"github.com/reservalo/booking-api/pkg/clock"
	"github.com/reservalo/booking-api/pkg/keylock"
	"github.com/reservalo/booking-api/pkg/logger"
	"github.com/reservalo/booking-api/pkg/metrics"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	appLogger := logger.NewLogger(nil)
	m := metrics.NewMetrics("booking_api")

	db, err := postgres.NewDB(cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	base := postgres.NewBaseRepository(db)
	appointmentRepo := postgres.NewAppointmentRepository(base)
	paymentRepo := postgres.NewPaymentRepository(base)
	debtRepo := postgres.NewDebtRepository(base)

	processor := payments.NewHTTPProcessor(payments.Config{
		BaseURL: cfg.Settlement.ProcessorURL,
		Timeout: cfg.Settlement.ProcessorTimeout,
	})
	availability := calendar.NewRepoAvailability(appointmentRepo)

	locks := keylock.New()
	clk := clock.New()
	loc := cfg.Location()

	lifecycleSvc := lifecycleService.NewService(appointmentRepo, locks, clk, loc, appLogger, m)
	closureSvc := closureService.NewService(appointmentRepo, lifecycleSvc, locks, clk, loc,
		closureService.Config{GraceWindow: cfg.Closure.GraceWindow}, appLogger)
	settlementSvc := settlementService.NewService(appointmentRepo, paymentRepo, debtRepo,
		processor, lifecycleSvc, locks, clk, cfg.Settlement, appLogger, m)
	rescheduleSvc := rescheduleService.NewService(appointmentRepo, availability, locks, clk, loc, appLogger)

	r := router.New(cfg,
		healthHandler.NewHandler(db),
		appointmentHandler.NewHandler(lifecycleSvc),
		settlementHandler.NewHandler(settlementSvc),
		rescheduleHandler.NewHandler(rescheduleSvc),
		closureHandler.NewHandler(closureSvc),
	)
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()
	log.Info().Int("port", cfg.Server.Port).Msg("server started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited properly")
}
