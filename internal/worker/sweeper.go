// Package worker hosts the periodic maintenance loops run by the worker
// binary: expiry, closure deadlines, debt aging and outbox retention.
package worker

import (
	"context"
	"time"

	"github.com/reservalo/booking-api/internal/repository"
	"github.com/reservalo/booking-api/internal/service/closure"
	"github.com/reservalo/booking-api/internal/service/lifecycle"
	"github.com/reservalo/booking-api/pkg/clock"
	"github.com/reservalo/booking-api/pkg/logger"
)

type SweeperConfig struct {
	Interval time.Duration
	// RetainOutboxFor is how long processed outbox rows are kept before
	// cleanup.
	RetainOutboxFor time.Duration
}

// Sweeper drives the deadline-based state machine edges that no user request
// triggers: expiring unpaid appointments, opening and auto-resolving
// closures, aging debts past due and pruning the outbox.
type Sweeper struct {
	lifecycle *lifecycle.Service
	closure   *closure.Service
	debts     repository.DebtRepository
	outbox    repository.OutboxRepository
	clk       clock.Clock
	config    SweeperConfig
	logger    *logger.Logger
}

func NewSweeper(
	lc *lifecycle.Service,
	cl *closure.Service,
	debts repository.DebtRepository,
	outbox repository.OutboxRepository,
	clk clock.Clock,
	config SweeperConfig,
	log *logger.Logger,
) *Sweeper {
	if config.Interval <= 0 {
		panic("Interval must be greater than 0")
	}
	return &Sweeper{
		lifecycle: lc,
		closure:   cl,
		debts:     debts,
		outbox:    outbox,
		clk:       clk,
		config:    config,
		logger:    log,
	}
}

func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	s.logger.Info("starting sweeper", "interval", s.config.Interval.String())

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down sweeper")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass of every maintenance task. Each task is independent;
// one failing does not stop the others.
func (s *Sweeper) Sweep(ctx context.Context) {
	if n, err := s.lifecycle.SweepExpired(ctx); err != nil {
		s.logger.Error(err, "expiry sweep failed")
	} else if n > 0 {
		s.logger.Info("expired stale appointments", "count", n)
	}

	if n, err := s.closure.SweepOpen(ctx); err != nil {
		s.logger.Error(err, "closure open sweep failed")
	} else if n > 0 {
		s.logger.Info("opened closures", "count", n)
	}

	if n, err := s.closure.SweepDue(ctx); err != nil {
		s.logger.Error(err, "closure deadline sweep failed")
	} else if n > 0 {
		s.logger.Info("auto-resolved closures", "count", n)
	}

	now := s.clk.Now()
	if n, err := s.debts.MarkOverdue(ctx, now); err != nil {
		s.logger.Error(err, "debt aging sweep failed")
	} else if n > 0 {
		s.logger.Info("marked debts overdue", "count", n)
	}

	if s.config.RetainOutboxFor > 0 {
		cutoff := now.Add(-s.config.RetainOutboxFor)
		if n, err := s.outbox.DeleteProcessedBefore(ctx, cutoff); err != nil {
			s.logger.Error(err, "outbox cleanup failed")
		} else if n > 0 {
			s.logger.Info("pruned processed outbox events", "count", n)
		}
	}
}
