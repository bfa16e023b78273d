package jobs

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"keygate/api/internal/config"
	"keygate/api/internal/repository"
	"keygate/api/internal/service"
)

// Scheduler owns the background sweeps: nightly retention over rate
// windows and risk events, hourly reconciliation against the processor.
// Sweeps are idempotent and cutoff-bounded, so overlap with live traffic
// or another instance is safe.
type Scheduler struct {
	cron      *cron.Cron
	billing   *service.BillingService
	windows   *repository.RateWindowRepository
	risks     *repository.RiskRepository
	retention config.RetentionConfig
	log       zerolog.Logger
}

func NewScheduler(
	billing *service.BillingService,
	windows *repository.RateWindowRepository,
	risks *repository.RiskRepository,
	retention config.RetentionConfig,
	log zerolog.Logger,
) *Scheduler {
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		billing:   billing,
		windows:   windows,
		risks:     risks,
		retention: retention,
		log:       log,
	}
}

func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc("0 30 0 * * *", s.runRetention); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc("0 0 * * * *", s.runReconcile); err != nil { // hourly
		return err
	}

	s.cron.Start()
	return nil
}

// Stop waits for running sweeps to finish, bounded to five seconds.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
	}
}

func (s *Scheduler) runRetention() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	now := time.Now().UTC()

	deleted, err := s.windows.DeleteOlderThan(ctx, now.Add(-s.retention.RateWindows))
	if err != nil {
		s.log.Error().Err(err).Msg("rate window retention failed")
	} else {
		s.log.Info().Int64("deleted", deleted).Msg("rate window retention done")
	}

	deleted, err = s.risks.DeleteOlderThan(ctx, now.Add(-s.retention.RiskEvents))
	if err != nil {
		s.log.Error().Err(err).Msg("risk event retention failed")
	} else {
		s.log.Info().Int64("deleted", deleted).Msg("risk event retention done")
	}
}

func (s *Scheduler) runReconcile() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	if err := s.billing.ReconcileAll(ctx); err != nil {
		s.log.Error().Err(err).Msg("reconcile sweep failed")
	}
}
