// Package scheduler drives the unattended part of the engine: closing
// settled rounds, triggering payout transfers, detecting defaults, and
// running the global penalty sweep on a cron cadence.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mkoffi/tontine/internal/metrics"
	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/payout"
	"github.com/mkoffi/tontine/internal/storage"
	"github.com/mkoffi/tontine/internal/tontine"
)

// Config holds the scheduler knobs.
type Config struct {
	// Schedule is the cron expression for sweeps; the reference cadence
	// is hourly ("0 * * * *").
	Schedule string

	// Workers bounds concurrent per-group processing within a sweep.
	Workers int

	// GroupTimeout bounds per-group work; a timed-out group is skipped
	// and picked up again next tick.
	GroupTimeout time.Duration

	// Currency is the ISO code passed to the payout gateway.
	Currency string
}

// Scheduler is the only component permitted to trigger payout transfers. It
// never propagates errors upward; every per-group failure is logged and the
// sweep continues.
type Scheduler struct {
	store   storage.Store
	credit  *tontine.CreditService
	gateway payout.Gateway
	metrics *metrics.Metrics
	cfg     Config

	cron  *cron.Cron
	runMu sync.Mutex
}

// New creates a stopped scheduler. Start begins the cron loop.
func New(store storage.Store, credit *tontine.CreditService, gateway payout.Gateway, m *metrics.Metrics, cfg Config) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	return &Scheduler{
		store:   store,
		credit:  credit,
		gateway: gateway,
		metrics: m,
		cfg:     cfg,
	}
}

// Start registers the sweep on the configured schedule and starts the cron
// loop.
func (s *Scheduler) Start() error {
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.cfg.Schedule, func() {
		s.Sweep(context.Background(), time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.cfg.Schedule, err)
	}
	s.cron.Start()
	slog.Info("Scheduler started", "schedule", s.cfg.Schedule, "workers", s.cfg.Workers)
	return nil
}

// Stop halts the cron loop and waits for an in-flight sweep to finish, or
// for ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cron == nil {
		return nil
	}
	done := s.cron.Stop()
	select {
	case <-done.Done():
		slog.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sweep runs one full pass: per-group round closing, payout, and default
// detection through a bounded worker pool, then exactly one global penalty
// sweep. Closing runs before penalizing so a round settled in the same tick
// it becomes due is not penalized. Overlapping sweeps are skipped.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) {
	if !s.runMu.TryLock() {
		slog.Warn("Sweep already running, skipping tick")
		return
	}
	defer s.runMu.Unlock()

	s.metrics.SweepsTotal.Inc()
	start := time.Now()
	defer func() {
		s.metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	groups, err := s.store.ListGroups(ctx)
	if err != nil {
		slog.Error("Sweep failed to list groups", "error", err)
		return
	}

	jobs := make(chan *models.Group)
	var wg sync.WaitGroup
	for range s.cfg.Workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for group := range jobs {
				gctx := ctx
				cancel := func() {}
				if s.cfg.GroupTimeout > 0 {
					gctx, cancel = context.WithTimeout(ctx, s.cfg.GroupTimeout)
				}
				s.sweepGroup(gctx, group, now)
				cancel()
			}
		}()
	}
	for _, group := range groups {
		jobs <- group
	}
	close(jobs)
	wg.Wait()

	penalized, err := s.credit.ApplyPenalties(ctx, now)
	if err != nil {
		slog.Error("Penalty sweep failed", "error", err)
		return
	}
	s.metrics.PenaltiesApplied.Add(float64(len(penalized)))

	slog.Info("Sweep complete", "groups", len(groups), "penalized", len(penalized), "duration", time.Since(start))
}

// sweepGroup processes the group's most recently started round.
func (s *Scheduler) sweepGroup(ctx context.Context, group *models.Group, now time.Time) {
	round := group.CurrentRound - 1
	if round < 1 {
		return
	}

	settlement, err := s.credit.CloseRoundIfSettled(ctx, group.ID, round, now)
	if err != nil {
		slog.Error("Round closing failed", "group_id", group.ID, "round", round, "error", err)
		s.metrics.GroupsSkipped.Inc()
		return
	}
	if settlement.Closed {
		s.metrics.RoundsClosed.Inc()
		s.transferPool(ctx, group, settlement, now)
	}

	defaulted, err := s.credit.DefaultRoundIfExpired(ctx, group.ID, round, now)
	if err != nil {
		slog.Error("Default detection failed", "group_id", group.ID, "round", round, "error", err)
		return
	}
	if defaulted {
		s.metrics.RoundsDefaulted.Inc()
	}
}

// transferPool pays the pooled amount to the beneficiary's destination.
// Transfer failure is recorded on the round and logged, never retried within
// the tick; external re-delivery is out of scope.
func (s *Scheduler) transferPool(ctx context.Context, group *models.Group, settlement *tontine.RoundSettlement, now time.Time) {
	user, err := s.store.GetUser(ctx, settlement.Beneficiary)
	if err != nil {
		slog.Error("Payout beneficiary lookup failed",
			"group_id", group.ID, "round", settlement.RoundNumber, "beneficiary", settlement.Beneficiary, "error", err)
		return
	}
	if user.PayoutDestination == "" {
		slog.Warn("Beneficiary has no payout destination, skipping transfer",
			"group_id", group.ID, "round", settlement.RoundNumber, "beneficiary", settlement.Beneficiary)
		s.recordPayout(ctx, group.ID, settlement.RoundNumber, "",
			fmt.Errorf("beneficiary %s has no payout destination", settlement.Beneficiary), now)
		return
	}

	amountMinor := int64(math.Round(settlement.Total * 100))
	s.metrics.PayoutsAttempted.Inc()

	ref, err := s.gateway.Transfer(ctx, user.PayoutDestination, amountMinor, s.cfg.Currency)
	if err != nil {
		err = fmt.Errorf("%w: %w", tontine.ErrGatewayFailed, err)
		s.metrics.PayoutsFailed.Inc()
		slog.Error("Payout transfer failed",
			"group_id", group.ID, "round", settlement.RoundNumber, "beneficiary", settlement.Beneficiary,
			"amount_minor_units", amountMinor, "error", err)
	} else {
		slog.Info("Payout transferred",
			"group_id", group.ID, "round", settlement.RoundNumber, "beneficiary", settlement.Beneficiary,
			"amount_minor_units", amountMinor, "transfer_id", ref)
	}

	s.recordPayout(ctx, group.ID, settlement.RoundNumber, ref, err, now)
}

func (s *Scheduler) recordPayout(ctx context.Context, groupID string, round int, ref string, transferErr error, now time.Time) {
	if err := s.credit.RecordPayoutResult(ctx, groupID, round, ref, transferErr, now); err != nil {
		slog.Error("Failed to record payout result", "group_id", groupID, "round", round, "error", err)
	}
}
