package tontine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/storage"
)

const (
	initialReliability = 50
	maxReliability     = 100
	minReliability     = 0
)

// CreditConfig holds the scoring knobs. Defaults are documented on the
// config package; none of them is a hidden constant.
type CreditConfig struct {
	// ReliabilityReward is added on each timely settlement, capped at 100.
	ReliabilityReward int

	// ReliabilityPenalty is subtracted on each penalty, floored at 0.
	ReliabilityPenalty int

	// BanThreshold is the penalty count at which a member is banned.
	BanThreshold int

	// EligibilityMaxOutstanding is the highest outstanding count a user
	// may carry and still join or create groups.
	EligibilityMaxOutstanding int

	// DefaultGraceIntervals is how many full contribution intervals past
	// the due date a round may stay unsettled before defaulting.
	DefaultGraceIntervals int
}

// DefaultCreditConfig returns the documented defaults.
func DefaultCreditConfig() CreditConfig {
	return CreditConfig{
		ReliabilityReward:         5,
		ReliabilityPenalty:        10,
		BanThreshold:              3,
		EligibilityMaxOutstanding: 2,
		DefaultGraceIntervals:     1,
	}
}

// CreditService is the credit scorer: it translates ledger facts into member
// trust signals and eligibility decisions. It never mutates rotation order.
type CreditService struct {
	store     storage.Store
	directory UserDirectory
	locks     *GroupLocks
	cfg       CreditConfig
}

// NewCreditService creates a credit scorer sharing the lock table with the
// rotation manager.
func NewCreditService(store storage.Store, directory UserDirectory, locks *GroupLocks, cfg CreditConfig) *CreditService {
	return &CreditService{store: store, directory: directory, locks: locks, cfg: cfg}
}

// AssertUserEligibleForGroup gates group creation and joining: the user must
// exist, carry no more than the configured outstanding count, and hold no ban
// in any group.
func (s *CreditService) AssertUserEligibleForGroup(ctx context.Context, userID string) error {
	user, err := s.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	if user.OutstandingContributionCount > s.cfg.EligibilityMaxOutstanding {
		return fmt.Errorf("user %s has %d outstanding contributions: %w",
			userID, user.OutstandingContributionCount, ErrNotEligible)
	}

	groups, err := s.store.GroupsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range groups {
		if m := g.Member(userID); m != nil && m.IsBanned {
			return fmt.Errorf("user %s is banned in group %s: %w", userID, g.ID, ErrNotEligible)
		}
	}
	return nil
}

// CalculateDueDate computes the payment deadline for a contribution created
// at base: weekly adds 7 days, monthly adds one calendar month preserving the
// day where feasible (clamped to the last day of the target month, so
// Jan 31 → Feb 28).
func (s *CreditService) CalculateDueDate(base time.Time, interval models.Interval) time.Time {
	switch interval {
	case models.IntervalWeekly:
		return base.AddDate(0, 0, 7)
	default:
		return addMonthClamped(base)
	}
}

func addMonthClamped(base time.Time) time.Time {
	year, month, day := base.Date()
	hour, min, sec := base.Clock()
	// Day 0 of month+2 is the last day of month+1.
	lastDay := time.Date(year, month+2, 0, 0, 0, 0, 0, base.Location()).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(year, month+1, day, hour, min, sec, base.Nanosecond(), base.Location())
}

// RecordContributionPayment settles a pending contribution: marks it paid,
// rewards the member's reliability, and decrements the user's outstanding
// count. Settling twice fails with ErrAlreadyPaid and changes nothing.
func (s *CreditService) RecordContributionPayment(ctx context.Context, contributionID string, paidAt time.Time) (*models.Contribution, error) {
	c, err := s.getContribution(ctx, contributionID)
	if err != nil {
		return nil, err
	}

	defer s.locks.Lock(c.GroupID)()

	// Re-read under the lock; a concurrent settlement may have won.
	c, err = s.getContribution(ctx, contributionID)
	if err != nil {
		return nil, err
	}
	if c.Status == models.ContributionPaid {
		return nil, fmt.Errorf("contribution %s: %w", contributionID, ErrAlreadyPaid)
	}

	c.Status = models.ContributionPaid
	c.PaidAt = paidAt
	if err := s.store.UpdateContribution(ctx, c); err != nil {
		return nil, err
	}

	group, err := s.store.GetGroup(ctx, c.GroupID)
	if err != nil {
		return nil, err
	}
	if m := group.Member(c.MemberID); m != nil {
		m.LastContributionRound = c.Round
		m.TotalPaid += c.Amount
		m.ReliabilityScore = min(maxReliability, m.ReliabilityScore+s.cfg.ReliabilityReward)
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return nil, err
		}
	}

	if err := s.directory.AdjustOutstanding(ctx, c.MemberID, -1); err != nil {
		return nil, err
	}

	slog.Info("Contribution settled",
		"contribution_id", c.ID, "group_id", c.GroupID, "member", c.MemberID, "round", c.Round, "amount", c.Amount)
	return c, nil
}

// RecordContribution appends an ad-hoc ledger entry for a member, with a due
// date computed from the group's interval. Used when obligations are created
// outside the normal round start (e.g. a payment plan negotiated by support).
func (s *CreditService) RecordContribution(ctx context.Context, groupID, memberID string, amount float64, round int, now time.Time) (*models.Contribution, error) {
	defer s.locks.Lock(groupID)()

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	if group.Member(memberID) == nil {
		return nil, fmt.Errorf("member %s in group %s: %w", memberID, groupID, ErrNotFound)
	}

	c := &models.Contribution{
		GroupID:  groupID,
		MemberID: memberID,
		Round:    round,
		Amount:   amount,
		Status:   models.ContributionPending,
		DueDate:  s.CalculateDueDate(now, group.ContributionInterval),
	}
	if err := s.store.CreateContribution(ctx, c); err != nil {
		return nil, err
	}
	return c, nil
}

// AttachPaymentRef records the external payment-processor reference on a
// contribution.
func (s *CreditService) AttachPaymentRef(ctx context.Context, contributionID, ref string) error {
	c, err := s.getContribution(ctx, contributionID)
	if err != nil {
		return err
	}

	defer s.locks.Lock(c.GroupID)()

	c, err = s.getContribution(ctx, contributionID)
	if err != nil {
		return err
	}
	c.PaymentRef = ref
	return s.store.UpdateContribution(ctx, c)
}

// ApplyPenalties scans every pending contribution past its due date, applies
// a penalty to the owning member, and flags the contribution so repeated
// sweeps never double-count it. Returns the contributions penalized in this
// sweep.
func (s *CreditService) ApplyPenalties(ctx context.Context, now time.Time) ([]*models.Contribution, error) {
	overdue, err := s.store.OverdueContributions(ctx, now)
	if err != nil {
		return nil, err
	}
	if len(overdue) == 0 {
		return nil, nil
	}

	byGroup := make(map[string][]*models.Contribution)
	var order []string
	for _, c := range overdue {
		if _, seen := byGroup[c.GroupID]; !seen {
			order = append(order, c.GroupID)
		}
		byGroup[c.GroupID] = append(byGroup[c.GroupID], c)
	}

	var penalized []*models.Contribution
	for _, groupID := range order {
		applied, err := s.penalizeGroup(ctx, groupID, byGroup[groupID])
		if err != nil {
			// One broken group must not abort the sweep.
			slog.Error("Penalty sweep failed for group", "group_id", groupID, "error", err)
			continue
		}
		penalized = append(penalized, applied...)
	}

	if len(penalized) > 0 {
		slog.Info("Penalty sweep applied", "contributions", len(penalized))
	}
	return penalized, nil
}

func (s *CreditService) penalizeGroup(ctx context.Context, groupID string, overdue []*models.Contribution) ([]*models.Contribution, error) {
	defer s.locks.Lock(groupID)()

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		// Group deleted since the scan; the ledger rows stay as audit.
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var penalized []*models.Contribution
	for _, c := range overdue {
		// Re-check under the lock: the member may have paid between the
		// scan and now.
		fresh, err := s.getContribution(ctx, c.ID)
		if err != nil {
			return penalized, err
		}
		if fresh.Status != models.ContributionPending || fresh.Penalized {
			continue
		}

		fresh.Penalized = true
		if err := s.store.UpdateContribution(ctx, fresh); err != nil {
			return penalized, err
		}

		if m := group.Member(fresh.MemberID); m != nil {
			m.Penalties++
			m.MissedRounds++
			m.ReliabilityScore = max(minReliability, m.ReliabilityScore-s.cfg.ReliabilityPenalty)
			if m.Penalties >= s.cfg.BanThreshold && !m.IsBanned {
				m.IsBanned = true
				slog.Warn("Member banned", "group_id", groupID, "member", m.UserID, "penalties", m.Penalties)
			}
		}
		if err := s.directory.AdjustOutstanding(ctx, fresh.MemberID, 1); err != nil {
			return penalized, err
		}
		penalized = append(penalized, fresh)
	}

	if len(penalized) > 0 {
		if err := s.store.UpdateGroup(ctx, group); err != nil {
			return penalized, err
		}
	}
	return penalized, nil
}

// RoundSettlement reports the outcome of a CloseRoundIfSettled call. Closed
// is true only for the call that actually flipped the round to complete,
// which makes the payout at-most-once across scheduler ticks.
type RoundSettlement struct {
	Closed      bool
	RoundNumber int
	Beneficiary string

	// Total is the pooled amount: the sum of the round's contribution
	// amounts.
	Total float64
}

// CloseRoundIfSettled marks the round complete once every one of its
// contributions is paid. Idempotent: repeated calls on a closed round do
// nothing. A round with no contributions is left untouched.
func (s *CreditService) CloseRoundIfSettled(ctx context.Context, groupID string, roundNumber int, now time.Time) (*RoundSettlement, error) {
	defer s.locks.Lock(groupID)()

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	entry := group.Round(roundNumber)
	if entry == nil {
		return nil, fmt.Errorf("round %d of group %s: %w", roundNumber, groupID, ErrNotFound)
	}
	settlement := &RoundSettlement{RoundNumber: roundNumber, Beneficiary: entry.Beneficiary}
	if entry.Status != models.RoundActive {
		return settlement, nil
	}

	contributions, err := s.store.ContributionsByRound(ctx, groupID, roundNumber)
	if err != nil {
		return nil, err
	}
	if len(contributions) == 0 {
		return settlement, nil
	}
	for _, c := range contributions {
		if c.Status != models.ContributionPaid {
			return settlement, nil
		}
		settlement.Total += c.Amount
	}

	entry.Status = models.RoundComplete
	entry.ClosedAt = now
	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	settlement.Closed = true

	slog.Info("Round closed",
		"group_id", groupID, "round", roundNumber, "beneficiary", entry.Beneficiary, "pool", settlement.Total)
	return settlement, nil
}

// DefaultRoundIfExpired flips an active round to defaulted once its due date
// has elapsed by the configured grace (in contribution intervals) with
// contributions still pending. Idempotent.
func (s *CreditService) DefaultRoundIfExpired(ctx context.Context, groupID string, roundNumber int, now time.Time) (bool, error) {
	defer s.locks.Lock(groupID)()

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	entry := group.Round(roundNumber)
	if entry == nil || entry.Status != models.RoundActive {
		return false, nil
	}

	deadline := entry.DueDate
	for range s.cfg.DefaultGraceIntervals {
		deadline = s.CalculateDueDate(deadline, group.ContributionInterval)
	}
	if !now.After(deadline) {
		return false, nil
	}

	contributions, err := s.store.ContributionsByRound(ctx, groupID, roundNumber)
	if err != nil {
		return false, err
	}
	pending := false
	for _, c := range contributions {
		if c.Status == models.ContributionPending {
			pending = true
			break
		}
	}
	if !pending {
		return false, nil
	}

	entry.Status = models.RoundDefaulted
	entry.ClosedAt = now
	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return false, err
	}

	slog.Warn("Round defaulted", "group_id", groupID, "round", roundNumber, "due", entry.DueDate)
	return true, nil
}

// RecordPayoutResult writes the payout attempt outcome onto the round record
// so operators can observe failed transfers.
func (s *CreditService) RecordPayoutResult(ctx context.Context, groupID string, roundNumber int, ref string, transferErr error, at time.Time) error {
	defer s.locks.Lock(groupID)()

	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	if err != nil {
		return err
	}
	entry := group.Round(roundNumber)
	if entry == nil {
		return fmt.Errorf("round %d of group %s: %w", roundNumber, groupID, ErrNotFound)
	}

	entry.PayoutAttemptedAt = at
	entry.PayoutRef = ref
	entry.PayoutError = ""
	if transferErr != nil {
		entry.PayoutError = transferErr.Error()
	}
	return s.store.UpdateGroup(ctx, group)
}

func (s *CreditService) getContribution(ctx context.Context, id string) (*models.Contribution, error) {
	c, err := s.store.GetContribution(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("contribution %s: %w", id, ErrNotFound)
	}
	return c, err
}
