// Package tontine implements the round and credit engine: group rotation
// management, contribution scoring, and the invariants tying them together.
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

// GroupService is the rotation manager: the single writer of group documents
// for synchronous requests. It enforces membership and rotation invariants;
// credit decisions are delegated to CreditService.
type GroupService struct {
	store     storage.Store
	credit    *CreditService
	verifier  Verifier
	directory UserDirectory
	locks     *GroupLocks
}

// NewGroupService creates a rotation manager sharing the given lock table
// with the credit service and scheduler.
func NewGroupService(store storage.Store, credit *CreditService, verifier Verifier, directory UserDirectory, locks *GroupLocks) *GroupService {
	return &GroupService{
		store:     store,
		credit:    credit,
		verifier:  verifier,
		directory: directory,
		locks:     locks,
	}
}

// CreateGroup creates a group with the creator as sole member and sole
// payout-order entry. The creator must be verified and credit-eligible.
func (s *GroupService) CreateGroup(ctx context.Context, name, creatorID string, amount float64, interval models.Interval) (*models.Group, error) {
	slog.Info("CreateGroup request", "name", name, "creator", creatorID, "amount", amount, "interval", interval)

	if name == "" {
		return nil, fmt.Errorf("group name is required")
	}
	if amount <= 0 {
		return nil, fmt.Errorf("contribution amount must be positive")
	}
	if !interval.Valid() {
		return nil, fmt.Errorf("invalid contribution interval %q", interval)
	}

	if err := s.credit.AssertUserEligibleForGroup(ctx, creatorID); err != nil {
		return nil, err
	}
	verified, err := s.verifier.IsVerified(ctx, creatorID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, fmt.Errorf("creator %s: %w", creatorID, ErrNotVerified)
	}

	now := time.Now().UTC()
	group := &models.Group{
		Name:                 name,
		CreatedBy:            creatorID,
		ContributionAmount:   amount,
		ContributionInterval: interval,
		Members:              []models.Member{newMember(creatorID, now)},
		PayoutOrder:          []string{creatorID},
		CurrentRound:         1,
	}

	if err := s.store.CreateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.directory.SetActiveGroup(ctx, creatorID, group.ID); err != nil {
		return nil, err
	}

	slog.Info("Group created", "group_id", group.ID, "creator", creatorID)
	return group, nil
}

// GetGroup retrieves a group by ID.
func (s *GroupService) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group, err := s.store.GetGroup(ctx, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("group %s: %w", groupID, ErrNotFound)
	}
	return group, err
}

// ListGroups returns all groups.
func (s *GroupService) ListGroups(ctx context.Context) ([]*models.Group, error) {
	return s.store.ListGroups(ctx)
}

// GroupsByUser returns the groups the user currently belongs to.
func (s *GroupService) GroupsByUser(ctx context.Context, userID string) ([]*models.Group, error) {
	return s.store.GroupsByUser(ctx, userID)
}

// AddMember joins a verified, eligible user to the group and appends them to
// the payout order. Idempotent: joining twice returns the current state.
func (s *GroupService) AddMember(ctx context.Context, groupID, userID string) (*models.Group, error) {
	slog.Info("AddMember request", "group_id", groupID, "user_id", userID)

	if err := s.credit.AssertUserEligibleForGroup(ctx, userID); err != nil {
		return nil, err
	}
	verified, err := s.verifier.IsVerified(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !verified {
		return nil, fmt.Errorf("user %s: %w", userID, ErrNotVerified)
	}

	defer s.locks.Lock(groupID)()

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group.Member(userID) != nil {
		slog.Info("AddMember no-op, already a member", "group_id", groupID, "user_id", userID)
		return group, nil
	}

	group.Members = append(group.Members, newMember(userID, time.Now().UTC()))
	group.PayoutOrder = append(group.PayoutOrder, userID)

	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.directory.SetActiveGroup(ctx, userID, groupID); err != nil {
		return nil, err
	}

	slog.Info("Member added", "group_id", groupID, "user_id", userID, "members", len(group.Members))
	return group, nil
}

// RemoveMember removes a member and every occurrence of them in the payout
// order. Only the group owner or the member themself may remove, and a member
// holding outstanding contributions cannot leave.
func (s *GroupService) RemoveMember(ctx context.Context, groupID, callerID, userID string) (*models.Group, error) {
	slog.Info("RemoveMember request", "group_id", groupID, "caller", callerID, "user_id", userID)

	defer s.locks.Lock(groupID)()

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if callerID != group.CreatedBy && callerID != userID {
		return nil, fmt.Errorf("caller %s may not remove member %s: %w", callerID, userID, ErrNotAuthorized)
	}
	if group.Member(userID) == nil {
		return nil, fmt.Errorf("member %s in group %s: %w", userID, groupID, ErrNotFound)
	}

	outstanding, err := s.store.HasOutstandingContribution(ctx, groupID, userID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	if outstanding {
		return nil, fmt.Errorf("member %s: %w", userID, ErrOutstandingBalance)
	}

	members := group.Members[:0]
	for _, m := range group.Members {
		if m.UserID != userID {
			members = append(members, m)
		}
	}
	group.Members = members

	order := group.PayoutOrder[:0]
	for _, id := range group.PayoutOrder {
		if id != userID {
			order = append(order, id)
		}
	}
	group.PayoutOrder = order
	if group.NextPayoutIndex >= len(group.PayoutOrder) {
		group.NextPayoutIndex = 0
	}

	if err := s.store.UpdateGroup(ctx, group); err != nil {
		return nil, err
	}
	if err := s.clearActiveGroupIfLast(ctx, groupID, userID); err != nil {
		return nil, err
	}

	slog.Info("Member removed", "group_id", groupID, "user_id", userID, "members", len(group.Members))
	return group, nil
}

// clearActiveGroupIfLast clears the user's active-group pointer when they no
// longer belong to any group.
func (s *GroupService) clearActiveGroupIfLast(ctx context.Context, groupID, userID string) error {
	others, err := s.store.GroupsByUser(ctx, userID)
	if err != nil {
		return err
	}
	for _, g := range others {
		if g.ID != groupID {
			return nil
		}
	}
	return s.directory.SetActiveGroup(ctx, userID, "")
}

// StartNextRound opens the next payout cycle: selects the beneficiary from
// the rotation (skipping banned and inactive candidates), appends the round
// record, and creates one pending contribution per obligated member. The
// group update and the contribution inserts commit atomically.
func (s *GroupService) StartNextRound(ctx context.Context, groupID, callerID string, now time.Time) (*models.Group, error) {
	slog.Info("StartNextRound request", "group_id", groupID, "caller", callerID)

	defer s.locks.Lock(groupID)()

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if callerID != group.CreatedBy {
		return nil, fmt.Errorf("caller %s is not the group owner: %w", callerID, ErrNotAuthorized)
	}

	// The previous round must be fully settled before a new one starts.
	previous := group.CurrentRound - 1
	if previous >= 1 {
		contributions, err := s.store.ContributionsByRound(ctx, groupID, previous)
		if err != nil {
			return nil, err
		}
		for _, c := range contributions {
			if c.Status != models.ContributionPaid {
				return nil, fmt.Errorf("round %d of group %s: %w", previous, groupID, ErrRoundNotSettled)
			}
		}
	}

	beneficiary, index, err := selectBeneficiary(group)
	if err != nil {
		return nil, err
	}

	dueDate := s.credit.CalculateDueDate(now, group.ContributionInterval)
	round := models.Round{
		RoundNumber: group.CurrentRound,
		Beneficiary: beneficiary,
		StartedAt:   now,
		DueDate:     dueDate,
		Status:      models.RoundActive,
	}
	group.RoundHistory = append(group.RoundHistory, round)

	var contributions []*models.Contribution
	for _, m := range group.Members {
		if m.UserID == beneficiary || !m.IsActive || m.IsBanned {
			continue
		}
		contributions = append(contributions, &models.Contribution{
			GroupID:  groupID,
			MemberID: m.UserID,
			Round:    group.CurrentRound,
			Amount:   group.ContributionAmount,
			Status:   models.ContributionPending,
			DueDate:  dueDate,
		})
	}

	group.CurrentRound++
	group.NextPayoutIndex = (index + 1) % len(group.PayoutOrder)

	if err := s.store.StartRound(ctx, group, contributions); err != nil {
		return nil, err
	}

	slog.Info("Round started",
		"group_id", groupID,
		"round", round.RoundNumber,
		"beneficiary", beneficiary,
		"obligations", len(contributions),
		"due", dueDate,
	)
	return group, nil
}

// selectBeneficiary walks the payout order from the cursor, skipping banned
// and inactive candidates, wrapping at most once around the rotation.
func selectBeneficiary(group *models.Group) (string, int, error) {
	n := len(group.PayoutOrder)
	if n == 0 {
		return "", 0, fmt.Errorf("group %s has an empty payout order: %w", group.ID, ErrNoEligibleBeneficiary)
	}
	index := group.NextPayoutIndex
	for range group.PayoutOrder {
		candidate := group.Member(group.PayoutOrder[index])
		if candidate != nil && candidate.IsActive && !candidate.IsBanned {
			return candidate.UserID, index, nil
		}
		index = (index + 1) % n
	}
	return "", 0, fmt.Errorf("group %s: %w", group.ID, ErrNoEligibleBeneficiary)
}

// RoundHistory returns the append-only round record sequence.
func (s *GroupService) RoundHistory(ctx context.Context, groupID string) ([]models.Round, error) {
	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return group.RoundHistory, nil
}

// DeleteGroup removes a group. Only the owner may delete, and never while a
// round is still active. Ledger entries survive for audit.
func (s *GroupService) DeleteGroup(ctx context.Context, groupID, callerID string) error {
	slog.Info("DeleteGroup request", "group_id", groupID, "caller", callerID)

	defer s.locks.Lock(groupID)()

	group, err := s.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if callerID != group.CreatedBy {
		return fmt.Errorf("caller %s is not the group owner: %w", callerID, ErrNotAuthorized)
	}
	for _, r := range group.RoundHistory {
		if r.Status == models.RoundActive {
			return fmt.Errorf("group %s has active round %d: %w", groupID, r.RoundNumber, ErrRoundNotSettled)
		}
	}

	if err := s.store.DeleteGroup(ctx, groupID); err != nil {
		return err
	}
	for _, m := range group.Members {
		if err := s.clearActiveGroupIfLast(ctx, groupID, m.UserID); err != nil {
			return err
		}
	}

	slog.Info("Group deleted", "group_id", groupID)
	return nil
}

func newMember(userID string, joinedAt time.Time) models.Member {
	return models.Member{
		UserID:           userID,
		JoinedAt:         joinedAt,
		ReliabilityScore: initialReliability,
		IsActive:         true,
	}
}
