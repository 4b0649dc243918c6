package tontine

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/storage"
	"github.com/mkoffi/tontine/internal/storage/sqlite"
)

// testEngine bundles the services sharing one store and lock table.
type testEngine struct {
	store  storage.Store
	groups *GroupService
	credit *CreditService
	users  *StoreUsers
}

func newTestEngine(t *testing.T) *testEngine {
	t.Helper()
	return newTestEngineWithConfig(t, DefaultCreditConfig())
}

func newTestEngineWithConfig(t *testing.T, cfg CreditConfig) *testEngine {
	t.Helper()

	store, err := sqlite.New(filepath.Join(t.TempDir(), "engine.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	locks := NewGroupLocks()
	users := NewStoreUsers(store)
	credit := NewCreditService(store, users, locks, cfg)
	groups := NewGroupService(store, credit, users, users, locks)
	return &testEngine{store: store, groups: groups, credit: credit, users: users}
}

func (e *testEngine) newUser(t *testing.T, verified bool) *models.User {
	t.Helper()

	user := &models.User{IsVerified: verified, PayoutDestination: "acct_test"}
	if err := e.store.CreateUser(context.Background(), user); err != nil {
		t.Fatalf("failed to create user: %v", err)
	}
	return user
}

// newGroup creates a monthly group with the given number of verified members
// and returns it with the member IDs in payout order.
func (e *testEngine) newGroup(t *testing.T, memberCount int) (*models.Group, []string) {
	t.Helper()
	ctx := context.Background()

	creator := e.newUser(t, true)
	group, err := e.groups.CreateGroup(ctx, "Test Circle", creator.ID, 100, models.IntervalMonthly)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	ids := []string{creator.ID}
	for i := 1; i < memberCount; i++ {
		u := e.newUser(t, true)
		if group, err = e.groups.AddMember(ctx, group.ID, u.ID); err != nil {
			t.Fatalf("AddMember failed: %v", err)
		}
		ids = append(ids, u.ID)
	}
	return group, ids
}

// settleRound pays every contribution of the round.
func (e *testEngine) settleRound(t *testing.T, groupID string, round int, paidAt time.Time) {
	t.Helper()
	ctx := context.Background()

	contributions, err := e.store.ContributionsByRound(ctx, groupID, round)
	if err != nil {
		t.Fatalf("ContributionsByRound failed: %v", err)
	}
	for _, c := range contributions {
		if _, err := e.credit.RecordContributionPayment(ctx, c.ID, paidAt); err != nil {
			t.Fatalf("RecordContributionPayment failed: %v", err)
		}
	}
}

func TestCreateGroup(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	creator := e.newUser(t, true)
	group, err := e.groups.CreateGroup(ctx, "Roommates", creator.ID, 50, models.IntervalWeekly)
	if err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	if group.ID == "" {
		t.Error("expected non-empty group ID")
	}
	if group.CurrentRound != 1 {
		t.Errorf("current round: expected 1, got %d", group.CurrentRound)
	}
	if len(group.Members) != 1 || group.Members[0].UserID != creator.ID {
		t.Fatalf("members: expected only the creator, got %+v", group.Members)
	}
	if group.Members[0].ReliabilityScore != 50 {
		t.Errorf("reliability: expected 50, got %d", group.Members[0].ReliabilityScore)
	}
	if len(group.PayoutOrder) != 1 || group.PayoutOrder[0] != creator.ID {
		t.Errorf("payout order: expected [creator], got %+v", group.PayoutOrder)
	}

	user, err := e.store.GetUser(ctx, creator.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if user.ActiveGroup != group.ID {
		t.Errorf("active group: expected %s, got %s", group.ID, user.ActiveGroup)
	}
}

func TestCreateGroupRequiresVerification(t *testing.T) {
	e := newTestEngine(t)

	creator := e.newUser(t, false)
	_, err := e.groups.CreateGroup(context.Background(), "Nope", creator.ID, 50, models.IntervalWeekly)
	if !errors.Is(err, ErrNotVerified) {
		t.Fatalf("expected ErrNotVerified, got %v", err)
	}
}

func TestCreateGroupRejectsBadInput(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	creator := e.newUser(t, true)

	if _, err := e.groups.CreateGroup(ctx, "Bad", creator.ID, 0, models.IntervalWeekly); err == nil {
		t.Error("expected error for zero amount")
	}
	if _, err := e.groups.CreateGroup(ctx, "Bad", creator.ID, 50, models.Interval("daily")); err == nil {
		t.Error("expected error for unknown interval")
	}
}

func TestAddMemberIdempotent(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	group, ids := e.newGroup(t, 2)

	again, err := e.groups.AddMember(ctx, group.ID, ids[1])
	if err != nil {
		t.Fatalf("second AddMember failed: %v", err)
	}
	if len(again.Members) != 2 {
		t.Errorf("members: expected 2 after duplicate join, got %d", len(again.Members))
	}
	if len(again.PayoutOrder) != 2 {
		t.Errorf("payout order: expected 2 entries, got %d", len(again.PayoutOrder))
	}
}

func TestAddMemberUnknownGroup(t *testing.T) {
	e := newTestEngine(t)

	u := e.newUser(t, true)
	_, err := e.groups.AddMember(context.Background(), "missing", u.ID)
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMember(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group, ids := e.newGroup(t, 3)
	owner, member := ids[0], ids[1]

	t.Run("outsider may not remove", func(t *testing.T) {
		_, err := e.groups.RemoveMember(ctx, group.ID, ids[2], member)
		if !errors.Is(err, ErrNotAuthorized) {
			t.Fatalf("expected ErrNotAuthorized, got %v", err)
		}
	})

	t.Run("blocked while outstanding", func(t *testing.T) {
		c := &models.Contribution{
			GroupID: group.ID, MemberID: member, Round: 1, Amount: 100,
			Status: models.ContributionPending, DueDate: now.Add(-48 * time.Hour),
		}
		if err := e.store.CreateContribution(ctx, c); err != nil {
			t.Fatalf("CreateContribution failed: %v", err)
		}

		_, err := e.groups.RemoveMember(ctx, group.ID, owner, member)
		if !errors.Is(err, ErrOutstandingBalance) {
			t.Fatalf("expected ErrOutstandingBalance, got %v", err)
		}

		// Settling the debt unblocks removal.
		if _, err := e.credit.RecordContributionPayment(ctx, c.ID, now); err != nil {
			t.Fatalf("RecordContributionPayment failed: %v", err)
		}
		updated, err := e.groups.RemoveMember(ctx, group.ID, owner, member)
		if err != nil {
			t.Fatalf("RemoveMember failed after settlement: %v", err)
		}
		if updated.Member(member) != nil {
			t.Error("member record still present after removal")
		}
		for _, id := range updated.PayoutOrder {
			if id == member {
				t.Error("payout order still contains removed member")
			}
		}
	})

	t.Run("member may remove themself", func(t *testing.T) {
		updated, err := e.groups.RemoveMember(ctx, group.ID, ids[2], ids[2])
		if err != nil {
			t.Fatalf("self-removal failed: %v", err)
		}
		if len(updated.Members) != 1 {
			t.Errorf("members: expected 1, got %d", len(updated.Members))
		}
		if updated.NextPayoutIndex != 0 {
			t.Errorf("next payout index: expected reset to 0, got %d", updated.NextPayoutIndex)
		}

		user, err := e.store.GetUser(ctx, ids[2])
		if err != nil {
			t.Fatalf("GetUser failed: %v", err)
		}
		if user.ActiveGroup != "" {
			t.Errorf("active group: expected cleared, got %s", user.ActiveGroup)
		}
	})
}

func TestRotationCompleteness(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group, ids := e.newGroup(t, 3)
	owner := ids[0]

	seen := make(map[string]int)
	for round := 1; round <= 3; round++ {
		updated, err := e.groups.StartNextRound(ctx, group.ID, owner, now)
		if err != nil {
			t.Fatalf("StartNextRound %d failed: %v", round, err)
		}
		entry := updated.Round(round)
		if entry == nil {
			t.Fatalf("round %d missing from history", round)
		}
		seen[entry.Beneficiary]++

		// No double obligation: the beneficiary owes nothing this round.
		contributions, err := e.store.ContributionsByRound(ctx, group.ID, round)
		if err != nil {
			t.Fatalf("ContributionsByRound failed: %v", err)
		}
		if len(contributions) != 2 {
			t.Fatalf("round %d: expected 2 obligations, got %d", round, len(contributions))
		}
		for _, c := range contributions {
			if c.MemberID == entry.Beneficiary {
				t.Errorf("round %d: beneficiary %s has an obligation", round, entry.Beneficiary)
			}
		}

		e.settleRound(t, group.ID, round, now)
	}

	if len(seen) != 3 {
		t.Fatalf("expected 3 distinct beneficiaries, got %d", len(seen))
	}
	for _, id := range ids {
		if seen[id] != 1 {
			t.Errorf("member %s: expected beneficiary exactly once, got %d", id, seen[id])
		}
	}
}

func TestStartNextRoundGating(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group, ids := e.newGroup(t, 3)
	owner := ids[0]

	if _, err := e.groups.StartNextRound(ctx, group.ID, owner, now); err != nil {
		t.Fatalf("StartNextRound failed: %v", err)
	}

	_, err := e.groups.StartNextRound(ctx, group.ID, owner, now)
	if !errors.Is(err, ErrRoundNotSettled) {
		t.Fatalf("expected ErrRoundNotSettled, got %v", err)
	}

	e.settleRound(t, group.ID, 1, now)
	if _, err := e.groups.StartNextRound(ctx, group.ID, owner, now); err != nil {
		t.Fatalf("StartNextRound after settlement failed: %v", err)
	}
}

func TestStartNextRoundAuthorization(t *testing.T) {
	e := newTestEngine(t)

	group, ids := e.newGroup(t, 2)
	_, err := e.groups.StartNextRound(context.Background(), group.ID, ids[1], time.Now().UTC())
	if !errors.Is(err, ErrNotAuthorized) {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestBeneficiarySelectionSkipsBanned(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group, ids := e.newGroup(t, 3)

	// Ban the first-in-rotation member directly.
	fresh, err := e.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	fresh.Member(ids[0]).IsBanned = true
	if err := e.store.UpdateGroup(ctx, fresh); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}

	updated, err := e.groups.StartNextRound(ctx, group.ID, ids[0], now)
	if err != nil {
		t.Fatalf("StartNextRound failed: %v", err)
	}
	entry := updated.Round(1)
	if entry.Beneficiary != ids[1] {
		t.Errorf("beneficiary: expected %s (banned member skipped), got %s", ids[1], entry.Beneficiary)
	}

	// Banned member owes nothing either.
	contributions, err := e.store.ContributionsByRound(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("ContributionsByRound failed: %v", err)
	}
	for _, c := range contributions {
		if c.MemberID == ids[0] {
			t.Errorf("banned member %s received an obligation", ids[0])
		}
	}
}

func TestStartNextRoundNoEligibleBeneficiary(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	group, ids := e.newGroup(t, 2)

	fresh, err := e.store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	for i := range fresh.Members {
		fresh.Members[i].IsBanned = true
	}
	if err := e.store.UpdateGroup(ctx, fresh); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}

	_, err = e.groups.StartNextRound(ctx, group.ID, ids[0], time.Now().UTC())
	if !errors.Is(err, ErrNoEligibleBeneficiary) {
		t.Fatalf("expected ErrNoEligibleBeneficiary, got %v", err)
	}
}

func TestDeleteGroupBlockedWhileRoundActive(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group, ids := e.newGroup(t, 2)
	owner := ids[0]

	if _, err := e.groups.StartNextRound(ctx, group.ID, owner, now); err != nil {
		t.Fatalf("StartNextRound failed: %v", err)
	}

	err := e.groups.DeleteGroup(ctx, group.ID, owner)
	if !errors.Is(err, ErrRoundNotSettled) {
		t.Fatalf("expected ErrRoundNotSettled, got %v", err)
	}

	e.settleRound(t, group.ID, 1, now)
	if _, err := e.credit.CloseRoundIfSettled(ctx, group.ID, 1, now); err != nil {
		t.Fatalf("CloseRoundIfSettled failed: %v", err)
	}
	if err := e.groups.DeleteGroup(ctx, group.ID, owner); err != nil {
		t.Fatalf("DeleteGroup failed after settlement: %v", err)
	}
}
