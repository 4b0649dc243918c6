package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/storage"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testGroup() *models.Group {
	now := time.Now().UTC().Truncate(time.Second)
	return &models.Group{
		Name:                 "Family Circle",
		CreatedBy:            "user-a",
		ContributionAmount:   100,
		ContributionInterval: models.IntervalMonthly,
		CurrentRound:         1,
		Members: []models.Member{
			{UserID: "user-a", JoinedAt: now, ReliabilityScore: 50, IsActive: true},
			{UserID: "user-b", JoinedAt: now, ReliabilityScore: 50, IsActive: true},
		},
		PayoutOrder: []string{"user-a", "user-b"},
	}
}

func TestGroupRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := testGroup()
	group.RoundHistory = []models.Round{{
		RoundNumber: 1,
		Beneficiary: "user-a",
		StartedAt:   time.Now().UTC().Truncate(time.Second),
		DueDate:     time.Now().UTC().Add(30 * 24 * time.Hour).Truncate(time.Second),
		Status:      models.RoundActive,
	}}

	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	if group.ID == "" {
		t.Fatal("expected group ID to be generated")
	}
	if group.Version != 1 {
		t.Errorf("version: expected 1, got %d", group.Version)
	}

	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Name != group.Name || got.CreatedBy != group.CreatedBy {
		t.Errorf("header mismatch: got %+v", got)
	}
	if got.ContributionInterval != models.IntervalMonthly {
		t.Errorf("interval: expected monthly, got %s", got.ContributionInterval)
	}
	if len(got.Members) != 2 || got.Members[0].UserID != "user-a" || got.Members[1].UserID != "user-b" {
		t.Errorf("members mismatch: %+v", got.Members)
	}
	if len(got.PayoutOrder) != 2 || got.PayoutOrder[0] != "user-a" {
		t.Errorf("payout order mismatch: %+v", got.PayoutOrder)
	}
	if len(got.RoundHistory) != 1 || got.RoundHistory[0].Beneficiary != "user-a" {
		t.Errorf("round history mismatch: %+v", got.RoundHistory)
	}
	if got.RoundHistory[0].Status != models.RoundActive {
		t.Errorf("round status: expected active, got %s", got.RoundHistory[0].Status)
	}
	if !got.RoundHistory[0].ClosedAt.IsZero() {
		t.Errorf("expected zero ClosedAt, got %v", got.RoundHistory[0].ClosedAt)
	}
}

func TestGetGroupNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetGroup(context.Background(), "nope")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateGroupVersioning(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := testGroup()
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	first, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	second, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}

	first.Name = "Renamed"
	if err := store.UpdateGroup(ctx, first); err != nil {
		t.Fatalf("UpdateGroup failed: %v", err)
	}
	if first.Version != 2 {
		t.Errorf("version after update: expected 2, got %d", first.Version)
	}

	second.Name = "Conflicting"
	err = store.UpdateGroup(ctx, second)
	if !errors.Is(err, storage.ErrStaleGroup) {
		t.Fatalf("expected ErrStaleGroup, got %v", err)
	}

	got, err := store.GetGroup(ctx, group.ID)
	if err != nil {
		t.Fatalf("GetGroup failed: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("stale write leaked: name = %q", got.Name)
	}
}

func TestStartRoundAtomicity(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := testGroup()
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	due := time.Now().UTC().Add(7 * 24 * time.Hour)
	group.CurrentRound = 2
	group.RoundHistory = append(group.RoundHistory, models.Round{
		RoundNumber: 1, Beneficiary: "user-a", StartedAt: time.Now().UTC(), DueDate: due, Status: models.RoundActive,
	})
	contributions := []*models.Contribution{
		{GroupID: group.ID, MemberID: "user-b", Round: 1, Amount: 100, Status: models.ContributionPending, DueDate: due},
	}

	if err := store.StartRound(ctx, group, contributions); err != nil {
		t.Fatalf("StartRound failed: %v", err)
	}

	got, err := store.ContributionsByRound(ctx, group.ID, 1)
	if err != nil {
		t.Fatalf("ContributionsByRound failed: %v", err)
	}
	if len(got) != 1 || got[0].MemberID != "user-b" {
		t.Fatalf("contributions mismatch: %+v", got)
	}

	// A stale group must roll the whole round start back.
	stale := *group
	stale.Version = 1
	err = store.StartRound(ctx, &stale, []*models.Contribution{
		{GroupID: group.ID, MemberID: "user-b", Round: 2, Amount: 100, Status: models.ContributionPending, DueDate: due},
	})
	if !errors.Is(err, storage.ErrStaleGroup) {
		t.Fatalf("expected ErrStaleGroup, got %v", err)
	}
	orphans, err := store.ContributionsByRound(ctx, group.ID, 2)
	if err != nil {
		t.Fatalf("ContributionsByRound failed: %v", err)
	}
	if len(orphans) != 0 {
		t.Errorf("expected rolled-back contributions, found %d", len(orphans))
	}
}

func TestContributionQueries(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	group := testGroup()
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	overdue := &models.Contribution{
		GroupID: group.ID, MemberID: "user-b", Round: 1, Amount: 100,
		Status: models.ContributionPending, DueDate: now.Add(-24 * time.Hour),
	}
	future := &models.Contribution{
		GroupID: group.ID, MemberID: "user-a", Round: 1, Amount: 100,
		Status: models.ContributionPending, DueDate: now.Add(24 * time.Hour),
	}
	for _, c := range []*models.Contribution{overdue, future} {
		if err := store.CreateContribution(ctx, c); err != nil {
			t.Fatalf("CreateContribution failed: %v", err)
		}
	}

	t.Run("OverdueContributions honors due date and penalized flag", func(t *testing.T) {
		got, err := store.OverdueContributions(ctx, now)
		if err != nil {
			t.Fatalf("OverdueContributions failed: %v", err)
		}
		if len(got) != 1 || got[0].ID != overdue.ID {
			t.Fatalf("expected only the overdue entry, got %+v", got)
		}

		got[0].Penalized = true
		if err := store.UpdateContribution(ctx, got[0]); err != nil {
			t.Fatalf("UpdateContribution failed: %v", err)
		}
		again, err := store.OverdueContributions(ctx, now)
		if err != nil {
			t.Fatalf("OverdueContributions failed: %v", err)
		}
		if len(again) != 0 {
			t.Errorf("penalized entry resurfaced: %+v", again)
		}
	})

	t.Run("HasOutstandingContribution", func(t *testing.T) {
		has, err := store.HasOutstandingContribution(ctx, group.ID, "user-b", now)
		if err != nil {
			t.Fatalf("HasOutstandingContribution failed: %v", err)
		}
		if !has {
			t.Error("expected outstanding contribution for user-b")
		}

		has, err = store.HasOutstandingContribution(ctx, group.ID, "user-a", now)
		if err != nil {
			t.Fatalf("HasOutstandingContribution failed: %v", err)
		}
		if has {
			t.Error("future-due contribution must not count as outstanding")
		}
	})

	t.Run("paid entries are never outstanding", func(t *testing.T) {
		overdue.Status = models.ContributionPaid
		overdue.PaidAt = now
		if err := store.UpdateContribution(ctx, overdue); err != nil {
			t.Fatalf("UpdateContribution failed: %v", err)
		}
		has, err := store.HasOutstandingContribution(ctx, group.ID, "user-b", now)
		if err != nil {
			t.Fatalf("HasOutstandingContribution failed: %v", err)
		}
		if has {
			t.Error("paid contribution still counted as outstanding")
		}
	})
}

func TestUserOutstandingCountFloor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	user := &models.User{IsVerified: true}
	if err := store.CreateUser(ctx, user); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}

	if err := store.AdjustOutstandingCount(ctx, user.ID, 2); err != nil {
		t.Fatalf("AdjustOutstandingCount failed: %v", err)
	}
	if err := store.AdjustOutstandingCount(ctx, user.ID, -5); err != nil {
		t.Fatalf("AdjustOutstandingCount failed: %v", err)
	}

	got, err := store.GetUser(ctx, user.ID)
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.OutstandingContributionCount != 0 {
		t.Errorf("outstanding count: expected 0, got %d", got.OutstandingContributionCount)
	}
}

func TestDeleteGroupKeepsLedger(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	group := testGroup()
	if err := store.CreateGroup(ctx, group); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	c := &models.Contribution{
		GroupID: group.ID, MemberID: "user-b", Round: 1, Amount: 100,
		Status: models.ContributionPaid, DueDate: time.Now().UTC(),
	}
	if err := store.CreateContribution(ctx, c); err != nil {
		t.Fatalf("CreateContribution failed: %v", err)
	}

	if err := store.DeleteGroup(ctx, group.ID); err != nil {
		t.Fatalf("DeleteGroup failed: %v", err)
	}
	if _, err := store.GetGroup(ctx, group.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}

	kept, err := store.GetContribution(ctx, c.ID)
	if err != nil {
		t.Fatalf("ledger entry lost with group: %v", err)
	}
	if kept.Amount != 100 {
		t.Errorf("ledger entry corrupted: %+v", kept)
	}
}

func TestGroupsByUser(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	g1 := testGroup()
	if err := store.CreateGroup(ctx, g1); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}
	g2 := testGroup()
	g2.Name = "Second Circle"
	g2.Members = g2.Members[:1] // only user-a
	g2.PayoutOrder = []string{"user-a"}
	if err := store.CreateGroup(ctx, g2); err != nil {
		t.Fatalf("CreateGroup failed: %v", err)
	}

	groups, err := store.GroupsByUser(ctx, "user-b")
	if err != nil {
		t.Fatalf("GroupsByUser failed: %v", err)
	}
	if len(groups) != 1 || groups[0].ID != g1.ID {
		t.Errorf("expected only the first group for user-b, got %d", len(groups))
	}
}
