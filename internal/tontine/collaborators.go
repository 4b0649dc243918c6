package tontine

import (
	"context"
	"errors"
	"fmt"

	"github.com/mkoffi/tontine/internal/storage"
)

// Verifier is the identity collaborator. This abstraction allows swapping the
// verification backend (local flag, external KYC provider) without changing
// the service layer.
type Verifier interface {
	// IsVerified reports whether the user completed identity verification.
	IsVerified(ctx context.Context, userID string) (bool, error)
}

// UserDirectory is the user-directory collaborator the engine denormalizes
// into.
type UserDirectory interface {
	// SetActiveGroup points the user's active group at groupID; empty
	// clears it.
	SetActiveGroup(ctx context.Context, userID, groupID string) error

	// AdjustOutstanding adds delta to the user's outstanding contribution
	// count, floored at 0.
	AdjustOutstanding(ctx context.Context, userID string, delta int) error
}

// StoreUsers implements Verifier and UserDirectory against the local users
// table.
type StoreUsers struct {
	store storage.Store
}

// NewStoreUsers creates the store-backed user collaborator.
func NewStoreUsers(store storage.Store) *StoreUsers {
	return &StoreUsers{store: store}
}

// IsVerified reads the verification flag for the user.
func (u *StoreUsers) IsVerified(ctx context.Context, userID string) (bool, error) {
	user, err := u.store.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	if err != nil {
		return false, err
	}
	return user.IsVerified, nil
}

// SetActiveGroup updates the user's active group pointer.
func (u *StoreUsers) SetActiveGroup(ctx context.Context, userID, groupID string) error {
	err := u.store.SetActiveGroup(ctx, userID, groupID)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return err
}

// AdjustOutstanding shifts the user's outstanding contribution count.
func (u *StoreUsers) AdjustOutstanding(ctx context.Context, userID string, delta int) error {
	err := u.store.AdjustOutstandingCount(ctx, userID, delta)
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("user %s: %w", userID, ErrNotFound)
	}
	return err
}
