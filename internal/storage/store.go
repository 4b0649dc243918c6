// Package storage provides abstractions for persistent data storage.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/mkoffi/tontine/internal/models"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrStaleGroup is returned when a group write carries an outdated version,
// meaning another writer mutated the group since it was read. Callers hold
// the per-group lock so staleness indicates a serialization bug, not a
// condition to retry silently.
var ErrStaleGroup = errors.New("stale group version")

// Store defines the interface for engine persistence. This abstraction
// allows swapping storage backends (SQLite, PostgreSQL, etc.) without
// changing the service layer.
type Store interface {
	// CreateGroup persists a new group. The group ID and timestamps are
	// populated by the store if unset.
	CreateGroup(ctx context.Context, group *models.Group) error

	// GetGroup retrieves a group with its members, payout order, and
	// round history. Returns ErrNotFound if absent.
	GetGroup(ctx context.Context, groupID string) (*models.Group, error)

	// UpdateGroup replaces a group's document, including its embedded
	// collections. The write is versioned: it fails with ErrStaleGroup if
	// the stored version differs from group.Version.
	UpdateGroup(ctx context.Context, group *models.Group) error

	// DeleteGroup removes a group and its embedded collections. The
	// contribution ledger is retained for audit.
	DeleteGroup(ctx context.Context, groupID string) error

	// ListGroups returns all groups.
	ListGroups(ctx context.Context) ([]*models.Group, error)

	// GroupsByUser returns the groups the user is currently a member of.
	GroupsByUser(ctx context.Context, userID string) ([]*models.Group, error)

	// StartRound applies a round start atomically: the versioned group
	// update and the insertion of the round's contributions commit or
	// roll back together.
	StartRound(ctx context.Context, group *models.Group, contributions []*models.Contribution) error

	// CreateContribution appends a single ledger entry.
	CreateContribution(ctx context.Context, c *models.Contribution) error

	// GetContribution retrieves a ledger entry by ID. Returns ErrNotFound
	// if absent.
	GetContribution(ctx context.Context, id string) (*models.Contribution, error)

	// UpdateContribution updates the mutable fields of a ledger entry
	// (status, paid time, penalized flag, payment reference).
	UpdateContribution(ctx context.Context, c *models.Contribution) error

	// ContributionsByRound returns the ledger entries for one group round.
	ContributionsByRound(ctx context.Context, groupID string, round int) ([]*models.Contribution, error)

	// OverdueContributions returns every pending, not-yet-penalized entry
	// whose due date is before asOf, across all groups.
	OverdueContributions(ctx context.Context, asOf time.Time) ([]*models.Contribution, error)

	// HasOutstandingContribution reports whether the member holds any
	// pending, past-due entry in the group as of the given instant.
	HasOutstandingContribution(ctx context.Context, groupID, memberID string, asOf time.Time) (bool, error)

	// CreateUser persists a user-directory projection.
	CreateUser(ctx context.Context, user *models.User) error

	// GetUser retrieves a user by ID. Returns ErrNotFound if absent.
	GetUser(ctx context.Context, userID string) (*models.User, error)

	// SetActiveGroup points the user's active group at groupID; an empty
	// groupID clears it.
	SetActiveGroup(ctx context.Context, userID, groupID string) error

	// AdjustOutstandingCount adds delta to the user's outstanding
	// contribution count, floored at 0.
	AdjustOutstandingCount(ctx context.Context, userID string, delta int) error

	// Close releases any resources held by the store.
	Close() error
}
