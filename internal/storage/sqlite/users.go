package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mkoffi/tontine/internal/models"
	"github.com/mkoffi/tontine/internal/storage"
)

// CreateUser inserts a new user projection into the database.
func (s *SQLiteStore) CreateUser(ctx context.Context, user *models.User) error {
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	var activeGroup any
	if user.ActiveGroup != "" {
		activeGroup = user.ActiveGroup
	}
	var destination any
	if user.PayoutDestination != "" {
		destination = user.PayoutDestination
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, is_verified, active_group, outstanding_count, payout_destination, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		user.ID, user.IsVerified, activeGroup, user.OutstandingContributionCount, destination, unix(user.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by ID.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	user := &models.User{}
	var activeGroup, destination sql.NullString
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, is_verified, active_group, outstanding_count, payout_destination, created_at
		 FROM users WHERE id = ?`,
		userID,
	).Scan(&user.ID, &user.IsVerified, &activeGroup, &user.OutstandingContributionCount, &destination, &createdAt)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.ActiveGroup = activeGroup.String
	user.PayoutDestination = destination.String
	user.CreatedAt = fromUnix(createdAt)
	return user, nil
}

// SetActiveGroup points the user's active group at groupID; empty clears it.
func (s *SQLiteStore) SetActiveGroup(ctx context.Context, userID, groupID string) error {
	var value any
	if groupID != "" {
		value = groupID
	}
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET active_group = ? WHERE id = ?",
		value, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to set active group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// AdjustOutstandingCount adds delta to the user's outstanding contribution
// count, floored at 0.
func (s *SQLiteStore) AdjustOutstandingCount(ctx context.Context, userID string, delta int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET outstanding_count = MAX(0, outstanding_count + ?) WHERE id = ?",
		delta, userID,
	)
	if err != nil {
		return fmt.Errorf("failed to adjust outstanding count: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
