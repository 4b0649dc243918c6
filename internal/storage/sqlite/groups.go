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

// CreateGroup persists a new group with its embedded collections.
func (s *SQLiteStore) CreateGroup(ctx context.Context, group *models.Group) error {
	if group.ID == "" {
		group.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if group.CreatedAt.IsZero() {
		group.CreatedAt = now
	}
	group.UpdatedAt = now
	group.Version = 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO groups (id, name, created_by, contribution_amount, contribution_interval,
		                     next_payout_index, current_round, created_at, updated_at, version)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		group.ID, group.Name, group.CreatedBy, group.ContributionAmount, string(group.ContributionInterval),
		group.NextPayoutIndex, group.CurrentRound, unix(group.CreatedAt), unix(group.UpdatedAt), group.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to insert group: %w", err)
	}

	if err := insertEmbedded(ctx, tx, group); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetGroup retrieves a group including members, payout order, and rounds.
func (s *SQLiteStore) GetGroup(ctx context.Context, groupID string) (*models.Group, error) {
	group := &models.Group{}
	var interval string
	var createdAt, updatedAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, created_by, contribution_amount, contribution_interval,
		        next_payout_index, current_round, created_at, updated_at, version
		 FROM groups WHERE id = ?`,
		groupID,
	).Scan(&group.ID, &group.Name, &group.CreatedBy, &group.ContributionAmount, &interval,
		&group.NextPayoutIndex, &group.CurrentRound, &createdAt, &updatedAt, &group.Version)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get group: %w", err)
	}
	group.ContributionInterval = models.Interval(interval)
	group.CreatedAt = fromUnix(createdAt)
	group.UpdatedAt = fromUnix(updatedAt)

	if err := s.loadMembers(ctx, group); err != nil {
		return nil, err
	}
	if err := s.loadPayoutOrder(ctx, group); err != nil {
		return nil, err
	}
	if err := s.loadRounds(ctx, group); err != nil {
		return nil, err
	}
	return group, nil
}

// UpdateGroup replaces the group document. The write is rejected with
// ErrStaleGroup when the stored version no longer matches group.Version.
func (s *SQLiteStore) UpdateGroup(ctx context.Context, group *models.Group) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateGroupTx(ctx, tx, group); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	group.Version++
	return nil
}

// StartRound persists a round start: the versioned group update and the new
// contributions commit atomically.
func (s *SQLiteStore) StartRound(ctx context.Context, group *models.Group, contributions []*models.Contribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := updateGroupTx(ctx, tx, group); err != nil {
		return err
	}
	for _, c := range contributions {
		if err := insertContributionTx(ctx, tx, c); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	group.Version++
	return nil
}

// DeleteGroup removes a group and its embedded rows. Ledger entries are
// retained for audit.
func (s *SQLiteStore) DeleteGroup(ctx context.Context, groupID string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM groups WHERE id = ?", groupID)
	if err != nil {
		return fmt.Errorf("failed to delete group: %w", err)
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

// ListGroups returns all groups with embedded collections loaded.
func (s *SQLiteStore) ListGroups(ctx context.Context) ([]*models.Group, error) {
	ids, err := s.groupIDs(ctx, "SELECT id FROM groups ORDER BY created_at")
	if err != nil {
		return nil, err
	}
	return s.loadGroups(ctx, ids)
}

// GroupsByUser returns the groups the user is currently a member of.
func (s *SQLiteStore) GroupsByUser(ctx context.Context, userID string) ([]*models.Group, error) {
	ids, err := s.groupIDs(ctx,
		"SELECT group_id FROM group_members WHERE user_id = ? ORDER BY joined_at", userID)
	if err != nil {
		return nil, err
	}
	return s.loadGroups(ctx, ids)
}

func (s *SQLiteStore) groupIDs(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query group ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan group id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate group ids: %w", err)
	}
	return ids, nil
}

func (s *SQLiteStore) loadGroups(ctx context.Context, ids []string) ([]*models.Group, error) {
	groups := make([]*models.Group, 0, len(ids))
	for _, id := range ids {
		group, err := s.GetGroup(ctx, id)
		if err != nil {
			return nil, err
		}
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *SQLiteStore) loadMembers(ctx context.Context, group *models.Group) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, joined_at, reliability_score, penalties, missed_rounds,
		        last_contribution_round, total_paid, is_active, is_banned
		 FROM group_members WHERE group_id = ? ORDER BY position`,
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get members: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var m models.Member
		var joinedAt int64
		if err := rows.Scan(&m.UserID, &joinedAt, &m.ReliabilityScore, &m.Penalties, &m.MissedRounds,
			&m.LastContributionRound, &m.TotalPaid, &m.IsActive, &m.IsBanned); err != nil {
			return fmt.Errorf("failed to scan member: %w", err)
		}
		m.JoinedAt = fromUnix(joinedAt)
		group.Members = append(group.Members, m)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate members: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadPayoutOrder(ctx context.Context, group *models.Group) error {
	rows, err := s.db.QueryContext(ctx,
		"SELECT user_id FROM payout_order WHERE group_id = ? ORDER BY position",
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get payout order: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID string
		if err := rows.Scan(&userID); err != nil {
			return fmt.Errorf("failed to scan payout order: %w", err)
		}
		group.PayoutOrder = append(group.PayoutOrder, userID)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate payout order: %w", err)
	}
	return nil
}

func (s *SQLiteStore) loadRounds(ctx context.Context, group *models.Group) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT round_number, beneficiary, started_at, due_date, closed_at, status,
		        payout_attempted_at, payout_ref, payout_error
		 FROM rounds WHERE group_id = ? ORDER BY round_number`,
		group.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to get rounds: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r models.Round
		var status string
		var startedAt, dueDate, closedAt, payoutAt int64
		if err := rows.Scan(&r.RoundNumber, &r.Beneficiary, &startedAt, &dueDate, &closedAt, &status,
			&payoutAt, &r.PayoutRef, &r.PayoutError); err != nil {
			return fmt.Errorf("failed to scan round: %w", err)
		}
		r.Status = models.RoundStatus(status)
		r.StartedAt = fromUnix(startedAt)
		r.DueDate = fromUnix(dueDate)
		r.ClosedAt = fromUnix(closedAt)
		r.PayoutAttemptedAt = fromUnix(payoutAt)
		group.RoundHistory = append(group.RoundHistory, r)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("failed to iterate rounds: %w", err)
	}
	return nil
}

// updateGroupTx performs the versioned group update and replaces the
// embedded collections inside an open transaction.
func updateGroupTx(ctx context.Context, tx *sql.Tx, group *models.Group) error {
	group.UpdatedAt = time.Now().UTC()

	res, err := tx.ExecContext(ctx,
		`UPDATE groups SET name = ?, contribution_amount = ?, contribution_interval = ?,
		        next_payout_index = ?, current_round = ?, updated_at = ?, version = version + 1
		 WHERE id = ? AND version = ?`,
		group.Name, group.ContributionAmount, string(group.ContributionInterval),
		group.NextPayoutIndex, group.CurrentRound, unix(group.UpdatedAt),
		group.ID, group.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to update group: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		var exists int
		err := tx.QueryRowContext(ctx, "SELECT 1 FROM groups WHERE id = ?", group.ID).Scan(&exists)
		if err == sql.ErrNoRows {
			return storage.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to check group existence: %w", err)
		}
		return storage.ErrStaleGroup
	}

	for _, table := range []string{"group_members", "payout_order", "rounds"} {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE group_id = ?", group.ID); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}
	return insertEmbedded(ctx, tx, group)
}

// insertEmbedded writes the group's members, payout order, and round history.
func insertEmbedded(ctx context.Context, tx *sql.Tx, group *models.Group) error {
	for i, m := range group.Members {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO group_members (group_id, user_id, position, joined_at, reliability_score,
			         penalties, missed_rounds, last_contribution_round, total_paid, is_active, is_banned)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			group.ID, m.UserID, i, unix(m.JoinedAt), m.ReliabilityScore,
			m.Penalties, m.MissedRounds, m.LastContributionRound, m.TotalPaid, m.IsActive, m.IsBanned,
		)
		if err != nil {
			return fmt.Errorf("failed to insert member: %w", err)
		}
	}

	for i, userID := range group.PayoutOrder {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO payout_order (group_id, position, user_id) VALUES (?, ?, ?)",
			group.ID, i, userID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert payout order: %w", err)
		}
	}

	for _, r := range group.RoundHistory {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rounds (group_id, round_number, beneficiary, started_at, due_date, closed_at,
			         status, payout_attempted_at, payout_ref, payout_error)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			group.ID, r.RoundNumber, r.Beneficiary, unix(r.StartedAt), unix(r.DueDate), unix(r.ClosedAt),
			string(r.Status), unix(r.PayoutAttemptedAt), r.PayoutRef, r.PayoutError,
		)
		if err != nil {
			return fmt.Errorf("failed to insert round: %w", err)
		}
	}
	return nil
}
