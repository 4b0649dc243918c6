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

// CreateContribution appends a new ledger entry.
func (s *SQLiteStore) CreateContribution(ctx context.Context, c *models.Contribution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := insertContributionTx(ctx, tx, c); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func insertContributionTx(ctx context.Context, tx *sql.Tx, c *models.Contribution) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Status == "" {
		c.Status = models.ContributionPending
	}

	_, err := tx.ExecContext(ctx,
		`INSERT INTO contributions (id, group_id, member_id, round, amount, status,
		         due_date, paid_at, penalized, payment_ref, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.GroupID, c.MemberID, c.Round, c.Amount, string(c.Status),
		unix(c.DueDate), unix(c.PaidAt), c.Penalized, c.PaymentRef, unix(c.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert contribution: %w", err)
	}
	return nil
}

// GetContribution retrieves a ledger entry by ID.
func (s *SQLiteStore) GetContribution(ctx context.Context, id string) (*models.Contribution, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, member_id, round, amount, status, due_date, paid_at,
		        penalized, payment_ref, created_at
		 FROM contributions WHERE id = ?`,
		id,
	)
	c, err := scanContribution(row)
	if err == sql.ErrNoRows {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get contribution: %w", err)
	}
	return c, nil
}

// UpdateContribution updates the mutable fields of a ledger entry.
func (s *SQLiteStore) UpdateContribution(ctx context.Context, c *models.Contribution) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contributions SET status = ?, paid_at = ?, penalized = ?, payment_ref = ?
		 WHERE id = ?`,
		string(c.Status), unix(c.PaidAt), c.Penalized, c.PaymentRef, c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update contribution: %w", err)
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

// ContributionsByRound returns the ledger entries for one group round.
func (s *SQLiteStore) ContributionsByRound(ctx context.Context, groupID string, round int) ([]*models.Contribution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, member_id, round, amount, status, due_date, paid_at,
		        penalized, payment_ref, created_at
		 FROM contributions WHERE group_id = ? AND round = ? ORDER BY created_at, id`,
		groupID, round,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get contributions: %w", err)
	}
	defer rows.Close()
	return collectContributions(rows)
}

// OverdueContributions returns pending, not-yet-penalized entries past due as
// of asOf, across all groups.
func (s *SQLiteStore) OverdueContributions(ctx context.Context, asOf time.Time) ([]*models.Contribution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, group_id, member_id, round, amount, status, due_date, paid_at,
		        penalized, payment_ref, created_at
		 FROM contributions
		 WHERE status = ? AND penalized = 0 AND due_date < ?
		 ORDER BY group_id, round, id`,
		string(models.ContributionPending), unix(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get overdue contributions: %w", err)
	}
	defer rows.Close()
	return collectContributions(rows)
}

// HasOutstandingContribution reports whether the member holds a pending,
// past-due entry in the group.
func (s *SQLiteStore) HasOutstandingContribution(ctx context.Context, groupID, memberID string, asOf time.Time) (bool, error) {
	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM contributions
		 WHERE group_id = ? AND member_id = ? AND status = ? AND due_date < ?
		 LIMIT 1`,
		groupID, memberID, string(models.ContributionPending), unix(asOf),
	).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check outstanding contributions: %w", err)
	}
	return true, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (*models.Contribution, error) {
	c := &models.Contribution{}
	var status string
	var dueDate, paidAt, createdAt int64
	err := row.Scan(&c.ID, &c.GroupID, &c.MemberID, &c.Round, &c.Amount, &status,
		&dueDate, &paidAt, &c.Penalized, &c.PaymentRef, &createdAt)
	if err != nil {
		return nil, err
	}
	c.Status = models.ContributionStatus(status)
	c.DueDate = fromUnix(dueDate)
	c.PaidAt = fromUnix(paidAt)
	c.CreatedAt = fromUnix(createdAt)
	return c, nil
}

func collectContributions(rows *sql.Rows) ([]*models.Contribution, error) {
	var out []*models.Contribution
	for rows.Next() {
		c, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan contribution: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate contributions: %w", err)
	}
	return out, nil
}
