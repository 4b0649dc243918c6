package models

import "time"

// ContributionStatus is the settlement state of a contribution.
type ContributionStatus string

const (
	ContributionPending ContributionStatus = "pending"
	ContributionPaid    ContributionStatus = "paid"
)

// Contribution is one member's payment obligation for one round. One row
// exists per (group, member, round), excluding the round's beneficiary.
// Contributions are never deleted; they form the audit trail credit scoring
// reads.
type Contribution struct {
	// ID is the unique identifier for the contribution (UUID format).
	ID string

	GroupID  string
	MemberID string

	// Round is the round number this obligation belongs to.
	Round int

	Amount float64

	Status  ContributionStatus
	DueDate time.Time
	PaidAt  time.Time

	// Penalized marks that a penalty sweep already counted this
	// contribution, so repeated sweeps do not double-penalize.
	Penalized bool

	// PaymentRef is the external payment-processor reference, if any.
	PaymentRef string

	CreatedAt time.Time
}

// Outstanding reports whether the contribution is pending and past due as of
// the given instant.
func (c *Contribution) Outstanding(now time.Time) bool {
	return c.Status == ContributionPending && c.DueDate.Before(now)
}
