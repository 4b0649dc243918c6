package models

import "time"

// User is the engine's projection of a user-directory record. The engine
// does not own authentication or profile fields; it reads the verification
// flag and payout destination, and maintains ActiveGroup and
// OutstandingContributionCount as derived denormalizations.
type User struct {
	// ID is the unique identifier for the user (UUID format).
	ID string

	// IsVerified reports whether identity verification completed. Consumed
	// as a precondition for creating or joining groups.
	IsVerified bool

	// ActiveGroup is the ID of a group the user currently belongs to, or
	// empty. Maintained by the rotation manager on join/leave.
	ActiveGroup string

	// OutstandingContributionCount is the number of currently overdue
	// obligations across all groups. Incremented by penalty sweeps,
	// decremented on settlement, floored at 0.
	OutstandingContributionCount int

	// PayoutDestination is the external payment-processor account the
	// scheduler transfers pooled funds to. Empty means no destination is
	// on file and payout is skipped.
	PayoutDestination string

	CreatedAt time.Time
}
