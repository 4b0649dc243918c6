package models

import "time"

// Interval is the contribution cadence of a group.
type Interval string

const (
	IntervalWeekly  Interval = "weekly"
	IntervalMonthly Interval = "monthly"
)

// Valid reports whether the interval is one of the supported cadences.
func (i Interval) Valid() bool {
	return i == IntervalWeekly || i == IntervalMonthly
}

// RoundStatus is the lifecycle state of a round.
// Transitions: scheduled → active → {complete, defaulted}; complete and
// defaulted rounds are immutable.
type RoundStatus string

const (
	RoundScheduled RoundStatus = "scheduled"
	RoundActive    RoundStatus = "active"
	RoundComplete  RoundStatus = "complete"
	RoundDefaulted RoundStatus = "defaulted"
)

// Group represents one rotating savings circle.
type Group struct {
	// ID is the unique identifier for the group (UUID format).
	ID string

	// Name is the display name of the group.
	Name string

	// CreatedBy is the user ID of the group owner. Only the owner may
	// start rounds, delete the group, or remove other members.
	CreatedBy string

	// ContributionAmount is the fixed amount each member pays per round.
	ContributionAmount float64

	// ContributionInterval is the cadence of rounds (weekly or monthly).
	ContributionInterval Interval

	// Members holds one record per user that ever joined, in join order.
	// Banned members stay in the slice for audit; removal deletes the record.
	Members []Member

	// PayoutOrder is the rotation sequence of user IDs. Always a
	// permutation-subset of the member user IDs.
	PayoutOrder []string

	// NextPayoutIndex is the cursor into PayoutOrder for the next
	// beneficiary. Wraps to 0 past the end of PayoutOrder.
	NextPayoutIndex int

	// CurrentRound starts at 1 and increments each time a round starts.
	// The most recently started round is therefore CurrentRound-1.
	CurrentRound int

	// RoundHistory is the append-only sequence of round records.
	RoundHistory []Round

	CreatedAt time.Time
	UpdatedAt time.Time

	// Version is bumped by the store on every write. Stale writes are
	// rejected rather than silently overwriting concurrent mutations.
	Version int64
}

// Member finds the member record for userID. Returns nil if absent.
func (g *Group) Member(userID string) *Member {
	for i := range g.Members {
		if g.Members[i].UserID == userID {
			return &g.Members[i]
		}
	}
	return nil
}

// Round finds the round record with the given number. Returns nil if absent.
func (g *Group) Round(number int) *Round {
	for i := range g.RoundHistory {
		if g.RoundHistory[i].RoundNumber == number {
			return &g.RoundHistory[i]
		}
	}
	return nil
}

// Member is one user's standing within a group.
type Member struct {
	UserID   string
	JoinedAt time.Time

	// ReliabilityScore is a trust signal in [0, 100], initialized at 50.
	// Raised on timely payment, lowered on each penalty.
	ReliabilityScore int

	// Penalties counts missed-payment penalties applied to this member.
	Penalties int

	// MissedRounds counts rounds with at least one penalized contribution.
	MissedRounds int

	// LastContributionRound is the last round number this member paid for.
	LastContributionRound int

	// TotalPaid is the cumulative sum of settled contributions.
	TotalPaid float64

	IsActive bool

	// IsBanned excludes the member from new round obligations and from
	// beneficiary selection. The record is retained for audit.
	IsBanned bool
}

// Round is one payout cycle of a group, embedded in Group.RoundHistory.
type Round struct {
	RoundNumber int

	// Beneficiary is the user ID entitled to the pooled funds.
	Beneficiary string

	StartedAt time.Time
	DueDate   time.Time
	ClosedAt  time.Time

	Status RoundStatus

	// Payout attempt bookkeeping, written by the scheduler after round
	// closure. A failed transfer records PayoutError and leaves the round
	// complete; re-delivery is an operator concern.
	PayoutAttemptedAt time.Time
	PayoutRef         string
	PayoutError       string
}
