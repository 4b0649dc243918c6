package tontine

import "errors"

// Error taxonomy surfaced by the rotation manager and credit services. The
// API layer maps these to user-facing responses; the scheduler logs them and
// moves on. Match with errors.Is — operations wrap them with context.
var (
	// ErrNotFound indicates the group, member, user, or contribution
	// does not exist.
	ErrNotFound = errors.New("not found")

	// ErrNotAuthorized indicates the caller lacks the required role or
	// relationship (e.g. non-owner starting a round).
	ErrNotAuthorized = errors.New("not authorized")

	// ErrNotVerified indicates the user has not completed identity
	// verification.
	ErrNotVerified = errors.New("user not verified")

	// ErrNotEligible indicates the credit eligibility gate failed (ban in
	// any group, or too many outstanding contributions).
	ErrNotEligible = errors.New("user not eligible")

	// ErrOutstandingBalance blocks removal of a member holding unpaid,
	// past-due contributions.
	ErrOutstandingBalance = errors.New("member has outstanding contributions")

	// ErrRoundNotSettled rejects starting a new round while the previous
	// one still has pending contributions.
	ErrRoundNotSettled = errors.New("current round not settled")

	// ErrNoEligibleBeneficiary indicates rotation found no active,
	// non-banned candidate in the payout order.
	ErrNoEligibleBeneficiary = errors.New("no eligible beneficiary")

	// ErrAlreadyPaid rejects settling a contribution twice.
	ErrAlreadyPaid = errors.New("contribution already paid")

	// ErrGatewayFailed wraps payout transfer failures. Non-fatal to round
	// closure.
	ErrGatewayFailed = errors.New("payout transfer failed")
)
