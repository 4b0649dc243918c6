// Package payout defines the funds-transfer collaborator contract. The real
// payment-processor client lives outside the engine; only the contract and a
// safe default implementation are here.
package payout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
)

// Gateway executes the transfer of pooled funds to a beneficiary's payment
// destination. Called only by the scheduler, at most once per settled round.
// The engine never retries a failed transfer; failures surface through logs,
// metrics, and the round's payout fields.
type Gateway interface {
	// Transfer sends amountMinorUnits (e.g. cents) of currency to the
	// destination reference and returns the processor's transfer ID.
	Transfer(ctx context.Context, destinationRef string, amountMinorUnits int64, currency string) (string, error)
}

// LogGateway is a dry-run Gateway that logs transfers instead of executing
// them. Wired by default so the engine runs without processor credentials.
type LogGateway struct{}

// Transfer logs the would-be transfer and returns a synthetic ID.
func (LogGateway) Transfer(ctx context.Context, destinationRef string, amountMinorUnits int64, currency string) (string, error) {
	id := "dryrun_" + uuid.New().String()
	slog.Info("Dry-run payout transfer",
		"destination", destinationRef,
		"amount_minor_units", amountMinorUnits,
		"currency", currency,
		"transfer_id", id,
	)
	return id, nil
}
