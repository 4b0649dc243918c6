// Package models defines the core domain models for the tontine engine.
//
// # Aggregates
//
//   - Group: a rotating savings circle; owns its member records, payout
//     rotation order, and round history
//   - Contribution: one member's payment obligation for one round; lives in
//     its own ledger collection and is never deleted (audit trail)
//   - User: projection of the user-directory fields the engine reads and
//     denormalizes into (verification flag, active group, outstanding count)
//
// # Design Principles
//
//  1. **Group is the consistency boundary**: member records and round history
//     are embedded in the Group and written back as a whole, guarded by the
//     per-group lock and an optimistic version field.
//  2. **The ledger is append/update-only**: contributions transition
//     pending → paid and accumulate audit flags; no structural deletes.
//  3. **Avoid circular references**: relationships use ID strings, never
//     pointers between aggregates.
package models
