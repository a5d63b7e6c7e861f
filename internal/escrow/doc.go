// Package escrow enforces strong numeric invariants (a balance never goes
// negative, an item is never sold twice) on top of conflict-free types.
//
// A Ledger holds one document's authoritative confirmed total and a budget
// per actor. Each actor may consume only its own allocation, so actors act
// fully offline without coordination and still never over-spend in
// aggregate:
//
//	Σ allocated ≤ confirmed_total
//	consumed ≤ allocated for every actor
//	therefore Σ consumed ≤ confirmed_total at every point
//
// Periodic reconciliation asks an external quorum for the new confirmed
// total and re-splits it. The Reconciler never holds the ledger lock while
// waiting on the quorum: local consumption continues against the old
// budgets, and whatever was consumed in the meantime is carried into the
// new allocation when the result is committed. An abandoned attempt leaves
// the ledger untouched.
package escrow
