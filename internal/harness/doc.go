// Package harness runs replication scenarios described in YAML.
//
// A scenario declares a schema, a set of replicas and a sequence of steps:
// local operations on one replica, deliveries between replicas, and escrow
// reconciliations. Each replica is a real engine.Engine with its own
// in-memory store, so scenarios exercise the same code paths as
// production replicas.
//
// # Scenario Format
//
//	name: or_set_add_wins
//	description: "Concurrent add beats remove"
//	fields:
//	  - {name: tags, type: "Set<string>", strategy: or_set}
//	replicas: [A, B]
//	steps:
//	  - {replica: A, field: tags, op: add, value: milk}
//	  - sync: {from: A, to: B}
//	  - {replica: A, field: tags, op: remove, value: milk}
//	  - {replica: B, field: tags, op: add, value: milk}
//	  - sync: {}
//	assertions:
//	  - {type: value, replica: A, field: tags, expect: [milk]}
//	  - {type: converged}
//
// Instead of inline fields a scenario may name a CUE schema file and the
// document in it (schema, document). Constraints and escrow are optional.
//
// # Step Kinds
//
//   - op: a local mutation (set, add, remove, increment, decrement, insert,
//     delete, format); "at" pins the Lamport time of the stamp and "expect"
//     checks the outcome (emitted, noop, or a rejection reason)
//   - sync: deliver every operation emitted so far from one replica to
//     another, or between all replicas when from/to are empty
//   - reconcile: run an escrow reconciliation round on a replica
//
// # Assertion Types
//
//   - value: a replica's field reads as expect
//   - converged: every replica reads the same values
//   - available: escrow available to actor on replica equals expect
//   - violations: a replica observed count eventual violations
//   - log_count: a replica's operation log holds count operations
//
// # Deterministic Testing
//
// Document ids are fixed, every replica starts at Lamport time 0 and the
// trace records stamps, so identical scenarios produce byte-identical
// canonical JSON for golden comparison.
package harness
