// Package crdt implements the replicated value types a document field can
// hold.
//
// Seven strategies are supported: immutable, lww, or_set, pn_counter, rga,
// mv_register and peritext. Every State forms a join-semilattice:
//
//   - Merge is the least upper bound (commutative, associative, idempotent)
//   - Apply only moves a state upward, and applying an operation equals
//     merging the state with that operation's singleton state
//   - Replicas that have received the same operations, in any order and
//     with any duplication, hold byte-identical encodings
//
// Local mutations start as an Intent ("insert at index 3", "increment by
// 5"). Prepare turns an intent into an idempotent Payload against the local
// state: it mints tags, observes tags to remove, computes absolute counter
// totals, resolves indices to element ids and anchors formatting marks.
// Only Payloads travel between replicas.
//
// CRITICAL: State, Payload and Intent are sealed. Dispatch is by exhaustive
// type switch, and a payload or intent sent to the wrong strategy is
// reported as ErrTypeMismatch instead of being coerced.
//
// Deleted elements stay in a tombstone arena keyed by element id until
// Collect drops them below a causally stable Epoch.
package crdt
