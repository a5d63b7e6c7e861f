// Package clock provides the logical time every replicated operation carries.
//
// From Lamport (1978), two rules govern the clock:
//
//	Tick (local event): increment before stamping a local operation.
//	Receive (remote event): on an operation stamped t, set the clock to
//	     max(own, t) + 1.
//
// A Stamp pairs a Lamport time with the actor that produced it. Stamps are
// totally ordered by (Time, Actor), so ties between actors are broken the
// same way on every replica without coordination. Because each actor's
// clock strictly increases, a Stamp also uniquely names the operation that
// produced it, and CRDT element ids (set tags, sequence vertices, marks)
// are Stamps.
//
// VectorClock tracks causal history for multi-value registers, and Epoch
// carries the globally agreed horizon below which tombstones may be
// collected.
package clock
