// Package engine hosts the replicated documents of one actor.
//
// The engine is the boundary between concord and the outside world: it
// creates and opens documents, routes local mutations and inbound remote
// operations to them, runs escrow reconciliation, and persists snapshots
// and the operation log through internal/store.
//
// ARCHITECTURE:
//
// Inbound Event Loop:
// Transport goroutines may either call ReceiveOperation directly or hand
// events to Enqueue and let a single Run goroutine merge them. Merges are
// order-insensitive, so the queue exists for back-pressure isolation, not
// for correctness.
//
// Event Processing Flow:
//  1. Remote operations and snapshots are enqueued (FIFO)
//  2. Engine.Run() dequeues events one at a time
//  3. processEvent() routes to the document
//  4. Changed operations are appended to the SQLite log (idempotent by id)
//  5. Eventual constraint violations go to the ViolationHandler
//
// CRITICAL PATTERNS:
//
// Logical Time:
// One Lamport clock per engine, shared by every document it hosts. Remote
// stamps raise it; wall-clock time is used only for metrics.
//
// Remote Operations Are Never Rejected:
// An operation that applies is kept even if it breaks an eventual
// constraint. Only operations that cannot be routed (unknown document,
// unknown field, wrong strategy) return errors.
//
// Metrics:
// Counters and histograms are created with promauto against the
// Registerer given to WithRegisterer; without one they stay unregistered.
package engine
