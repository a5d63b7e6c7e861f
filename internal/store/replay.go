package store

import (
	"context"
	"fmt"

	"github.com/roach88/concord/internal/crdt"
)

// Applier receives replayed operations, typically (*document.Document).ApplyRemote
// wrapped to drop the outcome.
type Applier func(op crdt.Operation) (changed bool, err error)

// ReplayResult summarises a replay.
type ReplayResult struct {
	// Total is the number of operations read from the log.
	Total int
	// Changed counts operations that changed the target state. Operations
	// already reflected in a loaded snapshot report unchanged.
	Changed int
	// LastTime is the greatest Lamport time replayed.
	LastTime int64
}

// Replay feeds the operation log of documentID with time greater than after
// into apply, in deterministic order. Replay stops at the first error.
//
// Because operations are idempotent, replaying from 0 on top of a snapshot
// is always safe; after only saves work.
func (s *Store) Replay(ctx context.Context, documentID string, after int64, apply Applier) (ReplayResult, error) {
	ops, err := s.ReadOperationsSince(ctx, documentID, after)
	if err != nil {
		return ReplayResult{}, fmt.Errorf("replay %s: %w", documentID, err)
	}

	var res ReplayResult
	for _, op := range ops {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		changed, err := apply(op)
		if err != nil {
			return res, fmt.Errorf("replay %s: operation %s on %q: %w", documentID, op.Stamp, op.Field, err)
		}
		res.Total++
		if changed {
			res.Changed++
		}
		res.LastTime = max(res.LastTime, op.Stamp.Time)
	}
	return res, nil
}
