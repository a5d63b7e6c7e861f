package crdt

import (
	"iter"
	"maps"
	"slices"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// arena maps a deleted element id to the stamp of its earliest deletion.
// Keeping the minimum makes concurrent and repeated deletes commute.
type arena map[clock.Stamp]clock.Stamp

// bury records a deletion of id at stamp and reports whether the arena
// changed.
func (a arena) bury(id, at clock.Stamp) bool {
	if cur, ok := a[id]; ok && !at.Less(cur) {
		return false
	}
	a[id] = at
	return true
}

func (a arena) has(id clock.Stamp) bool {
	_, ok := a[id]
	return ok
}

func (a arena) join(o arena) {
	for id, at := range o {
		a.bury(id, at)
	}
}

func (a arena) clone() arena {
	return maps.Clone(a)
}

func (a arena) encode() ir.Array {
	ids := sortedStamps(maps.Keys(a))
	out := make(ir.Array, len(ids))
	for i, id := range ids {
		out[i] = ir.Object{"id": id.Value(), "deleted": a[id].Value()}
	}
	return out
}

func sortedStamps(seq iter.Seq[clock.Stamp]) []clock.Stamp {
	return slices.SortedFunc(seq, clock.Stamp.Compare)
}

func stampArray(ids []clock.Stamp) ir.Array {
	out := make(ir.Array, len(ids))
	for i, id := range ids {
		out[i] = id.Value()
	}
	return out
}
