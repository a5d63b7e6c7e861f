package crdt

import (
	"maps"
	"slices"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

// Vertex is one element of a replicated sequence. Its id is the stamp of
// the insert that created it; Origin is the element it was inserted after.
type Vertex struct {
	ID     clock.Stamp
	Origin clock.Stamp
	Value  ir.Value
}

// RGAState is a replicated growable array.
//
// Vertices form a tree rooted at the head (the zero Stamp). The sequence is
// the pre-order walk of that tree with siblings visited by descending id,
// so a newer insert at the same position lands first. Deleted vertices stay
// in place as tombstones. An insert whose origin has not arrived yet is kept
// and becomes reachable when the origin does.
type RGAState struct {
	vertices   map[clock.Stamp]Vertex
	tombstones arena
}

func newRGA() *RGAState {
	return &RGAState{vertices: map[clock.Stamp]Vertex{}, tombstones: arena{}}
}

func (*RGAState) Strategy() Strategy { return RGA }

func (s *RGAState) clone() State {
	return s.cloneRGA()
}

func (s *RGAState) cloneRGA() *RGAState {
	return &RGAState{vertices: maps.Clone(s.vertices), tombstones: s.tombstones.clone()}
}

// order returns every reachable vertex id, tombstones included, in sequence
// order.
func (s *RGAState) order() []clock.Stamp {
	children := make(map[clock.Stamp][]clock.Stamp, len(s.vertices))
	for id, v := range s.vertices {
		children[v.Origin] = append(children[v.Origin], id)
	}
	for origin := range children {
		slices.SortFunc(children[origin], func(a, b clock.Stamp) int { return b.Compare(a) })
	}

	out := make([]clock.Stamp, 0, len(s.vertices))
	stack := slices.Clone(children[clock.Stamp{}])
	slices.Reverse(stack)
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		out = append(out, id)
		kids := children[id]
		for i := len(kids) - 1; i >= 0; i-- {
			stack = append(stack, kids[i])
		}
	}
	return out
}

// Visible returns the ids of the visible elements in sequence order.
func (s *RGAState) Visible() []clock.Stamp {
	var out []clock.Stamp
	for _, id := range s.order() {
		if !s.tombstones.has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Elements returns the visible values in sequence order.
func (s *RGAState) Elements() []ir.Value {
	ids := s.Visible()
	out := make([]ir.Value, len(ids))
	for i, id := range ids {
		out[i] = s.vertices[id].Value
	}
	return out
}

// Len returns the number of visible elements.
func (s *RGAState) Len() int {
	return len(s.Visible())
}

// Vertex returns the vertex with the given id.
func (s *RGAState) Vertex(id clock.Stamp) (Vertex, bool) {
	v, ok := s.vertices[id]
	return v, ok
}

// Deleted reports whether id has been tombstoned.
func (s *RGAState) Deleted(id clock.Stamp) bool {
	return s.tombstones.has(id)
}

func (s *RGAState) insert(v Vertex) bool {
	if _, ok := s.vertices[v.ID]; ok {
		return false
	}
	v.Value = normalize(v.Value)
	s.vertices[v.ID] = v
	return true
}

func (s *RGAState) join(other State) {
	s.joinRGA(other.(*RGAState))
}

func (s *RGAState) joinRGA(o *RGAState) {
	for _, v := range o.vertices {
		s.insert(v)
	}
	s.tombstones.join(o.tombstones)
}

func (s *RGAState) apply(op Operation) (bool, error) {
	switch p := op.Payload.(type) {
	case Insert:
		if op.Stamp == (clock.Stamp{}) || op.Stamp == p.Origin {
			return false, ErrInvalidOperation
		}
		return s.insert(Vertex{ID: op.Stamp, Origin: p.Origin, Value: p.Value}), nil
	case Delete:
		return s.tombstones.bury(p.Target, op.Stamp), nil
	}
	return false, ErrTypeMismatch
}

func (s *RGAState) collect(epoch clock.Epoch) int {
	return s.collectExcept(epoch, nil)
}

// collectExcept removes tombstoned leaves deleted below the epoch, repeating
// until no more qualify. Vertices in pinned are kept.
func (s *RGAState) collectExcept(epoch clock.Epoch, pinned map[clock.Stamp]struct{}) int {
	n := 0
	for {
		parents := make(map[clock.Stamp]struct{}, len(s.vertices))
		for _, v := range s.vertices {
			parents[v.Origin] = struct{}{}
		}
		removed := 0
		for id, at := range s.tombstones {
			if _, ok := s.vertices[id]; !ok || !epoch.Covers(at) {
				continue
			}
			if _, ok := parents[id]; ok {
				continue
			}
			if _, ok := pinned[id]; ok {
				continue
			}
			delete(s.vertices, id)
			delete(s.tombstones, id)
			removed++
		}
		if removed == 0 {
			return n
		}
		n += removed
	}
}

func (s *RGAState) read() ir.Value {
	return ir.Array(s.Elements())
}

func (s *RGAState) encode() ir.Value {
	ids := sortedStamps(maps.Keys(s.vertices))
	verts := make(ir.Array, len(ids))
	for i, id := range ids {
		v := s.vertices[id]
		verts[i] = ir.Object{"id": id.Value(), "origin": originValue(v.Origin), "value": v.Value}
	}
	return ir.Object{"vertices": verts, "tombstones": s.tombstones.encode()}
}

func originValue(origin clock.Stamp) ir.Value {
	if origin.IsZero() {
		return ir.Null{}
	}
	return origin.Value()
}
