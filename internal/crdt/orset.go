package crdt

import (
	"maps"
	"slices"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/ir"
)

type orEntry struct {
	value ir.Value
	tags  map[clock.Stamp]struct{}
}

// ORSetState is an add-wins observed-remove set.
//
// Each add mints a unique tag (the operation stamp). A remove tombstones
// only the tags its issuer had observed, so an add concurrent with a remove
// leaves an untombstoned tag and the element stays visible.
type ORSetState struct {
	elements   map[string]*orEntry
	tombstones arena
}

func newORSet() *ORSetState {
	return &ORSetState{elements: map[string]*orEntry{}, tombstones: arena{}}
}

func (*ORSetState) Strategy() Strategy { return ORSet }

// Contains reports whether v is visible.
func (s *ORSetState) Contains(v ir.Value) bool {
	e, ok := s.elements[ir.Key(normalize(v))]
	return ok && s.live(e)
}

// LiveTags returns the untombstoned tags of v in stamp order.
func (s *ORSetState) LiveTags(v ir.Value) []clock.Stamp {
	e, ok := s.elements[ir.Key(normalize(v))]
	if !ok {
		return nil
	}
	var tags []clock.Stamp
	for tag := range e.tags {
		if !s.tombstones.has(tag) {
			tags = append(tags, tag)
		}
	}
	slices.SortFunc(tags, clock.Stamp.Compare)
	return tags
}

// Len returns the number of visible elements.
func (s *ORSetState) Len() int {
	n := 0
	for _, e := range s.elements {
		if s.live(e) {
			n++
		}
	}
	return n
}

func (s *ORSetState) live(e *orEntry) bool {
	for tag := range e.tags {
		if !s.tombstones.has(tag) {
			return true
		}
	}
	return false
}

func (s *ORSetState) clone() State {
	c := &ORSetState{
		elements:   make(map[string]*orEntry, len(s.elements)),
		tombstones: s.tombstones.clone(),
	}
	for k, e := range s.elements {
		c.elements[k] = &orEntry{value: e.value, tags: maps.Clone(e.tags)}
	}
	return c
}

func (s *ORSetState) addTag(v ir.Value, tag clock.Stamp) bool {
	v = normalize(v)
	key := ir.Key(v)
	e, ok := s.elements[key]
	if !ok {
		e = &orEntry{value: v, tags: map[clock.Stamp]struct{}{}}
		s.elements[key] = e
	}
	if _, seen := e.tags[tag]; seen {
		return false
	}
	e.tags[tag] = struct{}{}
	return true
}

func (s *ORSetState) join(other State) {
	o := other.(*ORSetState)
	for _, e := range o.elements {
		for tag := range e.tags {
			s.addTag(e.value, tag)
		}
	}
	s.tombstones.join(o.tombstones)
}

func (s *ORSetState) apply(op Operation) (bool, error) {
	switch p := op.Payload.(type) {
	case SetAdd:
		return s.addTag(p.Value, op.Stamp), nil
	case SetRemove:
		changed := false
		for _, tag := range p.Tags {
			if s.tombstones.bury(tag, op.Stamp) {
				changed = true
			}
		}
		return changed, nil
	}
	return false, ErrTypeMismatch
}

// collect drops tags tombstoned below the epoch together with their
// tombstones. Elements left without tags disappear.
func (s *ORSetState) collect(epoch clock.Epoch) int {
	n := 0
	for key, e := range s.elements {
		for tag := range e.tags {
			at, dead := s.tombstones[tag]
			if dead && epoch.Covers(at) {
				delete(e.tags, tag)
				delete(s.tombstones, tag)
				n++
			}
		}
		if len(e.tags) == 0 {
			delete(s.elements, key)
		}
	}
	return n
}

func (s *ORSetState) read() ir.Value {
	out := ir.Array{}
	for _, key := range slices.Sorted(maps.Keys(s.elements)) {
		if e := s.elements[key]; s.live(e) {
			out = append(out, e.value)
		}
	}
	return out
}

func (s *ORSetState) encode() ir.Value {
	elems := ir.Array{}
	for _, key := range slices.Sorted(maps.Keys(s.elements)) {
		e := s.elements[key]
		elems = append(elems, ir.Object{
			"value": e.value,
			"tags":  stampArray(sortedStamps(maps.Keys(e.tags))),
		})
	}
	return ir.Object{"elements": elems, "tombstones": s.tombstones.encode()}
}
