package crdt

import "github.com/roach88/concord/internal/clock"

// LatestTime returns the greatest Lamport time of any stamp held by state,
// or 0 if it holds none. A replica that merges a remote state advances its
// clock past this so its next local write is ordered after everything it
// has seen. Counters and multi-value registers carry no Lamport stamps.
func LatestTime(state State) int64 {
	var latest int64
	see := func(s clock.Stamp) {
		latest = max(latest, s.Time)
	}

	switch s := state.(type) {
	case *ImmutableState:
		if s.set {
			see(s.stamp)
		}
	case *LWWState:
		if s.set {
			see(s.stamp)
		}
	case *ORSetState:
		for _, e := range s.elements {
			for tag := range e.tags {
				see(tag)
			}
		}
		s.tombstones.each(see)
	case *RGAState:
		latestRGA(s, see)
	case *TextState:
		latestRGA(s.chars, see)
		for id := range s.marks {
			see(id)
		}
	}
	return latest
}

func latestRGA(s *RGAState, see func(clock.Stamp)) {
	for id := range s.vertices {
		see(id)
	}
	s.tombstones.each(see)
}

// each visits every id and deletion stamp in the arena.
func (a arena) each(fn func(clock.Stamp)) {
	for id, at := range a {
		fn(id)
		fn(at)
	}
}
