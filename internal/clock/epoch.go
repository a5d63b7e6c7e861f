package clock

// Epoch is a globally agreed garbage-collection horizon.
//
// Operations stamped below Horizon are causally stable: every replica has
// observed them and no replica can still issue an operation concurrent with
// them. A tombstone deleted below the horizon can therefore no longer be
// referenced by an unseen operation.
type Epoch struct {
	Horizon int64
}

// Covers reports whether s lies strictly below the horizon.
func (e Epoch) Covers(s Stamp) bool {
	return s.Time < e.Horizon
}
