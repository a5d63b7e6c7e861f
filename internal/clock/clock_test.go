package clock

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLamport_TickIncrements(t *testing.T) {
	c := NewLamport()
	assert.Equal(t, int64(1), c.Tick())
	assert.Equal(t, int64(2), c.Tick())
	assert.Equal(t, int64(2), c.Value())
}

func TestLamport_Receive(t *testing.T) {
	c := NewLamportAt(3)
	assert.Equal(t, int64(11), c.Receive(10), "max(3, 10) + 1")
	assert.Equal(t, int64(12), c.Receive(5), "max(11, 5) + 1")
}

func TestLamport_Observe(t *testing.T) {
	c := NewLamportAt(4)
	c.Observe(2)
	assert.Equal(t, int64(4), c.Value())
	c.Observe(9)
	assert.Equal(t, int64(9), c.Value())
	assert.Equal(t, int64(10), c.Tick())
}

func TestLamport_ThreadSafe(t *testing.T) {
	c := NewLamport()
	const goroutines = 50
	const calls = 100

	var wg sync.WaitGroup
	out := make(chan int64, goroutines*calls)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < calls; j++ {
				if j%2 == 0 {
					out <- c.Tick()
				} else {
					out <- c.Receive(int64(i))
				}
			}
		}(i)
	}
	wg.Wait()
	close(out)

	seen := make(map[int64]bool)
	for v := range out {
		assert.False(t, seen[v], "time %d issued twice", v)
		seen[v] = true
	}
	assert.Len(t, seen, goroutines*calls)
}

func TestStamp_TotalOrder(t *testing.T) {
	a := Stamp{Time: 5, Actor: "a"}
	b := Stamp{Time: 5, Actor: "b"}
	c := Stamp{Time: 6, Actor: "a"}

	assert.True(t, a.Less(b), "tie broken by actor")
	assert.True(t, b.Less(c), "time dominates actor")
	assert.Equal(t, 0, a.Compare(a))
	assert.Equal(t, b, MaxStamp(a, b))
	assert.Equal(t, a, MinStamp(b, a))
	assert.True(t, Stamp{}.IsZero())
	assert.True(t, Stamp{}.Less(a))
}

func TestStamp_ValueRoundTrip(t *testing.T) {
	s := Stamp{Time: 42, Actor: "replica-1"}
	back, err := StampFromValue(s.Value())
	require.NoError(t, err)
	assert.Equal(t, s, back)

	_, err = StampFromValue(nil)
	assert.Error(t, err)
}

func TestActorID_Validate(t *testing.T) {
	assert.NoError(t, ActorID("alice").Validate())
	assert.ErrorIs(t, ActorID("").Validate(), ErrInvalidActor)
	assert.ErrorIs(t, ActorID("a\x00b").Validate(), ErrInvalidActor)
	assert.ErrorIs(t, ActorID("\xff").Validate(), ErrInvalidActor)
}

func TestActorID_InvertReversesOrder(t *testing.T) {
	ids := []ActorID{"a", "ab", "abc", "b", "B", "zz", "été", "a\x7f", "a\x01"}
	for _, x := range ids {
		for _, y := range ids {
			if x.Compare(y) < 0 {
				assert.Greater(t, x.Invert().Compare(y.Invert()), 0, "%q < %q", x, y)
			}
		}
		assert.NoError(t, x.Invert().Validate())
	}

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 1000; i++ {
		x, y := randomActor(rng), randomActor(rng)
		want := x.Compare(y)
		assert.Equal(t, -want, x.Invert().Compare(y.Invert()), "%q vs %q", x, y)
	}
}

func randomActor(rng *rand.Rand) ActorID {
	n := 1 + rng.Intn(4)
	b := make([]byte, n)
	for i := range b {
		b[i] = byte('a' + rng.Intn(3))
	}
	return ActorID(b)
}

func TestVectorClock_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b VectorClock
		want Ordering
	}{
		{"equal empty", VectorClock{}, VectorClock{}, Equal},
		{"zero entries ignored", VectorClock{"a": 0}, VectorClock{}, Equal},
		{"before", VectorClock{"a": 1}, VectorClock{"a": 2}, Before},
		{"after", VectorClock{"a": 2, "b": 1}, VectorClock{"a": 2}, After},
		{"concurrent", VectorClock{"a": 1}, VectorClock{"b": 1}, Concurrent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.a.Compare(tt.b))
		})
	}
}

func TestVectorClock_MergeIncrement(t *testing.T) {
	a := VectorClock{"a": 2, "b": 1}
	b := VectorClock{"b": 3, "c": 1}

	m := a.Merge(b)
	assert.Equal(t, VectorClock{"a": 2, "b": 3, "c": 1}, m)
	assert.Equal(t, VectorClock{"a": 2, "b": 1}, a, "merge must not mutate receiver")

	inc := m.Increment("a")
	assert.True(t, inc.Dominates(m))
	assert.False(t, m.Dominates(m))
	assert.Equal(t, int64(7), inc.Sum())
	assert.Equal(t, []ActorID{"a", "b", "c"}, inc.Actors())
}

func TestVectorClock_ValueRoundTrip(t *testing.T) {
	vc := VectorClock{"x": 3, "y": 1, "z": 0}
	back, err := VectorClockFromValue(vc.Value())
	require.NoError(t, err)
	assert.Equal(t, VectorClock{"x": 3, "y": 1}, back)
	assert.Equal(t, `{"x":3,"y":1}`, vc.Key())
}

func TestEpoch_Covers(t *testing.T) {
	e := Epoch{Horizon: 10}
	assert.True(t, e.Covers(Stamp{Time: 9, Actor: "a"}))
	assert.False(t, e.Covers(Stamp{Time: 10, Actor: "a"}))
	assert.False(t, Epoch{}.Covers(Stamp{Time: 1, Actor: "a"}))
}
