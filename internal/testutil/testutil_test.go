package testutil

import (
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/crdt"
)

func TestSequenceIDGenerator_Predictable(t *testing.T) {
	g := NewSequenceIDGenerator("acct")
	assert.Equal(t, "acct-0001", g.Generate())
	assert.Equal(t, "acct-0002", g.Generate())

	g.Reset()
	assert.Equal(t, "acct-0001", g.Generate())
	assert.Equal(t, "doc-0001", NewSequenceIDGenerator("").Generate())
}

func TestSequenceIDGenerator_ConcurrentUnique(t *testing.T) {
	g := NewSequenceIDGenerator("")
	var wg sync.WaitGroup
	ids := make(chan string, 200)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				ids <- g.Generate()
			}
		}()
	}
	wg.Wait()
	close(ids)

	seen := map[string]bool{}
	for id := range ids {
		require.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
	assert.Len(t, seen, 200)
}

func TestGenerateHistory_Deterministic(t *testing.T) {
	h1 := GenerateHistory(rand.New(rand.NewSource(11)), crdt.ORSet, 3, 30)
	h2 := GenerateHistory(rand.New(rand.NewSource(11)), crdt.ORSet, 3, 30)

	require.Equal(t, len(h1.Ops), len(h2.Ops))
	for i := range h1.Ops {
		b1, err := crdt.MarshalOperation(h1.Ops[i])
		require.NoError(t, err)
		b2, err := crdt.MarshalOperation(h2.Ops[i])
		require.NoError(t, err)
		assert.Equal(t, string(b1), string(b2))
	}
}

func TestRandomIntent_ValidForEveryStrategy(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for _, s := range crdt.Strategies() {
		rep := NewReplica("a", s)
		for i := 0; i < 50; i++ {
			intent := RandomIntent(rng, rep.State)
			require.NotNil(t, intent, "strategy %s", s)
			_, err := rep.Local(intent)
			require.NoError(t, err, "strategy %s intent %s", s, intent.Name())
		}
	}
}
