package escrow

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/clock"
)

func TestSplit_RemainderToLowestActors(t *testing.T) {
	shares := Split(10, []clock.ActorID{"c", "a", "b"})
	assert.Equal(t, map[clock.ActorID]int64{"a": 4, "b": 3, "c": 3}, shares)

	assert.Equal(t, map[clock.ActorID]int64{"a": 1}, Split(1, []clock.ActorID{"a", "a"}), "duplicates collapse")
	assert.Empty(t, Split(5, nil))
}

func TestLedger_Scenario(t *testing.T) {
	l, err := NewLedger(100, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, int64(50), l.Available("A"))
	assert.Equal(t, int64(50), l.Available("B"))

	err = l.Consume("A", 80)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrEscrowExceeded)
	var ee *ExceededError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, int64(50), ee.Available)

	assert.True(t, IsExceeded(l.Consume("B", 70)))

	require.NoError(t, l.Consume("A", 40))
	require.NoError(t, l.Consume("B", 40))

	totals := l.Totals()
	assert.Equal(t, Totals{Confirmed: 100, Allocated: 100, Consumed: 80}, totals)
}

func TestLedger_UnknownActorRejected(t *testing.T) {
	l, err := NewLedger(10, "A")
	require.NoError(t, err)
	assert.ErrorIs(t, l.Consume("Z", 1), ErrEscrowExceeded)
	assert.ErrorIs(t, l.Refund("Z", 1), ErrUnknownActor)
	assert.ErrorIs(t, l.Consume("A", -1), ErrInvalidAmount)
}

func TestNewLedger_Invalid(t *testing.T) {
	_, err := NewLedger(-1, "A")
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = NewLedger(1, "")
	assert.ErrorIs(t, err, clock.ErrInvalidActor)
}

func TestLedger_RefundAndIsLow(t *testing.T) {
	l, err := NewLedger(100, "A")
	require.NoError(t, err)

	assert.False(t, l.IsLow("A", 20))
	require.NoError(t, l.Consume("A", 90))
	assert.True(t, l.IsLow("A", 20), "10 left of 100 is below 20%")

	require.NoError(t, l.Refund("A", 30))
	b, ok := l.Budget("A")
	require.True(t, ok)
	assert.Equal(t, int64(60), b.Consumed)

	require.NoError(t, l.Refund("A", 1000))
	b, _ = l.Budget("A")
	assert.Equal(t, int64(0), b.Consumed, "refund never goes below zero")
	assert.True(t, l.IsLow("nobody", 20))
}

func TestLedger_ConsumeNeverOverflows(t *testing.T) {
	l, err := NewLedger(100, "A")
	require.NoError(t, err)
	require.NoError(t, l.Consume("A", 1))

	var exceeded *ExceededError
	require.ErrorAs(t, l.Consume("A", math.MaxInt64), &exceeded)
	assert.Equal(t, int64(99), exceeded.Available)
	assert.Equal(t, Totals{Confirmed: 100, Allocated: 100, Consumed: 1}, l.Totals())

	require.NoError(t, l.Refund("A", math.MaxInt64))
	assert.Equal(t, int64(100), l.Available("A"))
}

func TestLedger_IsLowWithLargeAllocation(t *testing.T) {
	l, err := NewLedger(math.MaxInt64, "A")
	require.NoError(t, err)
	assert.False(t, l.IsLow("A", 20))
	assert.True(t, l.IsLow("A", 100))
	assert.False(t, l.IsLow("A", -5), "a negative percent is treated as zero")
}

func TestLedger_ConcurrentConsumeNeverOverspends(t *testing.T) {
	actors := []clock.ActorID{"a", "b", "c", "d", "e"}
	l, err := NewLedger(1003, actors...)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var admitted atomic.Int64
	for _, a := range actors {
		for g := 0; g < 4; g++ {
			wg.Add(1)
			go func(a clock.ActorID, g int) {
				defer wg.Done()
				for i := 0; i < 100; i++ {
					amount := int64(1 + (i+g)%7)
					if l.Consume(a, amount) == nil {
						admitted.Add(amount)
					}
					tot := l.Totals()
					assert.LessOrEqual(t, tot.Consumed, tot.Confirmed)
				}
			}(a, g)
		}
	}
	wg.Wait()

	tot := l.Totals()
	assert.Equal(t, admitted.Load(), tot.Consumed)
	assert.LessOrEqual(t, tot.Consumed, tot.Confirmed)
	for _, b := range l.Budgets() {
		assert.LessOrEqual(t, b.Consumed, b.Allocated, "actor %s", b.Actor)
	}
}

func TestLedger_CommitCarriesInFlightConsumption(t *testing.T) {
	l, err := NewLedger(100, "A", "B")
	require.NoError(t, err)
	require.NoError(t, l.Consume("A", 30))

	round := l.Begin()
	assert.Equal(t, map[clock.ActorID]int64{"A": 30, "B": 0}, round.Reported)

	// Consumption while the quorum round trip is in flight.
	require.NoError(t, l.Consume("A", 5))
	require.NoError(t, l.Consume("B", 10))

	// The quorum confirmed 30 consumed: 100 - 30 = 70 remains.
	res, err := l.Commit(round, 70)
	require.NoError(t, err)
	assert.Nil(t, res.Overdraft)
	assert.Equal(t, uint64(1), res.Generation)

	// pool = 70 - 15 = 55 split 28/27, plus each carry.
	assert.Equal(t, []Budget{
		{Actor: "A", Allocated: 5 + 28, Consumed: 5},
		{Actor: "B", Allocated: 10 + 27, Consumed: 10},
	}, res.Budgets)
	assert.Equal(t, Totals{Confirmed: 70, Allocated: 70, Consumed: 15}, l.Totals())
}

func TestLedger_CommitOverdraft(t *testing.T) {
	l, err := NewLedger(100, "A", "B")
	require.NoError(t, err)
	round := l.Begin()
	require.NoError(t, l.Consume("A", 20))

	res, err := l.Commit(round, 15)
	require.NoError(t, err)
	require.NotNil(t, res.Overdraft)
	assert.Equal(t, int64(5), res.Overdraft.Shortfall)
	assert.Equal(t, int64(0), l.Available("A"))
	assert.Equal(t, int64(0), l.Available("B"))
	assert.Len(t, l.Overdrafts(), 1)
}

func TestLedger_CommitClampsReportedConsumption(t *testing.T) {
	l, err := NewLedger(100, "A", "B")
	require.NoError(t, err)
	require.NoError(t, l.Consume("A", 20))

	round := l.Begin()
	round.Reported["A"] = math.MinInt64
	round.Reported["B"] = math.MaxInt64

	_, err = l.Commit(round, 100)
	require.NoError(t, err)
	// A's report is clamped to zero so all 20 carries; B has nothing to carry.
	assert.Equal(t, Totals{Confirmed: 100, Allocated: 100, Consumed: 20}, l.Totals())
	b, _ := l.Budget("A")
	assert.Equal(t, int64(20), b.Consumed)
}

func TestLedger_StaleRound(t *testing.T) {
	l, err := NewLedger(100, "A")
	require.NoError(t, err)
	round := l.Begin()

	_, err = l.ApplyReconciliation("A", 80)
	require.NoError(t, err)

	_, err = l.Commit(round, 50)
	assert.ErrorIs(t, err, ErrStaleRound)
	assert.Equal(t, int64(80), l.ConfirmedTotal(), "stale commit leaves ledger unchanged")
}

func TestLedger_ApplyReconciliationAddsActor(t *testing.T) {
	l, err := NewLedger(100, "A", "B")
	require.NoError(t, err)
	require.NoError(t, l.Consume("A", 50))

	res, err := l.ApplyReconciliation("C", 50)
	require.NoError(t, err)
	assert.Equal(t, []clock.ActorID{"A", "B", "C"}, l.Actors())
	assert.Equal(t, []Budget{
		{Actor: "A", Allocated: 17},
		{Actor: "B", Allocated: 17},
		{Actor: "C", Allocated: 16},
	}, res.Budgets)
	assert.Equal(t, uint64(1), l.Generation())
}

func TestRestore(t *testing.T) {
	l, err := Restore(100, []Budget{{Actor: "A", Allocated: 60, Consumed: 10}, {Actor: "B", Allocated: 40}})
	require.NoError(t, err)
	assert.Equal(t, int64(50), l.Available("A"))

	_, err = Restore(50, []Budget{{Actor: "A", Allocated: 60}})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Restore(50, []Budget{{Actor: "A", Allocated: 10, Consumed: 11}})
	assert.ErrorIs(t, err, ErrInvalidAmount)
	_, err = Restore(100, []Budget{{Actor: "A", Allocated: math.MaxInt64}, {Actor: "B", Allocated: math.MaxInt64}})
	assert.ErrorIs(t, err, ErrInvalidAmount, "allocation sum must not wrap")
}

func ExampleSplit() {
	shares := Split(100, []clock.ActorID{"b", "a", "c"})
	fmt.Println(shares["a"], shares["b"], shares["c"])
	// Output: 34 33 33
}
