package evolution

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/ir"
	"github.com/roach88/concord/internal/testutil"
)

func TestCheck_Table(t *testing.T) {
	safePairs := map[Transition]bool{
		{crdt.Immutable, crdt.LWW}:  true,
		{crdt.MVRegister, crdt.LWW}: true,
		{crdt.RGA, crdt.Peritext}:   true,
	}
	for _, from := range crdt.Strategies() {
		for _, to := range crdt.Strategies() {
			want := Unsafe
			if from == to || safePairs[Transition{from, to}] {
				want = Safe
			}
			assert.Equal(t, want, Check(from, to), "%s -> %s", from, to)
		}
	}
	assert.Equal(t, Unsafe, Check("bogus", crdt.LWW))
	assert.Equal(t, Unsafe, Check(crdt.LWW, crdt.Immutable))
}

func TestMigrate_ImmutableToLWW(t *testing.T) {
	a := testutil.NewReplica("A", crdt.Immutable)
	a.MustLocal(crdt.Set{Value: ir.String("first")})

	lww, err := Migrate(a.State, crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, crdt.LWW, lww.Strategy())
	assert.Equal(t, ir.String("first"), crdt.Read(lww))
	assert.Equal(t, crdt.Immutable, a.State.Strategy(), "input untouched")

	// Any write after migration wins, even one with a tiny timestamp.
	_, err = crdt.Apply(lww, crdt.Operation{
		Actor: "B", Stamp: clock.Stamp{Time: 1, Actor: "B"}, Field: "f",
		Payload: crdt.Assign{Value: ir.String("second")},
	})
	require.NoError(t, err)
	assert.Equal(t, ir.String("second"), crdt.Read(lww))
}

func TestMigrate_ImmutableEarliestStaysWinner(t *testing.T) {
	early := testutil.NewReplica("B", crdt.Immutable)
	early.MustLocal(crdt.Set{Value: ir.String("early")})
	late := testutil.NewReplica("A", crdt.Immutable)
	late.Clock.Set(5)
	late.MustLocal(crdt.Set{Value: ir.String("late")})

	me, err := Migrate(early.State, crdt.LWW)
	require.NoError(t, err)
	ml, err := Migrate(late.State, crdt.LWW)
	require.NoError(t, err)
	merged, err := crdt.Merge(ml, me)
	require.NoError(t, err)
	assert.Equal(t, ir.String("early"), crdt.Read(merged))
}

func TestMigrate_MVToLWW(t *testing.T) {
	mv := crdt.MustNew(crdt.MVRegister)
	for _, e := range []struct {
		actor clock.ActorID
		vc    clock.VectorClock
		value string
	}{
		{"A", clock.VectorClock{"A": 2}, "x"},
		{"B", clock.VectorClock{"B": 1}, "y"},
	} {
		_, err := crdt.Apply(mv, crdt.Operation{
			Actor: e.actor, Stamp: clock.Stamp{Time: 1, Actor: e.actor}, Field: "f",
			Payload: crdt.MVAssign{Value: ir.String(e.value), Clock: e.vc},
		})
		require.NoError(t, err)
	}

	lww, err := Migrate(mv, crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, ir.String("x"), crdt.Read(lww), "greatest clock sum wins")

	empty, err := Migrate(crdt.MustNew(crdt.MVRegister), crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, ir.Null{}, crdt.Read(empty))
}

func TestMigrate_RGAToPeritext(t *testing.T) {
	r := testutil.NewReplica("A", crdt.RGA)
	r.MustLocal(crdt.InsertAt{Index: 0, Value: ir.String("h")})
	r.MustLocal(crdt.InsertAt{Index: 1, Value: ir.String("i")})

	text, err := Migrate(r.State, crdt.Peritext)
	require.NoError(t, err)
	ts := text.(*crdt.TextState)
	assert.Equal(t, "hi", ts.Text())
	assert.Empty(t, ts.Marks())
	assert.Equal(t, r.State.(*crdt.RGAState).Visible(), ts.Chars().Visible())
}

func TestMigrate_Unsafe(t *testing.T) {
	_, err := Migrate(crdt.MustNew(crdt.LWW), crdt.Immutable)
	var locked *LockedError
	require.ErrorAs(t, err, &locked)
	assert.Equal(t, crdt.LWW, locked.From)
	assert.Equal(t, crdt.Immutable, locked.To)
	assert.True(t, IsSchemaLocked(err))
}

func TestMigrate_Identity(t *testing.T) {
	r := testutil.NewReplica("A", crdt.ORSet)
	r.MustLocal(crdt.Add{Value: ir.Int(1)})
	out, err := Migrate(r.State, crdt.ORSet)
	require.NoError(t, err)
	assert.True(t, crdt.Equal(r.State, out))
}

func TestTranslate_LegacyImmutableWriteKeepsEarliestWinner(t *testing.T) {
	b := testutil.NewReplica("B", crdt.Immutable)
	b.Clock.Set(4)
	fromB := b.MustLocal(crdt.Set{Value: ir.String("b")})
	c := testutil.NewReplica("C", crdt.Immutable)
	c.Clock.Set(2)
	fromC := c.MustLocal(crdt.Set{Value: ir.String("c")})

	lww, err := Migrate(c.State, crdt.LWW)
	require.NoError(t, err)

	late, err := Translate(fromB, crdt.Immutable, crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, 1, late.Revision)
	assert.Equal(t, clock.Stamp{Time: -5, Actor: clock.ActorID("B").Invert()}, late.Stamp)

	changed, err := crdt.Apply(lww, late)
	require.NoError(t, err)
	assert.False(t, changed, "the later immutable write loses after migration too")
	assert.Equal(t, ir.String("c"), crdt.Read(lww))

	again, err := Translate(fromC, crdt.Immutable, crdt.LWW)
	require.NoError(t, err)
	changed, err = crdt.Apply(lww, again)
	require.NoError(t, err)
	assert.False(t, changed, "redelivery of the winner is a no-op")
}

func TestTranslate_MVAssignBecomesAssign(t *testing.T) {
	op := crdt.Operation{
		Actor: "A", Stamp: clock.Stamp{Time: 3, Actor: "A"}, Field: "f",
		Payload: crdt.MVAssign{Value: ir.Int(7), Clock: clock.VectorClock{"A": 2, "B": 1}},
	}
	out, err := Translate(op, crdt.MVRegister, crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, crdt.Assign{Value: ir.Int(7)}, out.Payload)
	assert.Equal(t, int64(3)-mvEpoch, out.Stamp.Time)
}

func TestTranslate_Rejects(t *testing.T) {
	assign := crdt.Operation{Actor: "A", Stamp: clock.Stamp{Time: 1, Actor: "A"}, Field: "f", Payload: crdt.Assign{Value: ir.Int(1)}}

	_, err := Translate(assign, crdt.LWW, crdt.Immutable)
	assert.True(t, IsSchemaLocked(err))

	_, err = Translate(assign, crdt.RGA, crdt.Peritext)
	assert.ErrorIs(t, err, crdt.ErrTypeMismatch)

	same, err := Translate(assign, crdt.LWW, crdt.LWW)
	require.NoError(t, err)
	assert.Equal(t, assign, same)
}

func TestValidate_JoinsErrors(t *testing.T) {
	err := Validate([]Plan{
		{Field: "a", From: crdt.LWW, To: crdt.Immutable},
		{Field: "b", From: crdt.Immutable, To: crdt.LWW},
		{Field: "c", From: crdt.PNCounter, To: crdt.LWW},
		{Field: "b", From: crdt.Immutable, To: crdt.LWW},
		{Field: "d", From: "tree", To: crdt.LWW},
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaLocked)
	assert.ErrorIs(t, err, crdt.ErrUnknownStrategy)
	assert.Contains(t, err.Error(), `field "a"`)
	assert.Contains(t, err.Error(), `field "c"`)
	assert.Contains(t, err.Error(), `field "b": more than one migration`)

	assert.NoError(t, Validate([]Plan{{Field: "b", From: crdt.Immutable, To: crdt.LWW}}))
}

func TestValidate_ProbesCustomFunctions(t *testing.T) {
	builtin := func(s crdt.State) (crdt.State, error) { return Migrate(s, crdt.LWW) }
	require.NoError(t, Validate([]Plan{{Field: "v", From: crdt.MVRegister, To: crdt.LWW, Func: builtin}}))

	calls := 0
	flaky := func(s crdt.State) (crdt.State, error) {
		calls++
		return crdt.NewLWW(ir.Int(int64(calls)), clock.Stamp{Time: 1, Actor: "m"}), nil
	}
	err := Validate([]Plan{{Field: "v", From: crdt.MVRegister, To: crdt.LWW, Func: flaky}})
	assert.ErrorIs(t, err, ErrNondeterministic)

	// Deterministic but picks the smallest value, which a merge can change
	// in a way the lww merge cannot follow.
	smallest := func(s crdt.State) (crdt.State, error) {
		entries := s.(*crdt.MVRegisterState).Entries()
		if len(entries) == 0 {
			return crdt.MustNew(crdt.LWW), nil
		}
		best := entries[0].Value
		for _, e := range entries[1:] {
			if ir.Compare(e.Value, best) < 0 {
				best = e.Value
			}
		}
		return crdt.NewLWW(best, clock.Stamp{Time: 1, Actor: "m"}), nil
	}
	err = Validate([]Plan{{Field: "v", From: crdt.MVRegister, To: crdt.LWW, Func: smallest}})
	assert.ErrorIs(t, err, ErrNondeterministic)

	wrongType := func(s crdt.State) (crdt.State, error) { return crdt.MustNew(crdt.ORSet), nil }
	err = Validate([]Plan{{Field: "v", From: crdt.MVRegister, To: crdt.LWW, Func: wrongType}})
	assert.ErrorIs(t, err, crdt.ErrTypeMismatch)

	boom := errors.New("boom")
	failing := func(crdt.State) (crdt.State, error) { return nil, boom }
	assert.ErrorIs(t, Validate([]Plan{{Field: "v", From: crdt.MVRegister, To: crdt.LWW, Func: failing}}), boom)
}

func TestPlan_ApplyChecksSource(t *testing.T) {
	p := Plan{Field: "f", From: crdt.Immutable, To: crdt.LWW}
	_, err := p.Apply(crdt.MustNew(crdt.LWW))
	assert.ErrorIs(t, err, crdt.ErrTypeMismatch)
}
