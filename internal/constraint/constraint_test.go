package constraint

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/clock"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/escrow"
	"github.com/roach88/concord/internal/ir"
	"github.com/roach88/concord/internal/testutil"
)

type stateMap map[string]crdt.State

func (m stateMap) State(field string) (crdt.State, bool) {
	s, ok := m[field]
	return s, ok
}

var strategies = map[string]crdt.Strategy{
	"id":       crdt.Immutable,
	"title":    crdt.LWW,
	"balance":  crdt.PNCounter,
	"credit":   crdt.PNCounter,
	"tags":     crdt.ORSet,
	"items":    crdt.RGA,
	"assignee": crdt.MVRegister,
}

func TestRegister_Classification(t *testing.T) {
	tests := []struct {
		name    string
		decl    Declaration
		wantErr bool
	}{
		{"immutable on immutable", Immutable("id"), false},
		{"immutable on lww", Immutable("title"), true},
		{"non_negative on counter", NonNegative("balance"), false},
		{"non_negative on set", NonNegative("tags"), true},
		{"unique on rga", UniqueElements("items"), false},
		{"unique on or_set", UniqueElements("tags"), true},
		{"max on or_set", MaxElements("tags", 3), false},
		{"single value on mv", SingleValue("assignee"), false},
		{"unknown field", Immutable("missing"), true},
		{"eventual without predicate", Declaration{Name: "x", Category: Eventual, Fields: []string{"title"}}, true},
		{"structural without strategies", Declaration{Name: "x", Category: Structural, Fields: []string{"title"}}, true},
		{"strong on lww", Declaration{
			Name: "x", Category: Strong, Fields: []string{"title"},
			Cost: func(crdt.Intent) int64 { return 1 },
		}, true},
		{"unknown category", Declaration{Name: "x", Category: "weak", Fields: []string{"title"}}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEngine().Register(tt.decl, strategies)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrMisclassified)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Immutable("id"), strategies))
	assert.ErrorIs(t, e.Register(Immutable("id"), strategies), ErrMisclassified)
}

func TestRegister_OneEscrowFieldPerDocument(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(NonNegative("balance"), strategies))
	assert.ErrorIs(t, e.Register(NonNegative("credit"), strategies), ErrMisclassified)
	assert.Equal(t, "balance", e.EscrowField())
}

func TestAdmit_ChargesDecrements(t *testing.T) {
	ledger, err := escrow.NewLedger(100, "A", "B")
	require.NoError(t, err)
	e := NewEngine(WithLedger(ledger))
	require.NoError(t, e.Register(NonNegative("balance"), strategies))

	_, err = e.Admit(context.Background(), "A", "balance", crdt.Decrement{Amount: 80})
	assert.True(t, escrow.IsExceeded(err))
	assert.Equal(t, int64(50), ledger.Available("A"))

	adm, err := e.Admit(context.Background(), "A", "balance", crdt.Decrement{Amount: 40})
	require.NoError(t, err)
	assert.Equal(t, int64(40), adm.Charged)
	assert.Equal(t, int64(10), ledger.Available("A"))

	adm, err = e.Admit(context.Background(), "A", "balance", crdt.Increment{Amount: 1000})
	require.NoError(t, err)
	assert.Zero(t, adm.Charged)

	// Unguarded fields are free.
	_, err = e.Admit(context.Background(), "A", "title", crdt.Set{Value: ir.String("x")})
	assert.NoError(t, err)
}

func TestAdmit_Release(t *testing.T) {
	ledger, err := escrow.NewLedger(10, "A")
	require.NoError(t, err)
	e := NewEngine(WithLedger(ledger))
	require.NoError(t, e.Register(NonNegative("balance"), strategies))

	adm, err := e.Admit(context.Background(), "A", "balance", crdt.Decrement{Amount: 7})
	require.NoError(t, err)
	require.NoError(t, e.Release(adm))
	assert.Equal(t, int64(10), ledger.Available("A"))
}

func TestAdmit_NoLedgerRejects(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(NonNegative("balance"), strategies))

	_, err := e.Admit(context.Background(), "A", "balance", crdt.Decrement{Amount: 1})
	assert.ErrorIs(t, err, escrow.ErrEscrowExceeded)
}

func TestAdmit_ConcurrentNeverOverspends(t *testing.T) {
	ledger, err := escrow.NewLedger(100, "A")
	require.NoError(t, err)
	e := NewEngine(WithLedger(ledger))
	require.NoError(t, e.Register(NonNegative("balance"), strategies))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		admitted int64
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if adm, err := e.Admit(context.Background(), "A", "balance", crdt.Decrement{Amount: 3}); err == nil {
				mu.Lock()
				admitted += adm.Charged
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(99), admitted)
	assert.Equal(t, int64(1), ledger.Available("A"))
}

func TestValidate_UniqueAfterConcurrentInsert(t *testing.T) {
	a := testutil.NewReplica("A", crdt.RGA)
	b := testutil.NewReplica("B", crdt.RGA)
	opA := a.MustLocal(crdt.InsertAt{Index: 0, Value: ir.String("milk")})
	opB := b.MustLocal(crdt.InsertAt{Index: 0, Value: ir.String("milk")})
	_, err := a.Deliver(opB)
	require.NoError(t, err)
	_, err = b.Deliver(opA)
	require.NoError(t, err)

	e := NewEngine()
	require.NoError(t, e.Register(UniqueElements("items"), strategies))

	got := e.Validate(stateMap{"items": a.State}, "items")
	require.Len(t, got, 1)
	assert.Equal(t, Violation{
		Category:    Eventual,
		Constraint:  "items.unique",
		Field:       "items",
		Description: `duplicate element "milk" in items`,
	}, got[0])

	// Untouched fields are not evaluated.
	assert.Empty(t, e.Validate(stateMap{"items": a.State}, "title"))
}

func TestValidate_DeclarationOrder(t *testing.T) {
	tags := testutil.NewReplica("A", crdt.ORSet)
	for _, v := range []string{"a", "b", "c"} {
		tags.MustLocal(crdt.Add{Value: ir.String(v)})
	}
	mv := crdt.MustNew(crdt.MVRegister)
	for _, actor := range []clock.ActorID{"A", "B"} {
		_, err := crdt.Apply(mv, crdt.Operation{
			Actor:   actor,
			Stamp:   clock.Stamp{Time: 1, Actor: actor},
			Field:   "assignee",
			Payload: crdt.MVAssign{Value: ir.String(string(actor)), Clock: clock.VectorClock{actor: 1}},
		})
		require.NoError(t, err)
	}

	e := NewEngine()
	require.NoError(t, e.Register(SingleValue("assignee"), strategies))
	require.NoError(t, e.Register(MaxElements("tags", 2), strategies))

	got := e.Validate(stateMap{"tags": tags.State, "assignee": mv})
	require.Len(t, got, 2)
	assert.Equal(t, "assignee.single_value", got[0].Constraint)
	assert.Equal(t, "tags.max_elements", got[1].Constraint)
	assert.Equal(t, "tags holds 3 elements, limit 2", got[1].Description)
}

func TestValidate_Custom(t *testing.T) {
	e := NewEngine()
	decl := Custom("title.nonempty", []string{"title"}, func(r Reader) (bool, string) {
		st, ok := r.State("title")
		if !ok {
			return false, "title missing"
		}
		v := crdt.Read(st)
		return !ir.IsNull(v) && v != ir.String(""), "title is empty"
	})
	require.NoError(t, e.Register(decl, strategies))

	title := crdt.MustNew(crdt.LWW)
	got := e.Validate(stateMap{"title": title})
	require.Len(t, got, 1)
	assert.Equal(t, "title is empty", got[0].Description)
}

func TestBuiltin(t *testing.T) {
	d, err := Builtin("max_elements", "tags", 5)
	require.NoError(t, err)
	assert.Equal(t, Eventual, d.Category)

	_, err = Builtin("max_elements", "tags", 0)
	assert.Error(t, err)
	_, err = Builtin("sorted", "items", 0)
	assert.Error(t, err)
}

func TestParseCategory(t *testing.T) {
	c, err := ParseCategory("strong")
	require.NoError(t, err)
	assert.Equal(t, Strong, c)
	_, err = ParseCategory("weak")
	assert.Error(t, err)
}

func TestAdmit_Cancelled(t *testing.T) {
	ledger, err := escrow.NewLedger(10, "A")
	require.NoError(t, err)
	e := NewEngine(WithLedger(ledger))
	require.NoError(t, e.Register(NonNegative("balance"), strategies))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Admit(ctx, "A", "balance", crdt.Decrement{Amount: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int64(10), ledger.Available("A"))
}

func TestReclassify(t *testing.T) {
	e := NewEngine()
	require.NoError(t, e.Register(Immutable("id"), strategies))

	next := map[string]crdt.Strategy{"id": crdt.LWW}
	assert.ErrorIs(t, e.Reclassify(next), ErrMisclassified)
	assert.NoError(t, e.Reclassify(strategies))
}
