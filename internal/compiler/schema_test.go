package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/crdt"
)

const accountV1 = `
document: Account: {
	version: 1
	fields: {
		owner:   {type: "string", strategy: "immutable"}
		balance: {type: "i64", strategy: "pn_counter"}
		tags:    {type: "Set<string>", strategy: "or_set"}
	}
	constraints: [
		{name: "solvent", category: "strong", kind: "non_negative", fields: ["balance"]},
		{name: "few_tags", category: "eventual", kind: "max_elements", fields: ["tags"], limit: 3},
	]
}
`

func TestCompileSchemaBasic(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(accountV1)
	require.NoError(t, v.Err())

	s, err := Compile(v.LookupPath(cue.ParsePath("document.Account")))
	require.NoError(t, err)

	assert.Equal(t, "Account", s.Name)
	assert.Equal(t, 1, s.Version)
	assert.Equal(t, []FieldSpec{
		{Name: "owner", Type: "string", Strategy: crdt.Immutable},
		{Name: "balance", Type: "i64", Strategy: crdt.PNCounter},
		{Name: "tags", Type: "Set<string>", Strategy: crdt.ORSet},
	}, s.Fields)
	require.Len(t, s.Constraints, 2)
	assert.Equal(t, ConstraintSpec{
		Name: "few_tags", Category: "eventual", Kind: "max_elements", Fields: []string{"tags"}, Limit: 3,
	}, s.Constraints[1])
}

func TestCompileSource_SortsDocuments(t *testing.T) {
	src := accountV1 + `
document: Ledger: {
	version: 2
	fields: entries: {type: "List<string>", strategy: "rga"}
}
`
	schemas, err := CompileSource("schema.cue", []byte(src))
	require.NoError(t, err)
	require.Len(t, schemas, 2)
	assert.Equal(t, "Account", schemas[0].Name)
	assert.Equal(t, "Ledger", schemas[1].Name)
}

func TestCompileSource_NoDocuments(t *testing.T) {
	_, err := CompileSource("empty.cue", []byte(`other: 1`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no document schemas")
}

func TestCompileSource_SyntaxError(t *testing.T) {
	_, err := CompileSource("bad.cue", []byte(`document: Account: {`))
	require.Error(t, err)
	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "bad.cue", ce.Pos.Filename())
}

func TestCompileSchemaMissingVersion(t *testing.T) {
	v := cuecontext.New().CompileString(`
		document: Bad: {
			fields: x: {type: "string", strategy: "lww"}
		}
	`)
	require.NoError(t, v.Err())

	_, err := Compile(v.LookupPath(cue.ParsePath("document.Bad")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "version")
	assert.Contains(t, err.Error(), "required")
}

func TestCompileSchemaMissingFieldStrategy(t *testing.T) {
	v := cuecontext.New().CompileString(`
		document: Bad: {
			version: 1
			fields: x: {type: "string"}
		}
	`)
	require.NoError(t, v.Err())

	_, err := Compile(v.LookupPath(cue.ParsePath("document.Bad")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fields.x.strategy")
}

func TestCompileSchemaMissingFields(t *testing.T) {
	v := cuecontext.New().CompileString(`document: Bad: version: 1`)
	require.NoError(t, v.Err())

	_, err := Compile(v.LookupPath(cue.ParsePath("document.Bad")))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least one field")
}

func TestCompatibleStrategies(t *testing.T) {
	tests := []struct {
		typ  string
		want []crdt.Strategy
	}{
		{"string", []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.Peritext, crdt.MVRegister}},
		{"i64", []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.PNCounter, crdt.MVRegister}},
		{"Set<string>", []crdt.Strategy{crdt.Immutable, crdt.ORSet, crdt.MVRegister}},
		{"List<Map<string>>", []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.RGA, crdt.MVRegister}},
		{"bool", []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.MVRegister}},
		{"Address", []crdt.Strategy{crdt.Immutable, crdt.LWW, crdt.MVRegister}},
		{"", nil},
		{"List<", nil},
		{"9lives", nil},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, CompatibleStrategies(tt.typ))
		})
	}
}
