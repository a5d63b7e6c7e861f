package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/compiler"
	"github.com/roach88/concord/internal/crdt"
	"github.com/roach88/concord/internal/evolution"
)

func TestCompileText(t *testing.T) {
	path := writeSchema(t, "account.cue", accountV1)

	out, _, err := execute(t, "compile", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Compiled 1 document(s)")
	assert.Contains(t, out, "Account v1")
	assert.Contains(t, out, "pn_counter")
	assert.Contains(t, out, "constraint solvent: strong non_negative on [balance]")
}

func TestCompileJSON(t *testing.T) {
	path := writeSchema(t, "account.cue", accountV1)

	out, _, err := execute(t, "--format", "json", "compile", path)
	require.NoError(t, err)

	var resp struct {
		Status string            `json:"status"`
		Data   CompilationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data.Schemas, 1)
	s := resp.Data.Schemas[0]
	assert.Equal(t, "Account", s.Name)
	f, ok := s.Field("tags")
	require.True(t, ok)
	assert.Equal(t, crdt.ORSet, f.Strategy)
}

func TestCompileOutputToFile(t *testing.T) {
	path := writeSchema(t, "account.cue", accountV1)
	outFile := filepath.Join(t.TempDir(), "schemas.json")

	out, _, err := execute(t, "compile", path, "--output", outFile)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote schemas to")

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	var result CompilationResult
	require.NoError(t, json.Unmarshal(data, &result))
	require.Len(t, result.Schemas, 1)
	assert.Len(t, result.Schemas[0].Constraints, 2)
}

func TestCompileMissingPath(t *testing.T) {
	out, _, err := execute(t, "compile", filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, ErrCodeNotFound)
}

func TestCompileSyntaxError(t *testing.T) {
	path := writeSchema(t, "bad.cue", "document: Account: {")

	out, _, err := execute(t, "compile", path)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "✗ Compilation failed")
}

func TestValidateValid(t *testing.T) {
	path := writeSchema(t, "account.cue", accountV1)

	out, _, err := execute(t, "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ 1 document schema(s) valid")
}

func TestValidateCollectsErrors(t *testing.T) {
	path := writeSchema(t, "bad.cue", `
document: Bad: {
	version: 1
	fields: {
		ratio: {type: "f64", strategy: "lww"}
		count: {type: "i64", strategy: "or_set"}
	}
}
`)

	out, _, err := execute(t, "--format", "json", "validate", path)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string           `json:"status"`
		Data   ValidationResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.False(t, resp.Data.Valid)

	codes := make([]string, len(resp.Data.Errors))
	for i, e := range resp.Data.Errors {
		codes[i] = e.Code
	}
	assert.Contains(t, codes, compiler.ErrFloatTypeForbidden)
	assert.Contains(t, codes, compiler.ErrIncompatibleStrategy)
}

func TestValidateDuplicateDocument(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.cue"), []byte(accountV1), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.cue"), []byte(accountV1), 0644))

	out, _, err := execute(t, "validate", dir)
	require.Error(t, err)
	assert.Contains(t, out, ErrCodeDuplicate)
}

func TestMapFieldToErrorCode(t *testing.T) {
	assert.Equal(t, ErrCodeBuildFailed, MapFieldToErrorCode("cue"))
	assert.Equal(t, ErrCodeNoDocuments, MapFieldToErrorCode("document"))
	assert.Equal(t, ErrCodeVersion, MapFieldToErrorCode("version"))
	assert.Equal(t, ErrCodeFields, MapFieldToErrorCode("fields.balance.strategy"))
	assert.Equal(t, ErrCodeConstraints, MapFieldToErrorCode("constraints[0].name"))
	assert.Equal(t, ErrCodeGeneric, MapFieldToErrorCode("other"))
}

func TestEvolveSafe(t *testing.T) {
	v1 := writeSchema(t, "v1.cue", accountV1)
	v2 := writeSchema(t, "v2.cue", `
document: Account: {
	version: 2
	fields: {
		owner:   {type: "string", strategy: "lww"}
		balance: {type: "i64", strategy: "pn_counter"}
		tags:    {type: "Set<string>", strategy: "or_set"}
		note:    {type: "string", strategy: "peritext"}
	}
}
`)

	out, _, err := execute(t, "--format", "json", "evolve", v1, v2)
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   EvolveResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Data.Safe)
	require.Len(t, resp.Data.Documents, 1)
	doc := resp.Data.Documents[0]
	assert.Equal(t, 1, doc.FromVersion)
	assert.Equal(t, 2, doc.ToVersion)
	require.Len(t, doc.Changes, 2)
	assert.Equal(t, "owner", doc.Changes[0].Field)
	assert.Equal(t, evolution.Safe, doc.Changes[0].Verdict)
	assert.Equal(t, "note", doc.Changes[1].Field)
	assert.Equal(t, "added", doc.Changes[1].Note)
}

func TestEvolveUnsafe(t *testing.T) {
	v1 := writeSchema(t, "v1.cue", accountV1)
	v2 := writeSchema(t, "v2.cue", `
document: Account: {
	version: 2
	fields: {
		owner:   {type: "string", strategy: "immutable"}
		balance: {type: "i64", strategy: "lww"}
		tags:    {type: "Set<string>", strategy: "or_set"}
	}
}
`)

	out, _, err := execute(t, "evolve", v1, v2)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "✗ Account v1 -> v2")
	assert.Contains(t, out, "~ balance: pn_counter -> lww [unsafe]")
	assert.Contains(t, out, compiler.ErrSchemaLocked)
}

func TestEvolveVersionMustIncrease(t *testing.T) {
	v1 := writeSchema(t, "v1.cue", accountV1)
	v2 := writeSchema(t, "v2.cue", accountV1)

	out, _, err := execute(t, "evolve", v1, v2)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, compiler.ErrVersionOrder)
}

func TestEvolveUnknownDocument(t *testing.T) {
	v1 := writeSchema(t, "v1.cue", accountV1)

	_, _, err := execute(t, "evolve", v1, v1, "--document", "Ledger")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}
