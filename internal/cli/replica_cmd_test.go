package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/concord/internal/crdt"
)

// replicaArgs returns the flags that open the Account document on db.
func replicaArgs(schema, db, actor string) []string {
	return []string{"--db", db, "--schema", schema, "--document", "Account", "--actor", actor}
}

func TestApplyEmitsOperationLine(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	args := append([]string{"apply", "increment", "--field", "balance", "--amount", "10"}, replicaArgs(schema, db, "A")...)
	out, _, err := execute(t, args...)
	require.NoError(t, err)

	op, err := crdt.UnmarshalOperation([]byte(strings.TrimSpace(out)))
	require.NoError(t, err)
	assert.Equal(t, "balance", op.Field)
	assert.EqualValues(t, "A", op.Actor)
	assert.Equal(t, int64(1), op.Stamp.Time)
}

func TestApplyJSONResult(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	args := append([]string{"--format", "json", "apply", "add", "--field", "tags", "--value", "vip"}, replicaArgs(schema, db, "A")...)
	out, _, err := execute(t, args...)
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   ApplyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "emitted", resp.Data.Outcome)
	assert.Equal(t, "Account", resp.Data.Document)
	assert.Len(t, resp.Data.ID, 64)
	assert.NotEmpty(t, resp.Data.Operation)
}

func TestApplyPersistsAcrossInvocations(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	for range 2 {
		args := append([]string{"apply", "increment", "--field", "balance", "--amount", "5"}, replicaArgs(schema, db, "A")...)
		_, _, err := execute(t, args...)
		require.NoError(t, err)
	}

	out, _, err := execute(t, "--format", "json", "trace", "--db", db, "--id", "Account")
	require.NoError(t, err)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.Len(t, resp.Data.Timeline, 2)
	// The clock is restored from the snapshot, so stamps keep increasing.
	assert.Less(t, resp.Data.Timeline[0].Time, resp.Data.Timeline[1].Time)
	assert.Equal(t, 2, resp.Data.Stats.ByActor["A"])
}

func TestApplyEscrowRejection(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	args := append([]string{"--format", "json", "apply", "decrement", "--field", "balance", "--amount", "80",
		"--escrow", "100", "--escrow-actor", "A", "--escrow-actor", "B"}, replicaArgs(schema, db, "A")...)
	out, _, err := execute(t, args...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp struct {
		Status string      `json:"status"`
		Data   ApplyResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "rejected", resp.Data.Outcome)
	assert.Equal(t, "ESCROW_EXCEEDED", resp.Data.Reason)
}

func TestApplyTypeMismatchInText(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	args := append([]string{"apply", "add", "--field", "balance", "--value", "1"}, replicaArgs(schema, db, "A")...)
	out, errOut, err := execute(t, args...)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Empty(t, out)
	assert.Contains(t, errOut, "rejected")
}

func TestApplyInvalidOp(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	args := append([]string{"apply", "explode", "--field", "balance"}, replicaArgs(schema, db, "A")...)
	_, _, err := execute(t, args...)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApplyUnknownDocument(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	db := filepath.Join(t.TempDir(), "a.db")

	_, _, err := execute(t, "apply", "increment", "--field", "balance", "--amount", "1",
		"--db", db, "--schema", schema, "--document", "Ledger", "--actor", "A")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestApplyRunTraceReplay(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	dir := t.TempDir()
	dbA := filepath.Join(dir, "a.db")
	dbB := filepath.Join(dir, "b.db")

	var lines bytes.Buffer
	for _, args := range [][]string{
		{"apply", "increment", "--field", "balance", "--amount", "10"},
		{"apply", "add", "--field", "tags", "--value", "vip"},
		{"apply", "add", "--field", "tags", "--value", "gold"},
	} {
		out, _, err := execute(t, append(args, replicaArgs(schema, dbA, "A")...)...)
		require.NoError(t, err)
		lines.WriteString(out)
	}
	lines.WriteString("not an operation\n")

	out, errOut, err := executeWithInput(t, &lines,
		append([]string{"--format", "json", "run"}, replicaArgs(schema, dbB, "B")...)...)
	require.NoError(t, err)

	var run struct {
		Data RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &run))
	assert.Equal(t, "Account", run.Data.Document)
	assert.Equal(t, 3, run.Data.Received)
	assert.Equal(t, 1, run.Data.Invalid)
	assert.Equal(t, 3, run.Data.Logged)
	// Two tags exceed the few_tags limit of one.
	assert.Equal(t, 1, run.Data.Violations)
	assert.Contains(t, errOut, "few_tags")

	out, _, err = execute(t, "trace", "--db", dbB, "--id", "Account", "--field", "tags")
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 2 operation(s)")

	out, _, err = execute(t, "trace", "--db", dbB)
	require.NoError(t, err)
	assert.Contains(t, out, "Account")

	out, _, err = execute(t, "replay", "--db", dbB)
	require.NoError(t, err)
	assert.Contains(t, out, "✓ All documents verified")

	out, _, err = execute(t, "--format", "json", "replay", "--db", dbA, "--id", "Account")
	require.NoError(t, err)
	var replay struct {
		Data ReplayResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &replay))
	require.Len(t, replay.Data.Documents, 1)
	doc := replay.Data.Documents[0]
	assert.Equal(t, 3, doc.Operations)
	assert.True(t, doc.Deterministic)
	assert.True(t, doc.Covered)
}

func TestRunIdempotentRedelivery(t *testing.T) {
	schema := writeSchema(t, "account.cue", accountV1)
	dir := t.TempDir()
	dbA := filepath.Join(dir, "a.db")
	dbB := filepath.Join(dir, "b.db")

	line, _, err := execute(t, append([]string{"apply", "increment", "--field", "balance", "--amount", "7"}, replicaArgs(schema, dbA, "A")...)...)
	require.NoError(t, err)

	for range 2 {
		_, _, err := executeWithInput(t, bytes.NewBufferString(line), append([]string{"run"}, replicaArgs(schema, dbB, "B")...)...)
		require.NoError(t, err)
	}

	out, _, err := execute(t, "--format", "json", "trace", "--db", dbB, "--id", "Account")
	require.NoError(t, err)
	var resp struct {
		Data TraceResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Stats.Total)
}

func TestTraceEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	out, _, err := execute(t, "trace", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No documents stored.")
}

func TestReplayEmptyDatabase(t *testing.T) {
	db := filepath.Join(t.TempDir(), "empty.db")

	out, _, err := execute(t, "replay", "--db", db)
	require.NoError(t, err)
	assert.Contains(t, out, "No documents found in database.")
}
