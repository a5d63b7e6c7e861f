package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
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
		{name: "few_tags", category: "eventual", kind: "max_elements", fields: ["tags"], limit: 1},
	]
}
`

// writeSchema writes a CUE file into a fresh directory and returns its path.
func writeSchema(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

// execute runs a root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return executeWithInput(t, nil, args...)
}

func executeWithInput(t *testing.T, in *bytes.Buffer, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	if in != nil {
		cmd.SetIn(in)
	}
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}
