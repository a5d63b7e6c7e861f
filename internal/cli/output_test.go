package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOutputFormatter_JSON(t *testing.T) {
	tests := []struct {
		name       string
		write      func(f *OutputFormatter) error
		wantStatus string
		wantCode   string
	}{
		{
			name:       "success",
			write:      func(f *OutputFormatter) error { return f.Success(RunResult{Document: "Account", Received: 3}) },
			wantStatus: "ok",
		},
		{
			name:       "error",
			write:      func(f *OutputFormatter) error { return f.Error(ErrCodeNotFound, "schema path not found", nil) },
			wantStatus: "error",
			wantCode:   ErrCodeNotFound,
		},
		{
			name: "error with details",
			write: func(f *OutputFormatter) error {
				return f.Error(ErrCodeFields, "fields missing", []string{"account.cue:3"})
			},
			wantStatus: "error",
			wantCode:   ErrCodeFields,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, tt.write(&OutputFormatter{Format: "json", Writer: &buf}))

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
			assert.Equal(t, tt.wantStatus, resp.Status)
			if tt.wantCode == "" {
				assert.Nil(t, resp.Error)
				assert.NotNil(t, resp.Data)
				return
			}
			require.NotNil(t, resp.Error)
			assert.Equal(t, tt.wantCode, resp.Error.Code)
		})
	}
}

func TestOutputFormatter_TextError(t *testing.T) {
	var buf bytes.Buffer
	f := &OutputFormatter{Format: "text", Writer: &buf}

	require.NoError(t, f.Error(ErrCodeBuildFailed, "expected '}'", map[string]string{"file": "account.cue"}))
	assert.Equal(t, "Error [E006]: expected '}'\n", buf.String())

	buf.Reset()
	f.Verbose = true
	require.NoError(t, f.Error(ErrCodeBuildFailed, "expected '}'", map[string]string{"file": "account.cue"}))
	assert.Contains(t, buf.String(), "Details: map[file:account.cue]")
}

func TestOutputFormatter_VerboseLogUsesErrWriter(t *testing.T) {
	var out, errOut bytes.Buffer
	f := &OutputFormatter{Format: "json", Writer: &out, ErrWriter: &errOut, Verbose: true}

	f.VerboseLog("Compiling document: %s", "Account")
	assert.Empty(t, out.String())
	assert.Equal(t, "Compiling document: Account\n", errOut.String())

	errOut.Reset()
	f.Verbose = false
	f.VerboseLog("Compiling document: %s", "Account")
	assert.Empty(t, errOut.String())
}

func TestWriteJSON_Indented(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeJSON(&buf, CLIResponse{
		Status: "error",
		Error:  &CLIError{Code: "E220", Message: "schema evolution rejected"},
	}))

	assert.Contains(t, buf.String(), "\n  \"status\": \"error\"")
	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "E220", resp.Error.Code)
}

func TestGetExitCode(t *testing.T) {
	cause := errors.New("disk full")

	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"failure", NewExitError(ExitFailure, "scenario failed"), ExitFailure},
		{"command error", WrapExitError(ExitCommandError, "failed to open database", cause), ExitCommandError},
		{"wrapped", fmt.Errorf("run: %w", NewExitError(ExitCommandError, "bad flag")), ExitCommandError},
		{"plain error", cause, ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError_Unwrap(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapExitError(ExitCommandError, "failed to save replica", cause)

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "failed to save replica")
}
