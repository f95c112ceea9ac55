package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/invar/internal/ir"
)

func TestOutputFormatter_JSONSuccess(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Success(map[string]string{"result": "success"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotNil(t, resp.Data)
}

func TestOutputFormatter_JSONError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{
		Format: "json",
		Writer: buf,
	}

	err := formatter.Error("TYPE_MISMATCH", "check failed", []string{"$.left"})
	require.NoError(t, err)

	var resp CLIResponse
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, "TYPE_MISMATCH", resp.Error.Code)
	assert.Equal(t, "check failed", resp.Error.Message)
	assert.NotNil(t, resp.Error.Details)
}

func TestOutputFormatter_TextError(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "text", Writer: buf}

	require.NoError(t, formatter.Error("E_COMMAND", "no documents", map[string]string{"hint": "x"}))
	assert.Contains(t, buf.String(), "Error [E_COMMAND]: no documents")
	assert.NotContains(t, buf.String(), "Details:")

	buf.Reset()
	formatter.Verbose = true
	require.NoError(t, formatter.Error("E_COMMAND", "no documents", map[string]string{"hint": "x"}))
	assert.Contains(t, buf.String(), "Details:")
}

func TestOutputFormatter_Fail(t *testing.T) {
	buf := &bytes.Buffer{}
	formatter := &OutputFormatter{Format: "json", Writer: buf}

	cause := ir.Errorf(ir.ErrMutationCoverageGap, "model m: 1 uncovered mutation(s)")
	cause.Items = []string{"op → account::nonce"}
	err := formatter.Fail(ExitSecurity, "uncovered mutations", fmt.Errorf("wrapped: %w", cause))

	assert.Equal(t, ExitSecurity, GetExitCode(err))
	assert.True(t, ir.IsKind(err, ir.ErrMutationCoverageGap))

	var resp struct {
		Status string
		Error  struct {
			Code    string
			Message string
			Details []string
		}
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, "MUTATION_COVERAGE_GAP", resp.Error.Code)
	assert.Equal(t, []string{"op → account::nonce"}, resp.Error.Details)

	buf.Reset()
	_ = formatter.Fail(ExitCommandError, "no documents", errors.New("pass paths"))
	assert.Contains(t, buf.String(), `"code":"E_COMMAND"`)
}

type brokenWriter struct{}

func (brokenWriter) Write([]byte) (int, error) { return 0, errors.New("pipe closed") }

func TestOutputFormatter_FailWriteError(t *testing.T) {
	formatter := &OutputFormatter{Format: "json", Writer: brokenWriter{}}

	cause := ir.Errorf(ir.ErrTamperHashMismatch, "artifact changed")
	err := formatter.Fail(ExitSecurity, "verification failed", cause)

	assert.Equal(t, ExitSecurity, GetExitCode(err))
	assert.True(t, ir.IsKind(err, ir.ErrTamperHashMismatch))
	assert.ErrorContains(t, err, "write error output: pipe closed")
}

func TestOutputFormatter_VerboseLog(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		wantLog bool
	}{
		{"verbose_enabled", true, true},
		{"verbose_disabled", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, errOut := &bytes.Buffer{}, &bytes.Buffer{}
			formatter := &OutputFormatter{
				Format:    "json",
				Writer:    out,
				ErrWriter: errOut,
				Verbose:   tt.verbose,
			}

			formatter.VerboseLog("Processing %s", "wallet.yaml")

			assert.Empty(t, out.String())
			if tt.wantLog {
				assert.Contains(t, errOut.String(), "Processing wallet.yaml")
			} else {
				assert.Empty(t, errOut.String())
			}
		})
	}
}

func TestGetExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, ExitSuccess},
		{"exit error", NewExitError(ExitCommandError, "bad path"), ExitCommandError},
		{"wrapped exit error", fmt.Errorf("outer: %w", NewExitError(ExitSecurity, "tampered")), ExitSecurity},
		{"security kind", ir.Errorf(ir.ErrTamperHashMismatch, "hash"), ExitSecurity},
		{"evaluation kind", ir.Errorf(ir.ErrDivisionByZero, "div"), ExitFailure},
		{"plain", errors.New("boom"), ExitFailure},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, GetExitCode(tt.err))
		})
	}
}

func TestExitError(t *testing.T) {
	cause := errors.New("no such file")
	err := WrapExitError(ExitCommandError, "failed to open database", cause)
	assert.Equal(t, "failed to open database: no such file", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad path", NewExitError(ExitCommandError, "bad path").Error())
}
