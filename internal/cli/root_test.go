package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and the
// error.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "invar", cmd.Use)
	assert.Contains(t, cmd.Version, "0.1.0")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"check", "eval", "coverage", "generate", "verify", "library", "attacks", "history", "diff", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "library", "defensive", "strict", "allow"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	tests := []struct {
		command string
		flag    string
		def     string
	}{
		{"eval", "db", ""},
		{"eval", "workers", "0"},
		{"eval", "metrics-file", ""},
		{"generate", "chain", "[evm]"},
		{"generate", "output", ""},
		{"verify", "dir", ""},
		{"history", "db", ""},
		{"diff", "db", ""},
		{"test", "update", "false"},
		{"library", "category", ""},
		{"attacks", "chain", ""},
	}
	for _, tt := range tests {
		t.Run(tt.command+"/"+tt.flag, func(t *testing.T) {
			sub, _, err := cmd.Find([]string{tt.command})
			require.NoError(t, err)
			f := sub.Flags().Lookup(tt.flag)
			require.NotNil(t, f)
			assert.Equal(t, tt.def, f.DefValue)
		})
	}
}

func TestInvalidFormat(t *testing.T) {
	_, err := execute(t, "library", "--format", "xml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfg := writeFile(t, dir, "invar.yaml", "format: json\n")

	out, err := execute(t, "library", "--config", cfg)
	require.NoError(t, err)

	var resp struct {
		Status string
		Data   LibraryResult
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Len(t, resp.Data.Invariants, 7)
}

func TestConfigFile_FlagOverrides(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "invar.yaml", "format: json\n")

	out, err := execute(t, "library", "--config", cfg, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "aa.nonce_monotonic")
	assert.NotContains(t, out, `"status"`)
}

func TestConfigFile_Missing(t *testing.T) {
	_, err := execute(t, "library", "--config", filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestConfigEnv(t *testing.T) {
	t.Setenv("INVAR_FORMAT", "json")

	out, err := execute(t, "library")
	require.NoError(t, err)
	assert.Contains(t, out, `"status":"ok"`)
}

func TestConfig_DisablingPoliciesIsRejected(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "invar.yaml", "sandbox:\n  disable_tamper_check: true\n")

	_, err := execute(t, "check", "--library", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitSecurity, GetExitCode(err))
	assert.Contains(t, err.Error(), "POLICY_DISABLE_REJECTED")
}

func TestConfig_Sandbox(t *testing.T) {
	cfg := writeFile(t, t.TempDir(), "invar.yaml", `
library: true
sandbox:
  strict: true
  extra_forbidden: ["^aa\\."]
`)
	out, err := execute(t, "check", "--config", cfg)
	require.Error(t, err)
	assert.Equal(t, ExitSecurity, GetExitCode(err))
	assert.Contains(t, out, "0 accepted, 7 rejected")
}
