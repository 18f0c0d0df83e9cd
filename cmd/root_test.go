package cmd

import (
	"bytes"
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/droidpilot/internal/config"
	"github.com/xkilldash9x/droidpilot/internal/observability"
)

// resetForTest restores package-level command state between test cases.
func resetForTest(t *testing.T) {
	t.Helper()
	cfgFile = ""
	cfg = nil
	osExit = os.Exit
	observability.InitializeLogger(config.LoggerConfig{Level: "fatal", Format: "console", ServiceName: "test"})
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	buf := new(bytes.Buffer)
	rootCmd.SetOut(buf)
	rootCmd.SetErr(buf)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return buf.String(), err
}

func TestRootCmd_VersionFlag(t *testing.T) {
	resetForTest(t)

	out, err := executeCommand(t, "--version")
	require.NoError(t, err)
	assert.Equal(t, Version, strings.TrimSpace(out))
}

func TestRootCmd_MissingConfigFileFails(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, "--config", "/does/not/exist.yaml", "run", "open the settings app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to load configuration")
}

func TestRootCmd_InvalidConfigValueFails(t *testing.T) {
	resetForTest(t)

	path := t.TempDir() + "/config.yaml"
	require.NoError(t, os.WriteFile(path, []byte("device:\n  platform: windows\n"), 0o600))

	_, err := executeCommand(t, "--config", path, "run", "open the settings app")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "platform must be android or ios")
}

func TestRunCmd_RequiresGoal(t *testing.T) {
	resetForTest(t)

	_, err := executeCommand(t, "run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires at least 1 arg")
}

func TestExecuteContext_ExitsNonZeroOnFailure(t *testing.T) {
	resetForTest(t)

	var exitCode int
	osExit = func(code int) { exitCode = code }
	defer func() { osExit = os.Exit }()

	rootCmd.SetOut(new(bytes.Buffer))
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs([]string{"--config", "/does/not/exist.yaml", "run", "anything"})
	ExecuteContext(context.Background())

	assert.Equal(t, 1, exitCode)
}
