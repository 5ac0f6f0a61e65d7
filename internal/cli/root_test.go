package cli

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "sadhana", cmd.Use)
	assert.Contains(t, cmd.Long, "guest mode")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{
		"today", "done", "delete", "log", "points", "decay", "catalog",
		"login", "logout", "sync-guest", "migrate", "serve", "token", "test",
	}

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

	configFlag := cmd.PersistentFlags().Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	traceFlag := cmd.PersistentFlags().Lookup("trace")
	require.NotNil(t, traceFlag)
	assert.Equal(t, "false", traceFlag.DefValue)
}

func TestDeleteCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	deleteCmd, _, err := cmd.Find([]string{"delete"})
	require.NoError(t, err)

	dayFlag := deleteCmd.Flags().Lookup("day")
	require.NotNil(t, dayFlag)
	// empty means today
	assert.Equal(t, "", dayFlag.DefValue)
}

func TestLogCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	logCmd, _, err := cmd.Find([]string{"log"})
	require.NoError(t, err)

	pagesFlag := logCmd.Flags().Lookup("pages")
	require.NotNil(t, pagesFlag)
	assert.Equal(t, "p", pagesFlag.Shorthand)
	assert.Equal(t, "1", pagesFlag.DefValue)

	require.NotNil(t, logCmd.Flags().Lookup("all"))
	require.NotNil(t, logCmd.Flags().Lookup("refresh"))
}

func TestLoginCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	loginCmd, _, err := cmd.Find([]string{"login"})
	require.NoError(t, err)

	tokenFlag := loginCmd.Flags().Lookup("token")
	require.NotNil(t, tokenFlag)
	assert.Equal(t, []string{"true"}, tokenFlag.Annotations["cobra_annotation_bash_completion_one_required_flag"])

	require.NotNil(t, loginCmd.Flags().Lookup("user-id"))
	require.NotNil(t, loginCmd.Flags().Lookup("email"))
}

func TestServeCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	serveCmd, _, err := cmd.Find([]string{"serve"})
	require.NoError(t, err)

	for _, name := range []string{"addr", "db", "catalog"} {
		require.NotNil(t, serveCmd.Flags().Lookup(name), name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	filterFlag := testCmd.Flags().Lookup("filter")
	require.NotNil(t, filterFlag)

	goldenFlag := testCmd.Flags().Lookup("golden")
	require.NotNil(t, goldenFlag)
}

func TestFormatValidation(t *testing.T) {
	// Test valid formats
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	// Test invalid formats
	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	cmd := NewRootCommand()
	cmd.SetArgs([]string{"--format", "invalid", "today"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestExecuteUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"meditate"}},
		{"unknown flag", []string{"today", "--nope"}},
		{"missing argument", []string{"done"}},
		{"extra argument", []string{"today", "yoga"}},
		{"exclusive flags", []string{"catalog", "--refresh", "--import", "x.yaml"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out, errOut bytes.Buffer
			code := Execute(context.Background(), tt.args, &out, &errOut)
			assert.Equal(t, ExitCommandError, code)
			assert.Empty(t, out.String())
			assert.Contains(t, errOut.String(), "Error [E005]")
		})
	}
}

func TestExecuteUsageErrorJSON(t *testing.T) {
	var out, errOut bytes.Buffer
	code := Execute(context.Background(), []string{"--format", "json", "meditate"}, &out, &errOut)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, out.String(), `"code":"E005"`)
}
