package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/toolbridge/pkg/toolhost"
)

func TestRootCommand(t *testing.T) {
	t.Run("version flag", func(t *testing.T) {
		cmd := newRootCmd(&app{})
		cmd.SetArgs([]string{"--version"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		assert.Contains(t, output.String(), "toolbridge version")
		assert.Contains(t, output.String(), GetVersion())
	})

	t.Run("help flag", func(t *testing.T) {
		cmd := newRootCmd(&app{})
		cmd.SetArgs([]string{"--help"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)

		err := cmd.Execute()
		require.NoError(t, err)

		helpText := output.String()
		assert.Contains(t, helpText, "<path_to_server_script>")
		assert.Contains(t, helpText, "audit log")
	})

	t.Run("missing script argument prints usage", func(t *testing.T) {
		cmd := newRootCmd(&app{})
		cmd.SetArgs([]string{})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, output.String(), "Usage:")
		assert.Contains(t, err.Error(), "<path_to_server_script>")
	})

	t.Run("unsupported script kind", func(t *testing.T) {
		cmd := newRootCmd(&app{})
		cmd.SetArgs([]string{"server.rb"})

		output := &bytes.Buffer{}
		cmd.SetOut(output)
		cmd.SetErr(output)

		err := cmd.Execute()
		require.Error(t, err)
		assert.ErrorIs(t, err, toolhost.ErrUnsupportedScriptKind)
		assert.NotContains(t, output.String(), "Usage:")
	})

	t.Run("flags", func(t *testing.T) {
		cmd := newRootCmd(&app{})

		configFlag := cmd.PersistentFlags().Lookup("config")
		require.NotNil(t, configFlag)
		assert.Equal(t, "", configFlag.DefValue)

		logLevelFlag := cmd.PersistentFlags().Lookup("log-level")
		require.NotNil(t, logLevelFlag)
		assert.Equal(t, "warn", logLevelFlag.DefValue)

		for name := range flagKeys {
			assert.NotNil(t, lookupFlag(cmd, name), name)
		}
		assert.Equal(t, "blackboard_log.txt", cmd.Flags().Lookup("audit-log").DefValue)
		assert.Equal(t, "1", cmd.Flags().Lookup("max-tool-rounds").DefValue)
	})
}

func TestGetVersion(t *testing.T) {
	version := GetVersion()
	assert.NotEmpty(t, version)
	assert.True(t, strings.HasPrefix(version, "0."))
	assert.NotNil(t, GetRootCmd())
}
