package logger

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew(t *testing.T) {
	t.Run("create logger with console output", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{
			Level:   "info",
			Console: true,
			Output:  buf,
		})
		require.NoError(t, err)
		defer logger.Close()

		zl := logger.GetZerolog()
		zl.Info().Msg("hello")
		assert.Contains(t, buf.String(), `"message":"hello"`)
	})

	t.Run("create logger with file output", func(t *testing.T) {
		logFile := filepath.Join(t.TempDir(), "logs", "toolbridge.log")

		logger, err := New(Config{
			Level: "debug",
			File:  logFile,
		})
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Info().Msg("test message")
		require.NoError(t, logger.Close())

		data, err := os.ReadFile(logFile)
		require.NoError(t, err)
		assert.Contains(t, string(data), "test message")
	})

	t.Run("create logger with redaction", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{
			Level:     "info",
			Console:   true,
			Output:    buf,
			Redaction: true,
		})
		require.NoError(t, err)
		require.NotNil(t, logger.redactor)

		zl := logger.GetZerolog()
		zl.Info().Str("key", "sk-test123456789abcdefghijklmnopqrstuvwxyz").Msg("configured")
		assert.Contains(t, buf.String(), "[REDACTED]")
		assert.NotContains(t, buf.String(), "sk-test123456789abcdef")
	})

	t.Run("configured secrets are masked", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{
			Level:     "info",
			Console:   true,
			Output:    buf,
			Redaction: true,
			Secrets:   []string{"gateway-credential-0001"},
		})
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Info().Str("base_url", "http://gateway-credential-0001@proxy").Msg("model endpoint")
		assert.NotContains(t, buf.String(), "gateway-credential-0001")
	})

	t.Run("invalid level falls back to warn", func(t *testing.T) {
		logger, err := New(Config{Level: "loud"})
		require.NoError(t, err)
		assert.Equal(t, zerolog.WarnLevel, logger.GetZerolog().GetLevel())
	})

	t.Run("level filters messages", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(Config{Level: "error", Console: true, Output: buf})
		require.NoError(t, err)

		zl := logger.GetZerolog()
		zl.Warn().Msg("hidden")
		zl.Error().Msg("shown")
		assert.NotContains(t, buf.String(), "hidden")
		assert.Contains(t, buf.String(), "shown")
	})
}

func TestClose(t *testing.T) {
	logger, err := New(Config{Level: "info", File: filepath.Join(t.TempDir(), "a.log")})
	require.NoError(t, err)

	assert.NoError(t, logger.Close())
	assert.NoError(t, logger.Close())
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "warn", cfg.Level)
	assert.True(t, cfg.Console)
	assert.True(t, cfg.Pretty)
	assert.True(t, cfg.Redaction)
}

func TestComponent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger, err := New(Config{Level: "info", Console: true, Output: buf})
	require.NoError(t, err)
	defer logger.Close()

	child := logger.Component("toolhost")
	child.Info().Msg("child")

	assert.Contains(t, buf.String(), `"component":"toolhost"`)
}
