package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger owns the process logger and the log file it may write to.
type Logger struct {
	zl       zerolog.Logger
	file     *os.File
	redactor *Redactor
}

// Config holds logger configuration
type Config struct {
	Level     string    // debug, info, warn, error
	File      string    // optional log file path
	Console   bool      // write to Output (stderr by default)
	Pretty    bool      // human-readable console format
	Redaction bool      // mask API keys and tokens
	Output    io.Writer // console destination; nil means os.Stderr

	// Secrets are literal values masked in addition to the built-in
	// patterns, such as a configured API key with a custom format.
	Secrets []string
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "warn",
		Console:   true,
		Pretty:    true,
		Redaction: true,
	}
}

// New builds the process logger and installs it as the zerolog global.
// Console output goes to stderr so the interactive loop keeps stdout for
// answers.
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.WarnLevel
	}

	l := &Logger{}
	if cfg.File != "" {
		if l.file, err = openLogFile(cfg.File); err != nil {
			return nil, err
		}
	}

	w := l.sink(cfg)
	if cfg.Redaction {
		l.redactor = NewRedactor()
		for _, s := range cfg.Secrets {
			l.redactor.AddSecret(s)
		}
		w = l.redactor.Wrap(w)
	}

	l.zl = zerolog.New(w).Level(level).With().Timestamp().Logger()
	log.Logger = l.zl
	return l, nil
}

func (l *Logger) sink(cfg Config) io.Writer {
	var writers []io.Writer
	if cfg.Console {
		out := cfg.Output
		if out == nil {
			out = os.Stderr
		}
		if cfg.Pretty {
			out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
		}
		writers = append(writers, out)
	}
	if l.file != nil {
		writers = append(writers, l.file)
	}

	switch len(writers) {
	case 0:
		return io.Discard
	case 1:
		return writers[0]
	default:
		return io.MultiWriter(writers...)
	}
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.zl
}

// Component returns a child logger tagged with the component name.
func (l *Logger) Component(name string) zerolog.Logger {
	return Component(l.zl, name)
}

// Component tags logger with a component name.
func Component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// Close closes the log file, if any.
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}
