package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/harun/toolbridge/internal/config"
	"github.com/harun/toolbridge/internal/logger"
	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/internal/tracing"
	"github.com/harun/toolbridge/pkg/agent"
	"github.com/harun/toolbridge/pkg/bridge"
	"github.com/harun/toolbridge/pkg/toolhost"
)

// Querier answers one query.
type Querier interface {
	ProcessQuery(ctx context.Context, query string) (string, error)
}

func (a *app) runChat(cmd *cobra.Command, cfgFile, scriptPath string) error {
	// Reject unsupported scripts before touching config, logs or processes.
	if _, err := toolhost.DetectScriptKind(scriptPath); err != nil {
		return err
	}

	cfg, err := loadConfig(cmd, cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logs, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		Output:    cmd.ErrOrStderr(),
		Secrets:   []string{cfg.Model.APIKey},
	})
	if err != nil {
		return err
	}
	defer logs.Close()
	log := logs.GetZerolog()

	for _, problem := range config.NewValidator().ValidateConfig(cfg) {
		log.Warn().Err(problem).Msg("configuration warning")
	}

	if cfg.Tracing.Enabled {
		shutdown, err := tracing.Setup(cfg.Tracing.ServiceName, version, logs.Component("tracing"))
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize tracing")
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(shutdownCtx)
			}()
		}
	}

	m := metrics.NewMetrics()
	if cfg.Metrics.Addr != "" {
		stop := serveMetrics(cfg.Metrics.Addr, m, log)
		defer stop()
	}

	ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
	ctx = tracing.WithServer(ctx, scriptPath)

	opts := bridge.Options{
		ScriptPath: scriptPath,
		AuditPath:  cfg.Audit.Path,
		ToolHost: toolhost.Options{
			Interpreters: map[toolhost.ScriptKind]toolhost.Interpreter{
				toolhost.KindPython: {Command: cfg.ToolHost.Python},
				toolhost.KindNode:   {Command: cfg.ToolHost.Node},
			},
			Env:             cfg.ToolHost.Env,
			ClientName:      "toolbridge",
			ClientVersion:   version,
			ShutdownTimeout: cfg.ToolHost.ShutdownTimeout,
		},
		Provider: agent.ProviderConfig{
			Name:    cfg.Model.Provider,
			APIKey:  cfg.Model.APIKey,
			BaseURL: cfg.Model.BaseURL,
		},
		LLM: a.llm,
		Engine: agent.EngineConfig{
			Model:          cfg.ModelName(),
			MaxTokens:      cfg.Model.MaxTokens,
			Temperature:    cfg.Model.Temperature,
			SystemPrompt:   cfg.Model.SystemPrompt,
			MaxToolRounds:  cfg.Model.MaxToolRounds,
			RequestTimeout: cfg.Model.RequestTimeout,
		},
		Logger:  log,
		Metrics: m,
	}

	out := cmd.OutOrStdout()
	return bridge.Run(ctx, opts, func(ctx context.Context, b *bridge.Bridge) error {
		fmt.Fprintf(out, "\nConnected to server with tools: %v\n", b.ToolNames())
		return RunREPL(ctx, b, cmd.InOrStdin(), out)
	})
}

// loadConfig loads configuration with cmd's flags bound as overrides. Flags
// only override when set on the command line.
func loadConfig(cmd *cobra.Command, cfgFile string) (*config.Config, error) {
	loader := config.NewLoader(cfgFile)
	for name, key := range flagKeys {
		loader.BindFlag(key, lookupFlag(cmd, name))
	}
	return loader.Load()
}

// lookupFlag finds a local or persistent flag, whether or not cobra has
// merged persistent flags yet.
func lookupFlag(cmd *cobra.Command, name string) *pflag.Flag {
	if f := cmd.Flags().Lookup(name); f != nil {
		return f
	}
	return cmd.PersistentFlags().Lookup(name)
}

// RunREPL reads queries line by line until "quit", end of input or ctx is
// done. Query errors are printed and the loop continues.
func RunREPL(ctx context.Context, q Querier, in io.Reader, out io.Writer) error {
	fmt.Fprintln(out, "\nMCP Client Started!")
	fmt.Fprintln(out, "Type your queries or 'quit' to exit.")

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				readErr <- nil
				return
			}
		}
		readErr <- scanner.Err()
	}()

	for {
		fmt.Fprint(out, "\nQuery: ")

		var line string
		select {
		case <-ctx.Done():
			fmt.Fprintln(out)
			return nil
		case l, ok := <-lines:
			if !ok {
				fmt.Fprintln(out)
				return <-readErr
			}
			line = l
		}

		query := strings.TrimSpace(line)
		if strings.EqualFold(query, "quit") {
			return nil
		}

		response, err := q.ProcessQuery(ctx, query)
		if err != nil {
			if errors.Is(err, context.Canceled) && ctx.Err() != nil {
				fmt.Fprintln(out)
				return nil
			}
			fmt.Fprintf(out, "\nError: %s\n", err)
			continue
		}
		fmt.Fprintf(out, "\n%s\n", response)
	}
}

// serveMetrics exposes m on addr under /metrics and returns a stop func.
func serveMetrics(addr string, m *metrics.Metrics, log zerolog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("addr", addr).Msg("metrics server failed")
		}
	}()
	log.Info().Str("addr", addr).Msg("serving metrics")

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}
}
