// Package bridge wires a tool host session, an audit log and a model
// provider into a conversation engine, and releases them as one unit.
//
// Invariants:
// - Resources are acquired in order: audit log, session, provider, engine.
// - A failed Open releases everything it acquired.
// - Close releases in reverse order, exactly once.
package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/harun/toolbridge/internal/logger"
	"github.com/harun/toolbridge/internal/metrics"
	"github.com/harun/toolbridge/pkg/agent"
	"github.com/harun/toolbridge/pkg/audit"
	"github.com/harun/toolbridge/pkg/toolhost"
)

// Options describes everything needed to open a Bridge.
type Options struct {
	ScriptPath string
	AuditPath  string

	ToolHost toolhost.Options
	Provider agent.ProviderConfig

	// LLM, when set, is used instead of building a provider from Provider.
	LLM agent.LLMProvider

	// Engine carries model settings. Session, Provider and Audit are filled
	// in by Open.
	Engine agent.EngineConfig

	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Bridge owns the process-lifetime resources behind the interactive loop.
type Bridge struct {
	session *toolhost.Session
	audit   *audit.Log
	engine  *agent.Engine
	logger  zerolog.Logger

	closeOnce sync.Once
}

// Open acquires the audit log, connects to the tool host and builds the
// engine. The script kind is checked before anything is acquired.
func Open(ctx context.Context, opts Options) (*Bridge, error) {
	if _, err := toolhost.DetectScriptKind(opts.ScriptPath); err != nil {
		return nil, err
	}

	auditLog, err := audit.Open(opts.AuditPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}

	hostOpts := opts.ToolHost
	hostOpts.Logger = logger.Component(opts.Logger, "toolhost")
	if hostOpts.Metrics == nil {
		hostOpts.Metrics = opts.Metrics
	}

	session, err := toolhost.Connect(ctx, opts.ScriptPath, hostOpts)
	if err != nil {
		_ = auditLog.Close()
		return nil, err
	}

	b := &Bridge{
		session: session,
		audit:   auditLog,
		logger:  logger.Component(opts.Logger, "bridge"),
	}

	provider := opts.LLM
	if provider == nil {
		factory := &agent.ProviderFactory{}
		provider, err = factory.NewProvider(opts.Provider)
		if err != nil {
			return nil, errors.Join(err, b.Close())
		}
	}

	engineCfg := opts.Engine
	engineCfg.Session = session
	engineCfg.Provider = provider
	engineCfg.Audit = auditLog
	engineCfg.Logger = logger.Component(opts.Logger, "agent")
	engineCfg.Metrics = opts.Metrics

	engine, err := agent.NewEngine(engineCfg)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("create engine: %w", err), b.Close())
	}
	b.engine = engine

	return b, nil
}

// Run opens a Bridge, calls fn with it and closes it on every exit path,
// including a panic in fn. A close error is joined into the result.
func Run(ctx context.Context, opts Options, fn func(ctx context.Context, b *Bridge) error) (err error) {
	b, err := Open(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, b.Close())
	}()

	return fn(ctx, b)
}

// ToolNames returns the tools discovered when the session connected.
func (b *Bridge) ToolNames() []string {
	return b.session.ToolNames()
}

// Session returns the tool host session.
func (b *Bridge) Session() *toolhost.Session {
	return b.session
}

// ProcessQuery answers one query through the engine.
func (b *Bridge) ProcessQuery(ctx context.Context, query string) (string, error) {
	return b.engine.ProcessQuery(ctx, query)
}

// Close stops the tool host and closes the audit log. Later calls return
// nil.
func (b *Bridge) Close() error {
	var err error
	b.closeOnce.Do(func() {
		var errs []error
		if err := b.session.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close session: %w", err))
		}
		if err := b.audit.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close audit log: %w", err))
		}
		err = errors.Join(errs...)
		b.logger.Debug().Err(err).Msg("bridge closed")
	})
	return err
}
