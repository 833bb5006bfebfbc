//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"

	prom "github.com/prometheus/client_golang/prometheus"

	"github.com/matdotcx/carrus/internal/config"
	"github.com/matdotcx/carrus/internal/executor"
	"github.com/matdotcx/carrus/internal/logger"
	"github.com/matdotcx/carrus/internal/metrics"
	"github.com/matdotcx/carrus/internal/repository/mounts"
)

var errInvalidLogLevel = errors.New("invalid log level")

// EnvironmentOptions selects the configuration and the utilities a command runs.
type EnvironmentOptions struct {
	// ConfigPath is the settings YAML file; empty means the default location.
	ConfigPath string
	// MetricsFile overrides the configured metrics file when set.
	MetricsFile string
	// Programs lists the utilities the executor may run.
	Programs []string
}

// Environment bundles the collaborators of one command run.
type Environment struct {
	Config   *config.Config
	Runner   executor.Runner
	Ledger   mounts.Repository
	Recorder metrics.Recorder

	registry *prom.Registry
	audit    io.Closer
}

// Prepare loads configuration and builds the environment. The returned
// context carries the audit logger. Callers must Close the environment.
func Prepare(ctx context.Context, opts *EnvironmentOptions) (context.Context, *Environment, error) {
	if opts == nil {
		opts = new(EnvironmentOptions)
	}

	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return ctx, nil, fmt.Errorf("load configuration: %w", err)
	}

	if opts.MetricsFile != "" {
		cfg.MetricsFile = opts.MetricsFile
	}

	level, ok := logger.ParseLogLevel(cfg.LogLevel)
	if !ok {
		return ctx, nil, fmt.Errorf("%w: %s", errInvalidLogLevel, cfg.LogLevel)
	}

	logger.SetLevel(level)

	runner, err := executor.New(opts.Programs,
		executor.WithSearchPath(cfg.SearchPath),
		executor.WithTimeout(cfg.CommandTimeout),
	)
	if err != nil {
		return ctx, nil, fmt.Errorf("prepare executor: %w", err)
	}

	audit, closer := logger.NewAudit(cfg.LogDir)

	if actor, actorErr := DetectActor(); actorErr == nil {
		audit = audit.With("host", actor.Hostname, "user", actor.Username)
	} else {
		logger.WarnKV(ctx, "Unable to detect actor for audit log", "error", actorErr)
	}

	env := &Environment{
		Config:   cfg,
		Runner:   runner,
		Ledger:   mounts.NewFileRepository(cfg.StateDir),
		Recorder: metrics.NoopRecorder{},
		audit:    closer,
	}

	if cfg.MetricsFile != "" {
		env.registry = prom.NewRegistry()
		env.Recorder = metrics.NewPrometheusRecorder(env.registry)
	}

	return logger.AuditToContext(ctx, audit), env, nil
}

// Close flushes metrics to the configured file and closes the audit log.
// Failures are logged only.
func (e *Environment) Close(ctx context.Context) {
	if e == nil {
		return
	}

	if e.registry != nil {
		if err := metrics.WriteTextfile(e.Config.MetricsFile, e.registry); err != nil {
			logger.WarnKV(ctx, "Failed to write metrics", "error", err)
		}
	}

	_ = logger.Audit(ctx).Sync()

	if err := e.audit.Close(); err != nil {
		logger.WarnKV(ctx, "Failed to close audit log", "error", err)
	}
}
