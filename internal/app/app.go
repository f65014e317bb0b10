package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/vk/taskgridgo/breaker"
	"github.com/vk/taskgridgo/config"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/taskctx"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
	breakers *breaker.Group
	model    *config.Model
}

// NewApp is the constructor for the main application. It loads and validates
// the runtime configuration and wires the executor registry and breaker
// group from it.
func NewApp(outW io.Writer, appConfig *Config) *App {
	// Bootstrap logger until the configured one is built; the runtime block
	// may set the level and format.
	logger := newLogger(appConfig.LogLevel, appConfig.LogFormat, os.Stderr)
	ctx := taskctx.WithLogger(context.Background(), logger)

	model, err := config.Load(ctx, appConfig.ConfigPath)
	if err != nil {
		// A failure to load config is a fatal startup error.
		panic(fmt.Errorf("failed to load configuration: %w", err))
	}
	logger.Debug("Configuration loaded and translated into typed model.")

	// CLI flags win over the runtime block.
	level := appConfig.LogLevel
	if level == "" {
		level = model.Runtime.LogLevel
	}
	format := appConfig.LogFormat
	if format == "" {
		format = model.Runtime.LogFormat
	}
	logger = newLogger(level, format, os.Stderr)
	ctx = taskctx.WithLogger(context.Background(), logger)

	reg := registry.New()
	group := breaker.NewGroup()
	if err := model.Apply(ctx, reg, group); err != nil {
		// A declaration the registry refuses is a config error, not a bug.
		panic(fmt.Errorf("failed to apply configuration: %w", err))
	}
	logger.Debug("Executors registered and breakers materialized.",
		"executors", len(model.ExecutorNames()), "breakers", len(model.BreakerNames()))

	// Resolve every policy once so dangling references surface at startup
	// rather than on first use.
	for _, name := range model.PolicyNames() {
		if _, err := model.TaskOptions(name, reg, group); err != nil {
			panic(fmt.Errorf("failed to translate policy %q: %w", name, err))
		}
	}
	logger.Debug("All policies translated successfully.", "policies", len(model.PolicyNames()))

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
		breakers: group,
		model:    model,
	}
}

// Registry returns the application's executor registry. This is primarily
// for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Breakers returns the application's breaker group. This is primarily for
// testing.
func (a *App) Breakers() *breaker.Group {
	return a.breakers
}

// Model returns the loaded configuration model.
func (a *App) Model() *config.Model {
	return a.model
}
