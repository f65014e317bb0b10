package config

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/taskgridgo/breaker"
	"github.com/vk/taskgridgo/internal/fsutil"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/taskctx"
)

// Load discovers, parses, and validates the runtime configuration. Each
// path may be a single .hcl file or a directory searched recursively.
// Blocks from all files are merged into one Model; duplicate block names
// across files are an error.
func Load(ctx context.Context, paths ...string) (*Model, error) {
	logger := taskctx.Logger(ctx)

	var files []string
	for _, path := range paths {
		info, err := os.Stat(path)
		if err != nil {
			return nil, &ConfigError{File: path, Reason: "cannot stat path", Err: err}
		}
		if !info.IsDir() {
			files = append(files, path)
			continue
		}
		found, err := fsutil.FindFilesByExtension(path, ".hcl")
		if err != nil {
			return nil, &ConfigError{File: path, Reason: "cannot search for .hcl files", Err: err}
		}
		files = append(files, found...)
	}
	if len(files) == 0 {
		return nil, &ConfigError{Reason: fmt.Sprintf("no .hcl files found in %s", strings.Join(paths, ", "))}
	}
	logger.Debug("Loading runtime configuration.", "files", len(files))

	model := newModel()
	parser := hclparse.NewParser()
	for _, file := range files {
		if err := loadFile(file, parser, model); err != nil {
			return nil, err
		}
	}

	if err := model.validate(); err != nil {
		return nil, err
	}
	return model, nil
}

// loadFile parses one HCL file and merges its blocks into the model.
func loadFile(file string, parser *hclparse.Parser, model *Model) error {
	src, diags := parser.ParseHCLFile(file)
	if diags.HasErrors() {
		return &ConfigError{File: file, Reason: "failed to parse", Err: diags}
	}

	var parsed hclFile
	diags = gohcl.DecodeBody(src.Body, nil, &parsed)
	if diags.HasErrors() {
		return &ConfigError{File: file, Reason: "failed to decode", Err: diags}
	}

	if parsed.Runtime != nil {
		if err := mergeRuntime(file, parsed.Runtime, model); err != nil {
			return err
		}
	}
	for _, block := range parsed.Executors {
		if err := mergeExecutor(file, block, model); err != nil {
			return err
		}
	}
	for _, block := range parsed.Breakers {
		if err := mergeBreaker(file, block, model); err != nil {
			return err
		}
	}
	for _, block := range parsed.Policies {
		if err := mergePolicy(file, block, model); err != nil {
			return err
		}
	}
	return nil
}

func mergeRuntime(file string, block *hclRuntime, model *Model) error {
	if level, ok, err := evalString(block.LogLevel); err != nil {
		return &ConfigError{File: file, Block: "runtime", Reason: "log_level", Err: err}
	} else if ok {
		switch level {
		case "debug", "info", "warn", "error":
			model.Runtime.LogLevel = level
		default:
			return &ConfigError{File: file, Block: "runtime",
				Reason: fmt.Sprintf("log_level must be debug, info, warn or error, got %q", level)}
		}
	}
	if format, ok, err := evalString(block.LogFormat); err != nil {
		return &ConfigError{File: file, Block: "runtime", Reason: "log_format", Err: err}
	} else if ok {
		switch format {
		case "text", "json":
			model.Runtime.LogFormat = format
		default:
			return &ConfigError{File: file, Block: "runtime",
				Reason: fmt.Sprintf("log_format must be text or json, got %q", format)}
		}
	}
	return nil
}

func mergeExecutor(file string, block *hclExecutor, model *Model) error {
	blockRef := fmt.Sprintf("executor %q", block.Name)
	if _, dup := model.Executors[block.Name]; dup {
		return &ConfigError{File: file, Block: blockRef, Reason: "declared twice"}
	}

	kindStr, ok, err := evalString(block.Kind)
	if err != nil || !ok {
		return &ConfigError{File: file, Block: blockRef, Reason: "kind", Err: err}
	}
	kind, err := registry.ParseKind(kindStr)
	if err != nil {
		return &ConfigError{File: file, Block: blockRef, Err: err}
	}

	capacity, _, err := evalInt(block.Capacity)
	if err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "capacity", Err: err}
	}
	if kind == registry.CPU && capacity <= 0 {
		return &ConfigError{File: file, Block: blockRef, Reason: "cpu pools require capacity > 0"}
	}

	model.Executors[block.Name] = &Executor{Name: block.Name, Kind: kind, Capacity: capacity}
	model.executorOrder = append(model.executorOrder, block.Name)
	return nil
}

func mergeBreaker(file string, block *hclBreaker, model *Model) error {
	blockRef := fmt.Sprintf("breaker %q", block.Name)
	if _, dup := model.Breakers[block.Name]; dup {
		return &ConfigError{File: file, Block: blockRef, Reason: "declared twice"}
	}

	settings := breaker.Settings{}
	if threshold, ok, err := evalInt(block.FailureThreshold); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "failure_threshold", Err: err}
	} else if ok {
		if threshold < 1 {
			return &ConfigError{File: file, Block: blockRef, Reason: "failure_threshold must be >= 1"}
		}
		settings.FailureThreshold = threshold
	}
	if reset, ok, err := evalDuration(block.ResetTimeout); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "reset_timeout", Err: err}
	} else if ok {
		if reset <= 0 {
			return &ConfigError{File: file, Block: blockRef, Reason: "reset_timeout must be positive"}
		}
		settings.ResetTimeout = reset
	}

	model.Breakers[block.Name] = &BreakerSpec{Name: block.Name, Settings: settings}
	model.breakerOrder = append(model.breakerOrder, block.Name)
	return nil
}

func mergePolicy(file string, block *hclPolicy, model *Model) error {
	blockRef := fmt.Sprintf("policy %q", block.Name)
	if _, dup := model.Policies[block.Name]; dup {
		return &ConfigError{File: file, Block: blockRef, Reason: "declared twice"}
	}

	p := &Policy{Name: block.Name}

	if timeout, ok, err := evalDuration(block.Timeout); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "timeout", Err: err}
	} else if ok {
		if timeout <= 0 {
			return &ConfigError{File: file, Block: blockRef, Reason: "timeout must be positive"}
		}
		p.Timeout = timeout
	}
	if attempts, ok, err := evalInt(block.Attempts); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "attempts", Err: err}
	} else if ok {
		if attempts < 1 {
			return &ConfigError{File: file, Block: blockRef, Reason: "attempts must be >= 1"}
		}
		p.Attempts = attempts
	}
	if delay, ok, err := evalDuration(block.RetryDelay); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "retry_delay", Err: err}
	} else if ok {
		if delay < 0 {
			return &ConfigError{File: file, Block: blockRef, Reason: "retry_delay must not be negative"}
		}
		p.RetryDelay = delay
	}
	if factor, ok, err := evalFloat(block.BackoffFactor); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "backoff_factor", Err: err}
	} else if ok {
		if factor < 1 {
			return &ConfigError{File: file, Block: blockRef, Reason: "backoff_factor must be >= 1"}
		}
		p.BackoffFactor = factor
	}
	if retry, ok, err := evalBool(block.RetryOnTimeout); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "retry_on_timeout", Err: err}
	} else if ok {
		p.RetryOnTimeout = retry
	}
	if ttl, ok, err := evalDuration(block.CacheTTL); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "cache_ttl", Err: err}
	} else if ok {
		if ttl <= 0 {
			return &ConfigError{File: file, Block: blockRef, Reason: "cache_ttl must be positive"}
		}
		p.CacheTTL = ttl
	}
	if executor, ok, err := evalString(block.Executor); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "executor", Err: err}
	} else if ok {
		p.Executor = executor
	}
	if brk, ok, err := evalString(block.Breaker); err != nil {
		return &ConfigError{File: file, Block: blockRef, Reason: "breaker", Err: err}
	} else if ok {
		p.Breaker = brk
	}

	model.Policies[block.Name] = p
	model.policyOrder = append(model.policyOrder, block.Name)
	return nil
}

// validate checks cross references: every executor or breaker a policy
// names must be a declared block.
func (m *Model) validate() error {
	for _, name := range m.policyOrder {
		p := m.Policies[name]
		blockRef := fmt.Sprintf("policy %q", name)
		if p.Executor != "" {
			if _, ok := m.Executors[p.Executor]; !ok {
				return &ConfigError{Block: blockRef,
					Reason: fmt.Sprintf("references undeclared executor %q", p.Executor)}
			}
		}
		if p.Breaker != "" {
			if _, ok := m.Breakers[p.Breaker]; !ok {
				return &ConfigError{Block: blockRef,
					Reason: fmt.Sprintf("references undeclared breaker %q", p.Breaker)}
			}
		}
	}
	return nil
}
