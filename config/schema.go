package config

import (
	"github.com/hashicorp/hcl/v2"
)

// hclFile represents the top-level structure of a runtime configuration
// file for decoding.
type hclFile struct {
	Runtime   *hclRuntime    `hcl:"runtime,block"`
	Executors []*hclExecutor `hcl:"executor,block"`
	Breakers  []*hclBreaker  `hcl:"breaker,block"`
	Policies  []*hclPolicy   `hcl:"policy,block"`
}

// hclRuntime represents a `runtime` block.
type hclRuntime struct {
	LogLevel  hcl.Expression `hcl:"log_level,optional"`
	LogFormat hcl.Expression `hcl:"log_format,optional"`
}

// hclExecutor represents an `executor` block declaring a named pool.
type hclExecutor struct {
	Name     string         `hcl:"name,label"`
	Kind     hcl.Expression `hcl:"kind"`
	Capacity hcl.Expression `hcl:"capacity,optional"`
}

// hclBreaker represents a `breaker` block declaring a named circuit breaker.
type hclBreaker struct {
	Name             string         `hcl:"name,label"`
	FailureThreshold hcl.Expression `hcl:"failure_threshold,optional"`
	ResetTimeout     hcl.Expression `hcl:"reset_timeout,optional"`
}

// hclPolicy represents a `policy` block: a named bundle of execution
// options that can be attached to a task by name.
type hclPolicy struct {
	Name           string         `hcl:"name,label"`
	Timeout        hcl.Expression `hcl:"timeout,optional"`
	Attempts       hcl.Expression `hcl:"attempts,optional"`
	RetryDelay     hcl.Expression `hcl:"retry_delay,optional"`
	BackoffFactor  hcl.Expression `hcl:"backoff_factor,optional"`
	RetryOnTimeout hcl.Expression `hcl:"retry_on_timeout,optional"`
	CacheTTL       hcl.Expression `hcl:"cache_ttl,optional"`
	Executor       hcl.Expression `hcl:"executor,optional"`
	Breaker        hcl.Expression `hcl:"breaker,optional"`
}
