package app

import (
	"context"
	"fmt"

	"github.com/vk/taskgridgo/taskctx"
)

// Run executes the main application logic: print the validated execution
// plan derived from the configuration. Work functions are Go code, so the
// CLI stops at the plan; it never runs tasks itself.
func (a *App) Run(ctx context.Context) error {
	ctx = taskctx.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	if err := a.printPlan(); err != nil {
		return fmt.Errorf("failed to print plan: %w", err)
	}

	a.logger.Debug("App.Run method finished.")
	return nil
}

// printPlan writes the declared executors, breakers, and policies to the
// output writer in file order.
func (a *App) printPlan() error {
	if _, err := fmt.Fprintln(a.outW, "Configuration valid."); err != nil {
		return err
	}

	if names := a.model.ExecutorNames(); len(names) > 0 {
		fmt.Fprintln(a.outW, "\nExecutors:")
		for _, name := range names {
			ex := a.model.Executors[name]
			if ex.Capacity > 0 {
				fmt.Fprintf(a.outW, "  %s  kind=%s capacity=%d\n", ex.Name, ex.Kind, ex.Capacity)
			} else {
				fmt.Fprintf(a.outW, "  %s  kind=%s\n", ex.Name, ex.Kind)
			}
		}
	}

	if names := a.model.BreakerNames(); len(names) > 0 {
		fmt.Fprintln(a.outW, "\nBreakers:")
		for _, name := range names {
			spec := a.model.Breakers[name]
			fmt.Fprintf(a.outW, "  %s", spec.Name)
			if spec.Settings.FailureThreshold > 0 {
				fmt.Fprintf(a.outW, "  failure_threshold=%d", spec.Settings.FailureThreshold)
			}
			if spec.Settings.ResetTimeout > 0 {
				fmt.Fprintf(a.outW, "  reset_timeout=%s", spec.Settings.ResetTimeout)
			}
			fmt.Fprintln(a.outW)
		}
	}

	if names := a.model.PolicyNames(); len(names) > 0 {
		fmt.Fprintln(a.outW, "\nPolicies:")
		for _, name := range names {
			p := a.model.Policies[name]
			fmt.Fprintf(a.outW, "  %s", p.Name)
			if p.Timeout > 0 {
				fmt.Fprintf(a.outW, "  timeout=%s", p.Timeout)
			}
			if p.Attempts > 0 {
				fmt.Fprintf(a.outW, "  attempts=%d", p.Attempts)
			}
			if p.RetryDelay > 0 {
				fmt.Fprintf(a.outW, "  retry_delay=%s", p.RetryDelay)
			}
			if p.BackoffFactor > 1 {
				fmt.Fprintf(a.outW, "  backoff_factor=%g", p.BackoffFactor)
			}
			if p.RetryOnTimeout {
				fmt.Fprintf(a.outW, "  retry_on_timeout=true")
			}
			if p.CacheTTL > 0 {
				fmt.Fprintf(a.outW, "  cache_ttl=%s", p.CacheTTL)
			}
			if p.Executor != "" {
				fmt.Fprintf(a.outW, "  executor=%s", p.Executor)
			}
			if p.Breaker != "" {
				fmt.Fprintf(a.outW, "  breaker=%s", p.Breaker)
			}
			fmt.Fprintln(a.outW)
		}
	}

	return nil
}
