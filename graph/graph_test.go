package graph

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/flow"
	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
)

var errBoom = errors.New("boom")

func constant(value any) Work {
	return func(ctx context.Context, deps Resolver) (any, error) {
		return value, nil
	}
}

func failing(ctx context.Context, deps Resolver) (any, error) {
	return nil, errBoom
}

func TestValidate(t *testing.T) {
	t.Run("valid dag passes", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1))
		g.Task("b", constant(2)).DependsOn("a")
		g.Task("c", constant(3)).DependsOn("a", "b")
		assert.NoError(t, g.Validate())
	})

	t.Run("unknown dependency", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1)).DependsOn("ghost")

		var depErr *UnknownDependencyError
		require.ErrorAs(t, g.Validate(), &depErr)
		assert.Equal(t, "a", depErr.Task)
		assert.Equal(t, "ghost", depErr.Dependency)
	})

	t.Run("direct cycle", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1)).DependsOn("b")
		g.Task("b", constant(2)).DependsOn("a")

		var cycleErr *CycleError
		require.ErrorAs(t, g.Validate(), &cycleErr)
	})

	t.Run("transitive cycle", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1)).DependsOn("c")
		g.Task("b", constant(2)).DependsOn("a")
		g.Task("c", constant(3)).DependsOn("b")

		var cycleErr *CycleError
		require.ErrorAs(t, g.Validate(), &cycleErr)
	})

	t.Run("self dependency", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1)).DependsOn("a")

		var cycleErr *CycleError
		require.ErrorAs(t, g.Validate(), &cycleErr)
	})

	t.Run("duplicate declaration", func(t *testing.T) {
		g := New()
		g.Task("a", constant(1))
		g.Task("a", constant(2))
		assert.ErrorContains(t, g.Validate(), "declared twice")
	})

	t.Run("execute refuses an invalid graph before running anything", func(t *testing.T) {
		var ran atomic.Bool
		g := New()
		g.Task("a", func(ctx context.Context, deps Resolver) (any, error) {
			ran.Store(true)
			return nil, nil
		}).DependsOn("ghost")

		_, err := g.Execute(context.Background())
		var depErr *UnknownDependencyError
		require.ErrorAs(t, err, &depErr)
		assert.False(t, ran.Load())
	})
}

func TestExecuteOrdering(t *testing.T) {
	var mu sync.Mutex
	var order []string
	record := func(name string) Work {
		return func(ctx context.Context, deps Resolver) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return name, nil
		}
	}

	g := New()
	g.Task("fetch", record("fetch"))
	g.Task("transform", record("transform")).DependsOn("fetch")
	g.Task("load", record("load")).DependsOn("transform")

	res, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, res.HasErrors())
	assert.Equal(t, []string{"fetch", "transform", "load"}, order)
}

func TestExecuteDiamond(t *testing.T) {
	g := New()
	g.Task("root", constant(10))
	g.Task("left", func(ctx context.Context, deps Resolver) (any, error) {
		v, err := deps.Value("root")
		if err != nil {
			return nil, err
		}
		return v.(int) * 2, nil
	}).DependsOn("root")
	g.Task("right", func(ctx context.Context, deps Resolver) (any, error) {
		v, err := deps.Value("root")
		if err != nil {
			return nil, err
		}
		return v.(int) * 3, nil
	}).DependsOn("root")
	g.Task("join", func(ctx context.Context, deps Resolver) (any, error) {
		l, err := deps.Value("left")
		if err != nil {
			return nil, err
		}
		r, err := deps.Value("right")
		if err != nil {
			return nil, err
		}
		return l.(int) + r.(int), nil
	}).DependsOn("left", "right")

	res, err := g.Execute(context.Background())
	require.NoError(t, err)

	value, err := res.Get("join")
	require.NoError(t, err)
	assert.Equal(t, 50, value)
}

func TestExecuteSkipsDependents(t *testing.T) {
	var downstreamRan atomic.Bool
	g := New()
	g.Task("bad", failing)
	g.Task("child", func(ctx context.Context, deps Resolver) (any, error) {
		downstreamRan.Store(true)
		return nil, nil
	}).DependsOn("bad")
	g.Task("grandchild", func(ctx context.Context, deps Resolver) (any, error) {
		downstreamRan.Store(true)
		return nil, nil
	}).DependsOn("child")
	g.Task("unrelated", constant("fine"))

	res, err := g.Execute(context.Background())
	require.NoError(t, err)

	assert.Equal(t, flow.StatusFailed, res.Status("bad"))
	assert.Equal(t, flow.StatusSkipped, res.Status("child"))
	assert.Equal(t, flow.StatusSkipped, res.Status("grandchild"))
	assert.Equal(t, flow.StatusSucceeded, res.Status("unrelated"))
	assert.False(t, downstreamRan.Load())

	// The skip names its direct upstream and wraps the root cause.
	var skipErr *SkippedError
	require.ErrorAs(t, res.Err("child"), &skipErr)
	assert.Equal(t, "bad", skipErr.Dependency)
	assert.ErrorIs(t, skipErr, errBoom)

	require.ErrorAs(t, res.Err("grandchild"), &skipErr)
	assert.Equal(t, "child", skipErr.Dependency)
	assert.ErrorIs(t, skipErr, errBoom)
}

func TestResolverRestrictedToDeclaredDeps(t *testing.T) {
	g := New()
	g.Task("a", constant(1))
	g.Task("b", constant(2))
	g.Task("peek", func(ctx context.Context, deps Resolver) (any, error) {
		return deps.Value("b") // not declared
	}).DependsOn("a")

	res, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.ErrorIs(t, res.Err("peek"), ErrNotDependency)
}

func TestExecuteIsRepeatable(t *testing.T) {
	var runs atomic.Int32
	g := New()
	g.Task("a", func(ctx context.Context, deps Resolver) (any, error) {
		return runs.Add(1), nil
	})
	g.Task("b", func(ctx context.Context, deps Resolver) (any, error) {
		return deps.Value("a")
	}).DependsOn("a")

	first, err := g.Execute(context.Background())
	require.NoError(t, err)
	second, err := g.Execute(context.Background())
	require.NoError(t, err)

	v1, err := first.Get("b")
	require.NoError(t, err)
	v2, err := second.Get("b")
	require.NoError(t, err)
	assert.Equal(t, int32(1), v1)
	assert.Equal(t, int32(2), v2)
}

func TestExecuteCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	g := New()
	g.Task("first", func(ctx context.Context, deps Resolver) (any, error) {
		cancel()
		<-ctx.Done()
		return nil, ctx.Err()
	})
	g.Task("second", constant("never")).DependsOn("first")

	res, err := g.Execute(ctx)
	require.NoError(t, err)
	assert.Equal(t, flow.StatusCancelled, res.Status("first"))
	assert.Equal(t, flow.StatusCancelled, res.Status("second"))
}

func TestExecuteEmptyGraph(t *testing.T) {
	res, err := New().Execute(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Names())
	assert.Zero(t, res.Metrics().TasksTotal)
}

func TestExecuteWithWorkers(t *testing.T) {
	var current, peak atomic.Int32
	work := func(ctx context.Context, deps Resolver) (any, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(time.Millisecond)
		current.Add(-1)
		return nil, nil
	}

	g := New(WithWorkers(2))
	for _, name := range []string{"a", "b", "c", "d", "e", "f"} {
		g.Task(name, work)
	}

	res, err := g.Execute(context.Background())
	require.NoError(t, err)
	assert.False(t, res.HasErrors())
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestExecuteWithExecutor(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	require.NoError(t, reg.Register(ctx, "crunch", registry.CPU, 2))

	g := New(WithExecutor(reg, "crunch"))
	g.Task("a", constant(1))
	g.Task("b", Plain(func(ctx context.Context) (any, error) { return 2, nil })).DependsOn("a")

	res, err := g.Execute(ctx)
	require.NoError(t, err)
	assert.False(t, res.HasErrors())

	entry, err := reg.Get("crunch")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Stats().Submitted)
}

func TestNodeOptionsApply(t *testing.T) {
	var calls atomic.Int32
	g := New()
	g.Task("flaky", func(ctx context.Context, deps Resolver) (any, error) {
		if calls.Add(1) < 2 {
			return nil, errBoom
		}
		return "ok", nil
	}, task.WithAttempts(2), task.WithRetryDelay(time.Millisecond))

	res, err := g.Execute(context.Background())
	require.NoError(t, err)

	value, err := res.Get("flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, int32(2), calls.Load())
}
