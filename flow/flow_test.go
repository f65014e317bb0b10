package flow

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/taskgridgo/registry"
	"github.com/vk/taskgridgo/task"
)

var errBoom = errors.New("boom")

func sleepy(d time.Duration, value any) task.Work {
	return func(ctx context.Context) (any, error) {
		select {
		case <-time.After(d):
			return value, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func TestExecuteAllSucceed(t *testing.T) {
	res, err := New().
		Task("a", func(ctx context.Context) (any, error) { return 1, nil }).
		Task("b", func(ctx context.Context) (any, error) { return 2, nil }).
		Task("c", func(ctx context.Context) (any, error) { return 3, nil }).
		Execute(context.Background())

	require.NoError(t, err)
	assert.False(t, res.HasErrors())
	assert.Equal(t, []string{"a", "b", "c"}, res.Names())

	for name, want := range map[string]int{"a": 1, "b": 2, "c": 3} {
		value, err := res.Get(name)
		require.NoError(t, err)
		assert.Equal(t, want, value)
		assert.Equal(t, StatusSucceeded, res.Status(name))
	}

	m := res.Metrics()
	assert.Equal(t, 3, m.TasksTotal)
	assert.Equal(t, 3, m.TasksSucceeded)
	assert.Zero(t, m.TasksFailed)
}

func TestExecuteValidation(t *testing.T) {
	work := func(ctx context.Context) (any, error) { return nil, nil }

	t.Run("duplicate names", func(t *testing.T) {
		_, err := New().Task("a", work).Task("a", work).Execute(context.Background())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
		assert.Equal(t, "a", cfgErr.Name)
	})

	t.Run("empty name", func(t *testing.T) {
		_, err := New().Task("", work).Execute(context.Background())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("nil work", func(t *testing.T) {
		_, err := New().Task("a", nil).Execute(context.Background())
		var cfgErr *ConfigError
		require.ErrorAs(t, err, &cfgErr)
	})

	t.Run("empty flow", func(t *testing.T) {
		res, err := New().Execute(context.Background())
		require.NoError(t, err)
		assert.Empty(t, res.Names())
	})
}

func TestExecuteCollectsFailures(t *testing.T) {
	res, err := New().
		Task("good", func(ctx context.Context) (any, error) { return "fine", nil }).
		Task("bad", func(ctx context.Context) (any, error) { return nil, errBoom }).
		Execute(context.Background())

	// Without fail-fast, per-task failures do not fail the flow itself.
	require.NoError(t, err)
	assert.True(t, res.HasErrors())
	assert.Equal(t, StatusSucceeded, res.Status("good"))
	assert.Equal(t, StatusFailed, res.Status("bad"))
	assert.ErrorIs(t, res.Err("bad"), errBoom)
	assert.ErrorIs(t, res.Errors()["bad"], errBoom)
}

func TestExecuteFailFast(t *testing.T) {
	started := make(chan struct{})

	res, err := New(WithFailFast()).
		Task("bad", func(ctx context.Context) (any, error) {
			<-started
			return nil, errBoom
		}).
		Task("slow", func(ctx context.Context) (any, error) {
			close(started)
			select {
			case <-time.After(5 * time.Second):
				return nil, nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}).
		Execute(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, errBoom)
	assert.Equal(t, StatusFailed, res.Status("bad"))
	// The sibling was cancelled, not awaited.
	assert.Equal(t, StatusCancelled, res.Status("slow"))
}

func TestExecuteTimeout(t *testing.T) {
	res, err := New(WithTimeout(20 * time.Millisecond)).
		Task("fast", sleepy(0, "ok")).
		Task("slow", sleepy(5*time.Second, "late")).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusSucceeded, res.Status("fast"))
	assert.Equal(t, StatusFailed, res.Status("slow"))

	var te *task.TimeoutError
	require.ErrorAs(t, res.Err("slow"), &te)
	assert.Equal(t, "slow", te.Task)
}

func TestExecuteStragglerResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	res, err := New(WithTimeout(20 * time.Millisecond)).
		Task("stuck", func(ctx context.Context) (any, error) {
			// Ignores cancellation on purpose.
			<-release
			return "too late", nil
		}).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status("stuck"))

	// The straggler finishing later must not overwrite the recorded outcome.
	close(release)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, StatusFailed, res.Status("stuck"))
	_, getErr := res.Get("stuck")
	assert.Error(t, getErr)
}

func TestExecuteWithSharedExecutor(t *testing.T) {
	ctx := context.Background()
	reg := registry.New()
	require.NoError(t, reg.Register(ctx, "crunch", registry.CPU, 2))

	res, err := New(WithExecutor(reg, "crunch")).
		Task("a", func(ctx context.Context) (any, error) { return "a", nil }).
		Task("b", func(ctx context.Context) (any, error) { return "b", nil }).
		Execute(ctx)

	require.NoError(t, err)
	assert.False(t, res.HasErrors())

	entry, err := reg.Get("crunch")
	require.NoError(t, err)
	assert.Equal(t, int64(2), entry.Stats().Submitted)
}

func TestExecuteListener(t *testing.T) {
	var finals atomic.Int32
	listener := task.Listener{
		OnFinalSuccess: func(e task.Event) { finals.Add(1) },
	}

	_, err := New(WithListener(listener)).
		Task("a", func(ctx context.Context) (any, error) { return nil, nil }).
		Task("b", func(ctx context.Context) (any, error) { return nil, nil }).
		Execute(context.Background())

	require.NoError(t, err)
	assert.Equal(t, int32(2), finals.Load())
}

func TestResultGetUnknown(t *testing.T) {
	res, err := New().
		Task("a", func(ctx context.Context) (any, error) { return nil, nil }).
		Execute(context.Background())
	require.NoError(t, err)

	_, err = res.Get("nope")
	assert.ErrorIs(t, err, ErrUnknownTask)
}

func TestRace(t *testing.T) {
	t.Run("first success wins and cancels the rest", func(t *testing.T) {
		var loserCancelled atomic.Bool
		value, err := Race(context.Background(),
			func(ctx context.Context) (any, error) {
				return "winner", nil
			},
			func(ctx context.Context) (any, error) {
				<-ctx.Done()
				loserCancelled.Store(true)
				return nil, ctx.Err()
			},
		)
		require.NoError(t, err)
		assert.Equal(t, "winner", value)

		assert.Eventually(t, loserCancelled.Load, time.Second, time.Millisecond)
	})

	t.Run("failures are outlasted by a slow success", func(t *testing.T) {
		value, err := Race(context.Background(),
			func(ctx context.Context) (any, error) { return nil, errBoom },
			sleepy(10*time.Millisecond, "slow but fine"),
		)
		require.NoError(t, err)
		assert.Equal(t, "slow but fine", value)
	})

	t.Run("all failures yield the last error", func(t *testing.T) {
		errOther := errors.New("other")
		_, err := Race(context.Background(),
			func(ctx context.Context) (any, error) { return nil, errOther },
			func(ctx context.Context) (any, error) {
				time.Sleep(20 * time.Millisecond)
				return nil, errBoom
			},
		)
		assert.ErrorIs(t, err, errBoom)
	})

	t.Run("empty race returns nothing", func(t *testing.T) {
		value, err := Race(context.Background())
		assert.NoError(t, err)
		assert.Nil(t, value)
	})

	t.Run("context cancellation wins over stuck works", func(t *testing.T) {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		defer cancel()

		_, err := Race(ctx, func(c context.Context) (any, error) {
			<-c.Done()
			return nil, c.Err()
		})
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
