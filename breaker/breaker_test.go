package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

// advanceClock pins the package clock to a controllable instant and restores
// the real clock when the test finishes.
func advanceClock(t *testing.T) func(d time.Duration) {
	t.Helper()
	current := time.Now()
	now = func() time.Time { return current }
	t.Cleanup(func() { now = time.Now })
	return func(d time.Duration) { current = current.Add(d) }
}

func failing(ctx context.Context) (any, error) { return nil, errBoom }
func succeeding(ctx context.Context) (any, error) { return "ok", nil }

func trip(t *testing.T, b *Breaker, threshold int) {
	t.Helper()
	for range threshold {
		_, err := b.Execute(context.Background(), failing)
		require.ErrorIs(t, err, errBoom)
	}
}

func TestClosedPassesThrough(t *testing.T) {
	b := New("svc", Settings{})
	value, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, Closed, b.State())
}

func TestTripsAfterConsecutiveFailures(t *testing.T) {
	b := New("svc", Settings{FailureThreshold: 3})

	trip(t, b, 3)
	assert.Equal(t, Open, b.State())

	// Calls are refused without invoking the work.
	invoked := false
	_, err := b.Execute(context.Background(), func(ctx context.Context) (any, error) {
		invoked = true
		return nil, nil
	})
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "svc", openErr.Name)
	assert.Greater(t, openErr.RetryAfter, time.Duration(0))
	assert.False(t, invoked)
}

func TestSuccessResetsFailureCount(t *testing.T) {
	b := New("svc", Settings{FailureThreshold: 3})

	for range 2 {
		_, err := b.Execute(context.Background(), failing)
		require.ErrorIs(t, err, errBoom)
	}
	_, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)

	// The streak restarted, so two more failures must not trip it.
	for range 2 {
		_, err := b.Execute(context.Background(), failing)
		require.ErrorIs(t, err, errBoom)
	}
	assert.Equal(t, Closed, b.State())
}

func TestProbeSuccessCloses(t *testing.T) {
	advance := advanceClock(t)
	b := New("svc", Settings{FailureThreshold: 1, ResetTimeout: time.Second})

	trip(t, b, 1)
	assert.Equal(t, Open, b.State())

	advance(time.Second)
	assert.Equal(t, HalfOpen, b.State())

	value, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)
	assert.Equal(t, "ok", value)
	assert.Equal(t, Closed, b.State())
}

func TestProbeFailureReopens(t *testing.T) {
	advance := advanceClock(t)
	b := New("svc", Settings{FailureThreshold: 1, ResetTimeout: time.Second})

	trip(t, b, 1)
	advance(time.Second)

	_, err := b.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, Open, b.State())

	// The cooldown restarted from the probe failure.
	var openErr *OpenError
	_, err = b.Execute(context.Background(), failing)
	require.ErrorAs(t, err, &openErr)
}

func TestHalfOpenAdmitsSingleProbe(t *testing.T) {
	advance := advanceClock(t)
	b := New("svc", Settings{FailureThreshold: 1, ResetTimeout: time.Second})

	trip(t, b, 1)
	advance(time.Second)

	probeStarted := make(chan struct{})
	probeRelease := make(chan struct{})
	probeDone := make(chan error, 1)
	go func() {
		_, err := b.Execute(context.Background(), func(ctx context.Context) (any, error) {
			close(probeStarted)
			<-probeRelease
			return nil, nil
		})
		probeDone <- err
	}()

	<-probeStarted
	// A second call while the probe is in flight must fail fast.
	_, err := b.Execute(context.Background(), succeeding)
	var openErr *OpenError
	require.ErrorAs(t, err, &openErr)

	close(probeRelease)
	require.NoError(t, <-probeDone)
	assert.Equal(t, Closed, b.State())
}

func TestOnStateChange(t *testing.T) {
	advance := advanceClock(t)

	var mu sync.Mutex
	var transitions [][2]State
	b := New("svc", Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			transitions = append(transitions, [2]State{from, to})
		},
	})

	trip(t, b, 1)
	advance(time.Second)
	_, err := b.Execute(context.Background(), succeeding)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]State{
		{Closed, Open},
		{Open, HalfOpen},
		{HalfOpen, Closed},
	}, transitions)
}

func TestOnStateChangeNeverMisreports(t *testing.T) {
	advance := advanceClock(t)

	var mu sync.Mutex
	var transitions [][2]State
	b := New("svc", Settings{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		OnStateChange: func(name string, from, to State) {
			mu.Lock()
			defer mu.Unlock()
			// A transition must always leave the state it reports leaving.
			require.NotEqual(t, from, to)
			transitions = append(transitions, [2]State{from, to})
		},
	})

	trip(t, b, 1)
	advance(time.Second)
	// A failed probe reopens; a later probe closes.
	_, err := b.Execute(context.Background(), failing)
	require.ErrorIs(t, err, errBoom)
	advance(time.Second)
	_, err = b.Execute(context.Background(), succeeding)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, [][2]State{
		{Closed, Open},
		{Open, HalfOpen},
		{HalfOpen, Open},
		{Open, HalfOpen},
		{HalfOpen, Closed},
	}, transitions)
}

func TestGroupSharesInstances(t *testing.T) {
	g := NewGroup()

	a := g.Get("billing", Settings{FailureThreshold: 1})
	b := g.Get("billing", Settings{FailureThreshold: 99})
	assert.Same(t, a, b)

	other := g.Get("search", Settings{})
	assert.NotSame(t, a, other)

	found, ok := g.Lookup("billing")
	require.True(t, ok)
	assert.Same(t, a, found)

	_, ok = g.Lookup("missing")
	assert.False(t, ok)

	assert.ElementsMatch(t, []string{"billing", "search"}, g.Names())
}
