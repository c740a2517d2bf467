package cluster_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/novotx/elsa-core/pkg/cluster"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// counterGrain counts its messages and records the highest observed concurrency.
type counterGrain struct {
	identity string
	count    int
	inFlight *atomic.Int32
	maxSeen  *atomic.Int32

	activations   *atomic.Int32
	deactivations *atomic.Int32
}

func (g *counterGrain) Activate(_ context.Context) error {
	g.activations.Add(1)

	return nil
}

func (g *counterGrain) Deactivate(_ context.Context) error {
	g.deactivations.Add(1)

	return nil
}

func (g *counterGrain) Receive(_ context.Context, msg any) (any, error) {
	n := g.inFlight.Add(1)
	defer g.inFlight.Add(-1)

	for {
		seen := g.maxSeen.Load()
		if n <= seen || g.maxSeen.CompareAndSwap(seen, n) {
			break
		}
	}

	switch m := msg.(type) {
	case string:
		if m == "panic" {
			panic("boom")
		}

		if m == "fail" {
			return nil, errors.New("failed")
		}

		if m == "sleep" {
			time.Sleep(50 * time.Millisecond)
		}
	}

	g.count++

	return g.identity + ":" + string(rune('0'+g.count%10)), nil
}

type harness struct {
	cluster       *cluster.Cluster
	inFlight      atomic.Int32
	maxSeen       atomic.Int32
	activations   atomic.Int32
	deactivations atomic.Int32
}

func newHarness(t *testing.T, opts ...cluster.Option) *harness {
	t.Helper()

	h := &harness{}
	h.cluster = cluster.New(discardLogger(), nil, opts...)
	h.cluster.Register("Counter", func(identity string) (cluster.Grain, error) {
		return &counterGrain{
			identity:      identity,
			inFlight:      &h.inFlight,
			maxSeen:       &h.maxSeen,
			activations:   &h.activations,
			deactivations: &h.deactivations,
		}, nil
	})

	t.Cleanup(func() {
		_ = h.cluster.Stop(context.Background())
	})

	return h
}

func TestAddress(t *testing.T) {
	assert.Equal(t, "WorkflowGrain-abc", cluster.Address("WorkflowGrain", "abc"))
	assert.Equal(t, "RunningWorkflowsGrain", cluster.Address("RunningWorkflowsGrain", ""))
}

func TestRequest_SameGrainKeepsState(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	first, err := h.cluster.Request(ctx, "Counter", "a", "tick")
	require.NoError(t, err)
	assert.Equal(t, "a:1", first)

	second, err := h.cluster.Request(ctx, "Counter", "a", "tick")
	require.NoError(t, err)
	assert.Equal(t, "a:2", second)

	other, err := h.cluster.Request(ctx, "Counter", "b", "tick")
	require.NoError(t, err)
	assert.Equal(t, "b:1", other)

	assert.Equal(t, 2, h.cluster.ActiveCount())
	assert.Equal(t, int32(2), h.activations.Load())
}

func TestRequest_SerializesPerIdentity(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for range 5 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.cluster.Request(ctx, "Counter", "same", "sleep")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Equal(t, int32(1), h.maxSeen.Load())
}

func TestRequest_DifferentIdentitiesRunInParallel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup

	for _, id := range []string{"a", "b", "c", "d"} {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := h.cluster.Request(ctx, "Counter", id, "sleep")
			assert.NoError(t, err)
		}()
	}

	wg.Wait()

	assert.Greater(t, h.maxSeen.Load(), int32(1))
}

func TestRequest_Errors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name    string
		kind    string
		msg     string
		wantErr string
		target  error
	}{
		{name: "grain error", kind: "Counter", msg: "fail", wantErr: "failed"},
		{name: "grain panic", kind: "Counter", msg: "panic", wantErr: "panicked: boom"},
		{name: "unknown kind", kind: "Missing", msg: "tick", target: cluster.ErrUnknownKind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.cluster.Request(ctx, tt.kind, "x", tt.msg)
			require.Error(t, err)

			if tt.target != nil {
				assert.ErrorIs(t, err, tt.target)
			}

			if tt.wantErr != "" {
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}

	// The grain survives a panic.
	value, err := h.cluster.Request(ctx, "Counter", "x", "tick")
	require.NoError(t, err)
	assert.Equal(t, "x:1", value)
}

func TestRequest_Timeout(t *testing.T) {
	h := newHarness(t, cluster.WithRequestTimeout(10*time.Millisecond))

	_, err := h.cluster.Request(context.Background(), "Counter", "slow", "sleep")
	require.Error(t, err)
	assert.ErrorIs(t, err, cluster.ErrDeliveryTimeout)
}

func TestIdleEviction(t *testing.T) {
	h := newHarness(t, cluster.WithIdleTimeout(20*time.Millisecond))
	ctx := context.Background()

	_, err := h.cluster.Request(ctx, "Counter", "a", "tick")
	require.NoError(t, err)
	assert.True(t, h.cluster.IsActive("Counter", "a"))

	require.Eventually(t, func() bool {
		return !h.cluster.IsActive("Counter", "a")
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, int32(1), h.deactivations.Load())

	// A fresh activation starts from scratch.
	value, err := h.cluster.Request(ctx, "Counter", "a", "tick")
	require.NoError(t, err)
	assert.Equal(t, "a:1", value)
	assert.Equal(t, int32(2), h.activations.Load())
}

func TestStop(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.cluster.Request(ctx, "Counter", "a", "tick")
	require.NoError(t, err)

	require.NoError(t, h.cluster.Stop(ctx))
	assert.Equal(t, int32(1), h.deactivations.Load())

	_, err = h.cluster.Request(ctx, "Counter", "a", "tick")
	assert.ErrorIs(t, err, cluster.ErrClusterStopped)

	assert.NoError(t, h.cluster.Stop(ctx))
}

func TestFactoryError(t *testing.T) {
	c := cluster.New(discardLogger(), nil)
	c.Register("Broken", func(string) (cluster.Grain, error) {
		return nil, errors.New("cannot build")
	})

	_, err := c.Request(context.Background(), "Broken", "x", "tick")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot build")
	assert.Equal(t, 0, c.ActiveCount())
}
