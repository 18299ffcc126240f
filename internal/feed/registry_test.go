package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trogers1052/trading-dashboard/internal/logger"
)

func newTestRegistry(t *testing.T, fetcher Fetcher) *Registry {
	t.Helper()
	r := NewRegistry(fetcher, NewMetrics(prometheus.NewRegistry()), logger.Discard())
	t.Cleanup(r.Dispose)
	return r
}

func staticDescriptor(key string) Descriptor {
	return Descriptor{
		Key:      key,
		Path:     "/" + key,
		Interval: time.Hour,
		Decode:   JSONDecoder[map[string]any](ObjectShape),
	}
}

// byKeyFetcher answers per feed key, immediately.
func byKeyFetcher(results map[string]fetchResult) Fetcher {
	return FetcherFunc(func(ctx context.Context, desc Descriptor, contextKey string) (any, error) {
		res := results[desc.Key]
		return res.value, res.err
	})
}

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := newTestRegistry(t, &controlledFetcher{})

	_, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)

	_, err = r.Register(staticDescriptor("status"))
	assert.ErrorIs(t, err, ErrDuplicateFeed)
}

func TestRegistry_RegisterInvalid(t *testing.T) {
	r := newTestRegistry(t, &controlledFetcher{})

	_, err := r.Register(Descriptor{Key: "status"})
	assert.Error(t, err)
	assert.Empty(t, r.Keys())
}

func TestRegistry_UnknownHandle(t *testing.T) {
	r := newTestRegistry(t, &controlledFetcher{})

	_, err := r.Handle("nope")
	assert.ErrorIs(t, err, ErrUnknownFeed)

	_, ok := r.CurrentState("nope")
	assert.False(t, ok)
}

func TestRegistry_InitialStateIsIdle(t *testing.T) {
	r := newTestRegistry(t, &controlledFetcher{})
	_, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)

	st, ok := r.CurrentState("status")
	require.True(t, ok)
	assert.Equal(t, "status", st.Key)
	assert.False(t, st.Loading)
	assert.False(t, st.HasSnapshot())
}

func TestRegistry_FeedsAreIsolated(t *testing.T) {
	r := newTestRegistry(t, byKeyFetcher(map[string]fetchResult{
		"status":      {value: map[string]any{"api": true}},
		"performance": {err: networkError("performance", 503, errors.New("unavailable"))},
	}))

	_, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	_, err = r.Register(staticDescriptor("performance"))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	require.Eventually(t, func() bool {
		status, _ := r.CurrentState("status")
		perf, _ := r.CurrentState("performance")
		return status.HasSnapshot() && perf.Errored()
	}, time.Second, 5*time.Millisecond)

	status, _ := r.CurrentState("status")
	assert.NoError(t, status.Err)
	assert.Equal(t, map[string]any{"api": true}, status.Snapshot)

	errs := r.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, NetworkError, KindOf(errs["performance"]))

	snap := r.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, []string{"performance", "status"}, r.Keys())
}

func TestRegistry_StartSkipsParameterizedFeeds(t *testing.T) {
	fetcher := &controlledFetcher{}
	r := newTestRegistry(t, fetcher)

	_, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	history, err := r.Register(historyDescriptor())
	require.NoError(t, err)

	require.NoError(t, r.Start())
	call := fetcher.call(t, 1)
	assert.Equal(t, "status", call.feed)
	call.succeed(map[string]any{})

	// Starting again is harmless
	require.NoError(t, r.Start())
	assert.Equal(t, 1, fetcher.count())

	require.NoError(t, history.SetContext("AAPL"))
	call = fetcher.call(t, 2)
	assert.Equal(t, "history", call.feed)
	assert.Equal(t, "AAPL", call.contextKey)
	call.succeed([]samplePoint{})

	require.Eventually(t, func() bool {
		return history.State().HasSnapshot()
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "history", history.Key())
}

func TestRegistry_ObserversSeeChangesInOrder(t *testing.T) {
	fetcher := &controlledFetcher{}
	r := newTestRegistry(t, fetcher)

	var mu sync.Mutex
	var seen []FeedState
	r.Subscribe(func(st FeedState) {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, st)
	})

	h, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	require.NoError(t, h.Start(""))
	fetcher.call(t, 1).succeed(map[string]any{"n": 1})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, seen[0].Loading)
	assert.False(t, seen[1].Loading)
	assert.Equal(t, uint64(1), seen[1].Sequence)
}

func TestRegistry_ObserverMayReadRegistry(t *testing.T) {
	r := newTestRegistry(t, byKeyFetcher(map[string]fetchResult{
		"status": {value: map[string]any{}},
	}))

	done := make(chan FeedState, 4)
	r.Subscribe(func(st FeedState) {
		cur, _ := r.CurrentState(st.Key)
		done <- cur
	})

	_, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer was not called")
	}
}

func TestRegistry_DisposeIsIdempotent(t *testing.T) {
	fetcher := &controlledFetcher{}
	r := NewRegistry(fetcher, nil, logger.Discard())

	h, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	pending := fetcher.call(t, 1)

	r.Dispose()
	r.Dispose()

	pending.succeed(map[string]any{"late": true})
	time.Sleep(20 * time.Millisecond)

	assert.False(t, h.State().HasSnapshot())
	assert.ErrorIs(t, r.Start(), ErrDisposed)

	_, err = r.Register(staticDescriptor("performance"))
	assert.ErrorIs(t, err, ErrDisposed)
}

func TestRegistry_HandleStopOnlyStopsOneFeed(t *testing.T) {
	fetcher := &controlledFetcher{}
	r := newTestRegistry(t, fetcher)

	status, err := r.Register(staticDescriptor("status"))
	require.NoError(t, err)
	_, err = r.Register(staticDescriptor("performance"))
	require.NoError(t, err)
	require.NoError(t, r.Start())

	first := fetcher.call(t, 1)
	second := fetcher.call(t, 2)
	status.Stop()

	first.succeed(map[string]any{})
	second.succeed(map[string]any{})

	require.Eventually(t, func() bool {
		perf, _ := r.CurrentState("performance")
		return perf.HasSnapshot()
	}, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, status.Refresh(), ErrStopped)
	assert.False(t, status.State().HasSnapshot())
}
