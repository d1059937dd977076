package scheduler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	mu          sync.Mutex
	rateLimited []time.Duration
	keyExpired  int
}

func (o *recordingObserver) OnRateLimited(d time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rateLimited = append(o.rateLimited, d)
}

func (o *recordingObserver) OnKeyExpired() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.keyExpired++
}

func (o *recordingObserver) keyExpiredCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.keyExpired
}

// newTestScheduler builds a scheduler with instant sleeps that are
// recorded for assertion.
func newTestScheduler(t *testing.T, cfg Config, obs Observer) (*Scheduler, *[]time.Duration) {
	t.Helper()
	s := New(cfg, http.DefaultClient, func() string { return "RGAPI-test" }, obs)
	var slept []time.Duration
	var mu sync.Mutex
	s.sleep = func(ctx context.Context, d time.Duration) error {
		mu.Lock()
		slept = append(slept, d)
		mu.Unlock()
		return ctx.Err()
	}
	return s, &slept
}

func startScheduler(t *testing.T, s *Scheduler) {
	t.Helper()
	s.Start(context.Background())
	t.Cleanup(s.Stop)
}

func TestScheduler_FIFOOrder(t *testing.T) {
	var order []string
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		order = append(order, r.URL.Path)
		mu.Unlock()
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, Config{Spacing: time.Nanosecond}, nil)

	// Enqueue all three before the dispatcher starts; arrival order is
	// pinned by waiting for each task to land in the queue.
	var wg sync.WaitGroup
	paths := []string{"/a", "/b", "/c"}
	for i, path := range paths {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL + path})
			assert.NoError(t, err)
		}()
		require.Eventually(t, func() bool { return len(s.queue) == i+1 },
			time.Second, time.Millisecond)
	}

	startScheduler(t, s)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, paths, order)
}

func TestScheduler_AuthHeaderAtDispatchTime(t *testing.T) {
	var gotKey atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotKey.Store(r.Header.Get("X-Riot-Token"))
	}))
	defer srv.Close()

	key := atomic.Value{}
	key.Store("first")
	s := New(Config{}, http.DefaultClient, func() string { return key.Load().(string) }, nil)
	startScheduler(t, s)

	key.Store("rotated")
	_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "rotated", gotKey.Load())
}

func TestScheduler_429RetriesThenSucceeds(t *testing.T) {
	// S4: two 429s with Retry-After: 2, then 200. The task completes
	// once, after two 2 s backoffs.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.Header().Set("Retry-After", "2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, slept := newTestScheduler(t, Config{}, nil)
	startScheduler(t, s)

	res, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.Equal(t, int32(3), calls.Load())

	var backoff time.Duration
	for _, d := range *slept {
		if d == 2*time.Second {
			backoff += d
		}
	}
	assert.GreaterOrEqual(t, backoff, 4*time.Second)
}

func TestScheduler_429GivesUpAfterThree(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "1")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	s, _ := newTestScheduler(t, Config{}, obs)
	startScheduler(t, s)

	_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, int32(3), calls.Load())

	obs.mu.Lock()
	defer obs.mu.Unlock()
	require.Len(t, obs.rateLimited, 1)
	assert.Equal(t, time.Second, obs.rateLimited[0])
}

func TestScheduler_403Drain(t *testing.T) {
	// S5: first response 403 → task 1 rejects, queued tasks reject
	// without HTTP, key-expired emitted once, ReloadKey resumes.
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	obs := &recordingObserver{}
	s, _ := newTestScheduler(t, Config{}, obs)

	// Queue three tasks before starting the dispatcher so the 403 from
	// the first finds the other two still queued.
	errs := make([]error, 3)
	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		i := i
		go func() {
			defer wg.Done()
			_, errs[i] = s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
		}()
	}
	// Wait until all three are queued.
	require.Eventually(t, func() bool { return len(s.queue) == 3 }, time.Second, time.Millisecond)

	startScheduler(t, s)
	wg.Wait()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, errs[i], ErrKeyExpired, "task %d", i)
	}
	assert.Equal(t, int32(1), calls.Load(), "only the first task reaches HTTP")
	assert.Equal(t, 1, obs.keyExpiredCount())

	// Sticky: a fresh enqueue rejects immediately, no HTTP.
	_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	assert.ErrorIs(t, err, ErrKeyExpired)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, s.IsPaused())

	// ReloadKey returns to Running; the fourth task dispatches.
	s.ReloadKey()
	res, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.False(t, s.IsPaused())
}

func TestScheduler_BucketUpdateFromHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-App-Rate-Limit", "5:1,500:600")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s, _ := newTestScheduler(t, Config{}, nil)
	startScheduler(t, s)

	_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
	require.NoError(t, err)
	s.Stop()

	require.Len(t, s.buckets, 2)
	assert.Equal(t, 5, s.buckets[0].Capacity)
	assert.Equal(t, 600*time.Second, s.buckets[1].Window)
}

func TestScheduler_SoftThrottleEngages(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	// Ceiling 5 → soft pause at the 4th dispatch in the window.
	s, slept := newTestScheduler(t, Config{WindowCeiling: 5, Spacing: time.Nanosecond}, nil)
	startScheduler(t, s)

	for i := 0; i < 5; i++ {
		_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: srv.URL})
		require.NoError(t, err)
	}
	s.Stop()

	var sawSoftPause bool
	for _, d := range *slept {
		if d > 25*time.Second && d <= 30*time.Second {
			sawSoftPause = true
		}
	}
	assert.True(t, sawSoftPause, "expected a ~30s soft-pause sleep, got %v", *slept)
	assert.GreaterOrEqual(t, s.WindowUsage(), 0.8)
}

func TestScheduler_RejectsWhenStopped(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, nil)
	s.Start(context.Background())
	s.Stop()

	_, err := s.Do(context.Background(), Request{Method: http.MethodGet, URL: "http://127.0.0.1:0"})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestScheduler_PendingGauge(t *testing.T) {
	s, _ := newTestScheduler(t, Config{}, nil)
	assert.Equal(t, 0, s.Pending())
}
