package fetch

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rentradar/internal/domain"
	"rentradar/internal/monitoring"
)

// sleepRecorder captures every delay the client would have slept.
type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sleeps = append(r.sleeps, d)
	return nil
}

func (r *sleepRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]time.Duration, len(r.sleeps))
	copy(out, r.sleeps)
	return out
}

// scriptedUpstream serves the scripted statuses in order, repeating the last
// one when the script runs out.
type scriptedUpstream struct {
	mu       sync.Mutex
	statuses []int
	hits     int
}

func (s *scriptedUpstream) handler(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.statuses[len(s.statuses)-1]
	if s.hits < len(s.statuses) {
		status = s.statuses[s.hits]
	}
	s.hits++
	s.mu.Unlock()

	w.WriteHeader(status)
	if status >= 200 && status < 300 {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}
}

func (s *scriptedUpstream) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits
}

func newTestClient(cfg Config) (*Client, *sleepRecorder) {
	rec := &sleepRecorder{}
	client := NewClient("test", cfg,
		map[string]string{"User-Agent": "rentradar-test"},
		zap.NewNop(),
		monitoring.NewMetricsWith(prometheus.NewRegistry()))
	client.sleep = rec.sleep
	return client, rec
}

func TestGetSuccessFirstAttempt(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{MaxRetries: 4, BaseDelay: 10 * time.Millisecond})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, http.StatusOK, result.StatusCode)
	assert.Equal(t, 1, result.Attempts)
	assert.Equal(t, `{"ok":true}`, string(result.Body))
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, 0, stats.Retries)
	assert.Empty(t, rec.recorded())
}

func TestGetRetriesTransientStatusesThenSucceeds(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusOK,
	}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{
		MaxRetries: 4,
		BaseDelay:  10 * time.Millisecond,
		MaxBackoff: time.Second,
	})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, result.Attempts)
	assert.Equal(t, 3, stats.Attempts)
	assert.Equal(t, 2, stats.Retries)
	// Exponential: base*2^0, base*2^1.
	assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, rec.recorded())
}

func TestGetNonRetryableStatusConsumesExactlyOneAttempt(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusNotFound}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{MaxRetries: 4, BaseDelay: 10 * time.Millisecond})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)

	assert.Nil(t, result, "missing payload is absence, not an error")
	assert.Equal(t, 1, stats.Attempts)
	assert.Equal(t, 0, stats.Retries)
	assert.Equal(t, 1, upstream.count())
	assert.Empty(t, rec.recorded())
}

func TestGetExhaustsRetriesAndReportsNoPayload(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusServiceUnavailable}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{MaxRetries: 2, BaseDelay: 10 * time.Millisecond})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)

	assert.Nil(t, result)
	assert.Equal(t, 3, stats.Attempts, "MaxRetries+1 total attempts")
	assert.Equal(t, 2, stats.Retries)
	assert.Len(t, rec.recorded(), 2)
}

func TestGetBackoffIsCapped(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusInternalServerError,
		http.StatusOK,
	}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{
		MaxRetries: 4,
		BaseDelay:  10 * time.Millisecond,
		MaxBackoff: 15 * time.Millisecond,
	})

	result, err := client.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond,
		15 * time.Millisecond,
	}, rec.recorded())
}

func TestGetJitterStaysWithinBounds(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusInternalServerError, http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{
		MaxRetries: 1,
		BaseDelay:  100 * time.Millisecond,
		MaxBackoff: time.Second,
		JitterFrac: 0.2,
	})

	_, err := client.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)

	sleeps := rec.recorded()
	require.Len(t, sleeps, 1)
	assert.GreaterOrEqual(t, sleeps[0], 80*time.Millisecond)
	assert.LessOrEqual(t, sleeps[0], 120*time.Millisecond)
}

func TestGetCooldownAfterConsecutive429s(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusOK,
	}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	cooldown := 500 * time.Millisecond
	client, rec := newTestClient(Config{
		MaxRetries:        4,
		BaseDelay:         10 * time.Millisecond,
		MaxBackoff:        time.Second,
		CooldownThreshold: 3,
		CooldownDuration:  cooldown,
	})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.Equal(t, 4, result.Attempts)

	sleeps := rec.recorded()
	// backoff, backoff, cooldown fired by the third 429, backoff.
	require.Len(t, sleeps, 4)
	assert.Equal(t, cooldown, sleeps[2])
	for _, backoff := range []time.Duration{sleeps[0], sleeps[1]} {
		assert.Greater(t, cooldown, backoff, "cooldown must dominate every earlier backoff")
	}
	assert.Equal(t, 1, stats.Cooldowns)

	client.mu.Lock()
	assert.Equal(t, 0, client.consecutive429, "counter resets after cooldown")
	client.mu.Unlock()
}

func TestGet429CounterPersistsAcrossRequests(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{
		http.StatusTooManyRequests,
		http.StatusTooManyRequests,
		http.StatusOK,
	}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, rec := newTestClient(Config{
		MaxRetries:        0,
		CooldownThreshold: 2,
		CooldownDuration:  300 * time.Millisecond,
	})

	// First request exhausts immediately on 429 and leaves the counter at 1.
	first := &domain.RunStats{}
	result, err := client.Get(context.Background(), srv.URL, nil, first)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, first.Cooldowns)

	// Second 429 crosses the threshold even though it belongs to a new request.
	second := &domain.RunStats{}
	result, err = client.Get(context.Background(), srv.URL, nil, second)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 1, second.Cooldowns)
	assert.Equal(t, []time.Duration{300 * time.Millisecond}, rec.recorded())

	// Success clears the slate.
	third := &domain.RunStats{}
	result, err = client.Get(context.Background(), srv.URL, nil, third)
	require.NoError(t, err)
	require.NotNil(t, result)
	client.mu.Lock()
	assert.Equal(t, 0, client.consecutive429)
	client.mu.Unlock()
}

func TestGet429CounterResetOnSuccess(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{
		http.StatusTooManyRequests,
		http.StatusOK,
		http.StatusTooManyRequests,
		http.StatusOK,
	}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	client, _ := newTestClient(Config{
		MaxRetries:        2,
		BaseDelay:         time.Millisecond,
		CooldownThreshold: 2,
		CooldownDuration:  time.Second,
	})

	stats := &domain.RunStats{}
	for i := 0; i < 2; i++ {
		result, err := client.Get(context.Background(), srv.URL, nil, stats)
		require.NoError(t, err)
		require.NotNil(t, result)
	}
	assert.Equal(t, 0, stats.Cooldowns, "interleaved successes must keep the counter below threshold")
}

func TestGetPacesSteadyStateRequests(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	pace := 200 * time.Millisecond
	client, rec := newTestClient(Config{PaceInterval: pace})

	_, err := client.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)
	require.Empty(t, rec.recorded(), "first request is not paced")

	_, err = client.Get(context.Background(), srv.URL, nil, nil)
	require.NoError(t, err)

	sleeps := rec.recorded()
	require.Len(t, sleeps, 1)
	assert.Greater(t, sleeps[0], 100*time.Millisecond)
	assert.LessOrEqual(t, sleeps[0], pace)
}

func TestGetRetriesTransportErrors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	srv.Close() // every attempt now fails at the transport level

	client, rec := newTestClient(Config{MaxRetries: 2, BaseDelay: 5 * time.Millisecond})
	stats := &domain.RunStats{}

	result, err := client.Get(context.Background(), srv.URL, nil, stats)
	require.NoError(t, err)

	assert.Nil(t, result)
	assert.Equal(t, 3, stats.Attempts)
	assert.Len(t, rec.recorded(), 2)
}

func TestGetReturnsContextError(t *testing.T) {
	t.Parallel()

	upstream := &scriptedUpstream{statuses: []int{http.StatusOK}}
	srv := httptest.NewServer(http.HandlerFunc(upstream.handler))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client, _ := newTestClient(Config{MaxRetries: 4})
	_, err := client.Get(ctx, srv.URL, nil, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}
