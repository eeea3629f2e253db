package httpx

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/restlake/restlake/internal/connector"
)

func testSpec() connector.HTTPSpec {
	return connector.HTTPSpec{
		TimeoutSeconds:        5,
		ConnectTimeoutSeconds: 2,
		MaxRetries:            3,
		RetryStatuses:         []int{429, 500, 502, 503, 504},
		Backoff: connector.BackoffSpec{
			Type:       "exponential",
			InitialMs:  10,
			MaxMs:      100,
			Multiplier: 2.0,
		},
		RateLimit: connector.RateLimitSpec{RequestsPerSecond: 1000},
	}
}

func TestDoSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "v", r.URL.Query().Get("k"))
		assert.Equal(t, "1", r.Header.Get("X-Test"))
		w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	c := NewClient(testSpec(), nil)
	resp, err := c.Do(context.Background(), &Request{
		URL:     srv.URL,
		Query:   map[string][]string{"k": {"v"}},
		Headers: map[string]string{"X-Test": "1"},
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.JSONEq(t, `{"ok": true}`, string(resp.Body))
}

func TestDoRetriesServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewClient(testSpec(), nil)
	resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestDoNonRetryableFailsImmediately(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "nope", http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewClient(testSpec(), nil)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.Error(t, err)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 403, serr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDoRetryBudgetExhausted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	spec := testSpec()
	spec.MaxRetries = 2
	c := NewClient(spec, nil)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestDoHonorsRetryAfter(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.Header().Set("Retry-After", "1")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(`{"data":[],"has_more":false}`))
	}))
	defer srv.Close()

	c := NewClient(testSpec(), nil)
	start := time.Now()
	resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.GreaterOrEqual(t, time.Since(start), time.Second)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

type fakeAuth struct {
	applies     int32
	invalidates int32
	token       atomic.Value
}

func (f *fakeAuth) Apply(_ context.Context, req *http.Request) error {
	atomic.AddInt32(&f.applies, 1)
	if v, ok := f.token.Load().(string); ok {
		req.Header.Set("Authorization", "Bearer "+v)
	}
	return nil
}

func (f *fakeAuth) Invalidate() bool {
	atomic.AddInt32(&f.invalidates, 1)
	f.token.Store("fresh")
	return true
}

func TestDo401RefreshesOnce(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer fresh" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	auth := &fakeAuth{}
	auth.token.Store("stale")
	c := NewClient(testSpec(), auth)

	resp, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.invalidates))
}

type deadAuth struct{}

func (deadAuth) Apply(context.Context, *http.Request) error { return nil }
func (deadAuth) Invalidate() bool                           { return false }

func TestDoPersistent401Fails(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(testSpec(), deadAuth{})
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.Error(t, err)

	var serr *StatusError
	require.ErrorAs(t, err, &serr)
	assert.Equal(t, 401, serr.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

type failingAuth struct {
	calls int32
}

func (f *failingAuth) Apply(context.Context, *http.Request) error {
	atomic.AddInt32(&f.calls, 1)
	return errFailedRefresh
}

func (f *failingAuth) Invalidate() bool { return true }

var errFailedRefresh = fmt.Errorf("auth: token refresh failed")

func TestDoAuthFailureNotRetried(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	auth := &failingAuth{}
	c := NewClient(testSpec(), auth)
	_, err := c.Do(context.Background(), &Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, errFailedRefresh)
	assert.Equal(t, int32(1), atomic.LoadInt32(&auth.calls))
}

func TestDoTransportErrorAfterRetries(t *testing.T) {
	spec := testSpec()
	spec.MaxRetries = 1
	c := NewClient(spec, nil)

	_, err := c.Do(context.Background(), &Request{URL: "http://127.0.0.1:1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
}

func TestDoCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(2 * time.Second)
	}))
	defer srv.Close()

	c := NewClient(testSpec(), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.Do(ctx, &Request{URL: srv.URL})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRateLimiterHeaderClamp(t *testing.T) {
	spec := connector.RateLimitSpec{
		RequestsPerSecond: 1000,
		RemainingHeader:   "X-RateLimit-Remaining",
		ResetHeader:       "X-RateLimit-Reset",
	}
	rl := NewRateLimiter(spec)

	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "1") // one second from now
	rl.Observe(h)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 900*time.Millisecond)
}

func TestRateLimiterIgnoredWhenDisabled(t *testing.T) {
	f := false
	rl := NewRateLimiter(connector.RateLimitSpec{
		RequestsPerSecond: 1000,
		RespectHeaders:    &f,
		RemainingHeader:   "X-RateLimit-Remaining",
		ResetHeader:       "X-RateLimit-Reset",
	})
	h := http.Header{}
	h.Set("X-RateLimit-Remaining", "0")
	h.Set("X-RateLimit-Reset", "30")
	rl.Observe(h)

	start := time.Now()
	require.NoError(t, rl.Wait(context.Background()))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}
