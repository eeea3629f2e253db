package httpx

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/restlake/restlake/internal/connector"
)

// RateLimiter combines a local token bucket with server-reported budget
// headers. When the server says the remaining budget is zero, the next
// acquire waits until the reported reset time.
type RateLimiter struct {
	bucket *rate.Limiter
	spec   connector.RateLimitSpec

	mu         sync.Mutex
	remaining  int // -1 when unknown
	pauseUntil time.Time
}

// NewRateLimiter builds a limiter from the connector's rate limit spec.
func NewRateLimiter(spec connector.RateLimitSpec) *RateLimiter {
	rps := spec.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		bucket:    rate.NewLimiter(rate.Limit(rps), burst),
		spec:      spec,
		remaining: -1,
	}
}

// Wait blocks until a request may be sent.
func (r *RateLimiter) Wait(ctx context.Context) error {
	r.mu.Lock()
	pause := r.pauseUntil
	if r.remaining == 0 && !pause.IsZero() {
		r.remaining = -1
		r.pauseUntil = time.Time{}
	} else {
		pause = time.Time{}
	}
	if r.remaining > 0 {
		r.remaining--
	}
	r.mu.Unlock()

	if wait := time.Until(pause); wait > 0 {
		timer := time.NewTimer(wait)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	return r.bucket.Wait(ctx)
}

// Observe clamps the internal budget from response headers.
func (r *RateLimiter) Observe(header http.Header) {
	if r.spec.RespectHeaders != nil && !*r.spec.RespectHeaders {
		return
	}
	remainingRaw := header.Get(r.spec.RemainingHeader)
	if remainingRaw == "" {
		return
	}
	remaining, err := strconv.Atoi(remainingRaw)
	if err != nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.remaining = remaining
	if remaining > 0 {
		return
	}

	resetRaw := header.Get(r.spec.ResetHeader)
	reset, err := strconv.ParseInt(resetRaw, 10, 64)
	if err != nil {
		return
	}
	// Reset is either an epoch timestamp or a delta in seconds.
	if reset > 1e9 {
		r.pauseUntil = time.Unix(reset, 0)
	} else {
		r.pauseUntil = time.Now().Add(time.Duration(reset) * time.Second)
	}
}
