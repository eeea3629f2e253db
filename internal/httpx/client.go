// Package httpx executes logical HTTP requests with rate limiting, retries
// and backoff. One logical request may span several attempts; authentication
// is re-applied on every attempt so refreshed tokens are picked up.
package httpx

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/samber/lo"

	"github.com/restlake/restlake/internal/connector"
)

const defaultUserAgent = "restlake/1.0"

// Authenticator augments an outgoing request with credentials.
type Authenticator interface {
	Apply(ctx context.Context, req *http.Request) error
	// Invalidate drops any cached token. It reports false when the variant
	// has nothing to refresh, in which case a 401 is terminal.
	Invalidate() bool
}

// StatusError is a non-retryable HTTP status, or a retryable one whose retry
// budget ran out.
type StatusError struct {
	Status int
	Body   string
	// RetryAfter carries the raw Retry-After header when present.
	RetryAfter string
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("http status %d: %s", e.Status, body)
}

// TransportError is a connect or timeout failure that survived retries.
type TransportError struct {
	Err error
}

func (e *TransportError) Error() string { return fmt.Sprintf("http transport: %v", e.Err) }
func (e *TransportError) Unwrap() error { return e.Err }

// ErrRetriesExhausted wraps the final error once the retry budget is consumed.
var ErrRetriesExhausted = fmt.Errorf("retry budget exhausted")

// permanentError marks an attempt failure that must not be retried.
type permanentError struct {
	err error
}

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Request is one logical request.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	// JSONBody is marshaled as the request body when non-nil.
	JSONBody any
	// FormBody is sent urlencoded when non-nil; it wins over JSONBody.
	FormBody url.Values
}

// Response is the materialized response of a successful logical request.
type Response struct {
	Status int
	Header http.Header
	Body   []byte
}

// Client is the HTTP executor. It is safe for concurrent use.
type Client struct {
	hc      *http.Client
	spec    connector.HTTPSpec
	auth    Authenticator
	limiter *RateLimiter
}

// NewClient builds an executor from the connector's HTTP spec. auth may be nil.
func NewClient(spec connector.HTTPSpec, auth Authenticator) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout: time.Duration(spec.ConnectTimeoutSeconds) * time.Second,
		}).DialContext,
		MaxIdleConnsPerHost: 8,
	}
	return &Client{
		hc:      &http.Client{Transport: transport},
		spec:    spec,
		auth:    auth,
		limiter: NewRateLimiter(spec.RateLimit),
	}
}

// HTTPClient exposes the underlying client for collaborators that fetch
// verbatim URLs (token endpoints use their own client).
func (c *Client) HTTPClient() *http.Client { return c.hc }

// Do executes one logical request.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	sched := c.newBackOff()
	var lastErr error
	refreshed401 := false

	for attempt := 0; attempt <= c.spec.MaxRetries; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.retryDelay(sched, lastErr)); err != nil {
				return nil, err
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.attempt(ctx, req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			var perm *permanentError
			if errors.As(err, &perm) {
				return nil, perm.err
			}
			lastErr = &TransportError{Err: err}
			continue
		}

		c.limiter.Observe(resp.Header)

		if resp.Status < 400 {
			return resp, nil
		}

		statusErr := &StatusError{
			Status:     resp.Status,
			Body:       string(resp.Body),
			RetryAfter: resp.Header.Get("Retry-After"),
		}

		// A 401 gets one token refresh and one immediate re-attempt.
		if resp.Status == http.StatusUnauthorized && !refreshed401 &&
			c.auth != nil && c.auth.Invalidate() {
			refreshed401 = true
			attempt--
			lastErr = statusErr
			continue
		}

		if !lo.Contains(c.spec.RetryStatuses, resp.Status) {
			return nil, statusErr
		}
		lastErr = statusErr
	}

	return nil, fmt.Errorf("%w after %d retries: %w", ErrRetriesExhausted, c.spec.MaxRetries, lastErr)
}

func (c *Client) attempt(ctx context.Context, req *Request) (*Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, time.Duration(c.spec.TimeoutSeconds)*time.Second)
	defer cancel()

	target := req.URL
	if len(req.Query) > 0 {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target += sep + req.Query.Encode()
	}

	var body io.Reader
	contentType := ""
	switch {
	case req.FormBody != nil:
		body = strings.NewReader(req.FormBody.Encode())
		contentType = "application/x-www-form-urlencoded"
	case req.JSONBody != nil:
		raw, err := json.Marshal(req.JSONBody)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(raw)
		contentType = "application/json"
	}

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(attemptCtx, method, target, body)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("User-Agent", c.userAgent())
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	for k, v := range req.Headers {
		httpReq.Header.Set(k, v)
	}

	if c.auth != nil {
		// A failed token acquisition is terminal for the logical request;
		// retrying the request would just repeat the refresh failure.
		if err := c.auth.Apply(attemptCtx, httpReq); err != nil {
			return nil, &permanentError{err: err}
		}
	}

	httpResp, err := c.hc.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: raw}, nil
}

func (c *Client) userAgent() string {
	if c.spec.UserAgent != "" {
		return c.spec.UserAgent
	}
	return defaultUserAgent
}

// retryDelay picks the wait before the next attempt: Retry-After is honored
// exactly on 429, otherwise the configured schedule applies.
func (c *Client) retryDelay(sched backoff.BackOff, lastErr error) time.Duration {
	if statusErr, ok := lastErr.(*StatusError); ok && statusErr.Status == http.StatusTooManyRequests {
		if d, ok := retryAfter(statusErr); ok {
			sched.NextBackOff() // keep the schedule advancing
			return d
		}
	}
	d := sched.NextBackOff()
	if d == backoff.Stop {
		d = time.Duration(c.spec.Backoff.MaxMs) * time.Millisecond
	}
	return d
}

func (c *Client) newBackOff() backoff.BackOff {
	initial := time.Duration(c.spec.Backoff.InitialMs) * time.Millisecond
	max := time.Duration(c.spec.Backoff.MaxMs) * time.Millisecond
	switch c.spec.Backoff.Type {
	case "constant":
		return backoff.NewConstantBackOff(initial)
	case "linear":
		return &linearBackOff{initial: initial, max: max}
	default:
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = initial
		b.MaxInterval = max
		b.Multiplier = c.spec.Backoff.Multiplier
		b.RandomizationFactor = 0.2
		b.MaxElapsedTime = 0
		b.Reset()
		return b
	}
}

// linearBackOff grows by the initial interval on every attempt.
type linearBackOff struct {
	initial time.Duration
	max     time.Duration
	n       int
}

func (l *linearBackOff) NextBackOff() time.Duration {
	l.n++
	d := time.Duration(l.n) * l.initial
	if d > l.max {
		d = l.max
	}
	return d
}

func (l *linearBackOff) Reset() { l.n = 0 }

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// retryAfter parses the Retry-After carried alongside a 429 response.
func retryAfter(e *StatusError) (time.Duration, bool) {
	if e.RetryAfter == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(e.RetryAfter); err == nil {
		return time.Duration(secs) * time.Second, true
	}
	if t, err := http.ParseTime(e.RetryAfter); err == nil {
		return time.Until(t), true
	}
	return 0, false
}
