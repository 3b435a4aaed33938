package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

)

// =============================================================================
// Retry Configuration
// =============================================================================

// RetryConfig configures retry behaviour of the resilient transport.
type RetryConfig struct {
	MaxRetries        int
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	BackoffMultiplier float64
	// Jitter is a fraction (0..1) of the backoff randomly added or removed.
	Jitter float64
	// RetryableStatusCodes are retried for idempotent requests.
	RetryableStatusCodes []int
}

// DefaultRetryConfig returns the retry policy used for PostgREST and storage.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    100 * time.Millisecond,
		MaxBackoff:        5 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            0.1,
		RetryableStatusCodes: []int{
			http.StatusTooManyRequests,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout,
		},
	}
}

func (c RetryConfig) backoff(attempt int) time.Duration {
	mult := c.BackoffMultiplier
	if mult <= 0 {
		mult = 1
	}
	d := float64(c.InitialBackoff) * math.Pow(mult, float64(attempt-1))
	if c.MaxBackoff > 0 && d > float64(c.MaxBackoff) {
		d = float64(c.MaxBackoff)
	}
	if c.Jitter > 0 {
		d += d * c.Jitter * (rand.Float64()*2 - 1)
	}
	if d < 0 {
		d = 0
	}
	return time.Duration(d)
}

func (c RetryConfig) retryableStatus(code int) bool {
	for _, s := range c.RetryableStatusCodes {
		if s == code {
			return true
		}
	}
	return false
}

// =============================================================================
// Circuit Breaker
// =============================================================================

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	CircuitClosed CircuitState = iota
	CircuitOpen
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreakerConfig configures circuit breaker behaviour.
type CircuitBreakerConfig struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit.
	FailureThreshold int
	// SuccessThreshold is the number of half-open successes that closes it again.
	SuccessThreshold int
	// Timeout is how long the circuit stays open before probing.
	Timeout time.Duration
	// OnStateChange is invoked synchronously, outside the breaker lock.
	OnStateChange func(from, to CircuitState)
}

// DefaultCircuitBreakerConfig returns sensible defaults.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		Timeout:          30 * time.Second,
	}
}

// ErrCircuitOpen is returned when the circuit is open.
var ErrCircuitOpen = errors.New("supabase circuit breaker is open")

// CircuitBreaker guards the Supabase endpoint against hammering while it is down.
type CircuitBreaker struct {
	mu sync.Mutex

	config CircuitBreakerConfig
	state  CircuitState
	now    func() time.Time

	failures  int
	successes int
	lastError error
	openedAt  time.Time
}

// NewCircuitBreaker creates a closed circuit breaker.
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 1
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	return &CircuitBreaker{config: config, state: CircuitClosed, now: time.Now}
}

// Allow reports whether a request may proceed.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	var changed func()
	defer func() {
		cb.mu.Unlock()
		if changed != nil {
			changed()
		}
	}()

	if cb.state == CircuitOpen {
		if cb.now().Sub(cb.openedAt) < cb.config.Timeout {
			return ErrCircuitOpen
		}
		changed = cb.transitionLocked(CircuitHalfOpen)
	}
	return nil
}

// RecordSuccess records a successful request.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	var changed func()
	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen:
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			changed = cb.transitionLocked(CircuitClosed)
		}
	}
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}

// RecordFailure records a failed request.
func (cb *CircuitBreaker) RecordFailure(err error) {
	cb.mu.Lock()
	var changed func()
	cb.lastError = err
	switch cb.state {
	case CircuitClosed:
		cb.failures++
		if cb.failures >= cb.config.FailureThreshold {
			changed = cb.transitionLocked(CircuitOpen)
		}
	case CircuitHalfOpen:
		changed = cb.transitionLocked(CircuitOpen)
	}
	cb.mu.Unlock()
	if changed != nil {
		changed()
	}
}

func (cb *CircuitBreaker) transitionLocked(to CircuitState) func() {
	from := cb.state
	cb.state = to
	cb.successes = 0
	switch to {
	case CircuitClosed:
		cb.failures = 0
	case CircuitOpen:
		cb.openedAt = cb.now()
	}
	if cb.config.OnStateChange == nil || from == to {
		return nil
	}
	hook := cb.config.OnStateChange
	return func() { hook(from, to) }
}

// State returns the current circuit state.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// LastError returns the last recorded failure.
func (cb *CircuitBreaker) LastError() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.lastError
}

// =============================================================================
// Resilient Transport
// =============================================================================

// TransportStats counts requests seen by a Transport.
type TransportStats struct {
	Total   int64
	Success int64
	Failed  int64
	Retried int64
}

// Transport is an http.RoundTripper adding retries and a circuit breaker.
//
// Only requests that can be replayed are retried: the body must be absent or
// rewindable through GetBody. Non-idempotent methods (POST, PATCH) are retried
// only on 429 and 503, which PostgREST and the storage API return before
// touching the database.
type Transport struct {
	Base    http.RoundTripper
	Retry   RetryConfig
	Breaker *CircuitBreaker

	total   atomic.Int64
	success atomic.Int64
	failed  atomic.Int64
	retried atomic.Int64
}

// NewTransport wraps base (http.DefaultTransport when nil).
func NewTransport(base http.RoundTripper, retry RetryConfig, breaker CircuitBreakerConfig) *Transport {
	if base == nil {
		base = &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
			DialContext: (&net.Dialer{
				Timeout:   10 * time.Second,
				KeepAlive: 30 * time.Second,
			}).DialContext,
		}
	}
	return &Transport{Base: base, Retry: retry, Breaker: NewCircuitBreaker(breaker)}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	t.total.Add(1)

	if err := t.Breaker.Allow(); err != nil {
		t.failed.Add(1)
		return nil, err
	}

	replayable := req.Body == nil || req.Body == http.NoBody || req.GetBody != nil
	idempotent := isIdempotent(req.Method)

	var (
		resp    *http.Response
		lastErr error
	)
	for attempt := 0; ; attempt++ {
		if attempt > 0 {
			t.retried.Add(1)
			select {
			case <-req.Context().Done():
				t.failed.Add(1)
				return nil, req.Context().Err()
			case <-time.After(t.Retry.backoff(attempt)):
			}
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					t.failed.Add(1)
					return nil, fmt.Errorf("rewind request body: %w", err)
				}
				req = req.Clone(req.Context())
				req.Body = body
			}
		}

		resp, lastErr = t.Base.RoundTrip(req)
		canRetry := replayable && attempt < t.Retry.MaxRetries

		if lastErr != nil {
			if canRetry && idempotent && retryableError(lastErr) {
				continue
			}
			break
		}

		if resp.StatusCode < 500 && !t.Retry.retryableStatus(resp.StatusCode) {
			t.Breaker.RecordSuccess()
			t.success.Add(1)
			return resp, nil
		}

		lastErr = &HTTPError{StatusCode: resp.StatusCode}
		retryStatus := t.Retry.retryableStatus(resp.StatusCode) &&
			(idempotent || resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusServiceUnavailable)
		if !canRetry || !retryStatus {
			break
		}
		drain(resp)
	}

	t.Breaker.RecordFailure(lastErr)
	t.failed.Add(1)
	if resp != nil && lastErr != nil {
		var httpErr *HTTPError
		if errors.As(lastErr, &httpErr) {
			// the caller inspects the final status and body itself
			return resp, nil
		}
	}
	return nil, lastErr
}

// Stats returns a snapshot of request counters.
func (t *Transport) Stats() TransportStats {
	return TransportStats{
		Total:   t.total.Load(),
		Success: t.success.Load(),
		Failed:  t.failed.Load(),
		Retried: t.retried.Load(),
	}
}

// CircuitState returns the current circuit breaker state.
func (t *Transport) CircuitState() CircuitState {
	return t.Breaker.State()
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return false
}

func retryableError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()
}

// HTTPError is recorded against the breaker for 5xx and throttled responses.
type HTTPError struct {
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("supabase: %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// NewResilient creates a client whose requests go through a Transport.
func NewResilient(cfg Config, retry RetryConfig, breaker CircuitBreakerConfig) (*Client, *Transport, error) {
	var base http.RoundTripper
	timeout := 30 * time.Second
	if cfg.HTTPClient != nil {
		base = cfg.HTTPClient.Transport
		if cfg.HTTPClient.Timeout > 0 {
			timeout = cfg.HTTPClient.Timeout
		}
	}
	transport := NewTransport(base, retry, breaker)
	cfg.HTTPClient = &http.Client{Transport: transport, Timeout: timeout}
	c, err := New(cfg)
	if err != nil {
		return nil, nil, err
	}
	return c, transport, nil
}

// =============================================================================
// Request ID
// =============================================================================

type requestIDKey struct{}

// WithRequestID attaches a request ID that is forwarded as X-Request-ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, requestID)
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}
