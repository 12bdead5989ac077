// Package dispatch sends translation requests to the generateContent API,
// rotating through pooled credentials on failure.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"

	"github.com/minios-linux/glossa/keypool"
	"github.com/minios-linux/glossa/request"
)

const (
	DefaultBaseURL     = "https://generativelanguage.googleapis.com"
	DefaultModel       = "gemini-2.0-flash-exp"
	DefaultMaxAttempts = 3
	DefaultTimeout     = 60 * time.Second
)

// Options configures a Dispatcher. Zero values select defaults.
type Options struct {
	BaseURL     string
	Model       string
	MaxAttempts int
	// Timeout bounds a single HTTP round trip.
	Timeout time.Duration
	// Proxy overrides HTTP_PROXY/HTTPS_PROXY when set.
	Proxy string
	// HTTPClient replaces the client built from Timeout and Proxy.
	HTTPClient *http.Client

	// BreakerThreshold is the number of consecutive transport failures
	// that open the circuit. BreakerCooldown is how long it stays open.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// Logger receives per-attempt diagnostics. The zero value discards.
	Logger zerolog.Logger
}

func (o Options) effectiveBaseURL() string {
	if o.BaseURL == "" {
		return DefaultBaseURL
	}
	return o.BaseURL
}

func (o Options) effectiveModel() string {
	if o.Model == "" {
		return DefaultModel
	}
	return o.Model
}

func (o Options) effectiveMaxAttempts() int {
	if o.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return o.MaxAttempts
}

func (o Options) effectiveTimeout() time.Duration {
	if o.Timeout <= 0 {
		return DefaultTimeout
	}
	return o.Timeout
}

func (o Options) effectiveBreakerThreshold() int {
	if o.BreakerThreshold <= 0 {
		return 5
	}
	return o.BreakerThreshold
}

func (o Options) effectiveBreakerCooldown() time.Duration {
	if o.BreakerCooldown <= 0 {
		return 30 * time.Second
	}
	return o.BreakerCooldown
}

// Dispatcher is safe for concurrent use; all credential state lives in the pool.
type Dispatcher struct {
	pool    *keypool.Pool
	opts    Options
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     zerolog.Logger
	now     func() time.Time
}

// New returns a Dispatcher drawing credentials from pool.
func New(pool *keypool.Pool, opts Options) *Dispatcher {
	client := opts.HTTPClient
	if client == nil {
		client = makeHTTPClient(opts.Proxy, opts.effectiveTimeout())
	}
	log := opts.Logger.With().Str("component", "dispatch").Logger()
	return &Dispatcher{
		pool:    pool,
		opts:    opts,
		client:  client,
		breaker: newBreaker(opts.effectiveBreakerThreshold(), opts.effectiveBreakerCooldown(), log),
		log:     log,
		now:     time.Now,
	}
}

// Dispatch sends req and returns the cleaned translation. Each attempt
// draws the next available credential, so a failing key is rotated away
// from on the following attempt. At most MaxAttempts remote calls are
// made. Failures are always *Error.
func (d *Dispatcher) Dispatch(ctx context.Context, req *request.Request) (string, error) {
	if req.Empty() {
		return "", &Error{Kind: KindEmptyInput, Message: ErrEmptyInput.Error(), Err: ErrEmptyInput}
	}
	body, err := req.Body()
	if err != nil {
		return "", &Error{Kind: KindParseFailure, Message: "encoding request: " + err.Error(), Err: err}
	}

	maxAttempts := d.opts.effectiveMaxAttempts()
	var last *Error
	attempts := 0

	for attempts < maxAttempts {
		if err := ctx.Err(); err != nil {
			return "", timeoutError(err, attempts)
		}

		lease, err := d.pool.NextAvailable()
		if err != nil {
			return "", poolFailure(err, attempts, last)
		}
		attempts++

		text, aerr := d.attempt(ctx, lease, req.Kind, body)
		if aerr == nil {
			d.log.Debug().Str("kind", req.Kind.String()).Int("key_index", lease.Index).Int("attempt", attempts).Msg("dispatch succeeded")
			return text, nil
		}

		d.log.Warn().
			Str("kind", req.Kind.String()).
			Int("key_index", lease.Index).
			Int("attempt", attempts).
			Str("failure", string(aerr.Kind)).
			Msg(aerr.Message)

		if aerr.Kind == KindTimeout {
			aerr.Attempts = attempts
			return "", aerr
		}
		last = aerr
	}

	last.Attempts = attempts
	last.Message = fmt.Sprintf("translation failed after %d attempts: %s", attempts, last.Message)
	return "", last
}

// attempt performs one remote call with lease and updates the pool with
// the outcome.
func (d *Dispatcher) attempt(ctx context.Context, lease keypool.Lease, kind request.Kind, body []byte) (string, *Error) {
	res, err := d.post(ctx, lease.Key, body)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return "", timeoutError(cerr, 0)
		}
		if breakerOpen(err) {
			return "", &Error{Kind: KindNetworkFailure, Message: "upstream unreachable: " + err.Error(), Err: err}
		}
		msg := redact(err)
		d.pool.MarkError(lease.Index, msg)
		return "", &Error{Kind: KindNetworkFailure, Message: "network failure: " + msg, Err: err}
	}

	switch {
	case res.status == http.StatusTooManyRequests:
		wait := retryAfter(res.header, res.body, d.now())
		d.pool.MarkRateLimited(lease.Index, wait)
		return "", &Error{
			Kind:       KindRateLimited,
			Status:     res.status,
			RetryAfter: wait,
			Message:    "rate limited: " + upstreamMessage(res.status, res.body),
		}
	case res.status < 200 || res.status >= 300:
		msg := upstreamMessage(res.status, res.body)
		d.pool.MarkError(lease.Index, msg)
		return "", &Error{Kind: KindUpstreamError, Status: res.status, Message: msg}
	}

	raw, err := candidateText(res.body)
	if err != nil {
		// The key worked; the answer did not. The credential is left alone.
		return "", &Error{Kind: KindParseFailure, Status: res.status, Message: err.Error(), Err: err}
	}

	var text string
	if kind == request.KindVision {
		text = ExtractVision(raw)
	} else {
		text = CleanText(raw)
	}
	d.pool.MarkSuccess(lease.Index)
	return text, nil
}

// Probe makes a single minimal call with key, outside the pool. It returns
// nil when the key is accepted.
func (d *Dispatcher) Probe(ctx context.Context, key string) error {
	body, err := request.BuildProbe().Body()
	if err != nil {
		return err
	}
	res, err := d.post(ctx, key, body)
	if err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return timeoutError(cerr, 1)
		}
		return &Error{Kind: KindNetworkFailure, Attempts: 1, Message: "network failure: " + redact(err), Err: err}
	}
	switch {
	case res.status == http.StatusTooManyRequests:
		return &Error{
			Kind:       KindRateLimited,
			Attempts:   1,
			Status:     res.status,
			RetryAfter: retryAfter(res.header, res.body, d.now()),
			Message:    "rate limited: " + upstreamMessage(res.status, res.body),
		}
	case res.status < 200 || res.status >= 300:
		return &Error{Kind: KindUpstreamError, Attempts: 1, Status: res.status, Message: upstreamMessage(res.status, res.body)}
	}
	return nil
}

func timeoutError(err error, attempts int) *Error {
	msg := "translation cancelled"
	if errors.Is(err, context.DeadlineExceeded) {
		msg = "translation timed out"
	}
	return &Error{Kind: KindTimeout, Attempts: attempts, Message: msg, Err: err}
}

// poolFailure maps a pool refusal. Before any attempt the refusal itself is
// the failure; after attempts, the last observed failure is reported.
func poolFailure(err error, attempts int, last *Error) *Error {
	if last == nil {
		kind := KindExhausted
		if errors.Is(err, keypool.ErrNoCredentialsConfigured) {
			kind = KindNoCredentials
		}
		return &Error{Kind: kind, Message: err.Error(), Err: err}
	}
	return &Error{
		Kind:       last.Kind,
		Attempts:   attempts,
		Status:     last.Status,
		RetryAfter: last.RetryAfter,
		Message:    fmt.Sprintf("%s after %d attempts: %s", err, attempts, last.Message),
		Err:        errors.Join(err, last.Err),
	}
}
