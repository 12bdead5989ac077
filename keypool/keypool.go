// Package keypool owns the set of Generative Language API keys used by the
// dispatcher and tracks their health and rate-limit state.
//
// Keys are rotated round-robin. A key is available when it has fewer than
// MaxErrors recorded failures and is not inside a rate-limit window. Health
// is kept in memory only: every Load starts all keys from a clean slate.
//
// All methods are safe for concurrent use.
package keypool

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	// MaxErrors is the error count at which a key becomes unavailable.
	MaxErrors = 3
	// DefaultRetryAfter is used when a rate-limited response carries no hint.
	DefaultRetryAfter = 60 * time.Second
)

var (
	// ErrNoCredentialsConfigured is returned by Load when the key source is empty.
	ErrNoCredentialsConfigured = errors.New("no API keys configured")
	// ErrAllCredentialsExhausted is returned by NextAvailable when a full
	// rotation finds no usable key.
	ErrAllCredentialsExhausted = errors.New("all API keys are rate limited or failing")
)

// KeySource supplies the persisted key list.
type KeySource interface {
	APIKeys() ([]string, error)
}

// KeySourceFunc adapts a plain function to KeySource.
type KeySourceFunc func() ([]string, error)

// APIKeys implements KeySource.
func (f KeySourceFunc) APIKeys() ([]string, error) { return f() }

// Static returns a KeySource that always yields keys.
func Static(keys ...string) KeySource {
	return KeySourceFunc(func() ([]string, error) {
		return append([]string(nil), keys...), nil
	})
}

type credential struct {
	key              string
	healthy          bool
	errorCount       int
	rateLimitedUntil time.Time
	lastError        string
}

func (c *credential) available(now time.Time) bool {
	if c.errorCount >= MaxErrors {
		return false
	}
	return c.rateLimitedUntil.IsZero() || !now.Before(c.rateLimitedUntil)
}

// Lease identifies the key handed out by NextAvailable. Index is the key's
// stable position in the pool and is what Mark* calls take.
type Lease struct {
	Index int
	Key   string
}

// Status is a display snapshot of one key.
type Status struct {
	Index            int    `json:"index"`
	MaskedKey        string `json:"masked_key"`
	Healthy          bool   `json:"healthy"`
	RateLimited      bool   `json:"rate_limited"`
	SecondsRemaining int    `json:"seconds_remaining"`
	ErrorCount       int    `json:"error_count"`
	LastError        string `json:"last_error,omitempty"`
}

// Pool is the credential pool.
type Pool struct {
	source KeySource
	now    func() time.Time

	mu     sync.Mutex
	creds  []*credential
	cursor int
}

// Option configures a Pool.
type Option func(*Pool)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pool) { p.now = now }
}

// New creates an empty pool reading keys from source. Call Load before use.
func New(source KeySource, opts ...Option) *Pool {
	p := &Pool{source: source, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Load (re)reads the key list. Health and rate-limit state of every key is
// reset, including keys that were already present before the reload.
func (p *Pool) Load() error {
	if p.source == nil {
		return ErrNoCredentialsConfigured
	}
	keys, err := p.source.APIKeys()
	if err != nil {
		return fmt.Errorf("reading API keys: %w", err)
	}

	creds := make([]*credential, 0, len(keys))
	for _, k := range keys {
		if k == "" {
			continue
		}
		creds = append(creds, &credential{key: k, healthy: true})
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.creds = creds
	p.cursor = 0
	if len(creds) == 0 {
		return ErrNoCredentialsConfigured
	}
	return nil
}

// Size returns the number of loaded keys.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.creds)
}

// NextAvailable returns the first available key at or after the cursor and
// advances the cursor past it. At most one full rotation is scanned.
func (p *Pool) NextAvailable() (Lease, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.creds)
	if n == 0 {
		return Lease{}, ErrNoCredentialsConfigured
	}

	now := p.now()
	for step := 0; step < n; step++ {
		i := (p.cursor + step) % n
		if p.creds[i].available(now) {
			p.cursor = (i + 1) % n
			return Lease{Index: i, Key: p.creds[i].key}, nil
		}
	}
	return Lease{}, ErrAllCredentialsExhausted
}

// MarkRateLimited blocks the key for retryAfter (DefaultRetryAfter if <= 0).
func (p *Pool) MarkRateLimited(index int, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = DefaultRetryAfter
	}
	p.update(index, func(c *credential) {
		c.rateLimitedUntil = p.now().Add(retryAfter)
		c.lastError = fmt.Sprintf("rate limited for %s", retryAfter)
	})
}

// MarkError records a failure against the key.
func (p *Pool) MarkError(index int, message string) {
	p.update(index, func(c *credential) {
		c.errorCount++
		c.healthy = c.errorCount < MaxErrors
		c.lastError = message
	})
}

// MarkSuccess forgives one recorded failure and flags the key healthy.
// A key with several failures needs several successes to reach zero.
func (p *Pool) MarkSuccess(index int) {
	p.update(index, func(c *credential) {
		if c.errorCount > 0 {
			c.errorCount--
		}
		c.healthy = true
	})
}

func (p *Pool) update(index int, fn func(*credential)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.creds) {
		return
	}
	fn(p.creds[index])
}

// Status returns a snapshot of every key for display.
func (p *Pool) Status() []Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	out := make([]Status, 0, len(p.creds))
	for i, c := range p.creds {
		st := Status{
			Index:      i,
			MaskedKey:  MaskKey(c.key),
			Healthy:    c.healthy,
			ErrorCount: c.errorCount,
			LastError:  c.lastError,
		}
		if remaining := c.rateLimitedUntil.Sub(now); !c.rateLimitedUntil.IsZero() && remaining > 0 {
			st.RateLimited = true
			st.SecondsRemaining = int((remaining + time.Second - 1) / time.Second)
		}
		out = append(out, st)
	}
	return out
}

// MaskKey returns a masked version of a key for display.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + "..." + key[len(key)-4:]
}
