// Package captions translates a stream of short, often repeated caption
// fragments through a single-flight FIFO queue with a translation cache.
package captions

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

const (
	DefaultItemTimeout = 15 * time.Second
	DefaultDrainDelay  = 100 * time.Millisecond
	DefaultMinRunes    = 2
)

// ErrClosed is returned by Observe after Close.
var ErrClosed = errors.New("caption queue closed")

// Subscriber receives the translation of an observed caption. Deliver is
// called from the queue's drain goroutine and must not block for long.
type Subscriber interface {
	// Attached reports whether the subscriber still wants deliveries.
	Attached() bool
	Deliver(text string)
}

// Callback adapts a function into a Subscriber that stays attached until
// Detach is called.
type Callback struct {
	fn       func(string)
	detached atomic.Bool
}

func NewCallback(fn func(string)) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Attached() bool      { return !c.detached.Load() }
func (c *Callback) Deliver(text string) { c.fn(text) }
func (c *Callback) Detach()             { c.detached.Store(true) }

// Translator turns one caption into its translation.
type Translator interface {
	Translate(ctx context.Context, text string) (string, error)
}

// TranslatorFunc adapts a function into a Translator.
type TranslatorFunc func(ctx context.Context, text string) (string, error)

func (f TranslatorFunc) Translate(ctx context.Context, text string) (string, error) {
	return f(ctx, text)
}

// Options configures a Queue. Zero values select defaults.
type Options struct {
	// ItemTimeout bounds one item's translation, retries included.
	ItemTimeout time.Duration
	// DrainDelay separates consecutive dispatches.
	DrainDelay time.Duration
	// MinRunes drops captions shorter than this after trimming.
	MinRunes int
	Logger   zerolog.Logger
}

func (o Options) effectiveItemTimeout() time.Duration {
	if o.ItemTimeout <= 0 {
		return DefaultItemTimeout
	}
	return o.ItemTimeout
}

func (o Options) effectiveDrainDelay() time.Duration {
	if o.DrainDelay <= 0 {
		return DefaultDrainDelay
	}
	return o.DrainDelay
}

func (o Options) effectiveMinRunes() int {
	if o.MinRunes <= 0 {
		return DefaultMinRunes
	}
	return o.MinRunes
}

type item struct {
	text       string
	subs       []Subscriber
	enqueuedAt time.Time
}

// Queue serializes caption translation: one dispatch in flight, oldest
// first. Identical text waiting in the queue or already in flight shares a
// single dispatch.
type Queue struct {
	tr    Translator
	opts  Options
	log   zerolog.Logger
	cache *Cache

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	pending  []*item
	byText   map[string]*item // pending and in flight
	draining bool
	closed   bool
	idle     chan struct{} // closed while not draining
}

// New creates an idle queue.
func New(tr Translator, opts Options) *Queue {
	ctx, cancel := context.WithCancel(context.Background())
	idle := make(chan struct{})
	close(idle)
	return &Queue{
		tr:     tr,
		opts:   opts,
		log:    opts.Logger.With().Str("component", "captions").Logger(),
		cache:  NewCache(),
		ctx:    ctx,
		cancel: cancel,
		byText: make(map[string]*item),
		idle:   idle,
	}
}

// Observe schedules text for translation and delivery to sub. A cached
// translation is delivered before Observe returns.
func (q *Queue) Observe(text string, sub Subscriber) error {
	text = strings.TrimSpace(text)
	if utf8.RuneCountInString(text) < q.opts.effectiveMinRunes() {
		return nil
	}

	if cached, ok := q.cache.Get(text); ok {
		if sub.Attached() {
			sub.Deliver(cached)
		}
		return nil
	}

	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	// process caches and unregisters under q.mu, so a translation that
	// finished since the check above is visible now.
	if cached, ok := q.cache.Get(text); ok {
		q.mu.Unlock()
		if sub.Attached() {
			sub.Deliver(cached)
		}
		return nil
	}
	defer q.mu.Unlock()

	if it, ok := q.byText[text]; ok {
		it.subs = append(it.subs, sub)
		return nil
	}

	it := &item{text: text, subs: []Subscriber{sub}, enqueuedAt: time.Now()}
	q.pending = append(q.pending, it)
	q.byText[text] = it

	if !q.draining {
		q.draining = true
		q.idle = make(chan struct{})
		go q.drain()
	}
	return nil
}

// Pending returns the number of items waiting, excluding the one in flight.
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Cache exposes the queue's translation cache.
func (q *Queue) Cache() *Cache { return q.cache }

// Wait blocks until the queue is idle or ctx is done.
func (q *Queue) Wait(ctx context.Context) error {
	q.mu.Lock()
	idle := q.idle
	q.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting captions and waits for queued ones to finish. If
// ctx ends first, the in-flight dispatch is cancelled and the remaining
// subscribers receive their original text.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	err := q.Wait(ctx)
	if err != nil {
		q.cancel()
		<-q.idleChan()
	}
	q.cancel()
	return err
}

func (q *Queue) idleChan() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.idle
}

func (q *Queue) drain() {
	delay := q.opts.effectiveDrainDelay()
	for {
		q.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			close(q.idle)
			q.mu.Unlock()
			return
		}
		it := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.mu.Unlock()

		q.process(it)

		select {
		case <-time.After(delay):
		case <-q.ctx.Done():
		}
	}
}

func (q *Queue) process(it *item) {
	out, err := q.translate(it.text)

	q.mu.Lock()
	if err != nil {
		q.log.Warn().Err(err).Str("text", truncate(it.text, 60)).Msg("caption translation failed, delivering original")
		out = it.text
	} else {
		q.cache.Put(it.text, out)
		q.log.Debug().Dur("waited", time.Since(it.enqueuedAt)).Int("subscribers", len(it.subs)).Msg("caption translated")
	}
	delete(q.byText, it.text)
	subs := it.subs
	q.mu.Unlock()

	for _, s := range subs {
		if s.Attached() {
			s.Deliver(out)
		}
	}
}

func (q *Queue) translate(text string) (string, error) {
	if err := q.ctx.Err(); err != nil {
		return "", err
	}
	ctx, cancel := context.WithTimeout(q.ctx, q.opts.effectiveItemTimeout())
	defer cancel()

	out, err := q.tr.Translate(ctx, text)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(out) == "" {
		return "", errors.New("empty translation")
	}
	return out, nil
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
