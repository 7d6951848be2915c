// Package searchctl turns a stream of keystrokes into debounced, race-safe
// search calls.
//
// A Controller owns one cancelable debounce timer and a monotonically
// increasing token per issued search. Only the outcome carrying the latest
// token reaches the caller's handlers; everything older is dropped, no matter
// in which order the responses come back.
package searchctl

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"
)

const (
	DefaultDebounce  = 500 * time.Millisecond
	DefaultMinLength = 2
)

// State is the logical state of a Controller.
type State int

const (
	StateIdle State = iota
	StatePending
	StateInFlight
	StateSettled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePending:
		return "pending"
	case StateInFlight:
		return "in-flight"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}

// SearchFunc performs one search. It may be called concurrently.
type SearchFunc[T any] func(ctx context.Context, query string) (T, error)

// Handlers are the sinks a Controller delivers to. Nil handlers are skipped.
//
// Handlers run with the controller locked, so they must not call Input or
// Cancel on the same controller.
type Handlers[T any] struct {
	OnResult func(T)
	OnError  func(error)
	OnClear  func()
}

// Logger receives diagnostics such as discarded stale outcomes.
type Logger interface {
	Debugf(format string, args ...any)
}

type options struct {
	debounce        time.Duration
	minLength       int
	dispatch        func(func())
	abortSuperseded bool
	logger          Logger
}

type Option func(*options)

// WithDebounce sets the settle interval. Non-positive values are ignored.
func WithDebounce(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.debounce = d
		}
	}
}

// WithMinLength sets the minimum trimmed query length (in runes) that
// triggers a search. Values below 1 are ignored.
func WithMinLength(n int) Option {
	return func(o *options) {
		if n >= 1 {
			o.minLength = n
		}
	}
}

// WithDispatcher routes result and error deliveries through dispatch, which
// must eventually run the given function on the owner's event loop. The
// staleness check runs inside that function, so it is ordered with respect
// to Input calls made from the same loop.
func WithDispatcher(dispatch func(func())) Option {
	return func(o *options) {
		if dispatch != nil {
			o.dispatch = dispatch
		}
	}
}

// WithAbortSuperseded cancels the context handed to a search as soon as a
// newer query or a clear supersedes it.
func WithAbortSuperseded() Option {
	return func(o *options) { o.abortSuperseded = true }
}

func WithLogger(l Logger) Option {
	return func(o *options) { o.logger = l }
}

// Controller debounces input and delivers only the freshest search outcome.
type Controller[T any] struct {
	search SearchFunc[T]
	h      Handlers[T]
	opts   options

	mu       sync.Mutex
	timer    *time.Timer
	timerGen uint64
	accepted string
	token    uint64
	inflight bool
	settled  bool
	abort    context.CancelFunc
}

// New creates a controller around search.
func New[T any](search SearchFunc[T], h Handlers[T], opts ...Option) *Controller[T] {
	o := options{
		debounce:  DefaultDebounce,
		minLength: DefaultMinLength,
		dispatch:  func(fn func()) { fn() },
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Controller[T]{search: search, h: h, opts: o}
}

// Input feeds the current contents of the search box.
func (c *Controller[T]) Input(raw string) {
	query := strings.TrimSpace(raw)
	n := utf8.RuneCountInString(query)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()

	switch {
	case n == 0:
		c.accepted = ""
		c.supersedeLocked()
		c.settled = false
		if c.h.OnClear != nil {
			c.h.OnClear()
		}
	case n < c.opts.minLength:
		// Too short to search, and not empty enough to clear.
	default:
		c.accepted = query
		gen := c.timerGen
		c.timer = time.AfterFunc(c.opts.debounce, func() { c.fire(gen, query) })
	}
}

// Cancel stops the debounce timer and supersedes any outstanding search.
// Calling it repeatedly is harmless.
func (c *Controller[T]) Cancel() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stopTimerLocked()
	c.supersedeLocked()
	c.accepted = ""
	c.settled = false
}

// State reports the controller's current logical state.
func (c *Controller[T]) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch {
	case c.timer != nil:
		return StatePending
	case c.inflight:
		return StateInFlight
	case c.settled:
		return StateSettled
	default:
		return StateIdle
	}
}

// Query returns the latest accepted query, or "" when none is active.
func (c *Controller[T]) Query() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.accepted
}

// fire runs on the timer goroutine once the debounce interval has elapsed.
func (c *Controller[T]) fire(gen uint64, query string) {
	c.mu.Lock()
	if gen != c.timerGen || query != c.accepted {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	ctx, token := c.issueLocked()
	c.mu.Unlock()

	res, err := c.call(ctx, query)
	c.opts.dispatch(func() { c.deliver(token, query, res, err) })
}

func (c *Controller[T]) issueLocked() (context.Context, uint64) {
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
	c.token++
	c.inflight = true

	ctx := context.Background()
	if c.opts.abortSuperseded {
		ctx, c.abort = context.WithCancel(ctx)
	}
	c.logf("issuing search %d for %q", c.token, c.accepted)
	return ctx, c.token
}

func (c *Controller[T]) call(ctx context.Context, query string) (res T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("search %q panicked: %v", query, r)
		}
	}()
	return c.search(ctx, query)
}

func (c *Controller[T]) deliver(token uint64, query string, res T, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if token != c.token {
		c.logf("discarding stale outcome %d for %q (latest %d)", token, query, c.token)
		return
	}

	c.inflight = false
	c.settled = true
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}

	if err != nil {
		if c.h.OnError != nil {
			c.h.OnError(err)
		}
		return
	}
	if c.h.OnResult != nil {
		c.h.OnResult(res)
	}
}

func (c *Controller[T]) stopTimerLocked() {
	c.timerGen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

// supersedeLocked makes every outstanding token stale.
func (c *Controller[T]) supersedeLocked() {
	c.token++
	c.inflight = false
	if c.abort != nil {
		c.abort()
		c.abort = nil
	}
}

func (c *Controller[T]) logf(format string, args ...any) {
	if c.opts.logger != nil {
		c.opts.logger.Debugf(format, args...)
	}
}
