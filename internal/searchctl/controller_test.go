package searchctl

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDebounce = 20 * time.Millisecond

// fakeSearch records calls and optionally blocks a query until its gate is
// released, which lets tests reorder responses.
type fakeSearch struct {
	mu    sync.Mutex
	calls []string
	gates map[string]chan struct{}
	fail  map[string]error
	done  int
}

func newFakeSearch() *fakeSearch {
	return &fakeSearch{gates: map[string]chan struct{}{}, fail: map[string]error{}}
}

func (f *fakeSearch) gate(q string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[q] = ch
	return ch
}

func (f *fakeSearch) search(ctx context.Context, q string) (string, error) {
	f.mu.Lock()
	f.calls = append(f.calls, q)
	gate := f.gates[q]
	err := f.fail[q]
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}

	f.mu.Lock()
	f.done++
	f.mu.Unlock()

	if err != nil {
		return "", err
	}
	return "result:" + q, nil
}

func (f *fakeSearch) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func (f *fakeSearch) Done() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

type recorder struct {
	mu      sync.Mutex
	results []string
	errs    []error
	clears  int
}

func (r *recorder) handlers() Handlers[string] {
	return Handlers[string]{
		OnResult: func(s string) {
			r.mu.Lock()
			r.results = append(r.results, s)
			r.mu.Unlock()
		},
		OnError: func(err error) {
			r.mu.Lock()
			r.errs = append(r.errs, err)
			r.mu.Unlock()
		},
		OnClear: func() {
			r.mu.Lock()
			r.clears++
			r.mu.Unlock()
		},
	}
}

func (r *recorder) Results() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.results...)
}

func (r *recorder) Errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

func (r *recorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

func newTestController(f *fakeSearch, r *recorder, opts ...Option) *Controller[string] {
	opts = append([]Option{WithDebounce(testDebounce)}, opts...)
	return New(f.search, r.handlers(), opts...)
}

func eventually(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	assert.Eventually(t, cond, time.Second, 2*time.Millisecond, msg)
}

func TestController_DefaultOptions(t *testing.T) {
	c := New(newFakeSearch().search, Handlers[string]{})
	assert.Equal(t, DefaultDebounce, c.opts.debounce)
	assert.Equal(t, DefaultMinLength, c.opts.minLength)
	assert.Equal(t, StateIdle, c.State())

	c = New(newFakeSearch().search, Handlers[string]{}, WithDebounce(0), WithMinLength(0))
	assert.Equal(t, DefaultDebounce, c.opts.debounce, "non-positive debounce is ignored")
	assert.Equal(t, DefaultMinLength, c.opts.minLength, "min length below 1 is ignored")
}

func TestController_ShortPrefixThenQuerySearchesOnce(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	c.Input("a")
	assert.Equal(t, StateIdle, c.State(), "single character never arms the timer")
	c.Input("ab")
	assert.Equal(t, StatePending, c.State())

	eventually(t, func() bool { return len(r.Results()) == 1 }, "result for ab")
	assert.Equal(t, []string{"ab"}, f.Calls())
	assert.Equal(t, []string{"result:ab"}, r.Results())
	assert.Equal(t, StateSettled, c.State())
}

func TestController_TypingBurstRestartsDebounce(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r, WithDebounce(60*time.Millisecond))

	for _, q := range []string{"ab", "abc", "abcd"} {
		c.Input(q)
	}

	eventually(t, func() bool { return len(r.Results()) == 1 }, "one result")
	assert.Equal(t, []string{"abcd"}, f.Calls())
	assert.Equal(t, []string{"result:abcd"}, r.Results())
}

func TestController_ClearSuppressesPendingResult(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	release := f.gate("ab")
	c.Input("ab")
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "ab issued")
	assert.Equal(t, StateInFlight, c.State())

	c.Input("")
	assert.Equal(t, 1, r.Clears())
	assert.Equal(t, StateIdle, c.State())

	close(release)
	eventually(t, func() bool { return f.Done() == 1 }, "ab completed")
	assert.Empty(t, r.Results(), "stale ab result must not be delivered")
	assert.Equal(t, StateIdle, c.State())
}

func TestController_LateOlderResponseIsDropped(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	releaseAB := f.gate("ab")
	releaseABC := f.gate("abc")

	c.Input("ab")
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "ab issued")
	c.Input("abc")
	eventually(t, func() bool { return len(f.Calls()) == 2 }, "abc issued")

	close(releaseABC)
	eventually(t, func() bool { return len(r.Results()) == 1 }, "abc delivered")
	close(releaseAB)
	eventually(t, func() bool { return f.Done() == 2 }, "ab completed")

	assert.Equal(t, []string{"result:abc"}, r.Results())
	assert.Equal(t, StateSettled, c.State())
}

func TestController_LastAcceptedQueryWinsUnderReordering(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	queries := []string{"al", "ali", "alic", "alice"}
	gates := make([]chan struct{}, len(queries))
	for i, q := range queries {
		gates[i] = f.gate(q)
		c.Input(q)
		want := i + 1
		eventually(t, func() bool { return len(f.Calls()) == want }, fmt.Sprintf("%s issued", q))
	}

	// Release newest first, so every older response arrives late.
	for i := len(gates) - 1; i >= 0; i-- {
		close(gates[i])
	}
	eventually(t, func() bool { return f.Done() == len(queries) }, "all completed")
	eventually(t, func() bool { return len(r.Results()) == 1 }, "alice delivered")
	time.Sleep(testDebounce)

	assert.Equal(t, []string{"result:alice"}, r.Results())
}

func TestController_CancelIsIdempotent(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	c.Input("ab")
	c.Cancel()
	c.Cancel()

	assert.Equal(t, StateIdle, c.State())
	assert.Equal(t, "", c.Query())

	time.Sleep(3 * testDebounce)
	assert.Empty(t, f.Calls(), "canceled timer must not fire")
	assert.Zero(t, r.Clears(), "cancel does not clear")
}

func TestController_CancelSupersedesInFlight(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	release := f.gate("ab")
	c.Input("ab")
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "ab issued")

	c.Cancel()
	close(release)
	eventually(t, func() bool { return f.Done() == 1 }, "ab completed")

	assert.Empty(t, r.Results())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_TrimsInput(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	c.Input("  ab  ")
	assert.Equal(t, "ab", c.Query())
	eventually(t, func() bool { return len(r.Results()) == 1 }, "result")
	assert.Equal(t, []string{"ab"}, f.Calls())

	c.Input("   ")
	assert.Equal(t, 1, r.Clears(), "whitespace-only input clears")
}

func TestController_SingleCharacterNeitherSearchesNorClears(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	c.Input("ab")
	eventually(t, func() bool { return len(r.Results()) == 1 }, "result")

	c.Input("a")
	time.Sleep(3 * testDebounce)
	assert.Equal(t, []string{"ab"}, f.Calls())
	assert.Zero(t, r.Clears())
	assert.Equal(t, StateSettled, c.State())
}

func TestController_ToggleBelowThresholdCancelsTimer(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r, WithDebounce(40*time.Millisecond))

	c.Input("ab")
	c.Input("a")
	c.Input("ab")
	c.Input("")
	c.Input("x")

	time.Sleep(120 * time.Millisecond)
	assert.Empty(t, f.Calls())
	assert.Equal(t, 1, r.Clears())
	assert.Equal(t, StateIdle, c.State())
}

func TestController_IdenticalQueryIsReissued(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	c.Input("ab")
	eventually(t, func() bool { return len(r.Results()) == 1 }, "first")
	c.Input("ab")
	eventually(t, func() bool { return len(r.Results()) == 2 }, "second")

	assert.Equal(t, []string{"ab", "ab"}, f.Calls())
}

func TestController_ErrorDeliveredOnlyWhenLatest(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	c := newTestController(f, r)

	boom := errors.New("connection refused")
	f.fail["ab"] = boom
	f.fail["abc"] = boom
	release := f.gate("ab")

	c.Input("ab")
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "ab issued")
	c.Input("abc")
	eventually(t, func() bool { return len(r.Errs()) == 1 }, "abc error")

	close(release)
	eventually(t, func() bool { return f.Done() == 2 }, "ab completed")

	require.Len(t, r.Errs(), 1, "superseded failure is swallowed")
	assert.ErrorIs(t, r.Errs()[0], boom)
	assert.Empty(t, r.Results())
	assert.Equal(t, StateSettled, c.State())
}

func TestController_PanicBecomesError(t *testing.T) {
	r := &recorder{}
	c := New(func(context.Context, string) (string, error) {
		panic("boom")
	}, r.handlers(), WithDebounce(testDebounce))

	c.Input("ab")
	eventually(t, func() bool { return len(r.Errs()) == 1 }, "panic surfaced")
	assert.Contains(t, r.Errs()[0].Error(), "panicked")
}

func TestController_DispatcherChecksStalenessOnLoop(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	queue := make(chan func(), 4)
	c := newTestController(f, r, WithDispatcher(func(fn func()) { queue <- fn }))

	c.Input("ab")
	var fn func()
	select {
	case fn = <-queue:
	case <-time.After(time.Second):
		t.Fatal("delivery was never dispatched")
	}
	assert.Empty(t, r.Results(), "nothing is delivered before the loop runs it")

	// The user clears the box before the loop gets to the queued delivery.
	c.Input("")
	fn()

	assert.Empty(t, r.Results())
	assert.Equal(t, 1, r.Clears())

	c.Input("abc")
	select {
	case fn = <-queue:
	case <-time.After(time.Second):
		t.Fatal("delivery was never dispatched")
	}
	fn()
	assert.Equal(t, []string{"result:abc"}, r.Results())
}

func TestController_AbortSupersededCancelsContext(t *testing.T) {
	r := &recorder{}
	canceled := make(chan string, 2)
	search := func(ctx context.Context, q string) (string, error) {
		if q == "ab" {
			<-ctx.Done()
			canceled <- q
			return "", ctx.Err()
		}
		return "result:" + q, nil
	}
	c := New(search, r.handlers(), WithDebounce(testDebounce), WithAbortSuperseded())

	c.Input("ab")
	eventually(t, func() bool { return c.State() == StateInFlight }, "ab in flight")
	c.Input("abc")

	select {
	case q := <-canceled:
		assert.Equal(t, "ab", q)
	case <-time.After(time.Second):
		t.Fatal("superseded search context was not canceled")
	}
	eventually(t, func() bool { return len(r.Results()) == 1 }, "abc delivered")
	assert.Equal(t, []string{"result:abc"}, r.Results())
	assert.Empty(t, r.Errs(), "the canceled search's error is stale")
}

type captureLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *captureLogger) Debugf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *captureLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

func TestController_LogsDiscardedOutcomes(t *testing.T) {
	f := newFakeSearch()
	r := &recorder{}
	logger := &captureLogger{}
	c := newTestController(f, r, WithLogger(logger))

	release := f.gate("ab")
	c.Input("ab")
	eventually(t, func() bool { return len(f.Calls()) == 1 }, "ab issued")
	c.Input("")
	close(release)

	eventually(t, func() bool { return logger.contains("discarding stale outcome") }, "stale outcome logged")
}

func TestState_String(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StatePending, "pending"},
		{StateInFlight, "in-flight"},
		{StateSettled, "settled"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.state.String())
	}
}
