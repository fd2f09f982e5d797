package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock is shared by every breaker in a set.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestBreakers(trips int, cooldown time.Duration) (*Breakers, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
	s := NewBreakers(BreakerConfig{Trips: trips, Cooldown: cooldown})
	s.now = clock.now
	return s, clock
}

// serverError mimics the extractor's 5xx response error.
var serverError = NewTransientError(errors.New("extractor: HTTP 503: overloaded"), 503)

func call(b *Breaker, err error) (int, error) {
	calls := 0
	_, got := Guard(context.Background(), b, func(_ context.Context) (string, error) {
		calls++
		return "", err
	})
	return calls, got
}

func TestBackendFault(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"success", nil, false},
		{"server error", serverError, true},
		{"unclassified", errors.New("connection reset"), true},
		{"deadline", context.DeadlineExceeded, true},
		{"rejected document", Permanent(errors.New("extractor: HTTP 422: unreadable")), false},
		{"wrapped rejection", fmt.Errorf("layout: %w", Permanent(errors.New("HTTP 400"))), false},
		{"caller cancelled", fmt.Errorf("post: %w", context.Canceled), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, BackendFault(tt.err))
		})
	}
}

func TestBreaker_ServerErrorsOpen(t *testing.T) {
	s, _ := newTestBreakers(3, time.Minute)
	b := s.For("vision")

	for range 3 {
		calls, err := call(b, serverError)
		assert.Equal(t, 1, calls)
		assert.ErrorIs(t, err, serverError)
	}

	calls, err := call(b, nil)
	assert.Zero(t, calls)
	assert.ErrorIs(t, err, ErrBreakerOpen)
	assert.Contains(t, err.Error(), "vision")

	st := b.Status()
	assert.Equal(t, BreakerOpen, st.State)
	assert.Equal(t, 3, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.Opens)
	assert.Equal(t, 1, st.Rejected)
	assert.Contains(t, st.LastError, "HTTP 503")
	assert.False(t, st.OpenedAt.IsZero())
}

func TestBreaker_RejectedDocumentsNeverOpen(t *testing.T) {
	s, _ := newTestBreakers(1, time.Minute)
	b := s.For("layout")

	for range 5 {
		calls, err := call(b, Permanent(errors.New("extractor: HTTP 422: unreadable")))
		assert.Equal(t, 1, calls)
		assert.True(t, IsPermanent(err))
	}
	st := b.Status()
	assert.Equal(t, BreakerClosed, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Empty(t, st.LastError)
}

func TestBreaker_RejectionResetsFailureRun(t *testing.T) {
	s, _ := newTestBreakers(2, time.Minute)
	b := s.For("layout")

	_, _ = call(b, serverError)
	_, _ = call(b, Permanent(errors.New("HTTP 415")))
	_, _ = call(b, serverError)
	assert.Equal(t, BreakerClosed, b.Status().State)
	assert.Equal(t, 1, b.Status().ConsecutiveFailures)
}

func TestBreaker_CancelledCallsAreNeutral(t *testing.T) {
	s, _ := newTestBreakers(2, time.Minute)
	b := s.For("vision")

	_, _ = call(b, serverError)
	for range 5 {
		_, _ = call(b, context.Canceled)
	}
	assert.Equal(t, BreakerClosed, b.Status().State)
	assert.Equal(t, 1, b.Status().ConsecutiveFailures)

	_, _ = call(b, serverError)
	assert.Equal(t, BreakerOpen, b.Status().State)
}

func TestBreaker_CooldownAllowsOneTrial(t *testing.T) {
	s, clock := newTestBreakers(1, time.Minute)
	b := s.For("vision")
	_, _ = call(b, serverError)
	require.Equal(t, BreakerOpen, b.Status().State)

	clock.advance(time.Minute)
	assert.Equal(t, BreakerHalfOpen, b.Status().State)

	release := make(chan struct{})
	entered := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := Guard(context.Background(), b, func(_ context.Context) (int, error) {
			close(entered)
			<-release
			return 1, nil
		})
		done <- err
	}()
	<-entered

	// A second caller is turned away while the trial is in flight.
	calls, err := call(b, nil)
	assert.Zero(t, calls)
	assert.ErrorIs(t, err, ErrBreakerOpen)

	close(release)
	require.NoError(t, <-done)

	st := b.Status()
	assert.Equal(t, BreakerClosed, st.State)
	assert.Zero(t, st.ConsecutiveFailures)
	assert.Equal(t, 1, st.Rejected)
}

func TestBreaker_FailedTrialReopens(t *testing.T) {
	s, clock := newTestBreakers(3, time.Minute)
	b := s.For("vision")
	for range 3 {
		_, _ = call(b, serverError)
	}
	firstOpen := b.Status().OpenedAt

	clock.advance(2 * time.Minute)
	calls, _ := call(b, serverError)
	assert.Equal(t, 1, calls)

	st := b.Status()
	assert.Equal(t, BreakerOpen, st.State)
	assert.Equal(t, 2, st.Opens)
	assert.True(t, st.OpenedAt.After(firstOpen))

	calls, err := call(b, nil)
	assert.Zero(t, calls)
	assert.ErrorIs(t, err, ErrBreakerOpen)
}

func TestBreaker_RejectedTrialCloses(t *testing.T) {
	s, clock := newTestBreakers(1, time.Minute)
	b := s.For("layout")
	_, _ = call(b, serverError)

	clock.advance(time.Minute)
	_, err := call(b, Permanent(errors.New("extractor: HTTP 422")))
	assert.True(t, IsPermanent(err))
	assert.Equal(t, BreakerClosed, b.Status().State)
}

func TestBreaker_CancelledTrialStaysHalfOpen(t *testing.T) {
	s, clock := newTestBreakers(1, time.Minute)
	b := s.For("vision")
	_, _ = call(b, serverError)

	clock.advance(time.Minute)
	_, _ = call(b, context.Canceled)
	assert.Equal(t, BreakerHalfOpen, b.Status().State)

	// The next caller gets the trial.
	calls, err := call(b, nil)
	assert.Equal(t, 1, calls)
	require.NoError(t, err)
	assert.Equal(t, BreakerClosed, b.Status().State)
}

func TestBreakers_PerBackend(t *testing.T) {
	s, _ := newTestBreakers(1, time.Minute)
	assert.Same(t, s.For("vision"), s.For("vision"))

	_, _ = call(s.For("vision"), serverError)
	_, err := call(s.For("layout"), nil)
	require.NoError(t, err)

	st := s.Status()
	require.Len(t, st, 2)
	assert.Equal(t, "layout", st[0].Backend)
	assert.Equal(t, BreakerClosed, st[0].State)
	assert.Equal(t, "vision", st[1].Backend)
	assert.Equal(t, BreakerOpen, st[1].State)
}

func TestBreakers_Defaults(t *testing.T) {
	b := NewBreakers(BreakerConfig{}).For("layout")
	assert.Equal(t, DefaultBreakerConfig(), b.cfg)
	assert.Empty(t, NewBreakers(DefaultBreakerConfig()).Status())
}

func TestBreaker_ConcurrentCalls(t *testing.T) {
	s, _ := newTestBreakers(1000, time.Minute)
	b := s.For("vision")

	var wg sync.WaitGroup
	for i := range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if i%2 == 0 {
				_, _ = call(b, serverError)
			} else {
				_, _ = call(b, Permanent(errors.New("HTTP 400")))
			}
			_ = b.Status()
		}()
	}
	wg.Wait()
	assert.Equal(t, BreakerClosed, b.Status().State)
}
