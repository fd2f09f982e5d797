// Package resilience provides the retry loop used between pipeline stage
// attempts and the breakers guarding remote extraction backends.
package resilience

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// BreakerState is the admission state of one extraction backend.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// ErrBreakerOpen is returned without calling the backend while its breaker
// is open or a half-open trial call is already in flight.
var ErrBreakerOpen = eris.New("extraction backend unavailable")

// BreakerConfig controls when a backend is taken out of rotation.
type BreakerConfig struct {
	// Trips is the number of consecutive backend failures that open the
	// breaker. Default: 5.
	Trips int
	// Cooldown is how long an open breaker rejects calls before letting a
	// single trial call through. Default: 30s.
	Cooldown time.Duration
}

// DefaultBreakerConfig returns the settings used for extraction backends.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{Trips: 5, Cooldown: 30 * time.Second}
}

// BreakerStatus is a point-in-time view of one backend's breaker.
type BreakerStatus struct {
	Backend             string       `json:"backend"`
	State               BreakerState `json:"state"`
	ConsecutiveFailures int          `json:"consecutive_failures"`
	Opens               int          `json:"opens"`
	Rejected            int          `json:"rejected"`
	LastError           string       `json:"last_error,omitempty"`
	OpenedAt            time.Time    `json:"opened_at,omitzero"`
}

// BackendFault reports whether err says something about backend health.
// Permanent errors mean the backend answered and refused the document, and
// a cancelled caller says nothing at all, so neither counts.
func BackendFault(err error) bool {
	if err == nil || IsPermanent(err) {
		return false
	}
	return !errors.Is(err, context.Canceled)
}

// Breaker guards one extraction backend.
type Breaker struct {
	backend string
	cfg     BreakerConfig
	now     func() time.Time

	mu       sync.Mutex
	state    BreakerState
	failures int
	opens    int
	rejected int
	lastErr  string
	openedAt time.Time
	trial    bool
}

func newBreaker(backend string, cfg BreakerConfig, now func() time.Time) *Breaker {
	if cfg.Trips <= 0 {
		cfg.Trips = 5
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 30 * time.Second
	}
	return &Breaker{backend: backend, cfg: cfg, now: now, state: BreakerClosed}
}

// Guard runs fn unless b is rejecting calls, then records the outcome.
func Guard[T any](ctx context.Context, b *Breaker, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	trial, err := b.admit()
	if err != nil {
		return zero, err
	}
	val, err := fn(ctx)
	b.record(err, trial)
	return val, err
}

func (b *Breaker) admit() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerOpen:
		if b.now().Sub(b.openedAt) < b.cfg.Cooldown {
			b.rejected++
			return false, eris.Wrapf(ErrBreakerOpen, "%s breaker open", b.backend)
		}
		b.setState(BreakerHalfOpen)
		b.trial = true
		return true, nil
	case BreakerHalfOpen:
		if b.trial {
			b.rejected++
			return false, eris.Wrapf(ErrBreakerOpen, "%s trial call in flight", b.backend)
		}
		b.trial = true
		return true, nil
	}
	return false, nil
}

func (b *Breaker) record(err error, trial bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if trial {
		b.trial = false
	}

	if !BackendFault(err) {
		if err != nil && !IsPermanent(err) {
			// Cancelled: no verdict on the backend.
			return
		}
		b.failures = 0
		if b.state != BreakerClosed {
			b.setState(BreakerClosed)
			zap.L().Info("extraction backend recovered", zap.String("backend", b.backend))
		}
		return
	}

	b.failures++
	b.lastErr = err.Error()
	if b.state == BreakerHalfOpen || b.failures >= b.cfg.Trips {
		b.open()
	}
}

func (b *Breaker) open() {
	b.openedAt = b.now()
	b.opens++
	b.setState(BreakerOpen)
	zap.L().Warn("extraction backend breaker opened",
		zap.String("backend", b.backend),
		zap.Int("consecutive_failures", b.failures),
		zap.Duration("cooldown", b.cfg.Cooldown),
		zap.String("last_error", b.lastErr),
	)
}

func (b *Breaker) setState(to BreakerState) {
	if b.state != to {
		zap.L().Debug("breaker state change",
			zap.String("backend", b.backend),
			zap.String("from", string(b.state)),
			zap.String("to", string(to)),
		)
	}
	b.state = to
}

// Status snapshots the breaker. An open breaker whose cooldown has passed
// reports half-open since the next call will be let through.
func (b *Breaker) Status() BreakerStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.state
	if state == BreakerOpen && b.now().Sub(b.openedAt) >= b.cfg.Cooldown {
		state = BreakerHalfOpen
	}
	return BreakerStatus{
		Backend:             b.backend,
		State:               state,
		ConsecutiveFailures: b.failures,
		Opens:               b.opens,
		Rejected:            b.rejected,
		LastError:           b.lastErr,
		OpenedAt:            b.openedAt,
	}
}

// Breakers holds one Breaker per backend, keyed by extraction method.
type Breakers struct {
	cfg BreakerConfig
	now func() time.Time

	mu        sync.Mutex
	byBackend map[string]*Breaker
}

// NewBreakers creates an empty set sharing cfg.
func NewBreakers(cfg BreakerConfig) *Breakers {
	return &Breakers{cfg: cfg, now: time.Now, byBackend: make(map[string]*Breaker)}
}

// For returns the backend's breaker, creating it on first use.
func (s *Breakers) For(backend string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.byBackend[backend]
	if !ok {
		b = newBreaker(backend, s.cfg, s.now)
		s.byBackend[backend] = b
	}
	return b
}

// Status reports every backend called so far, sorted by name.
func (s *Breakers) Status() []BreakerStatus {
	s.mu.Lock()
	all := make([]*Breaker, 0, len(s.byBackend))
	for _, b := range s.byBackend {
		all = append(all, b)
	}
	s.mu.Unlock()

	out := make([]BreakerStatus, 0, len(all))
	for _, b := range all {
		out = append(out, b.Status())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Backend < out[j].Backend })
	return out
}
