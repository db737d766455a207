package connection

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"synth-core/pkg/deriv"
)

var (
	// ErrNotConnected is returned when no session is currently streaming.
	ErrNotConnected = errors.New("connection: not connected")
	errSessionEnded = errors.New("connection: session ended")
)

// Session is one live venue connection.
type Session interface {
	Authorize(ctx context.Context, token string) (deriv.Account, error)
	SubscribeTicks(ctx context.Context, symbol string) (string, error)
	Ticks() <-chan deriv.Tick
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Dialer opens a new session.
type Dialer func(ctx context.Context) (Session, error)

// DerivDialer dials the venue with the given client options.
func DerivDialer(opts deriv.Options) Dialer {
	return func(ctx context.Context) (Session, error) {
		return deriv.Dial(ctx, opts)
	}
}

// Config controls authentication, subscriptions and reconnect pacing.
type Config struct {
	Token       string
	Symbols     []string
	BackoffBase time.Duration
	BackoffMax  time.Duration
	Jitter      float64
	StableAfter time.Duration
}

// Option customizes a Manager.
type Option func(*Manager)

// WithObserver registers a callback invoked on every state transition.
func WithObserver(fn func(Transition)) Option {
	return func(m *Manager) { m.observers = append(m.observers, fn) }
}

// WithRand overrides the jitter source; fn must return values in [0,1).
func WithRand(fn func() float64) Option {
	return func(m *Manager) { m.rand = fn }
}

// Manager keeps one session streaming, reconnecting with backoff on failure.
type Manager struct {
	dial      Dialer
	cfg       Config
	log       zerolog.Logger
	observers []func(Transition)
	rand      func() float64
	now       func() time.Time

	ticks chan deriv.Tick

	mu    sync.RWMutex
	state State
	cur   Session
}

// NewManager builds a manager in the Disconnected state.
func NewManager(dial Dialer, cfg Config, log zerolog.Logger, opts ...Option) *Manager {
	m := &Manager{
		dial:  dial,
		cfg:   cfg,
		log:   log,
		rand:  rand.Float64,
		now:   time.Now,
		ticks: make(chan deriv.Tick, 1024),
		state: Disconnected,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Ticks delivers ticks from the streaming session. Closed when Run returns.
func (m *Manager) Ticks() <-chan deriv.Tick { return m.ticks }

// State returns the current phase.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Current returns the streaming session.
func (m *Manager) Current() (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != Streaming || m.cur == nil {
		return nil, ErrNotConnected
	}
	return m.cur, nil
}

// Run connects and keeps the stream alive until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) error {
	defer close(m.ticks)
	attempt := 0
	for {
		m.transition(Connecting, attempt, 0, nil)
		streamed, err := m.session(ctx)
		if ctx.Err() != nil {
			m.transition(Disconnected, attempt, 0, nil)
			return nil
		}
		if m.cfg.StableAfter > 0 && streamed >= m.cfg.StableAfter {
			attempt = 0
		}

		delay := Backoff(attempt, m.cfg.BackoffBase, m.cfg.BackoffMax, m.cfg.Jitter, m.rand())
		m.log.Warn().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("connection lost, reconnecting")
		m.transition(Reconnecting, attempt, delay, err)
		attempt++

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.transition(Disconnected, attempt, 0, nil)
			return nil
		case <-timer.C:
		}
	}
}

// session runs one connection to completion and reports how long it streamed.
func (m *Manager) session(ctx context.Context) (time.Duration, error) {
	s, err := m.dial(ctx)
	if err != nil {
		return 0, fmt.Errorf("dial: %w", err)
	}
	defer func() {
		m.mu.Lock()
		m.cur = nil
		m.mu.Unlock()
		_ = s.Close()
	}()

	m.transition(Authorizing, 0, 0, nil)
	acct, err := s.Authorize(ctx, m.cfg.Token)
	if err != nil {
		return 0, err
	}
	m.log.Info().Str("loginid", acct.LoginID).Str("currency", acct.Currency).Msg("authorized")

	for _, sym := range m.cfg.Symbols {
		if _, err := s.SubscribeTicks(ctx, sym); err != nil {
			return 0, err
		}
	}
	m.transition(Subscribed, 0, 0, nil)

	m.mu.Lock()
	m.cur = s
	m.mu.Unlock()
	m.transition(Streaming, 0, 0, nil)

	start := m.now()
	err = m.pump(ctx, s)
	return m.now().Sub(start), err
}

func (m *Manager) pump(ctx context.Context, s Session) error {
	in := s.Ticks()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.Done():
			return sessionErr(s)
		case t, ok := <-in:
			if !ok {
				return sessionErr(s)
			}
			select {
			case m.ticks <- t:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

func sessionErr(s Session) error {
	if err := s.Err(); err != nil {
		return err
	}
	return errSessionEnded
}

func (m *Manager) transition(to State, attempt int, delay time.Duration, err error) {
	m.mu.Lock()
	from := m.state
	m.state = to
	m.mu.Unlock()
	if from == to {
		return
	}

	tr := Transition{From: from, To: to, Attempt: attempt, Delay: delay, Err: err, At: m.now()}
	m.log.Debug().Str("from", from.String()).Str("to", to.String()).Msg("connection state")
	for _, fn := range m.observers {
		fn(tr)
	}
}
