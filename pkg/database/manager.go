// Package database supervises the single logical connection to the relational
// store and executes parameterized statements against it with a time budget.
package database

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// ManagerConfig holds connection supervision settings.
type ManagerConfig struct {
	// MaxRetries is the number of consecutive reconnect attempts before the
	// manager gives up and enters StateFailed.
	MaxRetries int

	// RetryInterval is the fixed wait before each reconnect attempt.
	RetryInterval time.Duration

	// ConnectTimeout bounds a single dial.
	ConnectTimeout time.Duration

	// PingTimeout bounds a liveness ping.
	PingTimeout time.Duration

	// HealthCheckInterval enables a periodic ping while Ready. Zero disables it.
	HealthCheckInterval time.Duration
}

// DefaultManagerConfig returns the default supervision settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		MaxRetries:          10,
		RetryInterval:       5 * time.Second,
		ConnectTimeout:      5 * time.Second,
		PingTimeout:         5 * time.Second,
		HealthCheckInterval: 30 * time.Second,
	}
}

type connHolder struct {
	conn Conn
}

// Manager owns the lifecycle of one logical database connection.
//
// A single supervisor goroutine performs every state transition
// (connect, verify, watch, reconnect). Readers only load the state
// atomically, and since the supervisor handles one step at a time there is
// never more than one reconnection attempt in flight.
type Manager struct {
	dial   DialFunc
	config ManagerConfig
	logger zerolog.Logger

	state atomic.Int32
	ready atomic.Pointer[connHolder]

	mu      sync.Mutex
	changed chan struct{}
	onReady []func(context.Context)

	resetCh chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	once    sync.Once

	// Owned by the supervisor goroutine.
	retries int
	current Conn
}

// NewManager creates a manager and starts connecting immediately.
func NewManager(dial DialFunc, cfg ManagerConfig, logger zerolog.Logger) *Manager {
	defaults := DefaultManagerConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = defaults.RetryInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaults.ConnectTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = defaults.PingTimeout
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		dial:    dial,
		config:  cfg,
		logger:  logger.With().Str("component", "database").Logger(),
		changed: make(chan struct{}),
		resetCh: make(chan struct{}, 1),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	m.setState(StateConnecting)

	go m.run()
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsReady reports whether queries may be dispatched.
func (m *Manager) IsReady() bool {
	return m.State() == StateReady
}

// Conn returns the live connection when the manager is Ready.
func (m *Manager) Conn() (Conn, bool) {
	if !m.IsReady() {
		return nil, false
	}
	h := m.ready.Load()
	if h == nil {
		return nil, false
	}
	return h.conn, true
}

// WaitReady blocks until the manager is Ready, has Failed, or ctx is done.
func (m *Manager) WaitReady(ctx context.Context) error {
	for {
		m.mu.Lock()
		state := m.State()
		changed := m.changed
		m.mu.Unlock()

		switch state {
		case StateReady:
			return nil
		case StateFailed:
			return fmt.Errorf("%w: retry ceiling of %d reached", ErrNotConnected, m.config.MaxRetries)
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return ErrManagerClosed
		}
	}
}

// OnReady registers fn to run on every transition into StateReady, including
// the first and each one after a reconnect or Reset. When the manager is
// already Ready, fn also runs right away. fn runs on its own goroutine with a
// context cancelled by Close.
func (m *Manager) OnReady(fn func(ctx context.Context)) {
	m.mu.Lock()
	m.onReady = append(m.onReady, fn)
	ready := m.State() == StateReady
	m.mu.Unlock()

	if ready {
		go fn(m.ctx)
	}
}

// Reset leaves StateFailed and restarts reconnection with a fresh retry
// counter. It returns false when the manager is not in StateFailed.
func (m *Manager) Reset() bool {
	if m.State() != StateFailed {
		return false
	}
	select {
	case m.resetCh <- struct{}{}:
	default:
	}
	m.logger.Info().Msg("Retry ceiling reset requested")
	return true
}

// Close stops supervision and closes the live connection.
func (m *Manager) Close(ctx context.Context) error {
	var err error
	m.once.Do(func() {
		m.cancel()
		<-m.done

		m.ready.Store(nil)
		if m.current != nil {
			err = m.current.Close(ctx)
			m.current = nil
		}
		m.setState(StateDisconnected)
		m.logger.Info().Msg("Database connection closed")
	})
	return err
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	m.state.Store(int32(s))
	close(m.changed)
	m.changed = make(chan struct{})
	var hooks []func(context.Context)
	if s == StateReady {
		hooks = slices.Clone(m.onReady)
	}
	m.mu.Unlock()

	ConnectionState.Set(float64(s))
	m.logger.Debug().Str("state", s.String()).Msg("Connection state changed")

	for _, fn := range hooks {
		go fn(m.ctx)
	}
}

// run is the supervisor loop.
func (m *Manager) run() {
	defer close(m.done)

	for {
		if conn, ok := m.connect(); ok && m.verify(conn) {
			m.watch(conn)
		}
		if m.ctx.Err() != nil {
			return
		}
		if !m.reconnect() {
			return
		}
	}
}

// connect opens a new connection and moves to Verifying.
func (m *Manager) connect() (Conn, bool) {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.ConnectTimeout)
	defer cancel()

	conn, err := m.dial(ctx)
	if err != nil {
		m.logger.Warn().Err(err).Int("attempt", m.retries).Msg("Database connect failed")
		return nil, false
	}

	m.current = conn
	m.setState(StateVerifying)
	return conn, true
}

// verify pings the fresh connection and moves to Ready on success.
func (m *Manager) verify(conn Conn) bool {
	ctx, cancel := context.WithTimeout(m.ctx, m.config.PingTimeout)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		m.logger.Warn().Err(err).Msg("Database liveness ping failed")
		m.discard(conn)
		return false
	}

	m.retries = 0
	m.ready.Store(&connHolder{conn: conn})
	m.setState(StateReady)
	m.logger.Info().Msg("Database connection ready")
	return true
}

// watch blocks while the connection is healthy. It returns when the
// transport reports the connection lost, a health ping fails, or the
// manager is closed.
func (m *Manager) watch(conn Conn) {
	var tick <-chan time.Time
	if m.config.HealthCheckInterval > 0 {
		ticker := time.NewTicker(m.config.HealthCheckInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-conn.Done():
			m.lost(conn, "transport reported connection closed")
			return
		case <-tick:
			ctx, cancel := context.WithTimeout(m.ctx, m.config.PingTimeout)
			err := conn.Ping(ctx)
			cancel()
			if err != nil && m.ctx.Err() == nil {
				m.lost(conn, err.Error())
				return
			}
		}
	}
}

func (m *Manager) lost(conn Conn, reason string) {
	m.setState(StateDisconnected)
	m.ready.Store(nil)
	m.logger.Warn().Str("reason", reason).Msg("Database connection lost")
	m.discard(conn)
}

// discard closes conn in the background. A statement abandoned after its
// budget may still hold the connection, so Close is retried until the
// statement finishes and frees it.
func (m *Manager) discard(conn Conn) {
	if m.current == conn {
		m.current = nil
	}
	go func() {
		for attempt := 1; ; attempt++ {
			ctx, cancel := context.WithTimeout(context.Background(), m.config.ConnectTimeout)
			err := conn.Close(ctx)
			cancel()
			if err == nil {
				return
			}
			if !errors.Is(err, context.DeadlineExceeded) {
				m.logger.Debug().Err(err).Msg("Closing discarded connection failed")
				return
			}
			m.logger.Warn().Int("attempt", attempt).Msg("Discarded connection still busy - retrying close")
		}
	}()
}

// reconnect waits out the backoff before the next connect. At the retry
// ceiling it parks in StateFailed until Reset or Close. It returns false
// when the manager is closing.
func (m *Manager) reconnect() bool {
	if m.retries >= m.config.MaxRetries {
		// Drop a stale reset token so only a Reset issued while Failed counts.
		select {
		case <-m.resetCh:
		default:
		}

		m.setState(StateFailed)
		RetryCeilingReached.Inc()
		m.logger.Error().
			Int("max_retries", m.config.MaxRetries).
			Msg("Database retry ceiling reached - operator intervention required")

		select {
		case <-m.ctx.Done():
			return false
		case <-m.resetCh:
			m.retries = 0
			m.setState(StateConnecting)
			return true
		}
	}

	m.retries++
	ReconnectAttempts.Inc()
	m.setState(StateConnecting)
	m.logger.Warn().
		Int("attempt", m.retries).
		Int("max_retries", m.config.MaxRetries).
		Dur("backoff", m.config.RetryInterval).
		Msg("Scheduling database reconnect")

	timer := time.NewTimer(m.config.RetryInterval)
	defer timer.Stop()

	select {
	case <-m.ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
