package tx

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/metrics"
)

const (
	defaultIdleTimeout  = 60 * time.Second
	defaultReapInterval = 10 * time.Second
)

type Manager struct {
	engine       engine.Engine
	idleTimeout  time.Duration
	reapInterval time.Duration
	defaultLevel engine.IsolationLevel
	metrics      *metrics.Metrics
	now          func() time.Time

	mu     sync.Mutex
	active map[string]*Transaction
	stopCh chan struct{}
	once   sync.Once
}

type Option func(*Manager)

// WithIdleTimeout sets how long a handle may go unused before the reaper
// rolls it back. Zero or less disables reaping.
func WithIdleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.idleTimeout = d }
}

func WithReapInterval(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.reapInterval = d
		}
	}
}

// WithDefaultIsolation sets the level used when Begin gets
// engine.DefaultIsolation.
func WithDefaultIsolation(level engine.IsolationLevel) Option {
	return func(m *Manager) { m.defaultLevel = level }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

func NewManager(e engine.Engine, opts ...Option) *Manager {
	m := &Manager{
		engine:       e,
		idleTimeout:  defaultIdleTimeout,
		reapInterval: defaultReapInterval,
		now:          time.Now,
		active:       make(map[string]*Transaction),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Begin opens an engine transaction and returns an active handle.
func (m *Manager) Begin(ctx context.Context, level engine.IsolationLevel) (*Transaction, error) {
	if level == engine.DefaultIsolation {
		level = m.defaultLevel
	}
	etx, err := m.engine.Begin(ctx, level)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	t := &Transaction{
		id:       uuid.NewString(),
		level:    level,
		manager:  m,
		state:    Active,
		etx:      etx,
		lastUsed: m.now(),
	}
	m.mu.Lock()
	m.active[t.id] = t
	m.mu.Unlock()
	m.metrics.TransactionStarted()

	slog.Info("Transaction started", "transaction", t.id, "isolation", level)
	return t, nil
}

// Get returns an active handle by id.
func (m *Manager) Get(id string) (*Transaction, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.active[id]
	return t, ok
}

// Active returns the number of open handles.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) finished(t *Transaction, outcome string) {
	m.mu.Lock()
	_, tracked := m.active[t.id]
	delete(m.active, t.id)
	m.mu.Unlock()
	if tracked {
		m.metrics.TransactionFinished(outcome)
	}
}

// Start runs the idle reaper until ctx is done or Stop is called.
func (m *Manager) Start(ctx context.Context, wg *sync.WaitGroup) {
	if m.idleTimeout <= 0 {
		slog.Info("Transaction reaper disabled")
		return
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Transaction reaper started", "interval", m.reapInterval, "idle_timeout", m.idleTimeout)
		for {
			timer := time.NewTimer(m.reapInterval)
			select {
			case <-timer.C:
				if n := m.ReapIdle(ctx); n > 0 {
					slog.Warn("Rolled back idle transactions", "count", n)
				}
			case <-m.stopCh:
				timer.Stop()
				slog.Info("Transaction reaper received stop signal")
				return
			case <-ctx.Done():
				timer.Stop()
				slog.Info("Transaction reaper context cancelled")
				return
			}
		}
	}()
}

func (m *Manager) Stop() {
	m.once.Do(func() { close(m.stopCh) })
}

// ReapIdle rolls back every handle unused for longer than the idle timeout
// and returns how many it rolled back. Handles busy with an operation are
// skipped.
func (m *Manager) ReapIdle(ctx context.Context) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.idleTimeout)

	m.mu.Lock()
	candidates := make([]*Transaction, 0, len(m.active))
	for _, t := range m.active {
		candidates = append(candidates, t)
	}
	m.mu.Unlock()

	reaped := 0
	for _, t := range candidates {
		if !t.mu.TryLock() {
			continue
		}
		if t.state == Active && t.lastUsed.Before(cutoff) {
			slog.Warn("Rolling back idle transaction", "transaction", t.id, "last_used", t.lastUsed)
			_ = t.rollbackLocked(ctx, "reaped")
			reaped++
		}
		t.mu.Unlock()
	}
	return reaped
}

// Close rolls back every open handle.
func (m *Manager) Close(ctx context.Context) {
	m.Stop()
	m.mu.Lock()
	open := make([]*Transaction, 0, len(m.active))
	for _, t := range m.active {
		open = append(open, t)
	}
	m.mu.Unlock()

	for _, t := range open {
		t.mu.Lock()
		if t.state == Active {
			_ = t.rollbackLocked(ctx, "rolledback")
		}
		t.mu.Unlock()
	}
}
