package tx

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/engine/mocks"
	"github.com/nrjais/reposql/internal/metrics"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestManager_BeginUsesDefaultIsolation(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), engine.RepeatableRead).Return(etx, nil)

	m := NewManager(eng, WithDefaultIsolation(engine.RepeatableRead))
	tx, err := m.Begin(context.Background(), engine.DefaultIsolation)
	require.NoError(t, err)

	assert.Equal(t, engine.RepeatableRead, tx.Level())
	assert.Equal(t, Active, tx.State())
	assert.Len(t, tx.ID(), 36)
	got, ok := m.Get(tx.ID())
	assert.True(t, ok)
	assert.Same(t, tx, got)
}

func TestManager_BeginFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	boom := errors.New("no connection")
	eng := mocks.NewMockEngine(ctrl)
	eng.EXPECT().Begin(gomock.Any(), engine.Serializable).Return(nil, boom)

	m := NewManager(eng)
	_, err := m.Begin(context.Background(), engine.Serializable)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 0, m.Active())
}

func TestTransaction_CommitIsTerminal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	etx.EXPECT().Commit(gomock.Any()).Return(nil).Times(1)

	reg := prometheus.NewRegistry()
	mt := metrics.New("reposql", reg)
	m := NewManager(eng, WithMetrics(mt))
	ctx := context.Background()

	tx, err := m.Begin(ctx, engine.ReadCommitted)
	require.NoError(t, err)
	require.NoError(t, tx.Commit(ctx))
	assert.Equal(t, Committed, tx.State())

	assert.ErrorIs(t, tx.Commit(ctx), apperr.ErrInactiveTransaction)
	assert.ErrorIs(t, tx.Rollback(ctx), apperr.ErrInactiveTransaction)

	called := false
	err = tx.Use(ctx, func(engine.Executor) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, apperr.ErrInactiveTransaction)
	assert.False(t, called)

	assert.Equal(t, 0, m.Active())
	assert.Equal(t, 0.0, testutil.ToFloat64(mt.ActiveTransactions))
	assert.Equal(t, 1.0, testutil.ToFloat64(mt.TransactionsTotal.WithLabelValues("committed")))
}

func TestTransaction_RollbackIsTerminal(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	etx.EXPECT().Rollback(gomock.Any()).Return(nil).Times(1)

	m := NewManager(eng)
	ctx := context.Background()
	tx, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)

	require.NoError(t, tx.Rollback(ctx))
	assert.Equal(t, RolledBack, tx.State())

	var appErr *apperr.Error
	err = tx.Commit(ctx)
	require.ErrorAs(t, err, &appErr)
	assert.Equal(t, "rolledback", appErr.Payload["state"])
	assert.Equal(t, tx.ID(), appErr.Payload["transaction"])
}

func TestTransaction_FailedCommitEndsTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	etx.EXPECT().Commit(gomock.Any()).Return(apperr.TransactionConflict(nil))

	m := NewManager(eng)
	ctx := context.Background()
	tx, err := m.Begin(ctx, engine.Serializable)
	require.NoError(t, err)

	assert.ErrorIs(t, tx.Commit(ctx), apperr.ErrTransactionConflict)
	assert.Equal(t, RolledBack, tx.State())
	assert.ErrorIs(t, tx.Rollback(ctx), apperr.ErrInactiveTransaction)
}

func TestTransaction_UseRunsOnEngineTransaction(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	etx.EXPECT().Count(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(4), nil)

	m := NewManager(eng)
	ctx := context.Background()
	tx, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)

	var n int64
	err = tx.Use(ctx, func(x engine.Executor) error {
		var err error
		n, err = x.Count(ctx, nil, nil)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, int64(4), n)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	err = tx.Use(cancelled, func(engine.Executor) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Active, tx.State())
}

func TestManager_ReapIdle(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	eng := mocks.NewMockEngine(ctrl)
	idle := mocks.NewMockTx(ctrl)
	busy := mocks.NewMockTx(ctrl)
	gomock.InOrder(
		eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(idle, nil),
		eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(busy, nil),
	)
	idle.EXPECT().Rollback(gomock.Any()).Return(nil)
	busy.EXPECT().Count(gomock.Any(), gomock.Any(), gomock.Any()).Return(int64(0), nil)

	m := NewManager(eng, WithIdleTimeout(time.Minute), WithClock(clock.Now))
	ctx := context.Background()
	first, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)
	second, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	require.NoError(t, second.Use(ctx, func(x engine.Executor) error {
		_, err := x.Count(ctx, nil, nil)
		return err
	}))
	clock.Advance(30 * time.Second)

	assert.Equal(t, 1, m.ReapIdle(ctx))
	assert.Equal(t, RolledBack, first.State())
	assert.Equal(t, Active, second.State())
	assert.ErrorIs(t, first.Use(ctx, func(engine.Executor) error { return nil }), apperr.ErrInactiveTransaction)
	assert.Equal(t, 1, m.Active())
}

func TestManager_StartStop(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	clock := &fakeClock{now: time.Now()}
	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	rolledBack := make(chan struct{})
	etx.EXPECT().Rollback(gomock.Any()).DoAndReturn(func(context.Context) error {
		close(rolledBack)
		return nil
	})

	m := NewManager(eng, WithIdleTimeout(time.Second), WithReapInterval(10*time.Millisecond), WithClock(clock.Now))
	ctx := context.Background()
	tx, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	var wg sync.WaitGroup
	m.Start(ctx, &wg)
	select {
	case <-rolledBack:
	case <-time.After(2 * time.Second):
		t.Fatal("idle transaction was not reaped")
	}
	m.Stop()
	m.Stop()
	wg.Wait()

	assert.Equal(t, RolledBack, tx.State())
}

func TestManager_CloseRollsBackOpenTransactions(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	eng := mocks.NewMockEngine(ctrl)
	etx := mocks.NewMockTx(ctrl)
	eng.EXPECT().Begin(gomock.Any(), gomock.Any()).Return(etx, nil)
	etx.EXPECT().Rollback(gomock.Any()).Return(nil)

	m := NewManager(eng)
	ctx := context.Background()
	tx, err := m.Begin(ctx, engine.DefaultIsolation)
	require.NoError(t, err)

	m.Close(ctx)
	assert.Equal(t, RolledBack, tx.State())
	assert.Equal(t, 0, m.Active())
}
