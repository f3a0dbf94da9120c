// Package tx owns explicit transactions: the handle state machine shared by
// repositories and the reaper that rolls back abandoned handles.
package tx

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
)

type State string

const (
	Active     State = "active"
	Committed  State = "committed"
	RolledBack State = "rolledback"
)

// Transaction is a handle on one engine transaction. Operations through a
// handle run one at a time; once it leaves Active every call fails with an
// InactiveTransaction error without reaching the engine.
type Transaction struct {
	id      string
	level   engine.IsolationLevel
	manager *Manager

	mu       sync.Mutex
	state    State
	etx      engine.Tx
	lastUsed time.Time
}

func (t *Transaction) ID() string                   { return t.id }
func (t *Transaction) Level() engine.IsolationLevel { return t.level }

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Transaction) inactive() error {
	return apperr.InactiveTransaction(t.id, string(t.state))
}

// Use runs fn against the engine transaction.
func (t *Transaction) Use(ctx context.Context, fn func(engine.Executor) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return t.inactive()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	t.lastUsed = t.manager.now()
	return fn(t.etx)
}

// Commit publishes the transaction's writes. A failed commit leaves the
// handle rolled back, as the engine has discarded the work.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return t.inactive()
	}

	if err := t.etx.Commit(ctx); err != nil {
		t.state = RolledBack
		t.manager.finished(t, "failed")
		slog.Warn("Transaction commit failed", "transaction", t.id, "error", err)
		return err
	}
	t.state = Committed
	t.manager.finished(t, "committed")
	slog.Info("Transaction committed", "transaction", t.id)
	return nil
}

func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != Active {
		return t.inactive()
	}
	return t.rollbackLocked(ctx, "rolledback")
}

func (t *Transaction) rollbackLocked(ctx context.Context, outcome string) error {
	t.state = RolledBack
	t.manager.finished(t, outcome)
	if err := t.etx.Rollback(ctx); err != nil {
		slog.Error("Transaction rollback failed", "transaction", t.id, "error", err)
		return err
	}
	slog.Info("Transaction rolled back", "transaction", t.id, "outcome", outcome)
	return nil
}
