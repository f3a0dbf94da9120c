package memstore

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
)

// Tx stages writes privately until Commit. Read committed transactions read
// the latest committed state under their own writes, and at commit replay
// their updates over any row version committed since they read it, the way
// PostgreSQL re-evaluates an update against the newest row. Repeatable read
// and serializable ones read the snapshot taken at Begin and fail at commit
// when a concurrent transaction committed over the same rows (or, for
// serializable, over any table they read).
type Tx struct {
	mu           sync.Mutex
	store        *Store
	level        engine.IsolationLevel
	startVersion uint64
	snapshot     map[string]map[string]*storedRow
	// writes maps table -> key -> new row; a nil row is a delete.
	writes     map[string]map[string]*storedRow
	inserted   map[string]map[string]struct{}
	readTables map[string]struct{}
	// updates records, per table and key, how this transaction changed a
	// row it did not insert.
	updates map[string]map[string]*rowUpdate
	done    bool
}

// rowUpdate is the committed version an update was first applied to and
// every update step since, in order.
type rowUpdate struct {
	entity *entity.Entity
	base   uint64
	steps  []updateStep
}

type updateStep struct {
	where   predicate.Predicate
	changes *mutation.Changes
}

func (tx *Tx) track(e *entity.Entity, key string, base uint64, step updateStep) {
	name := e.Table()
	if _, ok := tx.inserted[name][key]; ok {
		return
	}
	if tx.updates == nil {
		tx.updates = make(map[string]map[string]*rowUpdate)
	}
	byKey, ok := tx.updates[name]
	if !ok {
		byKey = make(map[string]*rowUpdate)
		tx.updates[name] = byKey
	}
	if u, ok := byKey[key]; ok {
		u.steps = append(u.steps, step)
		return
	}
	byKey[key] = &rowUpdate{entity: e, base: base, steps: []updateStep{step}}
}

var _ engine.ConcurrentTx = (*Tx)(nil)

// Concurrent marks Tx as safe for statements from several goroutines.
func (tx *Tx) Concurrent() {}

func (tx *Tx) Level() engine.IsolationLevel { return tx.level }

func (tx *Tx) begin(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tx.done {
		return apperr.InactiveTransaction("", "finished")
	}
	return nil
}

// visible returns the rows this transaction sees in table name.
func (tx *Tx) visible(name string) map[string]*storedRow {
	tx.readTables[name] = struct{}{}

	var base map[string]*storedRow
	if tx.snapshot != nil {
		base = tx.snapshot[name]
	} else {
		tx.store.mu.RLock()
		base = tx.store.committedRows(name)
		out := make(map[string]*storedRow, len(base))
		for k, r := range base {
			out[k] = r
		}
		tx.store.mu.RUnlock()
		base = out
	}

	writes := tx.writes[name]
	if len(writes) == 0 {
		return base
	}
	out := make(map[string]*storedRow, len(base)+len(writes))
	for k, r := range base {
		out[k] = r
	}
	for k, r := range writes {
		if r == nil {
			delete(out, k)
		} else {
			out[k] = r
		}
	}
	return out
}

func (tx *Tx) stage(name, key string, row *storedRow) {
	w, ok := tx.writes[name]
	if !ok {
		w = make(map[string]*storedRow)
		tx.writes[name] = w
	}
	w[key] = row
}

func (tx *Tx) Find(ctx context.Context, q engine.Query) ([]engine.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.begin(ctx); err != nil {
		return nil, err
	}
	return find(tx.visible(q.Entity.Table()), q), nil
}

func (tx *Tx) Count(ctx context.Context, e *entity.Entity, where predicate.Predicate) (int64, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.begin(ctx); err != nil {
		return 0, err
	}
	return int64(len(matching(tx.visible(e.Table()), where))), nil
}

// Insert stores rows with every declared column present. A duplicate primary
// key fails the whole call.
func (tx *Tx) Insert(ctx context.Context, e *entity.Entity, rows []engine.Row) ([]engine.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.begin(ctx); err != nil {
		return nil, err
	}

	prepared := make([]engine.Row, len(rows))
	for i, row := range rows {
		full := make(engine.Row, len(e.Columns()))
		for _, col := range e.Columns() {
			full[col.Name] = nil
		}
		for k, v := range row {
			if !e.HasColumn(k) {
				return nil, apperr.UnknownColumn(e.Name(), k)
			}
			full[k] = engine.CloneValue(v)
		}
		if err := tx.store.assignKey(e, full); err != nil {
			return nil, err
		}
		prepared[i] = full
	}

	visible := tx.visible(e.Table())
	keys := make(map[string]struct{}, len(prepared))
	for _, row := range prepared {
		key := keyOf(row[e.PrimaryKey()])
		_, taken := visible[key]
		_, repeated := keys[key]
		if taken || repeated {
			return nil, duplicateKey(e, row[e.PrimaryKey()])
		}
		keys[key] = struct{}{}
	}

	out := make([]engine.Row, len(prepared))
	for i, row := range prepared {
		key := keyOf(row[e.PrimaryKey()])
		tx.stage(e.Table(), key, &storedRow{seq: tx.store.nextSeq(), data: row})
		if tx.inserted == nil {
			tx.inserted = make(map[string]map[string]struct{})
		}
		if tx.inserted[e.Table()] == nil {
			tx.inserted[e.Table()] = make(map[string]struct{})
		}
		tx.inserted[e.Table()][key] = struct{}{}
		out[i] = row.Clone()
	}
	return out, nil
}

func (tx *Tx) Update(ctx context.Context, e *entity.Entity, where predicate.Predicate, changes *mutation.Changes) ([]engine.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.begin(ctx); err != nil {
		return nil, err
	}

	matched := matching(tx.visible(e.Table()), where)
	updated := make([]*storedRow, len(matched))
	for i, r := range matched {
		data, err := changes.Apply(r.data)
		if err != nil {
			return nil, err
		}
		data[e.PrimaryKey()] = r.data[e.PrimaryKey()]
		if err := changes.Validate(e, data); err != nil {
			return nil, err
		}
		updated[i] = &storedRow{seq: r.seq, version: r.version, data: engine.Row(data).Clone()}
	}

	out := make([]engine.Row, len(updated))
	for i, r := range updated {
		key := keyOf(r.data[e.PrimaryKey()])
		tx.track(e, key, r.version, updateStep{where: where, changes: changes})
		tx.stage(e.Table(), key, r)
		out[i] = r.data.Clone()
	}
	return out, nil
}

func (tx *Tx) Delete(ctx context.Context, e *entity.Entity, where predicate.Predicate) ([]engine.Row, error) {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if err := tx.begin(ctx); err != nil {
		return nil, err
	}

	matched := matching(tx.visible(e.Table()), where)
	out := make([]engine.Row, len(matched))
	for i, r := range matched {
		tx.stage(e.Table(), keyOf(r.data[e.PrimaryKey()]), nil)
		out[i] = r.data.Clone()
	}
	return out, nil
}

// Commit publishes the staged writes atomically.
func (tx *Tx) Commit(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return apperr.InactiveTransaction("", "finished")
	}
	tx.done = true

	s := tx.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	if err := tx.validate(); err != nil {
		return err
	}
	if err := tx.rebase(); err != nil {
		return err
	}

	if len(tx.writes) == 0 {
		return nil
	}
	s.version++
	for name, writes := range tx.writes {
		t, ok := s.tables[name]
		if !ok {
			t = newTable()
			s.tables[name] = t
		}
		for key, r := range writes {
			_, isInsert := tx.inserted[name][key]
			_, exists := t.rows[key]
			switch {
			case r == nil:
				delete(t.rows, key)
			case !isInsert && !exists:
				// Updated a row another transaction has since deleted.
				continue
			default:
				t.rows[key] = &storedRow{seq: r.seq, version: s.version, data: r.data}
			}
			t.keyVersions[key] = s.version
		}
		t.version = s.version
	}
	slog.Debug("memstore transaction committed", "level", tx.level, "version", s.version)
	return nil
}

// validate must be called with the store lock held.
func (tx *Tx) validate() error {
	s := tx.store
	for name, writes := range tx.writes {
		t, ok := s.tables[name]
		if !ok {
			continue
		}
		for key := range writes {
			if _, isInsert := tx.inserted[name][key]; isInsert {
				if existing, ok := t.rows[key]; ok && existing.version > tx.startVersion {
					return apperr.Validation("duplicate key %s in %s", key, name).WithPayload("key", key)
				}
			}
			if tx.level == engine.ReadCommitted {
				continue
			}
			if t.keyVersions[key] > tx.startVersion {
				return apperr.TransactionConflict(nil).WithPayload("table", name).WithPayload("key", key)
			}
		}
	}

	if tx.level != engine.Serializable {
		return nil
	}
	for name := range tx.readTables {
		if t, ok := s.tables[name]; ok && t.version > tx.startVersion {
			return apperr.TransactionConflict(nil).WithPayload("table", name)
		}
	}
	return nil
}

// rebase replays the updates of a read committed transaction over rows
// another transaction committed after they were read. A step whose where no
// longer matches the newer version is skipped. Must be called with the store
// lock held.
func (tx *Tx) rebase() error {
	if tx.level != engine.ReadCommitted {
		return nil
	}
	s := tx.store
	for name, byKey := range tx.updates {
		t, ok := s.tables[name]
		if !ok {
			continue
		}
		for key, u := range byKey {
			staged, ok := tx.writes[name][key]
			if !ok || staged == nil || t.keyVersions[key] <= u.base {
				continue
			}
			latest, ok := t.rows[key]
			if !ok {
				continue
			}
			data, err := u.replay(latest.data)
			if err != nil {
				return err
			}
			tx.writes[name][key] = &storedRow{seq: latest.seq, data: data}
		}
	}
	return nil
}

func (u *rowUpdate) replay(row engine.Row) (engine.Row, error) {
	pk := u.entity.PrimaryKey()
	data := map[string]any(row)
	for _, step := range u.steps {
		if step.where != nil && !predicate.Matches(step.where, data) {
			continue
		}
		next, err := step.changes.Apply(data)
		if err != nil {
			return nil, err
		}
		next[pk] = row[pk]
		if err := step.changes.Validate(u.entity, next); err != nil {
			return nil, err
		}
		data = next
	}
	return engine.Row(data).Clone(), nil
}

func (tx *Tx) Rollback(ctx context.Context) error {
	tx.mu.Lock()
	defer tx.mu.Unlock()
	if tx.done {
		return apperr.InactiveTransaction("", "finished")
	}
	tx.done = true
	tx.writes = nil
	tx.updates = nil
	slog.Debug("memstore transaction rolled back", "level", tx.level)
	return nil
}

func duplicateKey(e *entity.Entity, id any) *apperr.Error {
	return apperr.Validation("%s with %s %v already exists", e.Name(), e.PrimaryKey(), id).
		WithPayload("entity", e.Name()).
		WithPayload("column", e.PrimaryKey())
}
