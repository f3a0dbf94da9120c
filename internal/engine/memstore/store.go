// Package memstore is an embedded engine that keeps every table in memory.
// Filters are evaluated with the same three-valued semantics PostgreSQL
// uses, so it can stand in for the database in tests and local tooling.
package memstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/engine"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/mutation"
	"github.com/nrjais/reposql/internal/predicate"
)

var ErrClosed = errors.New("memstore: store is closed")

// storedRow is immutable once published; writers replace it.
type storedRow struct {
	seq     uint64
	version uint64
	data    engine.Row
}

type table struct {
	rows map[string]*storedRow
	// keyVersions remembers the commit version that last touched a key,
	// deletes included, for write-write conflict detection.
	keyVersions map[string]uint64
	version     uint64
	nextID      int64
}

func newTable() *table {
	return &table{rows: make(map[string]*storedRow), keyVersions: make(map[string]uint64)}
}

// Store is the committed state shared by all transactions.
type Store struct {
	mu       sync.RWMutex
	tables   map[string]*table
	version  uint64
	seq      uint64
	closed   bool
	defLevel engine.IsolationLevel
}

type Option func(*Store)

// WithDefaultIsolation sets the level used when Begin is called with
// engine.DefaultIsolation. It defaults to read committed.
func WithDefaultIsolation(level engine.IsolationLevel) Option {
	return func(s *Store) { s.defLevel = level }
}

func New(opts ...Option) *Store {
	s := &Store{tables: make(map[string]*table), defLevel: engine.ReadCommitted}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var _ engine.Engine = (*Store)(nil)

func (s *Store) Begin(ctx context.Context, level engine.IsolationLevel) (engine.Tx, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if level == engine.DefaultIsolation {
		level = s.defLevel
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	tx := &Tx{
		store:        s,
		level:        level,
		startVersion: s.version,
		writes:       make(map[string]map[string]*storedRow),
		readTables:   make(map[string]struct{}),
	}
	if level != engine.ReadCommitted {
		tx.snapshot = make(map[string]map[string]*storedRow, len(s.tables))
		for name, t := range s.tables {
			rows := make(map[string]*storedRow, len(t.rows))
			for k, r := range t.rows {
				rows[k] = r
			}
			tx.snapshot[name] = rows
		}
	}
	slog.Debug("memstore transaction started", "level", level, "version", tx.startVersion)
	return tx, nil
}

func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

func (s *Store) Find(ctx context.Context, q engine.Query) ([]engine.Row, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return find(s.committedRows(q.Entity.Table()), q), nil
}

func (s *Store) Count(ctx context.Context, e *entity.Entity, where predicate.Predicate) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	return int64(len(matching(s.committedRows(e.Table()), where))), nil
}

func (s *Store) Insert(ctx context.Context, e *entity.Entity, rows []engine.Row) ([]engine.Row, error) {
	return autocommit(ctx, s, func(tx *Tx) ([]engine.Row, error) { return tx.Insert(ctx, e, rows) })
}

func (s *Store) Update(ctx context.Context, e *entity.Entity, where predicate.Predicate, changes *mutation.Changes) ([]engine.Row, error) {
	return autocommit(ctx, s, func(tx *Tx) ([]engine.Row, error) { return tx.Update(ctx, e, where, changes) })
}

func (s *Store) Delete(ctx context.Context, e *entity.Entity, where predicate.Predicate) ([]engine.Row, error) {
	return autocommit(ctx, s, func(tx *Tx) ([]engine.Row, error) { return tx.Delete(ctx, e, where) })
}

func autocommit(ctx context.Context, s *Store, fn func(*Tx) ([]engine.Row, error)) ([]engine.Row, error) {
	etx, err := s.Begin(ctx, engine.ReadCommitted)
	if err != nil {
		return nil, err
	}
	tx := etx.(*Tx)
	rows, err := fn(tx)
	if err != nil {
		_ = tx.Rollback(ctx)
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

// committedRows must be called with s.mu held.
func (s *Store) committedRows(name string) map[string]*storedRow {
	if t, ok := s.tables[name]; ok {
		return t.rows
	}
	return nil
}

func (s *Store) nextSeq() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	return s.seq
}

// assignKey fills a missing primary key. Integer keys come from a per-table
// counter that, like a database sequence, is not rolled back.
func (s *Store) assignKey(e *entity.Entity, row engine.Row) error {
	pk := e.PrimaryKey()
	col, _ := e.Column(pk)
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[e.Table()]
	if !ok {
		t = newTable()
		s.tables[e.Table()] = t
	}

	if v := row[pk]; v != nil {
		if id, ok := v.(int64); ok && id > t.nextID {
			t.nextID = id
		}
		return nil
	}
	switch col.Type {
	case entity.Integer:
		t.nextID++
		row[pk] = t.nextID
	case entity.UUID:
		row[pk] = uuid.NewString()
	default:
		return apperr.Validation("%s.%s is required", e.Name(), pk).WithPayload("column", pk)
	}
	return nil
}

func keyOf(v any) string {
	return fmt.Sprint(v)
}

func matching(rows map[string]*storedRow, where predicate.Predicate) []*storedRow {
	if where == nil {
		where = predicate.Always
	}
	out := make([]*storedRow, 0, len(rows))
	for _, r := range rows {
		if predicate.Matches(where, r.data) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func find(rows map[string]*storedRow, q engine.Query) []engine.Row {
	matched := matching(rows, q.Where)
	if len(q.Order) > 0 {
		sort.SliceStable(matched, func(i, j int) bool {
			return less(matched[i].data, matched[j].data, q.Order)
		})
	}

	start := min(q.Skip, len(matched))
	matched = matched[start:]
	if q.Limit != nil && *q.Limit < len(matched) {
		matched = matched[:*q.Limit]
	}

	out := make([]engine.Row, len(matched))
	for i, r := range matched {
		out[i] = r.data.Clone()
	}
	return out
}

// less orders rows the way PostgreSQL does by default: NULLs sort as if
// larger than every value, so they come last ascending and first descending.
func less(a, b engine.Row, order []engine.Order) bool {
	for _, o := range order {
		c := compareNullable(a[o.Column], b[o.Column])
		if c == 0 {
			continue
		}
		if o.Desc {
			return c > 0
		}
		return c < 0
	}
	return false
}

func compareNullable(a, b any) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c, ok := predicate.CompareValues(a, b)
	if !ok {
		return 0
	}
	return c
}
