// Package audit stamps creator and modifier metadata into write payloads.
// The caller's identity travels on the context; nothing is read from global
// state.
package audit

import (
	"context"
	"time"
)

type identityKey struct{}

// WithIdentity returns a context carrying the id of the caller issuing writes.
func WithIdentity(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, identityKey{}, id)
}

// IdentityFrom returns the caller id stored by WithIdentity.
func IdentityFrom(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(identityKey{}).(string)
	return id, ok && id != ""
}

// Columns names the audit columns. An entity that lacks one of them is
// simply not stamped with it.
type Columns struct {
	CreatedBy  string
	ModifiedBy string
	CreatedAt  string
	ModifiedAt string
}

func DefaultColumns() Columns {
	return Columns{
		CreatedBy:  "createdBy",
		ModifiedBy: "modifiedBy",
		CreatedAt:  "createdAt",
		ModifiedAt: "modifiedAt",
	}
}

// ColumnSet reports which columns an entity declares.
type ColumnSet interface {
	HasColumn(name string) bool
}

type Injector struct {
	columns Columns
	now     func() time.Time
}

type Option func(*Injector)

func WithClock(now func() time.Time) Option {
	return func(i *Injector) { i.now = now }
}

func WithColumns(c Columns) Option {
	return func(i *Injector) { i.columns = c }
}

func NewInjector(opts ...Option) *Injector {
	i := &Injector{columns: DefaultColumns(), now: time.Now}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// OnCreate returns a copy of data with creator, modifier and timestamps set.
// Values already present in data are kept; a missing identity stamps null.
func (i *Injector) OnCreate(ctx context.Context, cols ColumnSet, data map[string]any) map[string]any {
	out := clone(data)
	var identity any
	if id, ok := IdentityFrom(ctx); ok {
		identity = id
	}
	now := i.now().UTC()

	setDefault(out, cols, i.columns.CreatedBy, identity)
	setDefault(out, cols, i.columns.ModifiedBy, identity)
	setDefault(out, cols, i.columns.CreatedAt, now)
	setDefault(out, cols, i.columns.ModifiedAt, now)
	return out
}

// OnUpdate returns a copy of data with the modifier and modification time set.
// Creator fields are removed: an update never changes them. A known identity
// overrides any modifier in data; without one the payload value, or null,
// is used.
func (i *Injector) OnUpdate(ctx context.Context, cols ColumnSet, data map[string]any) map[string]any {
	out := clone(data)
	delete(out, i.columns.CreatedBy)
	delete(out, i.columns.CreatedAt)

	if id, ok := IdentityFrom(ctx); ok && cols.HasColumn(i.columns.ModifiedBy) {
		out[i.columns.ModifiedBy] = id
	} else {
		setDefault(out, cols, i.columns.ModifiedBy, nil)
	}
	setDefault(out, cols, i.columns.ModifiedAt, i.now().UTC())
	return out
}

func setDefault(data map[string]any, cols ColumnSet, column string, value any) {
	if column == "" || !cols.HasColumn(column) {
		return
	}
	if _, present := data[column]; present {
		return
	}
	data[column] = value
}

func clone(data map[string]any) map[string]any {
	out := make(map[string]any, len(data)+4)
	for k, v := range data {
		out[k] = v
	}
	return out
}
