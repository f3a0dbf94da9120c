// Package engine defines the contract between repositories and storage
// backends.
package engine

import (
	"fmt"
	"strings"

	"github.com/nrjais/reposql/internal/apperr"
	"github.com/nrjais/reposql/internal/entity"
	"github.com/nrjais/reposql/internal/predicate"
)

type IsolationLevel string

const (
	DefaultIsolation IsolationLevel = ""
	ReadCommitted    IsolationLevel = "read-committed"
	RepeatableRead   IsolationLevel = "repeatable-read"
	Serializable     IsolationLevel = "serializable"
)

// ParseIsolationLevel accepts the dashed names as well as the SQL spelling
// ("READ COMMITTED"). An empty string selects the engine default.
func ParseIsolationLevel(s string) (IsolationLevel, error) {
	norm := strings.ToLower(strings.TrimSpace(s))
	norm = strings.NewReplacer(" ", "-", "_", "-").Replace(norm)
	switch IsolationLevel(norm) {
	case DefaultIsolation, ReadCommitted, RepeatableRead, Serializable:
		return IsolationLevel(norm), nil
	default:
		return "", apperr.Validation("unknown isolation level %q", s)
	}
}

// ConcurrentTx is a Tx that accepts statements from several goroutines at
// once. Transactions bound to a single connection do not implement it.
type ConcurrentTx interface {
	Tx
	Concurrent()
}

// Row is one stored record keyed by column name.
type Row map[string]any

// Clone returns a copy of r. Nested JSON containers are copied too.
func (r Row) Clone() Row {
	if r == nil {
		return nil
	}
	out := make(Row, len(r))
	for k, v := range r {
		out[k] = CloneValue(v)
	}
	return out
}

func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = CloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = CloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// Order sorts by one plain column. NULLs sort last ascending and first
// descending.
type Order struct {
	Column string
	Desc   bool
}

func (o Order) String() string {
	if o.Desc {
		return o.Column + " DESC"
	}
	return o.Column + " ASC"
}

// Query is a compiled read. A nil Limit means no limit.
type Query struct {
	Entity *entity.Entity
	Where  predicate.Predicate
	Order  []Order
	Limit  *int
	Skip   int
}

func (q Query) String() string {
	limit := "none"
	if q.Limit != nil {
		limit = fmt.Sprint(*q.Limit)
	}
	return fmt.Sprintf("%s order=%v limit=%s skip=%d", q.Entity.Name(), q.Order, limit, q.Skip)
}
