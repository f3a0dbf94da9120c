package repository

import "github.com/nrjais/reposql/internal/tx"

// Option adjusts a single repository call.
type Option func(*options)

type options struct {
	tx          *tx.Transaction
	skipDefault bool
	returning   bool
}

// WithTransaction runs the call inside t. The call fails with an
// InactiveTransaction error once t is committed or rolled back.
func WithTransaction(t *tx.Transaction) Option {
	return func(o *options) { o.tx = t }
}

// SkipDefaultFilter bypasses the entity's default filter for this call.
func SkipDefaultFilter() Option {
	return func(o *options) { o.skipDefault = true }
}

// Returning makes UpdateAll and DeleteAll return the affected rows.
func Returning() Option {
	return func(o *options) { o.returning = true }
}

func collect(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
