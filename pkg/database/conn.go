package database

import "context"

// Conn is a single logical connection to the store.
type Conn interface {
	// Ping issues a trivial liveness check.
	Ping(ctx context.Context) error

	// Query runs a parameterized statement and materializes the result.
	// ctx bounds the wait for dispatch; a dispatched statement is not
	// cancelled when ctx is.
	Query(ctx context.Context, stmt string, args ...any) (*Rows, error)

	// Done is closed when the transport reports the connection lost or closed.
	Done() <-chan struct{}

	// Close releases the connection.
	Close(ctx context.Context) error
}

// DialFunc opens a new Conn.
type DialFunc func(ctx context.Context) (Conn, error)

// Rows is a fully materialized result set.
type Rows struct {
	Columns      []string
	Values       [][]any
	RowsAffected int64
}

// Len returns the number of returned rows.
func (r *Rows) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Values)
}
