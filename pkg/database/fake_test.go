package database

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// fakeConn is an in-memory Conn whose loss can be triggered by the test.
type fakeConn struct {
	mu      sync.Mutex
	pingErr error
	queryFn func(ctx context.Context, stmt string, args ...any) (*Rows, error)

	done     chan struct{}
	dropOnce sync.Once
	closed   atomic.Bool
}

func newFakeConn() *fakeConn {
	return &fakeConn{done: make(chan struct{})}
}

func (c *fakeConn) setPingErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

func (c *fakeConn) Ping(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *fakeConn) Query(ctx context.Context, stmt string, args ...any) (*Rows, error) {
	if c.queryFn != nil {
		return c.queryFn(ctx, stmt, args...)
	}
	return &Rows{}, nil
}

func (c *fakeConn) Done() <-chan struct{} {
	return c.done
}

// drop simulates the transport reporting the connection lost.
func (c *fakeConn) drop() {
	c.dropOnce.Do(func() { close(c.done) })
}

func (c *fakeConn) Close(ctx context.Context) error {
	c.closed.Store(true)
	c.drop()
	return nil
}

var errDialRefused = errors.New("dial tcp: connection refused")

// fakeDialer fails the first `failures` dials (all of them when failures < 0)
// and hands out fresh fakeConns afterwards. With serial set, each conn is
// handed out behind a serialConn the way PgxDialer does.
type fakeDialer struct {
	mu        sync.Mutex
	failures  int
	pingFails int
	serial    bool
	queryFn   func(ctx context.Context, stmt string, args ...any) (*Rows, error)
	conns     []*fakeConn
	dials     int
}

func (d *fakeDialer) dial(ctx context.Context) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.dials++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		return nil, errDialRefused
	}

	conn := newFakeConn()
	if d.pingFails > 0 {
		d.pingFails--
		conn.pingErr = errors.New("ping failed")
	}
	conn.queryFn = d.queryFn
	d.conns = append(d.conns, conn)
	if d.serial {
		return newSerialConn(conn), nil
	}
	return conn, nil
}

func (d *fakeDialer) setFailures(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures = n
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) connAt(i int) *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[i]
}

func (d *fakeDialer) lastConn() *fakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// stubSource is a ConnSource with a fixed answer.
type stubSource struct {
	conn Conn
	ok   bool
}

func (s stubSource) Conn() (Conn, bool) {
	return s.conn, s.ok
}
