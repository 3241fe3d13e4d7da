package database

import "context"

// serialConn serializes access to a Conn that does not support concurrent use.
//
// Query and Close wait for the connection while ctx allows. Once a statement
// is dispatched it runs detached from ctx, so a statement whose caller gave up
// still completes and only then frees the connection.
//
// Ping never queues behind a statement: a connection busy executing one is
// alive by definition, so Ping reports healthy without touching the wire.
type serialConn struct {
	inner Conn
	sem   chan struct{}
}

func newSerialConn(inner Conn) *serialConn {
	return &serialConn{
		inner: inner,
		sem:   make(chan struct{}, 1),
	}
}

func (c *serialConn) acquire(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *serialConn) release() {
	<-c.sem
}

func (c *serialConn) Ping(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	default:
		return nil
	}
	defer c.release()

	return c.inner.Ping(ctx)
}

func (c *serialConn) Query(ctx context.Context, stmt string, args ...any) (*Rows, error) {
	if err := c.acquire(ctx); err != nil {
		return nil, err
	}
	defer c.release()

	return c.inner.Query(context.WithoutCancel(ctx), stmt, args...)
}

func (c *serialConn) Done() <-chan struct{} {
	return c.inner.Done()
}

func (c *serialConn) Close(ctx context.Context) error {
	if err := c.acquire(ctx); err != nil {
		return err
	}
	defer c.release()

	return c.inner.Close(ctx)
}
