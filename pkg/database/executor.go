package database

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
)

// DefaultQueryTimeout is the per-query budget used when none is configured.
const DefaultQueryTimeout = 5 * time.Second

// ConnSource hands out the live connection. Manager implements it.
type ConnSource interface {
	Conn() (Conn, bool)
}

// Executor runs parameterized statements against the supervised connection.
// It never retries: a blind retry of a write is unsafe without idempotency keys.
type Executor struct {
	source  ConnSource
	timeout time.Duration
	logger  zerolog.Logger
}

// NewExecutor creates an executor with the given per-query budget.
func NewExecutor(source ConnSource, timeout time.Duration, logger zerolog.Logger) *Executor {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &Executor{
		source:  source,
		timeout: timeout,
		logger:  logger.With().Str("component", "executor").Logger(),
	}
}

type queryResult struct {
	rows *Rows
	err  error
}

// Query executes stmt with args passed out-of-band.
//
// It fails immediately with KindNotConnected when the manager is not Ready.
// The budget covers both the wait for the connection and the execution.
// A statement still queued when the budget elapses is never sent. One already
// dispatched runs detached from the caller and may still commit; either way
// the caller gets KindTimeout. Driver errors are returned as KindFailed.
func (e *Executor) Query(ctx context.Context, stmt string, args ...any) (*Rows, error) {
	conn, ok := e.source.Conn()
	if !ok {
		QueriesTotal.WithLabelValues(string(KindNotConnected)).Inc()
		return nil, &QueryError{Kind: KindNotConnected}
	}

	qctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	start := time.Now()
	done := make(chan queryResult, 1)
	go func() {
		rows, err := conn.Query(qctx, stmt, args...)
		done <- queryResult{rows: rows, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && qctx.Err() != nil && errors.Is(res.err, qctx.Err()) {
			return nil, e.timedOut(ctx)
		}
		QueryDuration.Observe(time.Since(start).Seconds())
		if res.err != nil {
			QueriesTotal.WithLabelValues(string(KindFailed)).Inc()
			e.logger.Debug().Err(res.err).Msg("Query failed")
			return nil, &QueryError{Kind: KindFailed, Err: res.err}
		}
		QueriesTotal.WithLabelValues("ok").Inc()
		return res.rows, nil

	case <-qctx.Done():
		return nil, e.timedOut(ctx)
	}
}

func (e *Executor) timedOut(ctx context.Context) *QueryError {
	QueriesTotal.WithLabelValues(string(KindTimeout)).Inc()
	if err := ctx.Err(); err != nil {
		e.logger.Warn().Err(err).Msg("Caller gave up on query - outcome unknown")
		return &QueryError{Kind: KindTimeout, Err: err}
	}
	e.logger.Warn().Dur("budget", e.timeout).Msg("Query budget elapsed - outcome unknown")
	return &QueryError{Kind: KindTimeout}
}
