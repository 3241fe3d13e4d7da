package database

import (
	"context"
	"fmt"
	"time"

	pgxdecimal "github.com/jackc/pgx-shopspring-decimal"
	"github.com/jackc/pgx/v5"
)

// PgxDialer returns a DialFunc that opens a single pgx connection to dsn.
// shopspring decimals are registered for numeric columns and arguments.
func PgxDialer(dsn string, connectTimeout time.Duration) (DialFunc, error) {
	cfg, err := pgx.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if connectTimeout > 0 {
		cfg.ConnectTimeout = connectTimeout
	}

	return func(ctx context.Context) (Conn, error) {
		conn, err := pgx.ConnectConfig(ctx, cfg.Copy())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		pgxdecimal.Register(conn.TypeMap())
		return newSerialConn(newPgxConn(conn)), nil
	}, nil
}

// pgxConn adapts *pgx.Conn to Conn. pgx.Conn is not safe for concurrent
// use; PgxDialer wraps it in a serialConn.
type pgxConn struct {
	conn *pgx.Conn
}

func newPgxConn(conn *pgx.Conn) *pgxConn {
	return &pgxConn{conn: conn}
}

func (c *pgxConn) Ping(ctx context.Context) error {
	return c.conn.Ping(ctx)
}

func (c *pgxConn) Query(ctx context.Context, stmt string, args ...any) (*Rows, error) {
	rows, err := c.conn.Query(ctx, stmt, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	result := &Rows{Columns: make([]string, len(fields))}
	for i, f := range fields {
		result.Columns[i] = f.Name
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, err
		}
		result.Values = append(result.Values, values)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	result.RowsAffected = rows.CommandTag().RowsAffected()

	return result, nil
}

func (c *pgxConn) Done() <-chan struct{} {
	return c.conn.PgConn().CleanupDone()
}

func (c *pgxConn) Close(ctx context.Context) error {
	return c.conn.Close(ctx)
}
