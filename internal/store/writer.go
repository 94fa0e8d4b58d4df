package store

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"gorm.io/gorm"
)

// Statement is one SQL statement and its positional arguments.
type Statement struct {
	SQL  string
	Args []any
}

// NewStatement is a convenience constructor for Statement.
func NewStatement(sql string, args ...any) Statement {
	return Statement{SQL: sql, Args: args}
}

// Writer executes batches of statements atomically.
type Writer struct {
	connector *Connector
	timeout   time.Duration
}

// NewWriter creates a Writer bounded by the connector's StatementTimeout.
func NewWriter(connector *Connector) *Writer {
	return &Writer{
		connector: connector,
		timeout:   connector.Config().StatementTimeout,
	}
}

// Write runs every statement, in order, inside one transaction on one
// connection. It commits once after the last statement. If any statement
// fails the whole transaction is rolled back and a *StatementError is
// returned; a *ConnectionError or *TransactionError is returned when the
// connection or transaction could not be used at all. The connection is
// released exactly once on every path.
func (w *Writer) Write(ctx context.Context, stmts ...Statement) error {
	if len(stmts) == 0 {
		return nil
	}

	conn, err := w.connector.Acquire(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := conn.Release(); err != nil {
			slog.Warn("Failed to release database connection", "error", err)
		}
	}()

	if w.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.timeout)
		defer cancel()
	}

	err = conn.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, stmt := range stmts {
			if err := tx.Exec(stmt.SQL, stmt.Args...).Error; err != nil {
				return &StatementError{Index: i, SQL: stmt.SQL, Err: err}
			}
		}
		return nil
	})
	if err != nil {
		var stmtErr *StatementError
		if !errors.As(err, &stmtErr) {
			err = &TransactionError{Err: err}
		}
		slog.Error("Failed to write batch, transaction rolled back",
			"statements", len(stmts),
			"error", err,
		)
		return err
	}

	slog.Info("Batch written", "statements", len(stmts))
	return nil
}

// WriteOne runs a single statement in its own transaction.
func (w *Writer) WriteOne(ctx context.Context, sql string, args ...any) error {
	return w.Write(ctx, NewStatement(sql, args...))
}
