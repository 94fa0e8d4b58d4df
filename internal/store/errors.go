package store

import (
	"errors"
	"fmt"
)

// ErrNotSelect is returned by Reader.Query for anything other than a single
// read-only statement.
var ErrNotSelect = errors.New("only a single SELECT statement is allowed")

// ConnectionError means a connection to the store could not be established.
type ConnectionError struct {
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("connecting to database: %v", e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// StatementError means one statement of a batch failed and the whole
// transaction was rolled back.
type StatementError struct {
	Index int
	SQL   string
	Err   error
}

func (e *StatementError) Error() string {
	return fmt.Sprintf("executing statement %d: %v", e.Index, e.Err)
}

func (e *StatementError) Unwrap() error { return e.Err }

// TransactionError means the transaction itself could not be started or
// committed.
type TransactionError struct {
	Err error
}

func (e *TransactionError) Error() string {
	return fmt.Sprintf("transaction: %v", e.Err)
}

func (e *TransactionError) Unwrap() error { return e.Err }
