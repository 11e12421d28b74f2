package db

import "context"

// Database is the minimal relational database surface the repositories need.
// It is satisfied by the MySQL implementation in this package; keeping it as
// an interface lets tests substitute fakes without a running server.
type Database interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	// Transaction runs fn inside a transaction, committing on nil and
	// rolling back on error.
	Transaction(ctx context.Context, fn func(tx Transaction) error) error

	Ping(ctx context.Context) error
	Close() error
}

// Transaction exposes the same query surface bound to an open transaction.
type Transaction interface {
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Exec(ctx context.Context, query string, args ...interface{}) (Result, error)

	Commit() error
	Rollback() error
}

// Rows iterates a multi-row result set.
type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close() error
	Err() error
}

// Row is a single-row result.
type Row interface {
	Scan(dest ...interface{}) error
}

// Result reports the outcome of an Exec.
type Result interface {
	LastInsertId() (int64, error)
	RowsAffected() (int64, error)
}
