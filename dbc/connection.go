package dbc

import "context"

// Connection owns a vendor session, per spec.md §3/§4.2. Every operation
// here is the non-throwing primitive (plain (T, error) return); Must wraps
// any of them into the throwing form.
type Connection interface {
	// PrepareStatement returns a PreparedStatement for sql. Opens a
	// transaction first if none is active and autocommit is off. Registers
	// the statement with the connection.
	PrepareStatement(ctx context.Context, sql string) (PreparedStatement, error)

	// ExecuteQuery prepares and executes sql in one step, returning a
	// ResultSet.
	ExecuteQuery(ctx context.Context, sql string) (ResultSet, error)

	// ExecuteUpdate prepares and executes sql in one step, returning the
	// affected-row count. Before DDL (leading DROP/ALTER/CREATE/RECREATE)
	// cursor-model drivers invalidate and close all registered prepared
	// statements and commit-then-reopen the current transaction so metadata
	// locks are released, per spec.md §4.2.
	ExecuteUpdate(ctx context.Context, sql string) (int64, error)

	SetAutoCommit(ctx context.Context, autocommit bool) error
	AutoCommit() bool

	// BeginTransaction is idempotent when a transaction is already active.
	BeginTransaction(ctx context.Context) error
	TransactionActive() bool

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error

	SetTransactionIsolation(ctx context.Context, level IsolationLevel) error
	GetTransactionIsolation(ctx context.Context) (IsolationLevel, error)

	// Close is idempotent: it rolls back any active transaction and
	// releases the vendor handle. Registered statements are not notified or
	// closed by it; their next operation fails with KindConnClosed.
	Close(ctx context.Context) error
	Closed() bool

	// ReturnToPool and PrepareForBorrow are the hooks a connection pool
	// (out of scope for this module — spec.md §1) calls when taking a
	// connection back and handing one back out, respectively.
	ReturnToPool(ctx context.Context) error
	PrepareForBorrow(ctx context.Context) error
}
