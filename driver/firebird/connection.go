package firebird

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sirlordt/godbc/dbc"
)

// closeSettleDelay mirrors spec.md §5/§9: after releasing the vendor
// attachment, sleep briefly to let the Firebird client's internal async
// cleanup finish before the process moves on.
const closeSettleDelay = 5 * time.Millisecond

// connHandle is the weak, checkable reference to the vendor connection that
// PreparedStatements, ResultSets, and Blobs hold instead of the Connection
// itself — spec.md §3/§5/§9's "weak reference, validity checked on every
// entry". As in driver/postgres, this is a flag-under-its-own-mutex rather
// than a runtime weak pointer, because the spec's tests need a deterministic
// CONN_CLOSED immediately after Close, not "eventually, once GC runs".
type connHandle struct {
	mu     sync.Mutex
	conn   *sql.Conn
	closed bool
}

func (h *connHandle) get() (*sql.Conn, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || h.conn == nil {
		return nil, dbc.NewError(dbc.KindConnClosed, "connection is closed", nil)
	}
	return h.conn, nil
}

func (h *connHandle) invalidate() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	h.conn = nil
}

// Connection is the Firebird cursor-model dbc.Connection implementation. It
// owns one reserved *sql.Conn exclusively (never a pool — pooling is the
// external collaborator spec.md §1 names), and shares its recursiveMutex
// with every PreparedStatement and ResultSet it produces, per spec.md §5:
// "Without this, a Pool-validation query on Connection can race a
// next()/close() on a ResultSet, corrupting vendor state."
type Connection struct {
	mu  *recursiveMutex
	log *zap.Logger

	db *sql.DB
	h  *connHandle
	url string

	autocommit bool
	isolation  dbc.IsolationLevel
	tx         *sql.Tx

	statements *dbc.Registry[PreparedStatement]
	resultSets *dbc.Registry[ResultSet]
}

var _ dbc.Connection = (*Connection)(nil)

func newConnection(db *sql.DB, url string) *Connection {
	conn, err := db.Conn(context.Background())
	c := &Connection{
		mu:         newRecursiveMutex(),
		log:        zap.NewNop(),
		db:         db,
		url:        url,
		autocommit: true,
		isolation:  dbc.IsolationReadCommitted,
		statements: dbc.NewRegistry[PreparedStatement](),
		resultSets: dbc.NewRegistry[ResultSet](),
	}
	if err == nil {
		c.h = &connHandle{conn: conn}
	} else {
		c.h = &connHandle{closed: true}
	}
	// Invariant (cursor driver, spec.md §4.2): whenever autocommit=true and
	// the connection is open, a transaction is open. Firebird has no true
	// autocommit; it is emulated by keeping one running continuously.
	tok := c.mu.Lock()
	_ = c.beginLocked(context.Background(), tok)
	c.mu.Unlock(tok)
	return c
}

// SetLogger installs a structured logger used on cleanup paths that must
// never propagate errors (spec.md §7).
func (c *Connection) SetLogger(log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	c.log = log
}

// PrepareStatement opens a transaction first if none is active (one always
// is under the autocommit invariant above; in manual mode it is absent after
// a Commit or Rollback), prepares the statement against that transaction,
// then returns a registered PreparedStatement sharing this Connection's
// recursive mutex.
func (c *Connection) PrepareStatement(ctx context.Context, sqlText string) (dbc.PreparedStatement, error) {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	return c.prepareStatementLocked(ctx, sqlText, tok)
}

func (c *Connection) prepareStatementLocked(ctx context.Context, sqlText string, tok goroutineToken) (*PreparedStatement, error) {
	if _, err := c.h.get(); err != nil {
		return nil, err
	}
	if c.tx == nil {
		if err := c.beginLocked(ctx, tok); err != nil {
			return nil, err
		}
	}
	stmt := newStatement(c, sqlText, tok)
	if _, err := stmt.prepareLocked(ctx); err != nil {
		return nil, err
	}
	id := c.statements.Register(stmt)
	stmt.registryID = id
	return stmt, nil
}

// ExecuteQuery prepares and executes sql in one step, returning a cursor
// ResultSet registered with this Connection.
func (c *Connection) ExecuteQuery(ctx context.Context, sqlText string) (dbc.ResultSet, error) {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	stmt, err := c.prepareStatementLocked(ctx, sqlText, tok)
	if err != nil {
		return nil, err
	}
	return stmt.executeQueryLocked(ctx, tok)
}

// ExecuteUpdate prepares and executes sql in one step. Before DDL (leading
// DROP/ALTER/CREATE/RECREATE) it invalidates and closes all registered
// prepared statements and commits-then-reopens the transaction so metadata
// locks are released, per spec.md §4.2. A leading CREATE DATABASE/CREATE
// SCHEMA routes through the driver-level immediate-execute path instead,
// bypassing the transaction entirely, since Firebird cannot create a
// database from within one.
func (c *Connection) ExecuteUpdate(ctx context.Context, sqlText string) (int64, error) {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)

	if isCreateDatabaseOrSchema(sqlText) {
		return c.immediateExecuteLocked(ctx, sqlText)
	}
	if isDDL(sqlText) {
		if err := c.invalidateStatementsForDDLLocked(ctx, tok); err != nil {
			return 0, err
		}
	}
	stmt, err := c.prepareStatementLocked(ctx, sqlText, tok)
	if err != nil {
		return 0, err
	}
	return stmt.executeUpdateLocked(ctx, tok)
}

func (c *Connection) immediateExecuteLocked(ctx context.Context, sqlText string) (int64, error) {
	conn, err := c.h.get()
	if err != nil {
		return 0, err
	}
	if _, err := conn.ExecContext(ctx, sqlText); err != nil {
		return 0, dbc.NewError(dbc.KindExecFailed, "immediate execute failed", err)
	}
	return 0, nil
}

func isCreateDatabaseOrSchema(sqlText string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	return strings.HasPrefix(upper, "CREATE DATABASE") || strings.HasPrefix(upper, "CREATE SCHEMA")
}

func isDDL(sqlText string) bool {
	upper := strings.ToUpper(strings.TrimSpace(sqlText))
	for _, kw := range []string{"DROP", "ALTER", "CREATE", "RECREATE"} {
		if strings.HasPrefix(upper, kw) {
			return true
		}
	}
	return false
}

// invalidateStatementsForDDLLocked implements spec.md §4.2/§9's DDL
// handling: every registered statement is marked invalidated and its
// vendor handle freed (outside the statement registry's own lock, per
// spec.md §9's "Statement-transaction coupling"), then the current
// transaction is committed and a fresh one opened so Firebird's metadata
// locks are released before the DDL runs.
func (c *Connection) invalidateStatementsForDDLLocked(ctx context.Context, tok goroutineToken) error {
	for _, stmt := range c.statements.Snapshot() {
		stmt.invalidated.Store(true)
		_ = stmt.closeLocked(ctx, tok)
	}
	if err := c.endTransactionLocked(ctx, true, tok); err != nil {
		return err
	}
	return c.beginLocked(ctx, tok)
}

// SetAutoCommit is a no-op if unchanged. Turning it off transitions into
// manual mode without ending the transaction already open (the invariant
// requires one to exist regardless). Turning it on commits the active
// transaction and, per the autocommit invariant, immediately opens a fresh
// one.
func (c *Connection) SetAutoCommit(ctx context.Context, autocommit bool) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if c.autocommit == autocommit {
		return nil
	}
	if autocommit {
		if err := c.endTransactionLocked(ctx, true, tok); err != nil {
			return err
		}
		c.autocommit = true
		return c.beginLocked(ctx, tok)
	}
	c.autocommit = false
	return nil
}

func (c *Connection) AutoCommit() bool {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	return c.autocommit
}

// BeginTransaction is idempotent when a transaction is already active
// (always true under the autocommit invariant; meaningful only once
// autocommit has been turned off and the prior transaction ended).
func (c *Connection) BeginTransaction(ctx context.Context) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if c.tx != nil {
		return nil
	}
	c.autocommit = false
	return c.beginLocked(ctx, tok)
}

func (c *Connection) TransactionActive() bool {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	return c.tx != nil
}

func (c *Connection) beginLocked(ctx context.Context, _ goroutineToken) error {
	conn, err := c.h.get()
	if err != nil {
		return err
	}
	t := newTPB(c.isolation, false)
	c.log.Debug("beginning transaction", zap.String("tpb", t.String()))
	tx, err := conn.BeginTx(ctx, &sql.TxOptions{
		Isolation: t.sqlTxIsolation(),
	})
	if err != nil {
		return dbc.NewError(dbc.KindTxBeginFailed, "begin transaction failed", err)
	}
	c.tx = tx
	return nil
}

// Commit ends the current transaction successfully. Per the cursor-driver
// autocommit invariant, if autocommit is on, a fresh transaction is opened
// immediately afterward so transactionActive() stays true (spec.md §8).
func (c *Connection) Commit(ctx context.Context) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if err := c.endTransactionLocked(ctx, true, tok); err != nil {
		return err
	}
	if c.autocommit {
		return c.beginLocked(ctx, tok)
	}
	return nil
}

// Rollback ends the current transaction, discarding its changes, with the
// same auto-reopen behaviour as Commit.
func (c *Connection) Rollback(ctx context.Context) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if err := c.endTransactionLocked(ctx, false, tok); err != nil {
		return err
	}
	if c.autocommit {
		return c.beginLocked(ctx, tok)
	}
	return nil
}

// endTransactionLocked closes every registered cursor ResultSet before
// ending the transaction (spec.md §4.2/§4.4/§9: "ResultSet must be closed
// before the enclosing transaction ends"), collecting the snapshot before
// releasing the registry's own lock and driving each Close outside it.
func (c *Connection) endTransactionLocked(ctx context.Context, commit bool, tok goroutineToken) error {
	for _, rs := range c.resultSets.Snapshot() {
		_ = rs.closeLocked(ctx, tok)
	}
	if c.tx == nil {
		return nil
	}
	tx := c.tx
	c.tx = nil
	if commit {
		if err := tx.Commit(); err != nil {
			return dbc.NewError(dbc.KindTxCommitFailed, "commit failed", err)
		}
		return nil
	}
	if err := tx.Rollback(); err != nil {
		return dbc.NewError(dbc.KindTxRollbackFailed, "rollback failed", err)
	}
	return nil
}

// SetTransactionIsolation is a no-op if unchanged. If a transaction is
// active it is ended (committed in autocommit mode, rolled back otherwise),
// the new level is stored, and a fresh transaction is restarted if the
// connection had been in autocommit mode, per spec.md §4.2.
func (c *Connection) SetTransactionIsolation(ctx context.Context, level dbc.IsolationLevel) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if c.isolation == level {
		return nil
	}
	hadTx := c.tx != nil
	if hadTx {
		if err := c.endTransactionLocked(ctx, c.autocommit, tok); err != nil {
			return err
		}
	}
	c.isolation = level
	if hadTx && c.autocommit {
		return c.beginLocked(ctx, tok)
	}
	return nil
}

// GetTransactionIsolation returns the cached local isolation level. Unlike
// the materialised (PostgreSQL) driver, Firebird has no server-side
// "current isolation" query; the Connection is the sole authority on what
// it last set (spec.md §4.2).
func (c *Connection) GetTransactionIsolation(_ context.Context) (dbc.IsolationLevel, error) {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	return c.isolation, nil
}

// Close is idempotent: it rolls back any active transaction and releases
// the vendor handle, then settles. Live statements are not notified
// directly — spec.md §3/§9 gives them only a weak reference to the
// connection handle, so a post-close setter/execute observes CONN_CLOSED
// through checkUsable's own s.h.get() check, per spec.md §8 scenario 6.
func (c *Connection) Close(ctx context.Context) error {
	tok := c.mu.Lock()
	if c.h.closed {
		c.mu.Unlock(tok)
		return nil
	}
	_ = c.endTransactionLocked(ctx, false, tok)
	conn, _ := c.h.get()
	c.h.invalidate()
	c.mu.Unlock(tok)

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.log.Warn("firebird connection close failed", zap.Error(err))
		}
	}
	if err := c.db.Close(); err != nil {
		c.log.Warn("firebird db handle close failed", zap.Error(err))
	}
	time.Sleep(closeSettleDelay)
	return nil
}

func (c *Connection) Closed() bool {
	c.h.mu.Lock()
	defer c.h.mu.Unlock()
	return c.h.closed
}

// ReturnToPool commits in autocommit mode or rolls back otherwise, forces
// autocommit back on, and starts a fresh transaction — never returns an
// error to the caller, matching spec.md §7's "close()-shaped cleanup paths
// never propagate errors upward" for pool hooks.
func (c *Connection) ReturnToPool(ctx context.Context) error {
	tok := c.mu.Lock()
	defer c.mu.Unlock(tok)
	if err := c.endTransactionLocked(ctx, c.autocommit, tok); err != nil {
		c.log.Warn("return to pool: failed to end transaction", zap.Error(err))
	}
	c.autocommit = true
	if err := c.beginLocked(ctx, tok); err != nil {
		c.log.Warn("return to pool: failed to reopen transaction", zap.Error(err))
	}
	return nil
}

// PrepareForBorrow is the symmetric hook called before a pooled connection
// is handed back out to application code; for this driver it just verifies
// the handle is still live.
func (c *Connection) PrepareForBorrow(_ context.Context) error {
	_, err := c.h.get()
	return err
}
