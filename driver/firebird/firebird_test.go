package firebird

import (
	"context"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirlordt/godbc/dbc"
)

func newMockConnection(t *testing.T) (*Connection, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	mock.ExpectBegin()
	conn := newConnection(db, "cpp_dbc:firebird:///test.fdb")
	return conn, mock
}

func TestAutocommitInvariantTransactionAlwaysOpen(t *testing.T) {
	conn, mock := newMockConnection(t)
	assert.True(t, conn.TransactionActive(), "autocommit invariant: a transaction must be open on a fresh connection")
	assert.True(t, conn.AutoCommit())

	mock.ExpectCommit()
	mock.ExpectBegin()
	require.NoError(t, conn.Commit(context.Background()))
	assert.True(t, conn.TransactionActive(), "commit in autocommit mode must immediately reopen a transaction")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSetAutoCommitOffThenOn(t *testing.T) {
	conn, mock := newMockConnection(t)

	mock.ExpectCommit()
	require.NoError(t, conn.SetAutoCommit(context.Background(), false))
	assert.False(t, conn.AutoCommit())

	mock.ExpectBegin()
	require.NoError(t, conn.SetAutoCommit(context.Background(), true))
	assert.True(t, conn.AutoCommit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRollbackInAutocommitReopensTransaction(t *testing.T) {
	conn, mock := newMockConnection(t)

	mock.ExpectRollback()
	mock.ExpectBegin()
	require.NoError(t, conn.Rollback(context.Background()))
	assert.True(t, conn.TransactionActive())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCloseIsIdempotentAndOrphansStatements(t *testing.T) {
	conn, mock := newMockConnection(t)

	mock.ExpectPrepare(regexp.QuoteMeta("SELECT 1 FROM RDB$DATABASE"))
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1 FROM RDB$DATABASE")
	require.NoError(t, err)

	mock.ExpectRollback()
	mock.ExpectClose()
	require.NoError(t, conn.Close(context.Background()))
	assert.True(t, conn.Closed())

	// Close is idempotent.
	require.NoError(t, conn.Close(context.Background()))

	// spec.md §3/§9: statements hold only a weak reference to the
	// connection handle, so a post-close setter observes CONN_CLOSED
	// through that handle, not STMT_INVALIDATED (spec.md §8 scenario 6).
	err = stmt.SetInt32(1, 1)
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindConnClosed, derr.Kind)
}

func TestExecuteUpdateDDLInvalidatesStatements(t *testing.T) {
	conn, mock := newMockConnection(t)

	mock.ExpectPrepare(regexp.QuoteMeta("SELECT x FROM u"))
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT x FROM u")
	require.NoError(t, err)

	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("DROP TABLE u"))
	mock.ExpectExec(regexp.QuoteMeta("DROP TABLE u")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()

	_, err = conn.ExecuteUpdate(context.Background(), "DROP TABLE u")
	require.NoError(t, err)

	_, err = stmt.ExecuteQuery(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindStmtInvalidated, derr.Kind)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStatementClosedAfterClose(t *testing.T) {
	conn, mock := newMockConnection(t)

	mock.ExpectPrepare(regexp.QuoteMeta("SELECT 1 FROM RDB$DATABASE"))
	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1 FROM RDB$DATABASE")
	require.NoError(t, err)

	require.NoError(t, stmt.Close(context.Background()))
	assert.True(t, stmt.Closed())

	err = stmt.SetInt32(1, 1)
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindStmtClosed, derr.Kind)

	// Close is idempotent.
	require.NoError(t, stmt.Close(context.Background()))
}

func TestParamIndexOutOfRange(t *testing.T) {
	conn, _ := newMockConnection(t)
	stmt := newStatement(conn, "SELECT ? FROM RDB$DATABASE", nil)

	err := stmt.SetInt32(0, 1)
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindParamIndex, derr.Kind)
}

func TestParseSimpleDMLInsert(t *testing.T) {
	table, cols := parseSimpleDML(`INSERT INTO price_list (id, price) VALUES (?, ?)`)
	assert.Equal(t, "price_list", table)
	assert.Equal(t, []string{"id", "price"}, cols)
}

func TestParseSimpleDMLUpdate(t *testing.T) {
	table, cols := parseSimpleDML(`UPDATE price_list SET price = ?, updated_at = ? WHERE id = ?`)
	assert.Equal(t, "price_list", table)
	assert.Equal(t, []string{"price", "updated_at"}, cols)
}

func TestParseSimpleDMLUnrecognisedFallsBackEmpty(t *testing.T) {
	table, cols := parseSimpleDML(`SELECT * FROM price_list`)
	assert.Equal(t, "", table)
	assert.Nil(t, cols)
}

func TestRecursiveMutexReenters(t *testing.T) {
	m := newRecursiveMutex()
	tok := m.Lock()
	// Re-entering with the same token must not deadlock.
	done := make(chan struct{})
	go func() {
		m.LockWith(tok)
		m.Unlock(tok)
		close(done)
	}()
	<-done
	m.Unlock(tok)
}

func TestRecursiveMutexExcludesOtherTokens(t *testing.T) {
	m := newRecursiveMutex()
	tok := m.Lock()

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
	}()

	select {
	case <-acquired:
		t.Fatal("a different token must not acquire the mutex while tok holds it")
	default:
	}
	m.Unlock(tok)
	<-acquired
}
