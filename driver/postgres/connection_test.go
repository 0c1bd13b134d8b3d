package postgres

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirlordt/godbc/dbc"
	"github.com/sirlordt/godbc/driver/postgres/mock"
)

func TestConnectionAutocommitDefaultsOnNoTransaction(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	assert.True(t, conn.AutoCommit())
	assert.False(t, conn.TransactionActive(), "autocommit connections start with no transaction")
}

func TestSetAutoCommitOffBeginsThenOnCommits(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	m.ExpectBeginTx()
	require.NoError(t, conn.SetAutoCommit(context.Background(), false))
	assert.True(t, conn.TransactionActive())

	m.ExpectCommit()
	require.NoError(t, conn.SetAutoCommit(context.Background(), true))
	assert.False(t, conn.TransactionActive())
	require.NoError(t, m.AllExpectationsMet())
}

func TestBeginTransactionIsIdempotent(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	m.ExpectBeginTx()
	require.NoError(t, conn.BeginTransaction(context.Background()))
	// Second call observes tx already active, no further BeginTx expected.
	require.NoError(t, conn.BeginTransaction(context.Background()))
	require.NoError(t, m.AllExpectationsMet())
}

func TestRollbackEndsTransaction(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	m.ExpectBeginTx()
	require.NoError(t, conn.BeginTransaction(context.Background()))

	m.ExpectRollback()
	require.NoError(t, conn.Rollback(context.Background()))
	assert.False(t, conn.TransactionActive())
	require.NoError(t, m.AllExpectationsMet())
}

func TestSerializableBeginWarmsUpSnapshot(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	require.NoError(t, conn.SetTransactionIsolation(context.Background(), dbc.IsolationSerializable))

	m.ExpectBeginTx().WithOptions(pgx.TxOptions{IsoLevel: pgx.Serializable})
	m.ExpectExec("SELECT 1").WillReturnResult(mock.NewResult("SELECT", 1))
	require.NoError(t, conn.BeginTransaction(context.Background()))
	require.NoError(t, m.AllExpectationsMet())
}

func TestCloseIsIdempotentAndOrphansStatements(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)

	m.ExpectClose()
	require.NoError(t, conn.Close(context.Background()))
	assert.True(t, conn.Closed())

	// Close is idempotent: no second Close expectation is registered.
	require.NoError(t, conn.Close(context.Background()))

	// spec.md §3/§9: statements hold only a weak reference to the
	// connection handle, so a post-close setter observes CONN_CLOSED
	// through that handle, not STMT_INVALIDATED (spec.md §8 scenario 6).
	err = stmt.SetInt32(1, 1)
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindConnClosed, derr.Kind)
	require.NoError(t, m.AllExpectationsMet())
}

func TestExecuteUpdateDDLInvalidatesStatements(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	stmt, err := conn.PrepareStatement(context.Background(), "SELECT x FROM u")
	require.NoError(t, err)

	m.ExpectPrepare("godbc_stmt_2", "DROP TABLE u")
	m.ExpectExec("godbc_stmt_2").WillReturnResult(mock.NewResult("DROP", 0))

	_, err = conn.ExecuteUpdate(context.Background(), "DROP TABLE u")
	require.NoError(t, err)

	_, err = stmt.ExecuteQuery(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindStmtInvalidated, derr.Kind)
	require.NoError(t, m.AllExpectationsMet())
}
