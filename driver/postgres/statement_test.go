package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirlordt/godbc/dbc"
	"github.com/sirlordt/godbc/driver/postgres/mock"
)

func TestRewritePlaceholdersSimple(t *testing.T) {
	out, n := rewritePlaceholders("SELECT * FROM t WHERE a = ? AND b = ?")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", out)
	assert.Equal(t, 2, n)
}

func TestRewritePlaceholdersSkipsStringLiterals(t *testing.T) {
	out, n := rewritePlaceholders(`SELECT * FROM t WHERE label = 'what? is this' AND a = ?`)
	assert.Equal(t, `SELECT * FROM t WHERE label = 'what? is this' AND a = $1`, out)
	assert.Equal(t, 1, n)
}

func TestRewritePlaceholdersHandlesEscapedQuote(t *testing.T) {
	out, n := rewritePlaceholders(`SELECT * FROM t WHERE label = 'it''s a ? test' AND a = ?`)
	assert.Equal(t, `SELECT * FROM t WHERE label = 'it''s a ? test' AND a = $1`, out)
	assert.Equal(t, 1, n)
}

func TestRewritePlaceholdersAlreadyDollarForm(t *testing.T) {
	out, n := rewritePlaceholders("SELECT * FROM t WHERE a = $1 AND b = $2")
	assert.Equal(t, "SELECT * FROM t WHERE a = $1 AND b = $2", out)
	assert.Equal(t, 2, n)
}

func TestStatementExecuteUpdateClosesAndDeallocates(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	stmt, err := conn.PrepareStatement(context.Background(), "UPDATE t SET a = ? WHERE id = ?")
	require.NoError(t, err)
	require.NoError(t, stmt.SetInt32(1, 7))
	require.NoError(t, stmt.SetInt32(2, 1))

	m.ExpectPrepare("godbc_stmt_1", "UPDATE t SET a = $1 WHERE id = $2")
	m.ExpectExec("godbc_stmt_1").WithArgs(int32(7), int32(1)).WillReturnResult(mock.NewResult("UPDATE", 1))
	m.ExpectDeallocate("godbc_stmt_1")

	affected, err := stmt.ExecuteUpdate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), affected)
	assert.True(t, stmt.Closed(), "ExecuteUpdate self-closes per spec.md §4.3/§9")
	require.NoError(t, m.AllExpectationsMet())
}

func TestStatementArgSliceRejectsUnsetParam(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	stmt, err := conn.PrepareStatement(context.Background(), "SELECT ? FROM t")
	require.NoError(t, err)

	m.ExpectPrepare("godbc_stmt_1", "SELECT $1 FROM t")
	_, err = stmt.ExecuteUpdate(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindParamIndex, derr.Kind)
}

func TestStatementSetAfterCloseFails(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	stmt, err := conn.PrepareStatement(context.Background(), "SELECT 1")
	require.NoError(t, err)
	require.NoError(t, stmt.Close(context.Background()))

	err = stmt.SetInt32(1, 1)
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindStmtClosed, derr.Kind)
}
