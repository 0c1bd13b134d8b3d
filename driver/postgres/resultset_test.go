package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirlordt/godbc/dbc"
	"github.com/sirlordt/godbc/driver/postgres/mock"
)

func TestResultSetMaterialisesAllRowsUpFront(t *testing.T) {
	rows := mock.NewRows([]string{"id", "name"}).
		AddRow(int32(1), "alice").
		AddRow(int32(2), "bob")

	rs, err := newResultSet(rows, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, rs.ColumnCount())
	assert.True(t, rs.IsBeforeFirst())

	// ResultSet has no dependency on the source Rows after construction;
	// closing it here must not affect already-materialised data.
	rows.Close()

	ok, err := rs.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	id, err := rs.GetIntByName("id")
	require.NoError(t, err)
	assert.Equal(t, int32(1), id)
	name, err := rs.GetStringByName("name")
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	ok, err = rs.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
	id, err = rs.GetIntByName("id")
	require.NoError(t, err)
	assert.Equal(t, int32(2), id)

	ok, err = rs.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, rs.IsAfterLast())
}

func TestResultSetColumnNotFound(t *testing.T) {
	rows := mock.NewRows([]string{"id"}).AddRow(int32(1))
	rs, err := newResultSet(rows, nil)
	require.NoError(t, err)

	_, err = rs.ColumnIndex("missing")
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindColumnNotFound, derr.Kind)
}

func TestResultSetCloseThenNextFails(t *testing.T) {
	rows := mock.NewRows([]string{"id"}).AddRow(int32(1))
	rs, err := newResultSet(rows, nil)
	require.NoError(t, err)

	require.NoError(t, rs.Close(context.Background()))
	assert.True(t, rs.Closed())

	_, err = rs.Next(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindStmtClosed, derr.Kind)
}

func TestResultSetBooleanTextForms(t *testing.T) {
	rows := mock.NewRows([]string{"flag"}).AddRow("t")
	rs, err := newResultSet(rows, nil)
	require.NoError(t, err)

	ok, err := rs.Next(context.Background())
	require.NoError(t, err)
	require.True(t, ok)

	b, err := rs.GetBool(1)
	require.NoError(t, err)
	assert.True(t, b)
}
