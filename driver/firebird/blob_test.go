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

func TestBlobSaveThenLoadIsByteEqual(t *testing.T) {
	conn, mock := newMockConnection(t)

	want := []byte("hello blob")
	b := newBlob(conn, want)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT CAST(? AS BLOB SUB_TYPE 0) FROM RDB$DATABASE")).
		WithArgs(want).
		WillReturnRows(sqlmock.NewRows([]string{"cast"}).AddRow(want))

	id, err := b.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dbc.ContentIdentifier(want), id)

	got, err := b.GetBytes(0, int64(len(want)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestBlobSaveAfterFreeFails(t *testing.T) {
	conn, _ := newMockConnection(t)

	b := newBlob(conn, []byte("data"))
	require.NoError(t, b.Free())

	_, err := b.Save(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindBlobIO, derr.Kind)
}
