package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sirlordt/godbc/dbc"
	"github.com/sirlordt/godbc/driver/postgres/mock"
)

func TestBlobSaveThenLoadIsByteEqual(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	want := []byte("hello blob")
	b := newBlob(conn.h, want)

	m.ExpectQueryRow("SELECT $1::bytea").WillReturnRow(mock.NewRow(want))
	id, err := b.Save(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, id)
	assert.Equal(t, dbc.ContentIdentifier(want), id)

	got, err := b.GetBytes(0, int64(len(want)))
	require.NoError(t, err)
	assert.Equal(t, want, got)
	require.NoError(t, m.AllExpectationsMet())
}

func TestBlobSaveAfterFreeFails(t *testing.T) {
	m := mock.NewPGXMock()
	conn := newConnection(m)

	b := newBlob(conn.h, []byte("data"))
	require.NoError(t, b.Free())

	_, err := b.Save(context.Background())
	require.Error(t, err)
	var derr *dbc.Error
	require.ErrorAs(t, err, &derr)
	assert.Equal(t, dbc.KindBlobIO, derr.Kind)
}
