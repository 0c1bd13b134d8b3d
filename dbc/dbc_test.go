package dbc_test

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/sirlordt/godbc/dbc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorIsByKind(t *testing.T) {
	err := dbc.NewError(dbc.KindConnClosed, "connection is closed", nil)
	assert.True(t, errors.Is(err, &dbc.Error{Kind: dbc.KindConnClosed}))
	assert.False(t, errors.Is(err, &dbc.Error{Kind: dbc.KindStmtClosed}))
}

func TestErrorCodeStableForSameSite(t *testing.T) {
	newIt := func() *dbc.Error { return dbc.NewError(dbc.KindBadArgs, "x", nil) }
	a := newIt()
	b := newIt()
	assert.Equal(t, a.Code, b.Code, "code must be deterministic for the same call site and kind")
	assert.Len(t, a.Code, 12)
}

func TestMustPanicsWithError(t *testing.T) {
	defer func() {
		r := recover()
		require.NotNil(t, r)
		_, ok := r.(*dbc.Error)
		assert.True(t, ok, "Must should panic with an *dbc.Error")
	}()
	dbc.Must(0, dbc.NewError(dbc.KindUnknown, "boom", nil))
}

func TestMustPassesThroughOnSuccess(t *testing.T) {
	v := dbc.Must(42, nil)
	assert.Equal(t, 42, v)
}

func TestSafeRecoversPanicAsUnknown(t *testing.T) {
	err := dbc.Safe(func() error {
		panic("vendor library exploded")
	})
	require.Error(t, err)
	var derr *dbc.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, dbc.KindUnknown, derr.Kind)
}

func TestSafePassesThroughError(t *testing.T) {
	sentinel := dbc.NewError(dbc.KindConvert, "bad value", nil)
	err := dbc.Safe(func() error { return sentinel })
	assert.Same(t, sentinel, err)
}

func TestParseURL(t *testing.T) {
	u, err := dbc.ParseURL("cpp_dbc:postgresql://localhost:5433/mydb", "postgresql", 5432)
	require.NoError(t, err)
	assert.Equal(t, "localhost", u.Host)
	assert.Equal(t, 5433, u.Port)
	assert.Equal(t, "mydb", u.Database)
}

func TestParseURLDefaultPort(t *testing.T) {
	u, err := dbc.ParseURL("cpp_dbc:firebird://db.example.com/employee", "firebird", 3050)
	require.NoError(t, err)
	assert.Equal(t, 3050, u.Port)
}

func TestParseURLLocalPath(t *testing.T) {
	u, err := dbc.ParseURL("cpp_dbc:firebird:///var/lib/firebird/employee.fdb", "firebird", 3050)
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/firebird/employee.fdb", u.Database)
	assert.Empty(t, u.Host)
}

func TestParseURLWrongScheme(t *testing.T) {
	_, err := dbc.ParseURL("cpp_dbc:firebird://localhost/db", "postgresql", 5432)
	require.Error(t, err)
	var derr *dbc.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, dbc.KindBadURL, derr.Kind)
}

func TestParseURLMissingDatabase(t *testing.T) {
	_, err := dbc.ParseURL("cpp_dbc:postgresql://localhost", "postgresql", 5432)
	require.Error(t, err)
}

func TestRegistrySnapshotExcludesCollected(t *testing.T) {
	reg := dbc.NewRegistry[int]()

	kept := new(int)
	*kept = 1
	reg.Register(kept)

	func() {
		gone := new(int)
		*gone = 2
		reg.Register(gone)
	}()

	// Force collection of the "gone" value now that it is unreachable.
	runtime.GC()
	runtime.GC()

	snap := reg.Snapshot()
	for _, v := range snap {
		assert.Equal(t, 1, *v)
	}
	assert.LessOrEqual(t, len(snap), 1)
	runtime.KeepAlive(kept)
}

func TestRegistryUnregisterIsIdempotent(t *testing.T) {
	reg := dbc.NewRegistry[int]()
	v := new(int)
	id := reg.Register(v)
	reg.Unregister(id)
	reg.Unregister(id)
	assert.Equal(t, 0, reg.Len())
	runtime.KeepAlive(v)
}

func TestMemoryBlobRoundTrip(t *testing.T) {
	b := dbc.NewMemoryBlob([]byte("hello world"))
	length, err := b.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 11, length)

	got, err := b.GetBytes(0, length)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(got))

	require.NoError(t, b.SetBytes(0, []byte("HELLO")))
	got, err = b.GetBytes(0, length)
	require.NoError(t, err)
	assert.Equal(t, "HELLO world", string(got))

	require.NoError(t, b.Truncate(5))
	length, err = b.Length()
	require.NoError(t, err)
	assert.EqualValues(t, 5, length)
}

func TestMemoryBlobSaveThenLoadIsByteEqual(t *testing.T) {
	b := dbc.NewMemoryBlob([]byte("save me"))
	id, err := b.Save(context.Background())
	require.NoError(t, err)
	assert.Equal(t, dbc.ContentIdentifier([]byte("save me")), id)

	length, err := b.Length()
	require.NoError(t, err)
	got, err := b.GetBytes(0, length)
	require.NoError(t, err)
	assert.Equal(t, "save me", string(got))
}

func TestInputStreamReturnsNegativeOneAtEOF(t *testing.T) {
	s := dbc.NewInputStream([]byte("ab"))
	buf := make([]byte, 10)
	n, err := s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, -1, n)
}
