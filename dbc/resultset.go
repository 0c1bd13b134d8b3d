package dbc

import (
	"context"
	"time"
)

// ResultSet is the common, forward-only iteration contract shared by the
// materialised (PostgreSQL) and cursor (Firebird) models, per spec.md §3/
// §4.4. Column access is by 1-based index or by name (case-sensitive exact
// match; cursor-model drivers prefer the column alias when one is present).
//
// Every getter has a defined NULL return (spec.md §4.4): zero value for
// numeric/boolean types, empty string/slice for string/bytes, a nil Blob
// reference, and an empty InputStream. IsNull is the authoritative NULL
// test; getters never error solely because the value is NULL.
type ResultSet interface {
	// Next advances to the next row, returning whether one was obtained.
	Next(ctx context.Context) (bool, error)
	IsBeforeFirst() bool
	IsAfterLast() bool
	GetRow() int64

	ColumnCount() int
	ColumnName(index int) (string, error)
	ColumnIndex(name string) (int, error)

	IsNull(index int) (bool, error)

	GetInt(index int) (int32, error)
	GetLong(index int) (int64, error)
	GetDouble(index int) (float64, error)
	GetString(index int) (string, error)
	GetBool(index int) (bool, error)
	GetDate(index int) (time.Time, error)
	GetTimestamp(index int) (time.Time, error)
	GetTime(index int) (time.Time, error)
	GetBlob(index int) (Blob, error)
	GetBytes(index int) ([]byte, error)
	GetBinaryStream(index int) (InputStream, error)

	GetIntByName(name string) (int32, error)
	GetLongByName(name string) (int64, error)
	GetDoubleByName(name string) (float64, error)
	GetStringByName(name string) (string, error)
	GetBoolByName(name string) (bool, error)
	GetBlobByName(name string) (Blob, error)
	GetBytesByName(name string) ([]byte, error)

	Close(ctx context.Context) error
	Closed() bool
}
