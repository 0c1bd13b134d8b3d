package dbc

import (
	"context"
	"time"
)

// PreparedStatement is described in spec.md §3/§4.3. Parameter indices are
// 1-based at this API boundary.
type PreparedStatement interface {
	SetInt32(index int, v int32) error
	SetInt64(index int, v int64) error
	SetDouble(index int, v float64) error
	SetString(index int, v string) error
	SetBool(index int, v bool) error
	SetNull(index int, hint Type) error
	SetDate(index int, v time.Time) error
	SetTimestamp(index int, v time.Time) error
	SetTime(index int, v time.Time) error
	SetBlob(index int, b Blob) error
	SetBytes(index int, data []byte) error
	SetBinaryStream(index int, stream InputStream) error
	SetBinaryStreamN(index int, stream InputStream, length int64) error

	// Execute runs the statement and reports whether it produced a
	// ResultSet.
	Execute(ctx context.Context) (bool, error)
	// ExecuteQuery runs the statement and returns a ResultSet. It closes
	// the statement's own single-use state per spec.md §4.3.
	ExecuteQuery(ctx context.Context) (ResultSet, error)
	// ExecuteUpdate runs the statement and returns the affected-row count.
	ExecuteUpdate(ctx context.Context) (int64, error)

	Close(ctx context.Context) error
	Closed() bool
}
