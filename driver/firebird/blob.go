package firebird

import (
	"context"
	"sync"

	"github.com/sirlordt/godbc/dbc"
)

// Blob is the Firebird driver-bound Blob flavour described in spec.md §3/
// §4.5: a weak reference to the owning Connection plus bytes already
// fetched through a cursor ResultSet column. The original's lazy load
// through a server-assigned ISC_QUAD identifier has no equivalent exposed
// by nakagami/firebirdsql's database/sql surface (blob payloads are
// decoded into []byte at fetch time, same simplification as
// driver/postgres's BYTEA-backed Blob); Save below is as close as the
// portable API gets to the original's create-then-substitute-OID save.
type Blob struct {
	mu   sync.Mutex
	conn *Connection
	h    *connHandle
	data []byte
	free bool
}

var _ dbc.Blob = (*Blob)(nil)

func newBlob(conn *Connection, data []byte) *Blob {
	owned := make([]byte, len(data))
	copy(owned, data)
	return &Blob{conn: conn, h: conn.h, data: owned}
}

func (b *Blob) checkLive() error {
	if b.free {
		return dbc.NewError(dbc.KindBlobIO, "blob has been freed", nil)
	}
	_, err := b.h.get()
	return err
}

func (b *Blob) Length() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return 0, err
	}
	return int64(len(b.data)), nil
}

func (b *Blob) GetBytes(offset, length int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return nil, err
	}
	if offset < 0 || offset > int64(len(b.data)) {
		return nil, dbc.NewError(dbc.KindBlobIO, "offset out of range", nil)
	}
	end := offset + length
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	out := make([]byte, end-offset)
	copy(out, b.data[offset:end])
	return out, nil
}

func (b *Blob) SetBytes(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return err
	}
	if offset < 0 {
		return dbc.NewError(dbc.KindBlobIO, "offset out of range", nil)
	}
	end := offset + int64(len(data))
	if end > int64(len(b.data)) {
		grown := make([]byte, end)
		copy(grown, b.data)
		b.data = grown
	}
	copy(b.data[offset:end], data)
	return nil
}

func (b *Blob) Truncate(length int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return err
	}
	if length < 0 || length > int64(len(b.data)) {
		return dbc.NewError(dbc.KindBlobIO, "truncate length out of range", nil)
	}
	b.data = b.data[:length]
	return nil
}

// GetBinaryStream returns a stream backed by a copy of the current bytes,
// so it outlives a later Free() or Truncate() (spec.md §4.5).
func (b *Blob) GetBinaryStream() (dbc.InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return nil, err
	}
	return dbc.NewInputStream(b.data), nil
}

func (b *Blob) SetBinaryStream(offset int64) (dbc.OutputStream, error) {
	return nil, dbc.NewError(dbc.KindBlobIO, "driver-bound blob does not support streamed writes; use SetBytes and Bytes", nil)
}

func (b *Blob) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.free = true
	b.data = nil
	return nil
}

// Save round-trips the buffered bytes through a server-side blob and
// returns a content identifier for them (spec.md §3/§4.5). The create-
// then-substitute-OID step spec.md §4.3 describes is performed by
// nakagami/firebirdsql internally once bytes are handed to it as a BLOB
// column parameter — the same path SetBytes/Bytes rides for an INSERT —
// but the driver's database/sql surface never hands the raw ISC_QUAD back
// out, so Save exercises that path with a throwaway cast and reports
// dbc.ContentIdentifier of what the server echoes back, rather than a
// real vendor handle.
func (b *Blob) Save(ctx context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := b.checkLive(); err != nil {
		return "", err
	}
	conn, err := b.h.get()
	if err != nil {
		return "", err
	}
	var echoed []byte
	row := conn.QueryRowContext(ctx, "SELECT CAST(? AS BLOB SUB_TYPE 0) FROM RDB$DATABASE", b.data)
	if err := row.Scan(&echoed); err != nil {
		return "", dbc.NewError(dbc.KindBlobIO, "failed to save blob", err)
	}
	b.data = echoed
	return dbc.ContentIdentifier(b.data), nil
}

// Bytes returns a copy of the blob's current contents. PreparedStatement
// uses this when a Blob is bound as a parameter (spec.md §3).
func (b *Blob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
