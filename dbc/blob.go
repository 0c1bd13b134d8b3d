package dbc

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"
)

// Blob is an abstract, lazily-loaded byte container, per spec.md §3/§4.5.
// There are two concrete flavours: MemoryBlob (in-memory, produced by
// application code) and each driver's own blob type (driver-bound, loads and
// stores via the vendor BLOB API).
type Blob interface {
	Length() (int64, error)
	GetBytes(offset, length int64) ([]byte, error)
	SetBytes(offset int64, data []byte) error
	Truncate(length int64) error
	GetBinaryStream() (InputStream, error)
	SetBinaryStream(offset int64) (OutputStream, error)
	Free() error
	// Save flushes the current bytes to the vendor store and returns the
	// resulting identifier, per spec.md §3/§4.5's save()/load() contract.
	Save(ctx context.Context) (string, error)
}

// ContentIdentifier derives a stable identifier from blob bytes. Both
// drivers' BYTEA/BLOB-decoded-to-[]byte surfaces stop short of exposing a
// real vendor handle (no lo_* large-object API on the PostgreSQL side, no
// raw ISC_QUAD on the Firebird side reachable through database/sql), so
// Save implementations use this in place of one.
func ContentIdentifier(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// MemoryBlob is the in-memory Blob flavour: it simply owns a byte slice.
type MemoryBlob struct {
	mu   sync.Mutex
	data []byte
}

// NewMemoryBlob returns a MemoryBlob seeded with a copy of data.
func NewMemoryBlob(data []byte) *MemoryBlob {
	owned := make([]byte, len(data))
	copy(owned, data)
	return &MemoryBlob{data: owned}
}

var _ Blob = (*MemoryBlob)(nil)

func (b *MemoryBlob) Length() (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.data)), nil
}

func (b *MemoryBlob) GetBytes(offset, length int64) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 || offset > int64(len(b.data)) {
		return nil, NewError(KindBlobIO, "offset out of range", nil)
	}
	end := offset + length
	if end > int64(len(b.data)) {
		end = int64(len(b.data))
	}
	out := make([]byte, end-offset)
	copy(out, b.data[offset:end])
	return out, nil
}

func (b *MemoryBlob) SetBytes(offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < 0 {
		return NewError(KindBlobIO, "offset out of range", nil)
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

func (b *MemoryBlob) Truncate(length int64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if length < 0 || length > int64(len(b.data)) {
		return NewError(KindBlobIO, "truncate length out of range", nil)
	}
	b.data = b.data[:length]
	return nil
}

func (b *MemoryBlob) GetBinaryStream() (InputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return NewInputStream(b.data), nil
}

func (b *MemoryBlob) SetBinaryStream(offset int64) (OutputStream, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if offset < int64(len(b.data)) {
		b.data = b.data[:offset]
	}
	return newByteOutputStream(&b.data), nil
}

func (b *MemoryBlob) Free() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = nil
	return nil
}

// Save has nothing to flush: a MemoryBlob has no vendor session behind it,
// so this just returns a content identifier for interface symmetry with
// the driver-bound flavours.
func (b *MemoryBlob) Save(_ context.Context) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return ContentIdentifier(b.data), nil
}

// Bytes returns a copy of the blob's current contents, a convenience used
// by both drivers when they need the whole value at once (e.g. binding a
// Blob as a statement parameter).
func (b *MemoryBlob) Bytes() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]byte, len(b.data))
	copy(out, b.data)
	return out
}
