package postgres

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sirlordt/godbc/dbc"
)

// wireFormat mirrors spec.md §4.3/§6: 0 = text, 1 = binary. PostgreSQL
// parameters are sent through pgx's own codec negotiation (see DESIGN.md),
// so this is bookkeeping rather than something this package encodes by
// hand, but it is kept because spec.md's parameter-slot shape names it
// explicitly.
type wireFormat int

const (
	wireText   wireFormat = 0
	wireBinary wireFormat = 1
)

// paramSlot is one of the four parallel parameter vectors described in
// spec.md §4.3, collapsed into a single struct per index for convenience.
type paramSlot struct {
	value  any
	length int
	format wireFormat
	hint   dbc.Type
	set    bool
}

// PreparedStatement is the PostgreSQL single-use prepared statement
// described in spec.md §4.3/§9: once executed, it closes itself.
type PreparedStatement struct {
	mu  sync.Mutex
	log *zap.Logger

	conn *Connection
	h    *handle

	sql        string
	name       string
	params     []paramSlot
	prepared   bool
	closed     atomic.Bool
	invalidated atomic.Bool
	registryID  uint64

	// lifetime-extension slots: the statement must keep bound Blobs and
	// InputStreams alive until Execute, per spec.md §3.
	blobRefs   []dbc.Blob
	streamRefs []dbc.InputStream
}

var _ dbc.PreparedStatement = (*PreparedStatement)(nil)

func newStatement(conn *Connection, sql string, paramCount int, name string) *PreparedStatement {
	return &PreparedStatement{
		log:    conn.log,
		conn:   conn,
		h:      conn.h,
		sql:    sql,
		name:   name,
		params: make([]paramSlot, paramCount),
	}
}

func (s *PreparedStatement) checkUsable() error {
	// invalidated is checked first: invalidateStatementsForDDL also closes
	// the statement's vendor handle, so closed would otherwise mask the
	// more specific DDL-invalidation error spec.md §4.2/§9 requires.
	if s.invalidated.Load() {
		return dbc.NewError(dbc.KindStmtInvalidated, "statement has been invalidated by a DDL operation", nil)
	}
	if s.closed.Load() {
		return dbc.NewError(dbc.KindStmtClosed, "statement is closed", nil)
	}
	if _, err := s.h.get(); err != nil {
		return err
	}
	return nil
}

func (s *PreparedStatement) set(index int, value any, format wireFormat, hint dbc.Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return err
	}
	if index < 1 || index > len(s.params) {
		return dbc.NewError(dbc.KindParamIndex, "parameter index out of range", nil)
	}
	length := 0
	if b, ok := value.([]byte); ok {
		length = len(b)
	} else if str, ok := value.(string); ok {
		length = len(str)
	}
	s.params[index-1] = paramSlot{value: value, length: length, format: format, hint: hint, set: true}
	return nil
}

func (s *PreparedStatement) SetInt32(index int, v int32) error {
	return s.set(index, v, wireText, dbc.TypeInteger)
}

func (s *PreparedStatement) SetInt64(index int, v int64) error {
	return s.set(index, v, wireText, dbc.TypeLong)
}

func (s *PreparedStatement) SetDouble(index int, v float64) error {
	return s.set(index, v, wireText, dbc.TypeDouble)
}

func (s *PreparedStatement) SetString(index int, v string) error {
	return s.set(index, v, wireText, dbc.TypeVarchar)
}

func (s *PreparedStatement) SetBool(index int, v bool) error {
	return s.set(index, v, wireText, dbc.TypeBoolean)
}

func (s *PreparedStatement) SetNull(index int, hint dbc.Type) error {
	return s.set(index, nil, wireText, hint)
}

func (s *PreparedStatement) SetDate(index int, v time.Time) error {
	return s.set(index, v.Format("2006-01-02"), wireText, dbc.TypeDate)
}

func (s *PreparedStatement) SetTimestamp(index int, v time.Time) error {
	return s.set(index, v.Format("2006-01-02 15:04:05"), wireText, dbc.TypeTimestamp)
}

func (s *PreparedStatement) SetTime(index int, v time.Time) error {
	return s.set(index, v.Format("15:04:05"), wireText, dbc.TypeTime)
}

// SetBlob binds a Blob as a BYTEA parameter. The raw bytes are read eagerly
// (PostgreSQL has no server-assigned BLOB identifier the way Firebird
// does), and the Blob is retained in a lifetime-extension slot until
// Execute per spec.md §3.
func (s *PreparedStatement) SetBlob(index int, b dbc.Blob) error {
	length, err := b.Length()
	if err != nil {
		return err
	}
	data, err := b.GetBytes(0, length)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.blobRefs = append(s.blobRefs, b)
	s.mu.Unlock()
	return s.set(index, data, wireBinary, dbc.TypeBlob)
}

func (s *PreparedStatement) SetBytes(index int, data []byte) error {
	return s.set(index, data, wireBinary, dbc.TypeBlob)
}

func (s *PreparedStatement) SetBinaryStream(index int, stream dbc.InputStream) error {
	return s.setStream(index, stream, -1)
}

func (s *PreparedStatement) SetBinaryStreamN(index int, stream dbc.InputStream, length int64) error {
	return s.setStream(index, stream, length)
}

func (s *PreparedStatement) setStream(index int, stream dbc.InputStream, length int64) error {
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	var total int64
	for length < 0 || total < length {
		n, err := stream.Read(chunk)
		if err != nil {
			return dbc.NewError(dbc.KindBlobIO, "failed reading bound stream", err)
		}
		if n < 0 {
			break
		}
		buf = append(buf, chunk[:n]...)
		total += int64(n)
	}
	if length >= 0 && int64(len(buf)) > length {
		buf = buf[:length]
	}
	s.mu.Lock()
	s.streamRefs = append(s.streamRefs, stream)
	s.mu.Unlock()
	return s.set(index, buf, wireBinary, dbc.TypeBlob)
}

func (s *PreparedStatement) argSlice() ([]any, error) {
	args := make([]any, len(s.params))
	for i, p := range s.params {
		if !p.set {
			return nil, dbc.NewError(dbc.KindParamIndex, "parameter "+strconv.Itoa(i+1)+" was never set", nil)
		}
		args[i] = p.value
	}
	return args, nil
}

// Execute runs the statement and reports whether it produced a ResultSet
// (true for SELECT-shaped statements).
func (s *PreparedStatement) Execute(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return false, err
	}
	defer s.closeLocked(ctx)

	conn, err := s.prepareLocked(ctx)
	if err != nil {
		return false, err
	}
	args, err := s.argSlice()
	if err != nil {
		return false, err
	}
	rows, err := conn.Query(ctx, s.name, args...)
	if err != nil {
		return false, dbc.NewError(dbc.KindExecFailed, "execute failed", err)
	}
	defer rows.Close()
	hasResult := len(rows.FieldDescriptions()) > 0
	return hasResult, rows.Err()
}

// ExecuteQuery runs the statement and returns a materialised ResultSet,
// closing the statement on exit per spec.md §4.3/§9.
func (s *PreparedStatement) ExecuteQuery(ctx context.Context) (dbc.ResultSet, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return nil, err
	}
	defer s.closeLocked(ctx)

	conn, err := s.prepareLocked(ctx)
	if err != nil {
		return nil, err
	}
	args, err := s.argSlice()
	if err != nil {
		return nil, err
	}

	rows, err := conn.Query(ctx, s.name, args...)
	if err != nil {
		return nil, dbc.NewError(dbc.KindExecFailed, "query failed", err)
	}
	defer rows.Close()

	return newResultSet(rows, s.h)
}

// ExecuteUpdate runs the statement and returns the affected-row count,
// closing the statement on exit.
func (s *PreparedStatement) ExecuteUpdate(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.checkUsable(); err != nil {
		return 0, err
	}
	defer s.closeLocked(ctx)

	conn, err := s.prepareLocked(ctx)
	if err != nil {
		return 0, err
	}
	args, err := s.argSlice()
	if err != nil {
		return 0, err
	}

	tag, err := conn.Exec(ctx, s.name, args...)
	if err != nil {
		return 0, dbc.NewError(dbc.KindExecFailed, "execute update failed", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PreparedStatement) prepareLocked(ctx context.Context) (PGXConn, error) {
	conn, err := s.h.get()
	if err != nil {
		return nil, err
	}
	if !s.prepared {
		if _, err := conn.Prepare(ctx, s.name, s.sql); err != nil {
			return nil, dbc.NewError(dbc.KindPrepareFailed, "prepare failed", err)
		}
		s.prepared = true
	}
	return conn, nil
}

// Close releases the server-side prepared statement (DEALLOCATE). Idempotent.
func (s *PreparedStatement) Close(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeLocked(ctx)
	return nil
}

func (s *PreparedStatement) closeLocked(ctx context.Context) {
	if s.closed.Swap(true) {
		return
	}
	s.conn.statements.Unregister(s.registryID)
	if !s.prepared {
		return
	}
	conn, err := s.h.get()
	if err != nil {
		return
	}
	if err := conn.Deallocate(ctx, s.name); err != nil {
		s.log.Warn("failed to deallocate prepared statement", zap.String("name", s.name), zap.Error(err))
	}
}

func (s *PreparedStatement) Closed() bool {
	return s.closed.Load()
}

// rewritePlaceholders rewrites `?` placeholders to PostgreSQL's `$1, $2, …`
// form at statement construction time, per spec.md §4.3. Unlike the
// possibly-buggy original (flagged in spec.md §9), this version is
// string-literal aware: it does not rewrite `?` or `$` characters found
// inside a single-quoted SQL string literal, including the doubled `''`
// escape. See DESIGN.md's Open Question resolutions.
//
// If the SQL already uses `$n` placeholders, the maximum index seen
// determines the parameter count instead.
func rewritePlaceholders(sql string) (string, int) {
	var b []byte
	questionCount := 0
	maxDollar := 0
	inString := false
	i := 0
	for i < len(sql) {
		c := sql[i]

		if inString {
			b = append(b, c)
			if c == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					b = append(b, '\'')
					i += 2
					continue
				}
				inString = false
			}
			i++
			continue
		}

		switch {
		case c == '\'':
			inString = true
			b = append(b, c)
			i++
		case c == '?':
			questionCount++
			b = append(b, '$')
			b = append(b, []byte(strconv.Itoa(questionCount))...)
			i++
		case c == '$' && i+1 < len(sql) && sql[i+1] >= '0' && sql[i+1] <= '9':
			j := i + 1
			for j < len(sql) && sql[j] >= '0' && sql[j] <= '9' {
				j++
			}
			num, _ := strconv.Atoi(sql[i+1 : j])
			if num > maxDollar {
				maxDollar = num
			}
			b = append(b, []byte(sql[i:j])...)
			i = j
		default:
			b = append(b, c)
			i++
		}
	}

	if questionCount > 0 {
		return string(b), questionCount
	}
	return string(b), maxDollar
}
