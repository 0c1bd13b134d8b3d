package firebird

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sirlordt/godbc/dbc"
)

// ResultSet is the Firebird cursor-model ResultSet described in spec.md §3/
// §4.4: every Next() issues a vendor fetch (*sql.Rows.Next), rather than
// materialising the whole row set up front as the PostgreSQL driver does.
// Its lifetime is bound to the transaction that produced it — the owning
// Connection must close it before ending that transaction (spec.md §4.2/
// §9), which is why it shares the Connection's recursiveMutex instead of
// using a private one.
type ResultSet struct {
	log *zap.Logger

	conn *Connection
	h    *connHandle

	rows    *sql.Rows
	stmt    *sql.Stmt // vendor statement handle, transferred from PreparedStatement
	columns []string
	columnIdx map[string]int

	current   []any
	pos       int64
	afterLast bool
	closed    atomic.Bool

	registryID uint64
}

var _ dbc.ResultSet = (*ResultSet)(nil)

func newResultSet(conn *Connection, rows *sql.Rows) *ResultSet {
	cols, _ := rows.Columns()
	idx := make(map[string]int, len(cols))
	for i, c := range cols {
		idx[c] = i + 1
	}
	return &ResultSet{
		log:       conn.log,
		conn:      conn,
		h:         conn.h,
		rows:      rows,
		columns:   cols,
		columnIdx: idx,
	}
}

// Next advances to the next row, issuing one vendor fetch, per spec.md
// §4.4. After the last row it is idempotent: further calls keep returning
// false and leave IsAfterLast() true.
func (r *ResultSet) Next(_ context.Context) (bool, error) {
	tok := r.conn.mu.Lock()
	defer r.conn.mu.Unlock(tok)
	if r.closed.Load() {
		return false, dbc.NewError(dbc.KindStmtClosed, "result set is closed", nil)
	}
	if r.afterLast {
		return false, nil
	}
	if !r.rows.Next() {
		r.afterLast = true
		if err := r.rows.Err(); err != nil {
			return false, dbc.NewError(dbc.KindExecFailed, "fetch failed", err)
		}
		return false, nil
	}

	dest := make([]any, len(r.columns))
	ptrs := make([]any, len(r.columns))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := r.rows.Scan(ptrs...); err != nil {
		return false, dbc.NewError(dbc.KindExecFailed, "scan failed", err)
	}
	r.current = dest
	r.pos++
	return true, nil
}

func (r *ResultSet) IsBeforeFirst() bool { return r.pos == 0 && !r.afterLast }
func (r *ResultSet) IsAfterLast() bool   { return r.afterLast }
func (r *ResultSet) GetRow() int64       { return r.pos }

func (r *ResultSet) ColumnCount() int { return len(r.columns) }

func (r *ResultSet) ColumnName(index int) (string, error) {
	if index < 1 || index > len(r.columns) {
		return "", dbc.NewError(dbc.KindColumnIndex, "column index out of range", nil)
	}
	return r.columns[index-1], nil
}

func (r *ResultSet) ColumnIndex(name string) (int, error) {
	idx, ok := r.columnIdx[name]
	if !ok {
		return 0, dbc.NewError(dbc.KindColumnNotFound, "column not found: "+name, nil)
	}
	return idx, nil
}

func (r *ResultSet) value(index int) (any, error) {
	if index < 1 || index > len(r.columns) {
		return nil, dbc.NewError(dbc.KindColumnIndex, "column index out of range", nil)
	}
	if r.pos == 0 || r.afterLast {
		return nil, nil
	}
	return r.current[index-1], nil
}

func (r *ResultSet) IsNull(index int) (bool, error) {
	if index < 1 || index > len(r.columns) {
		return false, dbc.NewError(dbc.KindColumnIndex, "column index out of range", nil)
	}
	v, err := r.value(index)
	if err != nil {
		return false, err
	}
	return v == nil, nil
}

func (r *ResultSet) GetInt(index int) (int32, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return int32(n), nil
	case int32:
		return n, nil
	case string:
		i, err := strconv.ParseInt(n, 10, 32)
		if err != nil {
			return 0, dbc.NewError(dbc.KindConvert, "cannot convert to int", err)
		}
		return int32(i), nil
	default:
		return 0, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to int", v), nil)
	}
}

func (r *ResultSet) GetLong(index int) (int64, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return 0, err
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int32:
		return int64(n), nil
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, dbc.NewError(dbc.KindConvert, "cannot convert to long", err)
		}
		return i, nil
	default:
		return 0, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to long", v), nil)
	}
}

func (r *ResultSet) GetDouble(index int) (float64, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return 0, err
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case float32:
		return float64(n), nil
	case int64:
		return float64(n), nil
	case int32:
		return float64(n), nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, dbc.NewError(dbc.KindConvert, "cannot convert to double", err)
		}
		return f, nil
	default:
		return 0, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to double", v), nil)
	}
}

func (r *ResultSet) GetString(index int) (string, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return "", err
	}
	switch s := v.(type) {
	case string:
		return s, nil
	case []byte:
		return string(s), nil
	case time.Time:
		return s.Format("2006-01-02 15:04:05"), nil
	default:
		return fmt.Sprintf("%v", s), nil
	}
}

func (r *ResultSet) GetBool(index int) (bool, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return false, err
	}
	switch b := v.(type) {
	case bool:
		return b, nil
	case int64:
		return b != 0, nil
	default:
		return false, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to bool", v), nil)
	}
}

// GetDate/GetTimestamp/GetTime decode to ISO-8601 formatted values per
// spec.md §4.4, surfaced as time.Time (the caller formats as needed); the
// underlying field already arrives as time.Time from nakagami/firebirdsql.
func (r *ResultSet) GetDate(index int) (time.Time, error)      { return r.getTime(index) }
func (r *ResultSet) GetTimestamp(index int) (time.Time, error) { return r.getTime(index) }
func (r *ResultSet) GetTime(index int) (time.Time, error)      { return r.getTime(index) }

func (r *ResultSet) getTime(index int) (time.Time, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return time.Time{}, err
	}
	if t, ok := v.(time.Time); ok {
		return t, nil
	}
	return time.Time{}, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to time", v), nil)
}

// GetBlob wraps a BLOB column's bytes in a driver-bound Blob (spec.md §4.5).
// Text BLOB sub-types are handled by GetString instead, per spec.md §4.4.
func (r *ResultSet) GetBlob(index int) (dbc.Blob, error) {
	v, err := r.value(index)
	if err != nil || v == nil {
		return nil, err
	}
	data, err := r.GetBytes(index)
	if err != nil {
		return nil, err
	}
	return newBlob(r.conn, data), nil
}

func (r *ResultSet) GetBytes(index int) ([]byte, error) {
	v, err := r.value(index)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return []byte{}, nil
	}
	switch b := v.(type) {
	case []byte:
		return b, nil
	case string:
		return []byte(b), nil
	default:
		return nil, dbc.NewError(dbc.KindConvert, fmt.Sprintf("cannot convert %T to bytes", v), nil)
	}
}

func (r *ResultSet) GetBinaryStream(index int) (dbc.InputStream, error) {
	data, err := r.GetBytes(index)
	if err != nil {
		return nil, err
	}
	return dbc.NewInputStream(data), nil
}

func (r *ResultSet) GetIntByName(name string) (int32, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return r.GetInt(idx)
}

func (r *ResultSet) GetLongByName(name string) (int64, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return r.GetLong(idx)
}

func (r *ResultSet) GetDoubleByName(name string) (float64, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return 0, err
	}
	return r.GetDouble(idx)
}

func (r *ResultSet) GetStringByName(name string) (string, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return "", err
	}
	return r.GetString(idx)
}

func (r *ResultSet) GetBoolByName(name string) (bool, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return false, err
	}
	return r.GetBool(idx)
}

func (r *ResultSet) GetBlobByName(name string) (dbc.Blob, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return r.GetBlob(idx)
}

func (r *ResultSet) GetBytesByName(name string) ([]byte, error) {
	idx, err := r.ColumnIndex(name)
	if err != nil {
		return nil, err
	}
	return r.GetBytes(idx)
}

// Close frees the vendor statement handle it was transferred at
// construction, with drop disposition, followed by the settle delay
// spec.md §5/§9 requires. Idempotent; also invoked by Connection's
// transaction-end path before commit/rollback (spec.md §4.2/§4.4/§9).
func (r *ResultSet) Close(ctx context.Context) error {
	tok := r.conn.mu.Lock()
	defer r.conn.mu.Unlock(tok)
	return r.closeLocked(ctx, tok)
}

func (r *ResultSet) closeLocked(_ context.Context, _ goroutineToken) error {
	if r.closed.Swap(true) {
		return nil
	}
	r.conn.resultSets.Unregister(r.registryID)
	if err := r.rows.Close(); err != nil {
		r.log.Warn("failed to close firebird rows", zap.Error(err))
	}
	if r.stmt != nil {
		stmt := r.stmt
		r.stmt = nil
		if err := stmt.Close(); err != nil {
			r.log.Warn("failed to free firebird statement handle", zap.Error(err))
		}
		time.Sleep(stmtCloseSettleDelay)
	}
	return nil
}

func (r *ResultSet) Closed() bool { return r.closed.Load() }
