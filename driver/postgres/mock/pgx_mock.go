package mock

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sirlordt/godbc/driver/postgres"
)

var ErrNoExpectation = errors.New("no expectation found")

// PGXMock is a fake postgres.PGXConn and pgx.Tx driven by recorded
// expectations, adapted from the teacher's driver/postgres/mock.PGXMock
// (Kansuler/octobe). Begin/BeginTx return the mock itself so nested
// transaction calls (Commit/Rollback) are also driven by expectations.
type PGXMock struct {
	mu           sync.Mutex
	expectations []expectation
}

var (
	_ postgres.PGXConn = (*PGXMock)(nil)
	_ pgx.Tx           = (*PGXMock)(nil)
)

func NewPGXMock() *PGXMock { return &PGXMock{} }

func (m *PGXMock) findExpectation(method string, args ...any) (expectation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.expectations {
		if e.fulfilled() {
			continue
		}
		if err := e.match(method, args...); err == nil {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w for %s with args %v", ErrNoExpectation, method, args)
}

// AllExpectationsMet reports whether every recorded expectation has fired.
func (m *PGXMock) AllExpectationsMet() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.expectations {
		if !e.fulfilled() {
			return fmt.Errorf("unfulfilled expectation: %s", e)
		}
	}
	return nil
}

func (m *PGXMock) ExpectClose() *CloseExpectation {
	e := &CloseExpectation{basicExpectation{method: "Close"}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Close(_ context.Context) error {
	e, err := m.findExpectation("Close")
	if err != nil {
		return err
	}
	ret := e.getReturns()
	if len(ret) > 0 && ret[0] != nil {
		return ret[0].(error)
	}
	return nil
}

func (m *PGXMock) ExpectExec(query string) *ExecExpectation {
	e := &ExecExpectation{basicExpectation{method: "Exec", query: regexp.MustCompile(regexp.QuoteMeta(query))}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Exec(_ context.Context, query string, args ...any) (pgconn.CommandTag, error) {
	e, err := m.findExpectation("Exec", append([]any{query}, args...)...)
	if err != nil {
		return pgconn.CommandTag{}, err
	}
	ret := e.getReturns()
	if ret[1] != nil {
		return pgconn.CommandTag{}, ret[1].(error)
	}
	return ret[0].(pgconn.CommandTag), nil
}

func (m *PGXMock) ExpectQuery(query string) *QueryExpectation {
	e := &QueryExpectation{basicExpectation{method: "Query", query: regexp.MustCompile(regexp.QuoteMeta(query))}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Query(_ context.Context, query string, args ...any) (pgx.Rows, error) {
	e, err := m.findExpectation("Query", append([]any{query}, args...)...)
	if err != nil {
		return nil, err
	}
	ret := e.getReturns()
	if ret[1] != nil {
		return nil, ret[1].(error)
	}
	if ret[0] == nil {
		return nil, nil
	}
	return ret[0].(pgx.Rows), nil
}

func (m *PGXMock) ExpectQueryRow(query string) *QueryRowExpectation {
	e := &QueryRowExpectation{basicExpectation{method: "QueryRow", query: regexp.MustCompile(regexp.QuoteMeta(query))}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) QueryRow(_ context.Context, query string, args ...any) pgx.Row {
	e, err := m.findExpectation("QueryRow", append([]any{query}, args...)...)
	if err != nil {
		return &Row{err: err}
	}
	ret := e.getReturns()
	return ret[0].(pgx.Row)
}

func (m *PGXMock) ExpectBegin() *BeginExpectation {
	e := &BeginExpectation{basicExpectation{method: "Begin"}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Begin(_ context.Context) (pgx.Tx, error) {
	e, err := m.findExpectation("Begin")
	if err != nil {
		return nil, err
	}
	ret := e.getReturns()
	if len(ret) > 1 && ret[1] != nil {
		return nil, ret[1].(error)
	}
	return m, nil
}

func (m *PGXMock) ExpectBeginTx() *BeginTxExpectation {
	e := &BeginTxExpectation{basicExpectation{method: "BeginTx"}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) BeginTx(_ context.Context, opts pgx.TxOptions) (pgx.Tx, error) {
	e, err := m.findExpectation("BeginTx", opts)
	if err != nil {
		return nil, err
	}
	ret := e.getReturns()
	if len(ret) > 1 && ret[1] != nil {
		return nil, ret[1].(error)
	}
	return m, nil
}

func (m *PGXMock) ExpectCommit() *CommitExpectation {
	e := &CommitExpectation{basicExpectation{method: "Commit"}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Commit(_ context.Context) error {
	e, err := m.findExpectation("Commit")
	if err != nil {
		return err
	}
	ret := e.getReturns()
	if len(ret) > 0 && ret[0] != nil {
		return ret[0].(error)
	}
	return nil
}

func (m *PGXMock) ExpectRollback() *RollbackExpectation {
	e := &RollbackExpectation{basicExpectation{method: "Rollback"}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Rollback(_ context.Context) error {
	e, err := m.findExpectation("Rollback")
	if err != nil {
		return err
	}
	ret := e.getReturns()
	if len(ret) > 0 && ret[0] != nil {
		return ret[0].(error)
	}
	return nil
}

func (m *PGXMock) ExpectPrepare(name, sql string) *PrepareExpectation {
	e := &PrepareExpectation{basicExpectation{method: "Prepare", args: []any{name, sql}}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Prepare(_ context.Context, name, sql string) (*pgconn.StatementDescription, error) {
	e, err := m.findExpectation("Prepare", name, sql)
	if err != nil {
		return nil, err
	}
	ret := e.getReturns()
	if len(ret) > 1 && ret[1] != nil {
		return nil, ret[1].(error)
	}
	if len(ret) > 0 && ret[0] != nil {
		return ret[0].(*pgconn.StatementDescription), nil
	}
	return &pgconn.StatementDescription{Name: name, SQL: sql}, nil
}

func (m *PGXMock) ExpectDeallocate(name string) *DeallocateExpectation {
	e := &DeallocateExpectation{basicExpectation{method: "Deallocate", args: []any{name}}}
	m.expectations = append(m.expectations, e)
	return e
}

func (m *PGXMock) Deallocate(_ context.Context, name string) error {
	e, err := m.findExpectation("Deallocate", name)
	if err != nil {
		return err
	}
	ret := e.getReturns()
	if len(ret) > 0 && ret[0] != nil {
		return ret[0].(error)
	}
	return nil
}

// Methods below exist only for pgx.Tx interface compliance; this driver
// never exercises them (no COPY, no prepared-name reuse within a Tx, no
// nested Begin via the Tx handle, no large objects).
func (m *PGXMock) Conn() *pgx.Conn { return nil }
func (m *PGXMock) LargeObjects() pgx.LargeObjects {
	panic("mock.PGXMock: LargeObjects not supported")
}
func (m *PGXMock) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	panic("mock.PGXMock: CopyFrom not supported")
}
func (m *PGXMock) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults {
	panic("mock.PGXMock: SendBatch not supported")
}
