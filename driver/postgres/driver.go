// Package postgres implements the materialised-result driver described in
// spec.md for PostgreSQL, over github.com/jackc/pgx/v5. Grounded on the
// teacher's driver/postgres/pgx.go (Kansuler/octobe): a single *pgx.Conn
// owned exclusively by the Connection, not a pool.
package postgres

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sirlordt/godbc/dbc"
)

const defaultPort = 5432

// PGXConn is the subset of *pgx.Conn this package depends on, grounded on
// the teacher's driver/postgres/pgx.go PGXConn interface: narrowing the
// dependency to an interface is what lets driver/postgres/mock substitute a
// fake connection in tests without a real PostgreSQL server.
type PGXConn interface {
	Close(context.Context) error
	Prepare(context.Context, string, string) (*pgconn.StatementDescription, error)
	Deallocate(context.Context, string) error
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error)
}

var _ PGXConn = (*pgx.Conn)(nil)

// Driver is the PostgreSQL dbc.Driver implementation. It is stateless.
type Driver struct{}

var _ dbc.Driver = Driver{}

// AcceptsURL reports whether url is a cpp_dbc:postgresql://... URL.
func (Driver) AcceptsURL(url string) bool {
	return strings.HasPrefix(url, "cpp_dbc:postgresql://") || strings.HasPrefix(url, "cpp_dbc:postgresql:///")
}

// Name returns the driver's canonical short name.
func (Driver) Name() string { return "postgresql" }

// Connect parses url, dials PostgreSQL via pgx, and returns a Connection.
//
// Honoured options (spec.md §6): "charset" (default UTF8, passed through as
// client_encoding), "gssencmode" (default "disable"), and the supplemental
// "sslmode" named in SPEC_FULL.md §4.
func (d Driver) Connect(ctx context.Context, url, user, password string, options map[string]string) (dbc.Connection, error) {
	parsed, err := dbc.ParseURL(url, "postgresql", defaultPort)
	if err != nil {
		return nil, err
	}

	dsn := buildDSN(parsed, user, password, options)

	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, dbc.NewError(dbc.KindConnectFailed, "failed to connect to postgresql", err)
	}

	return newConnection(conn), nil
}

// Command dispatches a one-shot administrative command. PostgreSQL does not
// name one in spec.md §4.1 (only Firebird's create_database is specified),
// so any command is unknown here.
func (Driver) Command(_ context.Context, params map[string]string) (int64, error) {
	cmd := params["command"]
	return 0, dbc.NewError(dbc.KindUnknownCommand, "unknown command: "+cmd, nil)
}

func buildDSN(u *dbc.ParsedURL, user, password string, options map[string]string) string {
	var b strings.Builder
	b.WriteString("postgres://")
	if user != "" {
		b.WriteString(user)
		if password != "" {
			b.WriteString(":")
			b.WriteString(password)
		}
		b.WriteString("@")
	}
	if u.Host != "" {
		b.WriteString(u.Host)
		b.WriteString(":")
		b.WriteString(strconv.Itoa(u.Port))
	}
	b.WriteString("/")
	b.WriteString(strings.TrimPrefix(u.Database, "/"))

	query := url.Values{}
	charset := options["charset"]
	if charset == "" {
		charset = "UTF8"
	}
	query.Set("client_encoding", charset)

	gssencmode := options["gssencmode"]
	if gssencmode == "" {
		gssencmode = "disable"
	}
	query.Set("gssencmode", gssencmode)

	sslmode := options["sslmode"]
	if sslmode == "" {
		sslmode = "disable"
	}
	query.Set("sslmode", sslmode)

	b.WriteString("?")
	b.WriteString(query.Encode())
	return b.String()
}
