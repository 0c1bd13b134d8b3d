package firebird

import (
	"context"
	"database/sql"
	"strconv"
	"strings"

	_ "github.com/nakagami/firebirdsql"

	"github.com/sirlordt/godbc/dbc"
)

const defaultPort = 3050

// Driver is the Firebird dbc.Driver implementation: stateless except for
// the process-wide "isc_* client initialised" guard spec.md §4.1 requires.
// nakagami/firebirdsql is a pure-Go wire driver with no client library to
// initialise, but the guard is kept because spec.md names it as part of the
// Driver contract every implementation shares.
type Driver struct{}

var _ dbc.Driver = Driver{}

var initGuard dbc.InitGuard

func (Driver) init() error {
	return initGuard.Do(func() error {
		return nil
	})
}

// AcceptsURL reports whether url is a cpp_dbc:firebird://... URL.
func (Driver) AcceptsURL(url string) bool {
	return strings.HasPrefix(url, "cpp_dbc:firebird://") || strings.HasPrefix(url, "cpp_dbc:firebird:///")
}

// Name returns the driver's canonical short name.
func (Driver) Name() string { return "firebird" }

// Connect parses url, opens a Firebird attachment via nakagami/firebirdsql,
// and returns a cursor-model Connection. Honoured options (spec.md §6):
// "charset" (default UTF8).
func (d Driver) Connect(ctx context.Context, url, user, password string, options map[string]string) (dbc.Connection, error) {
	if err := d.init(); err != nil {
		return nil, dbc.NewError(dbc.KindConnectFailed, "driver initialisation failed", err)
	}

	parsed, err := dbc.ParseURL(url, "firebird", defaultPort)
	if err != nil {
		return nil, err
	}

	params := newDPB(user, password, options)
	dsn := params.dsn(parsed)

	db, err := sql.Open("firebirdsql", dsn)
	if err != nil {
		return nil, dbc.NewError(dbc.KindConnectFailed, "failed to open firebird connection", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, dbc.NewError(dbc.KindConnectFailed, "failed to connect to firebird", err)
	}

	return newConnection(db, url), nil
}

// commandFunc implements one entry of the per-driver command dispatch table
// SPEC_FULL.md §4 adds: a small map rather than a single hard-coded
// create_database branch, so a driver can register more than one one-shot
// command without a core code change.
type commandFunc func(ctx context.Context, params map[string]string) (int64, error)

var commands = map[string]commandFunc{
	"create_database": createDatabase,
}

// Command dispatches a one-shot administrative command by params["command"].
// Firebird registers "create_database" (spec.md §4.1), requiring "url",
// "user", "password"; "page_size" and "charset" are optional.
func (Driver) Command(ctx context.Context, params map[string]string) (int64, error) {
	cmd := params["command"]
	fn, ok := commands[cmd]
	if !ok {
		return 0, dbc.NewError(dbc.KindUnknownCommand, "unknown command: "+cmd, nil)
	}
	return fn(ctx, params)
}

func createDatabase(ctx context.Context, params map[string]string) (int64, error) {
	url, ok := params["url"]
	if !ok || url == "" {
		return 0, dbc.NewError(dbc.KindBadArgs, "create_database requires url", nil)
	}
	user, ok := params["user"]
	if !ok {
		return 0, dbc.NewError(dbc.KindBadArgs, "create_database requires user", nil)
	}
	password, ok := params["password"]
	if !ok {
		return 0, dbc.NewError(dbc.KindBadArgs, "create_database requires password", nil)
	}

	pageSize := params["page_size"]
	if pageSize == "" {
		pageSize = "4096"
	}
	if _, err := strconv.Atoi(pageSize); err != nil {
		return 0, dbc.NewError(dbc.KindBadArgs, "page_size must be numeric", err)
	}
	charset := params["charset"]
	if charset == "" {
		charset = "UTF8"
	}

	parsed, err := dbc.ParseURL(url, "firebird", defaultPort)
	if err != nil {
		return 0, err
	}

	dpb := newDPB(user, password, map[string]string{"charset": charset})
	dsn := dpb.dsn(parsed)

	db, err := sql.Open("firebirdsql", dsn+"&createdb=true&page_size="+pageSize)
	if err != nil {
		return 0, dbc.NewError(dbc.KindConnectFailed, "create_database failed", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return 0, dbc.NewError(dbc.KindConnectFailed, "create_database failed", err)
	}
	return 0, nil
}
