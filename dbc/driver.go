package dbc

import (
	"context"
	"sync"
)

// Driver is the per-vendor entry point described in spec.md §4.1. It is
// stateless except for a process-wide, guarded "initialised" flag.
type Driver interface {
	// AcceptsURL reports whether url matches this driver's URL grammar.
	AcceptsURL(url string) bool

	// Connect parses url, opens a vendor session and returns a Connection.
	// Fails with KindBadURL if url doesn't match this driver's grammar, or
	// KindConnectFailed if the vendor library refuses the connection.
	Connect(ctx context.Context, url, user, password string, options map[string]string) (Connection, error)

	// Name returns the driver's canonical short name. Infallible.
	Name() string

	// Command dispatches a one-shot administrative command (e.g.
	// "create_database" for Firebird) by params["command"]. Returns
	// KindBadArgs for missing required parameters and KindUnknownCommand
	// for an unrecognised command.
	Command(ctx context.Context, params map[string]string) (int64, error)
}

// InitGuard is a reusable "run exactly once, thread-safely" flag for the
// process-wide initialisation every Driver implementation needs (e.g.
// registering a libpq/isc_* client library exactly once). It wraps
// sync.Once together with the error of that single run, so every later Do
// call returns the first run's error without re-running init.
type InitGuard struct {
	once sync.Once
	err  error
}

// Do runs fn exactly once across the lifetime of the guard and remembers
// its error for subsequent calls.
func (g *InitGuard) Do(fn func() error) error {
	g.once.Do(func() {
		g.err = fn()
	})
	return g.err
}

// Registered drivers, keyed by Name(). This is the "contract named, not
// implemented" DriverManager lookup spec.md §1 places out of core scope:
// registration is provided so application code and tests can look a driver
// up by name, but there is no connection pooling or URL-dispatch logic
// beyond this map.
var (
	registryMu sync.Mutex
	registry   = map[string]Driver{}
)

// RegisterDriver makes a Driver available under name to LookupDriver.
func RegisterDriver(name string, d Driver) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = d
}

// LookupDriver returns the driver previously registered under name, if any.
func LookupDriver(name string) (Driver, bool) {
	registryMu.Lock()
	defer registryMu.Unlock()
	d, ok := registry[name]
	return d, ok
}
