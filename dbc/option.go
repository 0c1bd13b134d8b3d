package dbc

// Option applies configuration to a driver-specific config struct. Carried
// over from the teacher's functional-options shape: it is already the right
// fit for spec.md §6's connect options (charset, page_size, gssencmode) and
// §4.2's transaction options (isolation level, read-only). Neither driver
// uses it: Driver.Connect takes its options as a map[string]string, e.g.
//
//	conn, err := postgres.Driver{}.Connect(ctx, url, user, pass,
//	    map[string]string{"sslmode": "require"})
type Option[CONFIG any] func(cfg *CONFIG)

// ApplyOptions folds a slice of Option into a zero-valued CONFIG.
func ApplyOptions[CONFIG any](opts ...Option[CONFIG]) CONFIG {
	var cfg CONFIG
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
