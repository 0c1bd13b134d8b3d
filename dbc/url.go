package dbc

import (
	"strconv"
	"strings"
)

// ParsedURL is the result of parsing a cpp_dbc connection URL:
//
//	cpp_dbc:<driver>://[host[:port]]/<database>
//	cpp_dbc:<driver>:///absolute/path
//
// spec.md §1 treats URL parsing as an external collaborator — this is
// deliberately the smallest helper that satisfies both drivers' AcceptsURL /
// Connect needs, not a general-purpose URL library.
type ParsedURL struct {
	Scheme   string
	Host     string
	Port     int
	Database string
}

// ParseURL parses a cpp_dbc URL for the given expected scheme (e.g.
// "postgresql" or "firebird"). defaultPort is used when no port is given and
// Host is non-empty; it is ignored for the local-path form
// ("cpp_dbc:<scheme>:///absolute/path").
func ParseURL(url, scheme string, defaultPort int) (*ParsedURL, error) {
	const prefix = "cpp_dbc:"
	if !strings.HasPrefix(url, prefix) {
		return nil, NewError(KindBadURL, "url must start with cpp_dbc:", nil)
	}
	rest := url[len(prefix):]

	schemePrefix := scheme + "://"
	if !strings.HasPrefix(rest, schemePrefix) {
		return nil, NewError(KindBadURL, "url scheme does not match driver "+scheme, nil)
	}
	rest = rest[len(schemePrefix):]

	// Local-path form: cpp_dbc:<scheme>:///absolute/path — rest begins with
	// a leading "/" and there is no authority component at all.
	if strings.HasPrefix(rest, "/") {
		return &ParsedURL{Scheme: scheme, Database: rest}, nil
	}

	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return nil, NewError(KindBadURL, "url is missing a database path", nil)
	}
	authority := rest[:slash]
	database := rest[slash+1:]
	if database == "" {
		return nil, NewError(KindBadURL, "url is missing a database name", nil)
	}

	host := authority
	port := defaultPort
	if colon := strings.IndexByte(authority, ':'); colon >= 0 {
		host = authority[:colon]
		p, err := strconv.Atoi(authority[colon+1:])
		if err != nil {
			return nil, NewError(KindBadURL, "url has a non-numeric port", err)
		}
		port = p
	}

	return &ParsedURL{Scheme: scheme, Host: host, Port: port, Database: database}, nil
}
