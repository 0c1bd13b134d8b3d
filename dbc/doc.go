// Package dbc is a uniform database access layer that sits between
// application code and native relational-database client libraries. It
// exposes a JDBC-style surface — Driver → Connection → PreparedStatement →
// ResultSet, plus Blob / InputStream — shared by per-vendor implementations
// (see the driver/postgres and driver/firebird sub-packages) that wrap the
// vendor client library.
//
// This package defines the contracts and the runtime plumbing that keeps
// vendor handles valid across overlapping operations: lifecycle, ownership,
// concurrency discipline, and the two result-iteration models (materialised
// and cursor-based) unified behind one ResultSet interface.
//
// Every operation here returns a plain (T, error) — that pairing already is
// the non-throwing surface. Must wraps any call into the throwing form.
package dbc
