// Package storage defines persistence contracts for the auth core.
//
// These interfaces exist so the broker, token issuer, and account linker can
// depend on stable domain semantics without coupling to SQLite schema
// details, and so tests can run against in-memory fakes.
package storage
