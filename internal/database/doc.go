// Package database opens the SQLite store shared by the user repository,
// the lesson catalogue and the scoped credential backend, and applies the
// embedded schema migrations.
package database
