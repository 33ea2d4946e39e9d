package database

import "context"

// DB is the narrow interface the auth service and audit log depend on, so a
// future additional backend can be dropped in without touching callers.
type DB interface {
	Exec(ctx context.Context, query string, args ...interface{}) error
	QueryRow(ctx context.Context, query string, args ...interface{}) Row
	Query(ctx context.Context, query string, args ...interface{}) (Rows, error)
	Close() error
	Migrate() error
}

type Row interface {
	Scan(dest ...interface{}) error
}

type Rows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Close()
}

// NewDatabase opens the configured backend. SQLite is the only backend
// wired today: the router's ambient store (API keys, request audit log)
// does not need a replicated, multi-writer database.
func NewDatabase(path string) (DB, error) {
	return NewSQLiteDB(path)
}
