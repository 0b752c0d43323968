//go:build !cgo_sqlite

package main

import (
	"database/sql"
	"errors"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

const sqliteDriver = "sqlite"

// sqliteDSN enables WAL and a busy timeout using modernc's _pragma parameters.
func sqliteDSN(path string) string {
	return path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
}

func initDB(path string) (*sql.DB, error) {
	return openSQLite(sqliteDriver, sqliteDSN(path))
}

// isUnreadableDB reports whether err means the file at the database path is not
// a usable SQLite database.
func isUnreadableDB(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code() & 0xff
	return code == sqlite3.SQLITE_NOTADB || code == sqlite3.SQLITE_CORRUPT
}
