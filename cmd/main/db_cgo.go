//go:build cgo_sqlite

package main

import (
	"database/sql"
	"errors"

	"github.com/mattn/go-sqlite3"
)

const sqliteDriver = "sqlite3"

// sqliteDSN enables WAL and a busy timeout using go-sqlite3's connection parameters.
func sqliteDSN(path string) string {
	return path + "?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL"
}

func initDB(path string) (*sql.DB, error) {
	return openSQLite(sqliteDriver, sqliteDSN(path))
}

// isUnreadableDB reports whether err means the file at the database path is not
// a usable SQLite database.
func isUnreadableDB(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrNotADB || sqliteErr.Code == sqlite3.ErrCorrupt
}
