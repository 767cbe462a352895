// Package sqlsec adds declarative, label-based row-, column- and table-level
// security to SQLite tables. Applications keep writing SQL; the extension
// projects a logical view over each protected physical table whose shape and
// row set reflect the per-connection security context, and reroutes writes
// through instead-of triggers that re-check the policies at modification
// time.
//
// The security context, its generation counter and the label-visibility
// cache live per physical connection. Callers using database/sql must pin a
// single connection (db.SetMaxOpenConns(1), which Open does) or hold a
// sql.Conn for the lifetime of a context.
package sqlsec

import (
	"database/sql"

	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"sqlsec/internal/bridge"
)

// DriverName is the database/sql driver registered by this package. Every
// connection it opens has the catalog bootstrapped and the sec_* scalar
// functions attached.
const DriverName = "sqlite3_sqlsec"

func init() {
	sql.Register(DriverName, NewDriver(nil))
}

// NewDriver returns a SQLite driver whose connections attach the extension.
// A nil logger disables logging.
func NewDriver(log *zap.Logger) *sqlite3.SQLiteDriver {
	return &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return bridge.Attach(conn, log)
		},
	}
}

// Attach binds the extension to an existing raw connection. Hosts that build
// their own sqlite3.SQLiteDriver call this from their ConnectHook.
func Attach(conn *sqlite3.SQLiteConn) error {
	return bridge.Attach(conn, nil)
}

// Open opens a database through the extension driver, pinned to a single
// connection so the security context is stable across statements.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
