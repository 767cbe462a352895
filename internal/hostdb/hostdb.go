// Package hostdb is a minimal execution facade over the host database. The
// catalog store, introspecter and materializer run the same statements from
// two very different seats: a regular *sql.DB (tests, CLI) and a raw
// *sqlite3.SQLiteConn while inside a scalar-function callback on that very
// connection. This package papers over the difference.
package hostdb

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
)

// DB runs statements against the host database. Query materializes the full
// result set; every caller in this module reads small catalog or pragma
// results, never user data.
type DB interface {
	Exec(query string, args ...any) error
	Query(query string, args ...any) ([][]any, error)
}

// FromDB wraps a database/sql handle.
func FromDB(db *sql.DB) DB { return sqlDB{db} }

type sqlDB struct {
	db *sql.DB
}

func (s sqlDB) Exec(query string, args ...any) error {
	_, err := s.db.Exec(query, args...)
	return err
}

func (s sqlDB) Query(query string, args ...any) ([][]any, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}
	var out [][]any
	for rows.Next() {
		row := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range row {
			ptrs[i] = &row[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// FromConn wraps a raw driver connection. This is the seat used by the
// function bridge: scalar callbacks run while a statement is active on the
// connection, and SQLite permits the nested statements this produces (the
// same mechanism triggers rely on).
func FromConn(conn *sqlite3.SQLiteConn) DB { return connDB{conn} }

type connDB struct {
	conn *sqlite3.SQLiteConn
}

func (c connDB) Exec(query string, args ...any) error {
	vals, err := toDriverValues(args)
	if err != nil {
		return err
	}
	_, err = c.conn.Exec(query, vals)
	return err
}

func (c connDB) Query(query string, args ...any) ([][]any, error) {
	vals, err := toDriverValues(args)
	if err != nil {
		return nil, err
	}
	rows, err := c.conn.Query(query, vals)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	n := len(rows.Columns())
	var out [][]any
	for {
		dest := make([]driver.Value, n)
		if err := rows.Next(dest); err != nil {
			if err == io.EOF {
				return out, nil
			}
			return nil, err
		}
		row := make([]any, n)
		for i, v := range dest {
			// []byte buffers are reused by the driver between rows.
			if b, ok := v.([]byte); ok {
				row[i] = append([]byte(nil), b...)
				continue
			}
			row[i] = v
		}
		out = append(out, row)
	}
}

func toDriverValues(args []any) ([]driver.Value, error) {
	vals := make([]driver.Value, len(args))
	for i, a := range args {
		switch v := a.(type) {
		case nil:
			vals[i] = nil
		case int64, float64, bool, string, []byte, time.Time:
			vals[i] = v
		case int:
			vals[i] = int64(v)
		case *int64:
			if v == nil {
				vals[i] = nil
			} else {
				vals[i] = *v
			}
		default:
			return nil, fmt.Errorf("hostdb: unsupported argument type %T", a)
		}
	}
	return vals, nil
}

// Text converts a column value to its string form. SQLite hands text back as
// either string or []byte depending on the seat.
func Text(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case []byte:
		return string(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

// Int64 converts a column value to int64. The zero value stands in for NULL;
// callers that need the distinction use NullableInt64.
func Int64(v any) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	case []byte:
		var n int64
		_, _ = fmt.Sscan(string(t), &n)
		return n
	case string:
		var n int64
		_, _ = fmt.Sscan(t, &n)
		return n
	default:
		return 0
	}
}

// NullableInt64 converts a column value to *int64, mapping NULL to nil.
func NullableInt64(v any) *int64 {
	if v == nil {
		return nil
	}
	n := Int64(v)
	return &n
}
