package hostdb

import (
	"database/sql"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) DB {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return FromDB(db)
}

func TestExecAndQuery(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec(`CREATE TABLE t (id INTEGER PRIMARY KEY, name TEXT, score REAL)`))
	require.NoError(t, db.Exec(`INSERT INTO t (name, score) VALUES (?, ?)`, "ada", 1.5))
	require.NoError(t, db.Exec(`INSERT INTO t (name, score) VALUES (?, ?)`, "bob", nil))

	rows, err := db.Query(`SELECT id, name, score FROM t ORDER BY id`)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.EqualValues(t, 1, Int64(rows[0][0]))
	assert.Equal(t, "ada", Text(rows[0][1]))
	assert.Nil(t, rows[1][2])
}

func TestExecMultipleStatements(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec(`
		CREATE TABLE a (x INTEGER);
		CREATE TABLE b (y INTEGER);
		INSERT INTO a VALUES (1);
	`))
	rows, err := db.Query(`SELECT COUNT(*) FROM a`)
	require.NoError(t, err)
	assert.EqualValues(t, 1, Int64(rows[0][0]))
}

func TestQueryEmptyResult(t *testing.T) {
	db := newTestDB(t)
	require.NoError(t, db.Exec(`CREATE TABLE t (id INTEGER)`))
	rows, err := db.Query(`SELECT id FROM t`)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestConversionHelpers(t *testing.T) {
	assert.Equal(t, "x", Text("x"))
	assert.Equal(t, "x", Text([]byte("x")))
	assert.Equal(t, "", Text(nil))

	assert.EqualValues(t, 7, Int64(int64(7)))
	assert.EqualValues(t, 7, Int64("7"))
	assert.EqualValues(t, 7, Int64([]byte("7")))

	assert.Nil(t, NullableInt64(nil))
	got := NullableInt64(int64(3))
	require.NotNil(t, got)
	assert.EqualValues(t, 3, *got)
}

func TestToDriverValues(t *testing.T) {
	n := int64(5)
	vals, err := toDriverValues([]any{nil, int64(1), 2, "x", []byte("b"), true, &n, (*int64)(nil)})
	require.NoError(t, err)
	assert.Nil(t, vals[0])
	assert.EqualValues(t, 1, vals[1])
	assert.EqualValues(t, 2, vals[2])
	assert.Equal(t, "x", vals[3])
	assert.EqualValues(t, 5, vals[6])
	assert.Nil(t, vals[7])

	_, err = toDriverValues([]any{struct{}{}})
	require.Error(t, err)
}
