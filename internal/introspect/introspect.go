// Package introspect reads the shape of physical tables from the host
// database. Registration needs the column list, the primary key, and whether
// the table is an ordinary rowid table before any policy can be attached.
package introspect

import (
	"fmt"
	"sort"
	"strings"

	"sqlsec/internal/core"
	"sqlsec/internal/hostdb"
)

// Table introspects the named physical table. It fails with a catalog error
// when the table does not exist and with a schema error when the table is
// WITHOUT ROWID, which the generated triggers cannot protect.
func Table(db hostdb.DB, name string) (*core.PhysicalTable, error) {
	rows, err := db.Query(
		`SELECT sql FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	if err != nil {
		return nil, fmt.Errorf("introspect %q: %w", name, err)
	}
	if len(rows) == 0 {
		return nil, core.Errorf(core.KindCatalog, "physical table %q does not exist", name)
	}

	t := &core.PhysicalTable{Name: name}
	if isWithoutRowid(hostdb.Text(rows[0][0])) {
		t.WithoutRowid = true
		return t, core.Errorf(core.KindSchema, "physical table %q is WITHOUT ROWID", name)
	}

	cols, err := db.Query(`SELECT name, pk FROM pragma_table_info(?)`, name)
	if err != nil {
		return nil, fmt.Errorf("introspect %q: %w", name, err)
	}

	type pkCol struct {
		name string
		ord  int64
	}
	var pk []pkCol
	for _, row := range cols {
		colName := hostdb.Text(row[0])
		t.Columns = append(t.Columns, colName)
		if ord := hostdb.Int64(row[1]); ord > 0 {
			pk = append(pk, pkCol{name: colName, ord: ord})
		}
	}
	sort.Slice(pk, func(i, j int) bool { return pk[i].ord < pk[j].ord })
	for _, c := range pk {
		t.PrimaryKey = append(t.PrimaryKey, c.name)
	}
	return t, nil
}

// isWithoutRowid inspects the stored CREATE TABLE text. SQLite keeps the
// original statement verbatim, so a whitespace-normalized substring scan is
// reliable for DDL the catalog itself did not generate.
func isWithoutRowid(createSQL string) bool {
	norm := strings.Join(strings.Fields(strings.ToUpper(createSQL)), " ")
	return strings.Contains(norm, "WITHOUT ROWID")
}
