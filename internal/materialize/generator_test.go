package materialize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func docsPlan() *tablePlan {
	return &tablePlan{
		Logical:       "docs",
		Physical:      "__sec_docs",
		RowCol:        "row_label_id",
		Visible:       []string{"id", "title", "row_label_id"},
		PrimaryKey:    []string{"id"},
		UpdateGuards:  map[string]int64{},
		InsertLabelID: 1,
	}
}

func TestQuoteIdentifier(t *testing.T) {
	g := NewGenerator()
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "simple", input: "users", expected: `"users"`},
		{name: "trimmed", input: "  users  ", expected: `"users"`},
		{name: "keyword", input: "select", expected: `"select"`},
		{name: "embedded_quote_doubled", input: `us"ers`, expected: `"us""ers"`},
		{name: "unicode", input: "таблица", expected: `"таблица"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, g.QuoteIdentifier(tt.input))
		})
	}
}

func TestViewStatement(t *testing.T) {
	g := NewGenerator()
	got := g.ViewStatement(docsPlan())
	want := `CREATE VIEW "docs" AS SELECT "id", "title", "row_label_id" FROM "__sec_docs" WHERE sec_label_visible("row_label_id") = 1;`
	assert.Equal(t, want, got)
}

func TestInsertTriggerStatement(t *testing.T) {
	g := NewGenerator()
	got := g.InsertTriggerStatement(docsPlan())

	want := strings.Join([]string{
		`CREATE TRIGGER "docs__ins" INSTEAD OF INSERT ON "docs"`,
		`BEGIN`,
		"\tSELECT sec_assert_fresh();",
		"\tSELECT RAISE(ABORT, 'sqlsec: authorization: insert into \"docs\" forges the row label')",
		"\t\tWHERE NEW.\"row_label_id\" IS NOT NULL AND NEW.\"row_label_id\" <> 1;",
		"\tINSERT INTO \"__sec_docs\" (\"id\", \"title\", \"row_label_id\")",
		"\t\tVALUES (NEW.\"id\", NEW.\"title\", 1);",
		`END;`,
	}, "\n")
	assert.Equal(t, want, got)
}

func TestInsertTriggerHiddenRowLabel(t *testing.T) {
	// When a read policy hides the row-label column there is no NEW value to
	// check, so the forgery guard disappears and the resolved label is still
	// supplied.
	g := NewGenerator()
	p := docsPlan()
	p.Visible = []string{"id", "title"}
	p.InsertLabelID = 7

	got := g.InsertTriggerStatement(p)
	assert.NotContains(t, got, "forges")
	assert.Contains(t, got, `VALUES (NEW."id", NEW."title", 7);`)
}

func TestUpdateTriggerStatement(t *testing.T) {
	g := NewGenerator()
	p := docsPlan()
	p.UpdateGuards = map[string]int64{"title": 5}

	got := g.UpdateTriggerStatement(p)
	want := strings.Join([]string{
		`CREATE TRIGGER "docs__upd" INSTEAD OF UPDATE ON "docs"`,
		`BEGIN`,
		"\tSELECT sec_assert_fresh();",
		"\tSELECT RAISE(ABORT, 'sqlsec: authorization: primary key column \"id\" of \"docs\" is not updatable')",
		"\t\tWHERE NEW.\"id\" IS NOT OLD.\"id\";",
		"\tSELECT RAISE(ABORT, 'sqlsec: authorization: row label of \"docs\" is not updatable')",
		"\t\tWHERE NEW.\"row_label_id\" IS NOT OLD.\"row_label_id\";",
		"\tSELECT RAISE(ABORT, 'sqlsec: authorization: column \"title\" of \"docs\" is not updatable')",
		"\t\tWHERE NEW.\"title\" IS NOT OLD.\"title\" AND sec_label_visible(5) <> 1;",
		"\tUPDATE \"__sec_docs\" SET \"title\" = NEW.\"title\"",
		"\t\tWHERE \"id\" = OLD.\"id\" AND sec_label_visible(\"row_label_id\") = 1;",
		`END;`,
	}, "\n")
	assert.Equal(t, want, got)
}

func TestUpdateTriggerWithoutGuards(t *testing.T) {
	g := NewGenerator()
	got := g.UpdateTriggerStatement(docsPlan())
	assert.NotContains(t, got, `sec_label_visible(5)`)
	assert.Contains(t, got, `UPDATE "__sec_docs" SET "title" = NEW."title"`)
}

func TestUpdateTriggerHiddenPrimaryKey(t *testing.T) {
	g := NewGenerator()
	p := docsPlan()
	p.Visible = []string{"title", "row_label_id"}
	assert.Empty(t, g.UpdateTriggerStatement(p),
		"no update path exists when the primary key is hidden")
	assert.Empty(t, g.DeleteTriggerStatement(p))
}

func TestDeleteTriggerStatement(t *testing.T) {
	g := NewGenerator()
	got := g.DeleteTriggerStatement(docsPlan())
	want := strings.Join([]string{
		`CREATE TRIGGER "docs__del" INSTEAD OF DELETE ON "docs"`,
		`BEGIN`,
		"\tSELECT sec_assert_fresh();",
		"\tDELETE FROM \"__sec_docs\"",
		"\t\tWHERE \"id\" = OLD.\"id\" AND sec_label_visible(\"row_label_id\") = 1;",
		`END;`,
	}, "\n")
	assert.Equal(t, want, got)
}

func TestCompositePrimaryKeyMatch(t *testing.T) {
	g := NewGenerator()
	p := docsPlan()
	p.Visible = []string{"tenant", "id", "title", "row_label_id"}
	p.PrimaryKey = []string{"tenant", "id"}

	got := g.DeleteTriggerStatement(p)
	assert.Contains(t, got,
		`WHERE "tenant" = OLD."tenant" AND "id" = OLD."id" AND sec_label_visible("row_label_id") = 1;`)
}

func TestDropStatements(t *testing.T) {
	g := NewGenerator()
	got := g.DropStatements("docs")
	assert.Equal(t, []string{
		`DROP TRIGGER IF EXISTS "docs__ins";`,
		`DROP TRIGGER IF EXISTS "docs__upd";`,
		`DROP TRIGGER IF EXISTS "docs__del";`,
		`DROP VIEW IF EXISTS "docs";`,
	}, got)
}

func TestStatementsAssembleFullSet(t *testing.T) {
	g := NewGenerator()
	stmts := g.Statements(docsPlan())
	require.Len(t, stmts, 4)
	assert.Contains(t, stmts[0], "CREATE VIEW")
	assert.Contains(t, stmts[1], "INSTEAD OF INSERT")
	assert.Contains(t, stmts[2], "INSTEAD OF UPDATE")
	assert.Contains(t, stmts[3], "INSTEAD OF DELETE")
}

func TestStatementsDeterministic(t *testing.T) {
	g := NewGenerator()
	p := docsPlan()
	p.UpdateGuards = map[string]int64{"title": 5}
	first := g.Statements(p)
	second := g.Statements(p)
	assert.Equal(t, first, second, "refresh must be idempotent")
}
