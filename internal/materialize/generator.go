// Package materialize rebuilds the logical views and their instead-of
// triggers from the catalog and the current security context. Everything it
// emits is plain SQL text assembled through strict identifier quoting; the
// set of identifiers that can appear is bounded by the catalog, which rejects
// quote-carrying names at registration.
package materialize

import (
	"fmt"
	"strings"
)

// Suffixes of the managed trigger names. refresh never touches objects whose
// names fall outside <logical> plus these suffixes.
const (
	insSuffix = "__ins"
	updSuffix = "__upd"
	delSuffix = "__del"
)

// Generator builds the SQL for one logical view and its triggers. It is
// stateless; all inputs arrive per call.
type Generator struct{}

// NewGenerator initializes a generator instance.
func NewGenerator() *Generator {
	return &Generator{}
}

// QuoteIdentifier quotes a name for use in generated SQL. Registration
// rejects identifiers containing quote characters, so doubling here is a
// second line, not the defense.
func (g *Generator) QuoteIdentifier(name string) string {
	name = strings.TrimSpace(name)
	name = strings.ReplaceAll(name, `"`, `""`)
	return `"` + name + `"`
}

// QuoteString quotes a literal string for an error message inside RAISE.
func (g *Generator) QuoteString(value string) string {
	return "'" + strings.ReplaceAll(value, "'", "''") + "'"
}

// tablePlan is the resolved shape of one logical table after policy
// evaluation: which columns project, which ones the update trigger may set,
// and the literal label id the insert trigger assigns.
type tablePlan struct {
	Logical  string
	Physical string
	RowCol   string

	// Visible columns in physical order, including the row-label column when
	// its read label admits it.
	Visible []string
	// PrimaryKey columns of the physical table.
	PrimaryKey []string
	// UpdateGuards maps settable column name -> update label id for columns
	// whose update label must be re-checked at trigger time.
	UpdateGuards map[string]int64
	// InsertLabelID is the resolved label assigned to inserted rows.
	InsertLabelID int64
}

func (p *tablePlan) rowColVisible() bool {
	for _, c := range p.Visible {
		if c == p.RowCol {
			return true
		}
	}
	return false
}

func (p *tablePlan) isPrimaryKey(col string) bool {
	for _, c := range p.PrimaryKey {
		if c == col {
			return true
		}
	}
	return false
}

func (p *tablePlan) pkVisible() bool {
	for _, pk := range p.PrimaryKey {
		found := false
		for _, c := range p.Visible {
			if c == pk {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// settable returns the columns the update trigger forwards: visible columns
// that are neither primary-key nor row-label columns.
func (p *tablePlan) settable() []string {
	var out []string
	for _, c := range p.Visible {
		if c == p.RowCol || p.isPrimaryKey(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// DropStatements removes the managed objects of a logical name. Emitted
// unconditionally at the head of every refresh cycle and by unregistration.
func (g *Generator) DropStatements(logical string) []string {
	return []string{
		"DROP TRIGGER IF EXISTS " + g.QuoteIdentifier(logical+insSuffix) + ";",
		"DROP TRIGGER IF EXISTS " + g.QuoteIdentifier(logical+updSuffix) + ";",
		"DROP TRIGGER IF EXISTS " + g.QuoteIdentifier(logical+delSuffix) + ";",
		"DROP VIEW IF EXISTS " + g.QuoteIdentifier(logical) + ";",
	}
}

// ViewStatement builds the CREATE VIEW over the visible projection. The row
// predicate calls back into the host evaluator so each row's label is checked
// against the live context.
func (g *Generator) ViewStatement(p *tablePlan) string {
	cols := make([]string, len(p.Visible))
	for i, c := range p.Visible {
		cols[i] = g.QuoteIdentifier(c)
	}
	return fmt.Sprintf("CREATE VIEW %s AS SELECT %s FROM %s WHERE sec_label_visible(%s) = 1;",
		g.QuoteIdentifier(p.Logical),
		strings.Join(cols, ", "),
		g.QuoteIdentifier(p.Physical),
		g.QuoteIdentifier(p.RowCol))
}

// InsertTriggerStatement builds the instead-of INSERT trigger. The trigger
// maps projected NEW values onto the physical columns, rejects forged row
// labels, and supplies the resolved insert label. Columns hidden from the
// projection are left to their physical defaults.
func (g *Generator) InsertTriggerStatement(p *tablePlan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF INSERT ON %s\nBEGIN\n",
		g.QuoteIdentifier(p.Logical+insSuffix), g.QuoteIdentifier(p.Logical))
	b.WriteString("\tSELECT sec_assert_fresh();\n")

	if p.rowColVisible() {
		fmt.Fprintf(&b, "\tSELECT RAISE(ABORT, %s)\n\t\tWHERE NEW.%s IS NOT NULL AND NEW.%s <> %d;\n",
			g.QuoteString(fmt.Sprintf("sqlsec: authorization: insert into %q forges the row label", p.Logical)),
			g.QuoteIdentifier(p.RowCol), g.QuoteIdentifier(p.RowCol), p.InsertLabelID)
	}

	var cols, vals []string
	for _, c := range p.Visible {
		if c == p.RowCol {
			continue
		}
		cols = append(cols, g.QuoteIdentifier(c))
		vals = append(vals, "NEW."+g.QuoteIdentifier(c))
	}
	cols = append(cols, g.QuoteIdentifier(p.RowCol))
	vals = append(vals, fmt.Sprintf("%d", p.InsertLabelID))

	fmt.Fprintf(&b, "\tINSERT INTO %s (%s)\n\t\tVALUES (%s);\n",
		g.QuoteIdentifier(p.Physical), strings.Join(cols, ", "), strings.Join(vals, ", "))
	b.WriteString("END;")
	return b.String()
}

// UpdateTriggerStatement builds the instead-of UPDATE trigger, or returns ""
// when the primary key is hidden from the projection, in which case no update
// path exists through the view.
func (g *Generator) UpdateTriggerStatement(p *tablePlan) string {
	if !p.pkVisible() {
		return ""
	}

	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF UPDATE ON %s\nBEGIN\n",
		g.QuoteIdentifier(p.Logical+updSuffix), g.QuoteIdentifier(p.Logical))
	b.WriteString("\tSELECT sec_assert_fresh();\n")

	for _, pk := range p.PrimaryKey {
		fmt.Fprintf(&b, "\tSELECT RAISE(ABORT, %s)\n\t\tWHERE NEW.%s IS NOT OLD.%s;\n",
			g.QuoteString(fmt.Sprintf("sqlsec: authorization: primary key column %q of %q is not updatable", pk, p.Logical)),
			g.QuoteIdentifier(pk), g.QuoteIdentifier(pk))
	}
	if p.rowColVisible() {
		fmt.Fprintf(&b, "\tSELECT RAISE(ABORT, %s)\n\t\tWHERE NEW.%s IS NOT OLD.%s;\n",
			g.QuoteString(fmt.Sprintf("sqlsec: authorization: row label of %q is not updatable", p.Logical)),
			g.QuoteIdentifier(p.RowCol), g.QuoteIdentifier(p.RowCol))
	}

	settable := p.settable()
	for _, c := range settable {
		labelID, guarded := p.UpdateGuards[c]
		if !guarded {
			continue
		}
		fmt.Fprintf(&b, "\tSELECT RAISE(ABORT, %s)\n\t\tWHERE NEW.%s IS NOT OLD.%s AND sec_label_visible(%d) <> 1;\n",
			g.QuoteString(fmt.Sprintf("sqlsec: authorization: column %q of %q is not updatable", c, p.Logical)),
			g.QuoteIdentifier(c), g.QuoteIdentifier(c), labelID)
	}

	if len(settable) > 0 {
		sets := make([]string, len(settable))
		for i, c := range settable {
			sets[i] = g.QuoteIdentifier(c) + " = NEW." + g.QuoteIdentifier(c)
		}
		fmt.Fprintf(&b, "\tUPDATE %s SET %s\n\t\tWHERE %s AND sec_label_visible(%s) = 1;\n",
			g.QuoteIdentifier(p.Physical), strings.Join(sets, ", "),
			g.pkMatch(p), g.QuoteIdentifier(p.RowCol))
	}
	b.WriteString("END;")
	return b.String()
}

// DeleteTriggerStatement builds the instead-of DELETE trigger, or "" when the
// primary key is hidden from the projection.
func (g *Generator) DeleteTriggerStatement(p *tablePlan) string {
	if !p.pkVisible() {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TRIGGER %s INSTEAD OF DELETE ON %s\nBEGIN\n",
		g.QuoteIdentifier(p.Logical+delSuffix), g.QuoteIdentifier(p.Logical))
	b.WriteString("\tSELECT sec_assert_fresh();\n")
	fmt.Fprintf(&b, "\tDELETE FROM %s\n\t\tWHERE %s AND sec_label_visible(%s) = 1;\n",
		g.QuoteIdentifier(p.Physical), g.pkMatch(p), g.QuoteIdentifier(p.RowCol))
	b.WriteString("END;")
	return b.String()
}

// pkMatch builds the OLD-row match over the (possibly composite) primary key.
func (g *Generator) pkMatch(p *tablePlan) string {
	parts := make([]string, len(p.PrimaryKey))
	for i, pk := range p.PrimaryKey {
		parts[i] = g.QuoteIdentifier(pk) + " = OLD." + g.QuoteIdentifier(pk)
	}
	return strings.Join(parts, " AND ")
}

// Statements assembles the full creation sequence for one planned table.
func (g *Generator) Statements(p *tablePlan) []string {
	out := []string{g.ViewStatement(p), g.InsertTriggerStatement(p)}
	if upd := g.UpdateTriggerStatement(p); upd != "" {
		out = append(out, upd)
	}
	if del := g.DeleteTriggerStatement(p); del != "" {
		out = append(out, del)
	}
	return out
}
