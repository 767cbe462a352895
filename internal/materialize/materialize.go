package materialize

import (
	"fmt"

	"go.uber.org/zap"

	"sqlsec/internal/catalog"
	"sqlsec/internal/core"
	"sqlsec/internal/eval"
	"sqlsec/internal/hostdb"
	"sqlsec/internal/introspect"
)

// Materializer drops and recreates every managed view and trigger so they
// reflect the current catalog and context. It owns no state of its own; each
// Refresh reads everything fresh from the catalog.
type Materializer struct {
	db  hostdb.DB
	cat *catalog.Store
	gen *Generator
	log *zap.Logger
}

// New returns a materializer over the given database seat and catalog.
func New(db hostdb.DB, cat *catalog.Store, log *zap.Logger) *Materializer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Materializer{db: db, cat: cat, gen: NewGenerator(), log: log}
}

// Refresh rebuilds the managed objects of every registration. Applying it
// twice under the same catalog and context yields the same set of objects.
// The caller is responsible for marking the context materialized afterwards.
func (m *Materializer) Refresh(attrs eval.Attrs) error {
	regs, err := m.cat.Registrations()
	if err != nil {
		return err
	}
	for i := range regs {
		reg := &regs[i]
		if err := m.DropManaged(reg.Logical); err != nil {
			return err
		}
		plan, err := m.plan(reg, attrs)
		if err != nil {
			return err
		}
		if plan == nil {
			m.log.Debug("view withheld", zap.String("logical", reg.Logical))
			continue
		}
		for _, stmt := range m.gen.Statements(plan) {
			if err := m.db.Exec(stmt); err != nil {
				return fmt.Errorf("materialize %q: %w", reg.Logical, err)
			}
		}
		m.log.Debug("view materialized",
			zap.String("logical", reg.Logical), zap.Int("columns", len(plan.Visible)))
	}
	return nil
}

// DropManaged removes the view and triggers of one logical name. Only the
// exact managed names are touched.
func (m *Materializer) DropManaged(logical string) error {
	for _, stmt := range m.gen.DropStatements(logical) {
		if err := m.db.Exec(stmt); err != nil {
			return fmt.Errorf("drop managed objects of %q: %w", logical, err)
		}
	}
	return nil
}

// plan evaluates the policies of one registration against the context. A nil
// plan (with nil error) means the logical view is intentionally absent: the
// table label is unsatisfied, or no column survives the read policies.
func (m *Materializer) plan(reg *core.Registration, attrs eval.Attrs) (*tablePlan, error) {
	if reg.TableLabelID != nil {
		visible, err := m.labelTrue(*reg.TableLabelID, attrs)
		if err != nil {
			return nil, err
		}
		if !visible {
			return nil, nil
		}
	}

	phys, err := introspect.Table(m.db, reg.Physical)
	if err != nil {
		return nil, err
	}
	if len(phys.PrimaryKey) == 0 {
		return nil, core.Errorf(core.KindSchema,
			"physical table %q lost its primary key", reg.Physical)
	}

	p := &tablePlan{
		Logical:       reg.Logical,
		Physical:      reg.Physical,
		RowCol:        reg.RowCol,
		PrimaryKey:    phys.PrimaryKey,
		UpdateGuards:  make(map[string]int64),
		InsertLabelID: reg.ResolveInsertLabel(),
	}
	for _, col := range reg.Columns {
		if col.ReadLabelID != nil {
			visible, err := m.labelTrue(*col.ReadLabelID, attrs)
			if err != nil {
				return nil, fmt.Errorf("read policy of %s.%s: %w", reg.Logical, col.Name, err)
			}
			if !visible {
				continue
			}
		}
		p.Visible = append(p.Visible, col.Name)
		if col.UpdateLabelID != nil && col.Name != reg.RowCol && !p.isPrimaryKey(col.Name) {
			p.UpdateGuards[col.Name] = *col.UpdateLabelID
		}
	}
	if len(p.Visible) == 0 {
		return nil, nil
	}
	return p, nil
}

func (m *Materializer) labelTrue(id int64, attrs eval.Attrs) (bool, error) {
	node, err := m.cat.Label(id)
	if err != nil {
		return false, err
	}
	return eval.Eval(node, attrs, m.cat)
}
