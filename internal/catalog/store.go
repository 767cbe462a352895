// Package catalog persists the security catalog inside the host database:
// label definitions, level enumerations, protected-table registrations and
// per-column policies. The catalog survives restarts; everything derived from
// it (views, triggers) is rebuilt by refresh.
package catalog

import (
	"fmt"

	"go.uber.org/zap"

	"sqlsec/internal/core"
	"sqlsec/internal/hostdb"
	"sqlsec/internal/introspect"
	"sqlsec/internal/label"
)

// Store reads and writes the catalog tables. Mutations run under the host's
// ambient transaction discipline; the store never opens transactions itself.
type Store struct {
	db  hostdb.DB
	log *zap.Logger
}

// New returns a store over the given database seat.
func New(db hostdb.DB, log *zap.Logger) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	return &Store{db: db, log: log}
}

// Bootstrap creates the catalog tables and seeds the reserved label "true".
// Safe to call on every attach.
func (s *Store) Bootstrap() error {
	if err := s.db.Exec(bootstrapSQL); err != nil {
		return fmt.Errorf("catalog bootstrap: %w", err)
	}
	return nil
}

// InstallChangeTriggers creates the freshness triggers on sec_columns. Split
// from Bootstrap because the triggers call sec_catalog_changed(), which only
// exists on connections that attached the extension.
func (s *Store) InstallChangeTriggers() error {
	if err := s.db.Exec(changeTriggerSQL); err != nil {
		return fmt.Errorf("catalog change triggers: %w", err)
	}
	return nil
}

// DefineLabel parses the source, canonicalizes it and returns the ID of the
// existing definition or of a freshly inserted one. Defining the same
// expression twice, however it is spelled, yields the same ID.
func (s *Store) DefineLabel(source string) (int64, error) {
	node, err := label.Parse(source)
	if err != nil {
		return 0, err
	}
	canon := label.Canonical(node)

	if id, ok, err := s.labelIDBySource(canon); err != nil {
		return 0, err
	} else if ok {
		return id, nil
	}

	if err := s.db.Exec(`INSERT INTO sec_labels (source) VALUES (?)`, canon); err != nil {
		return 0, fmt.Errorf("define label %q: %w", canon, err)
	}
	id, ok, err := s.labelIDBySource(canon)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, core.Errorf(core.KindCatalog, "label %q vanished after insert", canon)
	}
	s.log.Debug("label defined", zap.Int64("id", id), zap.String("source", canon))
	return id, nil
}

func (s *Store) labelIDBySource(canon string) (int64, bool, error) {
	rows, err := s.db.Query(`SELECT id FROM sec_labels WHERE source = ?`, canon)
	if err != nil {
		return 0, false, fmt.Errorf("lookup label %q: %w", canon, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return hostdb.Int64(rows[0][0]), true, nil
}

// Label returns the parsed AST of the label with the given ID.
func (s *Store) Label(id int64) (label.Node, error) {
	rows, err := s.db.Query(`SELECT source FROM sec_labels WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("lookup label %d: %w", id, err)
	}
	if len(rows) == 0 {
		return nil, core.Errorf(core.KindCatalog, "label id %d is not defined", id)
	}
	return label.Parse(hostdb.Text(rows[0][0]))
}

// DefineLevel appends one value to the ordered enumeration of attr. Both the
// name and the rank must be new within the attribute.
func (s *Store) DefineLevel(attr, name string, rank int64) error {
	rows, err := s.db.Query(
		`SELECT name, rank FROM sec_levels WHERE attr = ? AND (name = ? OR rank = ?)`,
		attr, name, rank)
	if err != nil {
		return fmt.Errorf("define level %s/%s: %w", attr, name, err)
	}
	if len(rows) > 0 {
		return core.Errorf(core.KindCatalog,
			"level %s/%s collides with existing %s/%d", attr, name,
			hostdb.Text(rows[0][0]), hostdb.Int64(rows[0][1]))
	}
	if err := s.db.Exec(
		`INSERT INTO sec_levels (attr, name, rank) VALUES (?, ?, ?)`,
		attr, name, rank); err != nil {
		return fmt.Errorf("define level %s/%s: %w", attr, name, err)
	}
	s.log.Debug("level defined",
		zap.String("attr", attr), zap.String("name", name), zap.Int64("rank", rank))
	return nil
}

// Rank resolves a level name to its rank. Implements eval.Levels.
func (s *Store) Rank(attr, name string) (int64, bool, error) {
	rows, err := s.db.Query(
		`SELECT rank FROM sec_levels WHERE attr = ? AND name = ?`, attr, name)
	if err != nil {
		return 0, false, fmt.Errorf("lookup level %s/%s: %w", attr, name, err)
	}
	if len(rows) == 0 {
		return 0, false, nil
	}
	return hostdb.Int64(rows[0][0]), true, nil
}

// Register validates and stores a protected-table registration, creating one
// sec_columns row per physical column with null policies.
func (s *Store) Register(logical, physical, rowCol string, tableLabel, insertLabel *int64) error {
	if err := core.ValidateRegistration(logical, physical, rowCol); err != nil {
		return err
	}
	if existing, err := s.db.Query(
		`SELECT 1 FROM sec_tables WHERE logical = ?`, logical); err != nil {
		return fmt.Errorf("register %q: %w", logical, err)
	} else if len(existing) > 0 {
		return core.Errorf(core.KindCatalog, "logical table %q is already registered", logical)
	}
	if clash, err := s.db.Query(
		`SELECT type FROM sqlite_master WHERE name = ?`, logical); err != nil {
		return fmt.Errorf("register %q: %w", logical, err)
	} else if len(clash) > 0 {
		return core.Errorf(core.KindCatalog,
			"logical name %q collides with an existing %s", logical, hostdb.Text(clash[0][0]))
	}

	phys, err := introspect.Table(s.db, physical)
	if err != nil {
		return err
	}
	if len(phys.PrimaryKey) == 0 {
		return core.Errorf(core.KindCatalog, "physical table %q has no primary key", physical)
	}
	if !phys.HasColumn(rowCol) {
		return core.Errorf(core.KindCatalog,
			"physical table %q has no row-label column %q", physical, rowCol)
	}
	for _, c := range phys.Columns {
		if err := core.ValidateIdentifier(c); err != nil {
			return err
		}
	}
	for _, id := range []*int64{tableLabel, insertLabel} {
		if id == nil {
			continue
		}
		if _, err := s.Label(*id); err != nil {
			return err
		}
	}

	if err := s.db.Exec(
		`INSERT INTO sec_tables (logical, physical, row_col, table_label_id, insert_label_id)
		 VALUES (?, ?, ?, ?, ?)`,
		logical, physical, rowCol, tableLabel, insertLabel); err != nil {
		return fmt.Errorf("register %q: %w", logical, err)
	}
	for _, c := range phys.Columns {
		if err := s.db.Exec(
			`INSERT INTO sec_columns (logical_table, column_name) VALUES (?, ?)`,
			logical, c); err != nil {
			return fmt.Errorf("register %q column %q: %w", logical, c, err)
		}
	}
	s.log.Debug("table registered",
		zap.String("logical", logical), zap.String("physical", physical),
		zap.Int("columns", len(phys.Columns)))
	return nil
}

// Drop removes a registration and its column policies. The managed view and
// triggers are the materializer's to drop.
func (s *Store) Drop(logical string) error {
	rows, err := s.db.Query(`SELECT 1 FROM sec_tables WHERE logical = ?`, logical)
	if err != nil {
		return fmt.Errorf("drop %q: %w", logical, err)
	}
	if len(rows) == 0 {
		return core.Errorf(core.KindCatalog, "logical table %q is not registered", logical)
	}
	if err := s.db.Exec(`DELETE FROM sec_columns WHERE logical_table = ?`, logical); err != nil {
		return fmt.Errorf("drop %q: %w", logical, err)
	}
	if err := s.db.Exec(`DELETE FROM sec_tables WHERE logical = ?`, logical); err != nil {
		return fmt.Errorf("drop %q: %w", logical, err)
	}
	return nil
}

// Registrations loads every protected table with its column policies, in
// registration order of the columns (which is physical column order).
func (s *Store) Registrations() ([]core.Registration, error) {
	rows, err := s.db.Query(
		`SELECT logical, physical, row_col, table_label_id, insert_label_id
		 FROM sec_tables ORDER BY logical`)
	if err != nil {
		return nil, fmt.Errorf("load registrations: %w", err)
	}
	regs := make([]core.Registration, 0, len(rows))
	for _, row := range rows {
		reg := core.Registration{
			Logical:       hostdb.Text(row[0]),
			Physical:      hostdb.Text(row[1]),
			RowCol:        hostdb.Text(row[2]),
			TableLabelID:  hostdb.NullableInt64(row[3]),
			InsertLabelID: hostdb.NullableInt64(row[4]),
		}
		cols, err := s.db.Query(
			`SELECT column_name, read_label_id, update_label_id
			 FROM sec_columns WHERE logical_table = ? ORDER BY rowid`, reg.Logical)
		if err != nil {
			return nil, fmt.Errorf("load columns of %q: %w", reg.Logical, err)
		}
		for _, c := range cols {
			reg.Columns = append(reg.Columns, core.ColumnPolicy{
				Name:          hostdb.Text(c[0]),
				ReadLabelID:   hostdb.NullableInt64(c[1]),
				UpdateLabelID: hostdb.NullableInt64(c[2]),
			})
		}
		regs = append(regs, reg)
	}
	return regs, nil
}

// Registration loads a single registration by logical name.
func (s *Store) Registration(logical string) (*core.Registration, error) {
	regs, err := s.Registrations()
	if err != nil {
		return nil, err
	}
	for i := range regs {
		if regs[i].Logical == logical {
			return &regs[i], nil
		}
	}
	return nil, core.Errorf(core.KindCatalog, "logical table %q is not registered", logical)
}
