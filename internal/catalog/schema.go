package catalog

// Bootstrap DDL for the catalog tables. Every statement is idempotent so that
// attaching to an already-initialized database is a no-op. The reserved label
// "true" is seeded with ID 1; label IDs are the rowid and therefore stay
// monotonic from there.
const bootstrapSQL = `
CREATE TABLE IF NOT EXISTS sec_labels (
	id INTEGER PRIMARY KEY,
	source TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS sec_levels (
	attr TEXT NOT NULL,
	name TEXT NOT NULL,
	rank INTEGER NOT NULL,
	PRIMARY KEY (attr, name),
	UNIQUE (attr, rank)
);

CREATE TABLE IF NOT EXISTS sec_tables (
	logical TEXT PRIMARY KEY,
	physical TEXT NOT NULL,
	row_col TEXT NOT NULL,
	table_label_id INTEGER REFERENCES sec_labels(id),
	insert_label_id INTEGER REFERENCES sec_labels(id)
);

CREATE TABLE IF NOT EXISTS sec_columns (
	logical_table TEXT NOT NULL REFERENCES sec_tables(logical),
	column_name TEXT NOT NULL,
	read_label_id INTEGER REFERENCES sec_labels(id),
	update_label_id INTEGER REFERENCES sec_labels(id),
	PRIMARY KEY (logical_table, column_name)
);

INSERT OR IGNORE INTO sec_labels (id, source) VALUES (1, 'true');
`

// Direct UPDATEs on sec_columns are the supported way to set per-column
// policies, so freshness tracking cannot rely on the Go-side mutators alone.
// These triggers route every hand edit through sec_catalog_changed(), which
// bumps the session generation.
const changeTriggerSQL = `
CREATE TRIGGER IF NOT EXISTS sec_columns__changed_ins AFTER INSERT ON sec_columns
BEGIN SELECT sec_catalog_changed(); END;

CREATE TRIGGER IF NOT EXISTS sec_columns__changed_upd AFTER UPDATE ON sec_columns
BEGIN SELECT sec_catalog_changed(); END;

CREATE TRIGGER IF NOT EXISTS sec_columns__changed_del AFTER DELETE ON sec_columns
BEGIN SELECT sec_catalog_changed(); END;
`
