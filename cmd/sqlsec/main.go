package main

import (
	"bufio"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sqlsec"
	"sqlsec/internal/config"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "sqlsec",
		Short: "Label-based row and column security for SQLite",
	}

	var configPath string
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "TOML config file")

	openDB := func(args []string) (*sql.DB, *config.Config, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if len(args) > 0 {
			cfg.Database = args[0]
		}
		if cfg.Database == "" {
			return nil, nil, fmt.Errorf("no database given; pass a path or set database in the config")
		}
		logger, err := cfg.Logger()
		if err != nil {
			return nil, nil, err
		}
		db, err := openWithLogger(cfg.Database, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("open %s: %w", cfg.Database, err)
		}
		for _, stmt := range cfg.Init {
			if _, err := db.Exec(stmt); err != nil {
				db.Close()
				return nil, nil, fmt.Errorf("init statement %q: %w", stmt, err)
			}
		}
		return db, cfg, nil
	}

	shellCmd := &cobra.Command{
		Use:   "shell [database]",
		Short: "Interactive SQL shell with the extension attached",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(args)
			if err != nil {
				return err
			}
			defer db.Close()
			return runShell(db, os.Stdin, os.Stdout)
		},
	}

	execCmd := &cobra.Command{
		Use:   "exec <database> <script.sql>",
		Short: "Execute a SQL script with the extension attached",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(args[:1])
			if err != nil {
				return err
			}
			defer db.Close()
			script, err := os.ReadFile(args[1])
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			if _, err := db.Exec(string(script)); err != nil {
				return fmt.Errorf("execute script: %w", err)
			}
			fmt.Println("OK")
			return nil
		},
	}

	catalogCmd := &cobra.Command{
		Use:   "catalog [database]",
		Short: "Print the security catalog of a database",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			db, _, err := openDB(args)
			if err != nil {
				return err
			}
			defer db.Close()
			return printCatalog(db, os.Stdout)
		},
	}

	rootCmd.AddCommand(shellCmd)
	rootCmd.AddCommand(execCmd)
	rootCmd.AddCommand(catalogCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// openWithLogger registers a logging driver variant on first use; the plain
// driver from the library init is reused when logging is off.
var loggingDriverRegistered bool

func openWithLogger(dsn string, logger *zap.Logger) (*sql.DB, error) {
	if logger == nil {
		return sqlsec.Open(dsn)
	}
	const name = sqlsec.DriverName + "_logged"
	if !loggingDriverRegistered {
		sql.Register(name, sqlsec.NewDriver(logger))
		loggingDriverRegistered = true
	}
	db, err := sql.Open(name, dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}

func runShell(db *sql.DB, in *os.File, out *os.File) error {
	fmt.Fprintln(out, "sqlsec shell; end statements with a newline, exit with .quit")
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "sec> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch {
		case line == "":
			continue
		case line == ".quit" || line == ".exit":
			return nil
		}
		if err := runStatement(db, out, line); err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
		}
	}
}

func runStatement(db *sql.DB, out *os.File, stmt string) error {
	head := strings.ToUpper(stmt)
	if strings.HasPrefix(head, "SELECT") || strings.HasPrefix(head, "PRAGMA") ||
		strings.HasPrefix(head, "WITH") {
		return printQuery(db, out, stmt)
	}
	res, err := db.Exec(stmt)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		fmt.Fprintf(out, "%d row(s) affected\n", n)
	}
	return nil
}

func printQuery(db *sql.DB, out *os.File, query string) error {
	rows, err := db.Query(query)
	if err != nil {
		return err
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return err
	}
	fmt.Fprintln(out, strings.Join(cols, "\t"))
	vals := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return err
		}
		parts := make([]string, len(vals))
		for i, v := range vals {
			parts[i] = formatValue(v)
		}
		fmt.Fprintln(out, strings.Join(parts, "\t"))
	}
	return rows.Err()
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func printCatalog(db *sql.DB, out *os.File) error {
	sections := []struct {
		title string
		query string
	}{
		{"labels", `SELECT id, source FROM sec_labels ORDER BY id`},
		{"levels", `SELECT attr, name, rank FROM sec_levels ORDER BY attr, rank`},
		{"tables", `SELECT logical, physical, row_col,
			COALESCE(table_label_id, '') AS table_label,
			COALESCE(insert_label_id, '') AS insert_label
			FROM sec_tables ORDER BY logical`},
		{"columns", `SELECT logical_table, column_name,
			COALESCE(read_label_id, '') AS read_label,
			COALESCE(update_label_id, '') AS update_label
			FROM sec_columns ORDER BY logical_table, rowid`},
	}
	for _, sec := range sections {
		fmt.Fprintf(out, "-- %s\n", sec.title)
		if err := printQuery(db, out, sec.query); err != nil {
			return err
		}
		fmt.Fprintln(out)
	}
	return nil
}
