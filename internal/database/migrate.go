package database

import (
	"database/sql"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strings"
)

// Dialect holds the SQL that differs between the supported databases.
type Dialect struct {
	Name string
	// TrackingTable creates schema_migrations if it does not exist.
	TrackingTable string
	// Placeholder returns the bind parameter for the n-th argument (1-based).
	Placeholder func(n int) string
}

var (
	SQLite = Dialect{
		Name: "sqlite",
		TrackingTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT (datetime('now'))
	)`,
		Placeholder: func(int) string { return "?" },
	}

	Postgres = Dialect{
		Name: "postgres",
		TrackingTable: `CREATE TABLE IF NOT EXISTS schema_migrations (
		version    TEXT PRIMARY KEY,
		applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
		Placeholder: func(n int) string { return fmt.Sprintf("$%d", n) },
	}
)

// Migrate applies every *.sql file at the root of migrations that is not
// yet recorded in schema_migrations, in file name order, one transaction
// per file.
func Migrate(db *sql.DB, migrations fs.FS, d Dialect) error {
	if _, err := db.Exec(d.TrackingTable); err != nil {
		return fmt.Errorf("creating schema_migrations table: %w", err)
	}

	entries, err := fs.ReadDir(migrations, ".")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	applied := fmt.Sprintf("SELECT COUNT(*) FROM schema_migrations WHERE version = %s", d.Placeholder(1))
	record := fmt.Sprintf("INSERT INTO schema_migrations (version) VALUES (%s)", d.Placeholder(1))

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version := strings.TrimSuffix(entry.Name(), ".sql")

		var count int
		if err := db.QueryRow(applied, version).Scan(&count); err != nil {
			return fmt.Errorf("checking migration %s: %w", version, err)
		}
		if count > 0 {
			continue
		}

		content, err := fs.ReadFile(migrations, entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", version, err)
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %s: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("executing migration %s: %w", version, err)
		}
		if _, err := tx.Exec(record, version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %s: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %s: %w", version, err)
		}

		slog.Info("applied migration", "version", version, "dialect", d.Name)
	}

	return nil
}
