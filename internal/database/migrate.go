package database

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/kanggyeonggu/identity-service/internal/database/migrations"
)

const migrationTable = "schema_migrations"

// Migrate applies every embedded migration of the dialect at most once, in
// file name order. Applied files are recorded in schema_migrations.
func Migrate(ctx context.Context, db *sql.DB, d Dialect) error {
	return applyMigrations(ctx, db, d, migrations.FS, d.Name)
}

func applyMigrations(ctx context.Context, db *sql.DB, d Dialect, fsys fs.FS, root string) error {
	entries, err := fs.ReadDir(fsys, root)
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	createSQL := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    name VARCHAR(255) NOT NULL PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`, migrationTable)
	if _, err := db.ExecContext(ctx, createSQL); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	for _, file := range files {
		applied, err := isApplied(ctx, db, d, file)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if applied {
			continue
		}
		content, err := fs.ReadFile(fsys, path.Join(root, file))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		// MySQL commits DDL implicitly, so statements run one by one rather
		// than inside a transaction; every statement is IF NOT EXISTS.
		for _, stmt := range splitStatements(string(content)) {
			if _, err := db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		if _, err := db.ExecContext(ctx,
			d.Rebind("INSERT INTO "+migrationTable+" (name, applied_at) VALUES (?, ?)"),
			file, time.Now().UTC().UnixMilli()); err != nil {
			return fmt.Errorf("record migration %s: %w", file, err)
		}
	}
	return nil
}

func isApplied(ctx context.Context, db *sql.DB, d Dialect, name string) (bool, error) {
	var count int
	err := db.QueryRowContext(ctx,
		d.Rebind("SELECT COUNT(*) FROM "+migrationTable+" WHERE name = ?"), name).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

// splitStatements drops `--` comment lines and splits on semicolons. The
// migration files never put a semicolon inside a literal.
func splitStatements(content string) []string {
	var kept []string
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "--") {
			continue
		}
		kept = append(kept, line)
	}
	var out []string
	for _, stmt := range strings.Split(strings.Join(kept, "\n"), ";") {
		if s := strings.TrimSpace(stmt); s != "" {
			out = append(out, s)
		}
	}
	return out
}
