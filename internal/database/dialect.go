package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"
)

const (
	DialectMySQL    = "mysql"
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"
)

// Dialect captures the handful of places where the supported SQL engines
// disagree. Queries are written once with `?` placeholders.
type Dialect struct {
	Name string
}

// DialectFor returns the dialect for a DB_DRIVER value.
func DialectFor(driver string) (Dialect, error) {
	switch driver {
	case DialectMySQL, DialectPostgres, DialectSQLite:
		return Dialect{Name: driver}, nil
	}
	return Dialect{}, fmt.Errorf("unsupported DB_DRIVER %q", driver)
}

// DriverName is the database/sql driver registered for the dialect.
func (d Dialect) DriverName() string {
	if d.Name == DialectPostgres {
		return "pgx"
	}
	return d.Name
}

// Rebind rewrites `?` placeholders into `$n` for PostgreSQL.
func (d Dialect) Rebind(query string) string {
	if d.Name != DialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// InsertID runs an INSERT and returns the generated id column.
func (d Dialect) InsertID(ctx context.Context, db *sql.DB, query string, args ...any) (uint64, error) {
	if d.Name == DialectPostgres {
		var id uint64
		err := db.QueryRowContext(ctx, d.Rebind(query)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// IsUniqueViolation reports whether err is a duplicate-key error.
func (d Dialect) IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == 1062
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *msqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
		// base result codes only say SQLITE_CONSTRAINT; the message names the kind
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unique constraint failed") || strings.Contains(msg, "duplicate entry")
}

// ResetSequenceSQL returns the statement that rewinds the auto-increment
// counter of table to the smallest value that cannot collide with an
// existing row.
func (d Dialect) ResetSequenceSQL(table string) string {
	switch d.Name {
	case DialectMySQL:
		// InnoDB clamps the value to MAX(id)+1
		return "ALTER TABLE " + table + " AUTO_INCREMENT = 1"
	case DialectPostgres:
		return fmt.Sprintf("SELECT setval(pg_get_serial_sequence('%s', 'id'), COALESCE(MAX(id), 0) + 1, false) FROM %s", table, table)
	default:
		return "DELETE FROM sqlite_sequence WHERE name = '" + table + "'"
	}
}
