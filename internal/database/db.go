package database

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"path/filepath"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"github.com/kanggyeonggu/identity-service/internal/config"
)

// Open connects to the configured database, verifies the connection and
// applies the embedded schema migrations for its dialect.
func Open(cfg config.Config) (*sql.DB, Dialect, error) {
	dialect, err := DialectFor(cfg.DBDriver)
	if err != nil {
		return nil, Dialect{}, err
	}
	dsn, err := dsnFor(cfg)
	if err != nil {
		return nil, Dialect{}, err
	}

	db, err := sql.Open(dialect.DriverName(), dsn)
	if err != nil {
		return nil, Dialect{}, fmt.Errorf("open %s: %w", dialect.Name, err)
	}

	// Pool settings
	if dialect.Name == DialectSQLite {
		db.SetMaxOpenConns(4)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	// Ping with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, Dialect{}, fmt.Errorf("ping %s: %w", dialect.Name, err)
	}

	if err := Migrate(ctx, db, dialect); err != nil {
		_ = db.Close()
		return nil, Dialect{}, err
	}
	return db, dialect, nil
}

// OpenSQLite opens (creating if needed) a SQLite database file and migrates it.
// Local development and the test suites use it instead of a server.
func OpenSQLite(path string) (*sql.DB, Dialect, error) {
	return Open(config.Config{DBDriver: DialectSQLite, DBPath: path})
}

func dsnFor(cfg config.Config) (string, error) {
	switch cfg.DBDriver {
	case DialectMySQL:
		auth := cfg.DBUser
		if cfg.DBPass != "" {
			auth = fmt.Sprintf("%s:%s", cfg.DBUser, cfg.DBPass)
		}
		// timestamps are stored as unix millis, so no parseTime here
		return fmt.Sprintf("%s@tcp(%s:%s)/%s?charset=utf8mb4&loc=UTC",
			auth, cfg.DBHost, cfg.DBPort, cfg.DBName), nil
	case DialectPostgres:
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.DBUser, cfg.DBPass),
			Host:     cfg.DBHost + ":" + cfg.DBPort,
			Path:     "/" + cfg.DBName,
			RawQuery: url.Values{"sslmode": {cfg.DBSSLMode}}.Encode(),
		}
		if cfg.DBPass == "" {
			u.User = url.User(cfg.DBUser)
		}
		return u.String(), nil
	case DialectSQLite:
		q := url.Values{}
		q.Add("_pragma", "busy_timeout(5000)")
		q.Add("_pragma", "journal_mode(WAL)")
		q.Add("_pragma", "foreign_keys(1)")
		return filepath.Clean(cfg.DBPath) + "?" + q.Encode(), nil
	}
	return "", fmt.Errorf("unsupported DB_DRIVER %q", cfg.DBDriver)
}
