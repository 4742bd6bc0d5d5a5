package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	q := "SELECT id FROM identities WHERE provider = ? AND provider_id = ? AND deleted = ?"

	pg := Dialect{Name: DialectPostgres}
	assert.Equal(t, "SELECT id FROM identities WHERE provider = $1 AND provider_id = $2 AND deleted = $3", pg.Rebind(q))

	my := Dialect{Name: DialectMySQL}
	assert.Equal(t, q, my.Rebind(q))
}

func TestDialectFor(t *testing.T) {
	d, err := DialectFor("postgres")
	require.NoError(t, err)
	assert.Equal(t, "pgx", d.DriverName())

	_, err = DialectFor("oracle")
	assert.Error(t, err)
}

func TestDialect_IsUniqueViolation(t *testing.T) {
	d := Dialect{Name: DialectMySQL}

	assert.True(t, d.IsUniqueViolation(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"}))
	assert.False(t, d.IsUniqueViolation(&mysql.MySQLError{Number: 1205, Message: "Lock wait timeout"}))
	assert.True(t, d.IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.False(t, d.IsUniqueViolation(&pgconn.PgError{Code: "40001"}))
	assert.False(t, d.IsUniqueViolation(errors.New("connection refused")))
	assert.False(t, d.IsUniqueViolation(nil))
}

func TestOpenSQLite_MigratesOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	db, d, err := OpenSQLite(path)
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, d.Name)
	require.NoError(t, db.Close())

	// reopening must not re-run applied files
	db, d, err = OpenSQLite(path)
	require.NoError(t, err)
	defer db.Close()

	var applied int
	require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&applied))
	assert.Equal(t, 2, applied)

	ctx := context.Background()
	_, err = db.ExecContext(ctx,
		"INSERT INTO identities (provider, provider_id, display_name, created_at, last_login_at) VALUES ('kakao','u1','Kang',1,1)")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO identities (provider, provider_id, display_name, created_at, last_login_at) VALUES ('kakao','u1','Kang',1,1)")
	require.Error(t, err)
	assert.True(t, d.IsUniqueViolation(err))

	// a soft-deleted row no longer holds the key
	_, err = db.ExecContext(ctx, "UPDATE identities SET deleted = 1, deleted_at = 2 WHERE provider_id = 'u1'")
	require.NoError(t, err)
	_, err = db.ExecContext(ctx,
		"INSERT INTO identities (provider, provider_id, display_name, created_at, last_login_at) VALUES ('kakao','u1','Kang',3,3)")
	assert.NoError(t, err)
}

func TestSplitStatements(t *testing.T) {
	in := "-- +migrate Up\nCREATE TABLE a (\n  -- note\n  id INT\n);\n\nCREATE INDEX i ON a (id);\n"
	got := splitStatements(in)
	require.Len(t, got, 2)
	assert.Equal(t, "CREATE TABLE a (\n  id INT\n)", got[0])
	assert.Equal(t, "CREATE INDEX i ON a (id)", got[1])
}
