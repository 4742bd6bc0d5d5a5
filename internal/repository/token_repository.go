package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/kanggyeonggu/identity-service/internal/database"
)

// TokenRepo persists refresh credentials. Only the SHA-256 hash of the raw
// value is stored (single 'token_hash' column).
type TokenRepo struct {
	DB      *sql.DB
	Dialect database.Dialect
	Now     func() time.Time
}

func NewTokenRepo(db *sql.DB, d database.Dialect) *TokenRepo {
	return &TokenRepo{DB: db, Dialect: d, Now: time.Now}
}

// StoreRefresh inserts a refresh token hash row.
func (r *TokenRepo) StoreRefresh(ctx context.Context, identityID uint64, tokenHash string, exp time.Time) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"INSERT INTO refresh_tokens (identity_id, token_hash, expires_at, created_at) VALUES (?, ?, ?, ?)"),
		identityID, tokenHash, exp.UnixMilli(), r.now().UnixMilli())
	if err != nil {
		return unavailable("store refresh token", err)
	}
	return nil
}

// ValidateRefresh returns the owning identity id if a non-revoked,
// non-expired token exists; ErrNotFound otherwise.
func (r *TokenRepo) ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error) {
	var (
		identityID uint64
		expiresAt  int64
		revokedAt  sql.NullInt64
	)
	err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(
		"SELECT identity_id, expires_at, revoked_at FROM refresh_tokens WHERE token_hash = ? LIMIT 1"),
		tokenHash).Scan(&identityID, &expiresAt, &revokedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, unavailable("validate refresh token", err)
	}
	if revokedAt.Valid || r.now().UnixMilli() >= expiresAt {
		return 0, ErrNotFound
	}
	return identityID, nil
}

// RevokeByHash marks a token as revoked. Revoking an unknown or already
// revoked token is not an error.
func (r *TokenRepo) RevokeByHash(ctx context.Context, tokenHash string) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL"),
		r.now().UnixMilli(), tokenHash)
	if err != nil {
		return unavailable("revoke refresh token", err)
	}
	return nil
}

// ConsumeRefresh revokes a live token and reports whether this call was the
// one that revoked it. Of several concurrent callers presenting the same
// hash at most one gets true.
func (r *TokenRepo) ConsumeRefresh(ctx context.Context, tokenHash string) (bool, error) {
	now := r.now().UnixMilli()
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"UPDATE refresh_tokens SET revoked_at = ? WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?"),
		now, tokenHash, now)
	if err != nil {
		return false, unavailable("consume refresh token", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, unavailable("consume refresh token", err)
	}
	return n == 1, nil
}

// RevokeAllForIdentity revokes every active token of an identity.
func (r *TokenRepo) RevokeAllForIdentity(ctx context.Context, identityID uint64) error {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"UPDATE refresh_tokens SET revoked_at = ? WHERE identity_id = ? AND revoked_at IS NULL"),
		r.now().UnixMilli(), identityID)
	if err != nil {
		return unavailable("revoke refresh tokens", err)
	}
	return nil
}

func (r *TokenRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}
