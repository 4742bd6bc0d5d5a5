package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/kanggyeonggu/identity-service/internal/database"
	"github.com/kanggyeonggu/identity-service/internal/model"
)

// maxUpsertAttempts bounds the lookup/insert loop when concurrent first
// logins for the same key keep colliding.
const maxUpsertAttempts = 3

const identityColumns = "id, provider, provider_id, display_name, avatar_url, created_at, last_login_at, enabled, deleted, deleted_at"

// IdentityRepo persists identities in the `identities` table.
type IdentityRepo struct {
	DB      *sql.DB
	Dialect database.Dialect
	Now     func() time.Time
}

func NewIdentityRepo(db *sql.DB, d database.Dialect) *IdentityRepo {
	return &IdentityRepo{DB: db, Dialect: d, Now: time.Now}
}

// Upsert records a successful login for (provider, providerID). An existing
// live identity gets its display name, avatar and last login refreshed; a
// missing one is created enabled. A unique-key collision with a concurrent
// first login is resolved by looking the winner up again and updating it.
func (r *IdentityRepo) Upsert(ctx context.Context, provider model.Provider, providerID, displayName string, avatarURL *string) (model.Identity, error) {
	if !provider.Valid() {
		return model.Identity{}, ErrInvalidProvider
	}
	if avatarURL != nil && *avatarURL == "" {
		avatarURL = nil
	}
	for attempt := 0; attempt < maxUpsertAttempts; attempt++ {
		now := r.now()

		existing, err := r.FindByProviderAndProviderID(ctx, provider, providerID, false)
		switch {
		case err == nil:
			return r.touchLogin(ctx, existing, displayName, avatarURL, now)
		case !errors.Is(err, ErrNotFound):
			return model.Identity{}, err
		}

		created, err := r.insert(ctx, provider, providerID, displayName, avatarURL, now)
		if errors.Is(err, ErrConflict) {
			continue // someone else inserted first; update their row instead
		}
		return created, err
	}
	return model.Identity{}, fmt.Errorf("upsert identity %s/%s: %w", provider, providerID, ErrConflict)
}

func (r *IdentityRepo) touchLogin(ctx context.Context, ident model.Identity, displayName string, avatarURL *string, now time.Time) (model.Identity, error) {
	_, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"UPDATE identities SET display_name = ?, avatar_url = ?, last_login_at = ? WHERE id = ?"),
		displayName, nullString(avatarURL), now.UnixMilli(), ident.ID)
	if err != nil {
		return model.Identity{}, unavailable("update identity", err)
	}
	ident.DisplayName = displayName
	ident.AvatarURL = avatarURL
	ident.LastLoginAt = fromMillis(now.UnixMilli())
	return ident, nil
}

func (r *IdentityRepo) insert(ctx context.Context, provider model.Provider, providerID, displayName string, avatarURL *string, now time.Time) (model.Identity, error) {
	ms := now.UnixMilli()
	id, err := r.Dialect.InsertID(ctx, r.DB,
		"INSERT INTO identities (provider, provider_id, display_name, avatar_url, created_at, last_login_at, enabled, deleted) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		string(provider), providerID, displayName, nullString(avatarURL), ms, ms, true, false)
	if err != nil {
		if r.Dialect.IsUniqueViolation(err) {
			return model.Identity{}, ErrConflict
		}
		return model.Identity{}, unavailable("insert identity", err)
	}
	return model.Identity{
		ID:          id,
		Provider:    provider,
		ProviderID:  providerID,
		DisplayName: displayName,
		AvatarURL:   avatarURL,
		CreatedAt:   fromMillis(ms),
		LastLoginAt: fromMillis(ms),
		Enabled:     true,
	}, nil
}

// FindByID fetches an identity by id, deleted or not.
func (r *IdentityRepo) FindByID(ctx context.Context, id uint64) (model.Identity, error) {
	row := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(
		"SELECT "+identityColumns+" FROM identities WHERE id = ?"), id)
	return r.scanOne("find identity by id", row)
}

// FindByProviderAndProviderID fetches the live identity for the key. With
// includeDeleted the most recent row is returned even if soft-deleted.
func (r *IdentityRepo) FindByProviderAndProviderID(ctx context.Context, provider model.Provider, providerID string, includeDeleted bool) (model.Identity, error) {
	var row *sql.Row
	if includeDeleted {
		row = r.DB.QueryRowContext(ctx, r.Dialect.Rebind(
			"SELECT "+identityColumns+" FROM identities WHERE provider = ? AND provider_id = ? ORDER BY id DESC LIMIT 1"),
			string(provider), providerID)
	} else {
		row = r.DB.QueryRowContext(ctx, r.Dialect.Rebind(
			"SELECT "+identityColumns+" FROM identities WHERE provider = ? AND provider_id = ? AND deleted = ? LIMIT 1"),
			string(provider), providerID, false)
	}
	return r.scanOne("find identity by provider", row)
}

// SoftDelete marks a live identity deleted. The row stays in place.
func (r *IdentityRepo) SoftDelete(ctx context.Context, id uint64) error {
	res, err := r.DB.ExecContext(ctx, r.Dialect.Rebind(
		"UPDATE identities SET deleted = ?, deleted_at = ? WHERE id = ? AND deleted = ?"),
		true, r.now().UnixMilli(), id, false)
	if err != nil {
		return unavailable("soft delete identity", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("soft delete identity", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountActive returns the number of non-deleted identities.
func (r *IdentityRepo) CountActive(ctx context.Context) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx, r.Dialect.Rebind(
		"SELECT COUNT(*) FROM identities WHERE deleted = ?"), false).Scan(&n)
	if err != nil {
		return 0, unavailable("count identities", err)
	}
	return n, nil
}

// ResetSequence rewinds the identities id counter. It is a maintenance
// operation for development databases and refuses to run while any live
// identity exists. Nothing in the request path calls it.
func (r *IdentityRepo) ResetSequence(ctx context.Context) error {
	n, err := r.CountActive(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("reset identity sequence: %w (%d)", ErrActiveIdentities, n)
	}
	if _, err := r.DB.ExecContext(ctx, r.Dialect.ResetSequenceSQL("identities")); err != nil {
		return unavailable("reset identity sequence", err)
	}
	return nil
}

func (r *IdentityRepo) scanOne(op string, row *sql.Row) (model.Identity, error) {
	var (
		ident     model.Identity
		provider  string
		avatar    sql.NullString
		createdAt int64
		lastLogin int64
		deletedAt sql.NullInt64
	)
	err := row.Scan(&ident.ID, &provider, &ident.ProviderID, &ident.DisplayName, &avatar,
		&createdAt, &lastLogin, &ident.Enabled, &ident.Deleted, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Identity{}, ErrNotFound
	}
	if err != nil {
		return model.Identity{}, unavailable(op, err)
	}
	ident.Provider = model.Provider(provider)
	if avatar.Valid {
		ident.AvatarURL = &avatar.String
	}
	ident.CreatedAt = fromMillis(createdAt)
	ident.LastLoginAt = fromMillis(lastLogin)
	if deletedAt.Valid {
		t := fromMillis(deletedAt.Int64)
		ident.DeletedAt = &t
	}
	return ident, nil
}

func (r *IdentityRepo) now() time.Time {
	if r.Now == nil {
		return time.Now().UTC()
	}
	return r.Now().UTC()
}

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms).UTC() }

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
