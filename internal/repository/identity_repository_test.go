package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kanggyeonggu/identity-service/internal/database"
	"github.com/kanggyeonggu/identity-service/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func openTestDB(t *testing.T) (*sql.DB, database.Dialect) {
	t.Helper()
	db, d, err := database.OpenSQLite(filepath.Join(t.TempDir(), "identity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, d
}

func newTestIdentityRepo(t *testing.T) (*IdentityRepo, *fakeClock) {
	t.Helper()
	db, d := openTestDB(t)
	clock := &fakeClock{now: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	repo := NewIdentityRepo(db, d)
	repo.Now = clock.Now
	return repo, clock
}

func strPtr(s string) *string { return &s }

func TestIdentityRepo_UpsertCreatesThenUpdates(t *testing.T) {
	repo, clock := newTestIdentityRepo(t)
	ctx := context.Background()

	first, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang", strPtr("https://img/a.png"))
	require.NoError(t, err)
	assert.Equal(t, uint64(1), first.ID)
	assert.True(t, first.Enabled)
	assert.False(t, first.Deleted)
	assert.Equal(t, clock.Now(), first.LastLoginAt)

	clock.Advance(time.Hour)
	second, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang2", nil)
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, model.ProviderKakao, second.Provider)
	assert.Equal(t, "u1", second.ProviderID)
	assert.Equal(t, "Kang2", second.DisplayName)
	assert.Nil(t, second.AvatarURL)
	assert.Equal(t, clock.Now(), second.LastLoginAt)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	stored, err := repo.FindByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Kang2", stored.DisplayName)
	assert.Equal(t, clock.Now(), stored.LastLoginAt)

	n, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestIdentityRepo_UpsertSeparatesProviders(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	ctx := context.Background()

	a, err := repo.Upsert(ctx, model.ProviderKakao, "same", "A", nil)
	require.NoError(t, err)
	b, err := repo.Upsert(ctx, model.ProviderNaver, "same", "B", nil)
	require.NoError(t, err)

	assert.NotEqual(t, a.ID, b.ID)
	assert.Greater(t, b.ID, a.ID)
}

func TestIdentityRepo_UpsertRejectsUnknownProvider(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)

	_, err := repo.Upsert(context.Background(), model.Provider("github"), "u1", "Kang", nil)
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestIdentityRepo_ConcurrentFirstLoginCreatesOneRow(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	ctx := context.Background()

	const callers = 8
	ids := make([]uint64, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			ident, err := repo.Upsert(ctx, model.ProviderGoogle, "race", "Racer", nil)
			ids[i], errs[i] = ident.ID, err
		}(i)
	}
	close(start)
	wg.Wait()

	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, ids[0], ids[i])
	}

	var rows int
	require.NoError(t, repo.DB.QueryRow(
		"SELECT COUNT(*) FROM identities WHERE provider = 'google' AND provider_id = 'race'").Scan(&rows))
	assert.Equal(t, 1, rows)
}

func TestIdentityRepo_UpsertRecoversFromLostInsertRace(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	ctx := context.Background()

	winner, err := repo.Upsert(ctx, model.ProviderKakao, "u9", "Winner", nil)
	require.NoError(t, err)

	// the losing side of a race reaches insert after its lookup missed
	_, err = repo.insert(ctx, model.ProviderKakao, "u9", "Loser", nil, repo.now())
	assert.ErrorIs(t, err, ErrConflict)

	again, err := repo.Upsert(ctx, model.ProviderKakao, "u9", "Loser", nil)
	require.NoError(t, err)
	assert.Equal(t, winner.ID, again.ID)
	assert.Equal(t, "Loser", again.DisplayName)
}

func TestIdentityRepo_SoftDelete(t *testing.T) {
	repo, clock := newTestIdentityRepo(t)
	ctx := context.Background()

	ident, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang", nil)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	require.NoError(t, repo.SoftDelete(ctx, ident.ID))

	n, err := repo.CountActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = repo.FindByProviderAndProviderID(ctx, model.ProviderKakao, "u1", false)
	assert.ErrorIs(t, err, ErrNotFound)

	deleted, err := repo.FindByProviderAndProviderID(ctx, model.ProviderKakao, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, ident.ID, deleted.ID)
	assert.True(t, deleted.Deleted)
	require.NotNil(t, deleted.DeletedAt)
	assert.Equal(t, clock.Now(), *deleted.DeletedAt)

	// second delete finds no live row
	assert.ErrorIs(t, repo.SoftDelete(ctx, ident.ID), ErrNotFound)
}

func TestIdentityRepo_LoginAfterSoftDeleteCreatesNewIdentity(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	ctx := context.Background()

	old, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang", nil)
	require.NoError(t, err)
	require.NoError(t, repo.SoftDelete(ctx, old.ID))

	fresh, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang", nil)
	require.NoError(t, err)
	assert.Greater(t, fresh.ID, old.ID)

	latest, err := repo.FindByProviderAndProviderID(ctx, model.ProviderKakao, "u1", true)
	require.NoError(t, err)
	assert.Equal(t, fresh.ID, latest.ID)
}

func TestIdentityRepo_FindByIDMissing(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)

	_, err := repo.FindByID(context.Background(), 42)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestIdentityRepo_ClosedDatabaseIsUnavailable(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	require.NoError(t, repo.DB.Close())

	_, err := repo.Upsert(context.Background(), model.ProviderKakao, "u1", "Kang", nil)
	assert.ErrorIs(t, err, ErrStoreUnavailable)
}

func TestIdentityRepo_ResetSequence(t *testing.T) {
	repo, _ := newTestIdentityRepo(t)
	ctx := context.Background()

	ident, err := repo.Upsert(ctx, model.ProviderKakao, "u1", "Kang", nil)
	require.NoError(t, err)

	assert.ErrorIs(t, repo.ResetSequence(ctx), ErrActiveIdentities)

	require.NoError(t, repo.SoftDelete(ctx, ident.ID))
	require.NoError(t, repo.ResetSequence(ctx))

	// deleted rows still occupy their ids
	next, err := repo.Upsert(ctx, model.ProviderKakao, "u2", "Lee", nil)
	require.NoError(t, err)
	assert.Greater(t, next.ID, ident.ID)
}
