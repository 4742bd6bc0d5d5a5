// Package service composes the identity store, the snapshot cache, the token
// service and the refresh credential store into the login, lookup, refresh,
// logout and delete flows exposed over HTTP.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kanggyeonggu/identity-service/internal/logger"
	"github.com/kanggyeonggu/identity-service/internal/model"
	"github.com/kanggyeonggu/identity-service/internal/queue"
	"github.com/kanggyeonggu/identity-service/internal/repository"
	"github.com/kanggyeonggu/identity-service/internal/token"
	"github.com/kanggyeonggu/identity-service/internal/utils"
)

var (
	// ErrRefreshInvalid is returned for unknown, expired or revoked refresh
	// credentials, and for credentials whose identity can no longer log in.
	ErrRefreshInvalid = errors.New("invalid refresh credential")
	// ErrIdentityDisabled is returned when a disabled identity tries to log in
	// or refresh. Refresh failures wrap it together with ErrRefreshInvalid.
	ErrIdentityDisabled = errors.New("identity disabled")
	// ErrInvalidLogin rejects login requests missing a provider id or name.
	ErrInvalidLogin = errors.New("provider id and display name are required")
)

// lookupTimeout bounds a shared read-through store lookup.
const lookupTimeout = 5 * time.Second

// IdentityStore is the authoritative identity storage.
type IdentityStore interface {
	Upsert(ctx context.Context, provider model.Provider, providerID, displayName string, avatarURL *string) (model.Identity, error)
	FindByID(ctx context.Context, id uint64) (model.Identity, error)
	SoftDelete(ctx context.Context, id uint64) error
	ResetSequence(ctx context.Context) error
}

// IdentityCache is the best-effort snapshot cache.
type IdentityCache interface {
	Get(ctx context.Context, id uint64) (model.Identity, bool)
	Put(ctx context.Context, ident model.Identity) error
	Invalidate(ctx context.Context, id uint64)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	Issue(identityID uint64, displayName string) (token.AccessToken, error)
}

// RefreshStore persists hashed refresh credentials.
type RefreshStore interface {
	StoreRefresh(ctx context.Context, identityID uint64, tokenHash string, exp time.Time) error
	ValidateRefresh(ctx context.Context, tokenHash string) (uint64, error)
	RevokeByHash(ctx context.Context, tokenHash string) error
	ConsumeRefresh(ctx context.Context, tokenHash string) (bool, error)
	RevokeAllForIdentity(ctx context.Context, identityID uint64) error
}

// EventPublisher delivers identity events; failures never affect callers.
type EventPublisher interface {
	Publish(ctx context.Context, ev queue.IdentityEvent) error
}

// LoginRequest is the provider profile produced by the upstream OAuth handshake.
type LoginRequest struct {
	Provider    model.Provider
	ProviderID  string
	DisplayName string
	AvatarURL   *string
}

// LoginResult is returned by Login and Refresh. Refresh is empty when the
// presented credential was kept rather than rotated.
type LoginResult struct {
	Identity    model.Identity
	AccessToken token.AccessToken
	Refresh     utils.RefreshToken
	CacheFailed bool
}

// Options tune a SessionService.
type Options struct {
	RefreshTTL    time.Duration
	RefreshRotate bool
	Events        EventPublisher // nil disables publishing
	Logger        *slog.Logger
	Now           func() time.Time
}

// SessionService orchestrates login and session maintenance.
type SessionService struct {
	store   IdentityStore
	cache   IdentityCache
	tokens  TokenIssuer
	refresh RefreshStore
	opts    Options
	log     *slog.Logger

	lookups singleflight.Group
	pending sync.WaitGroup
}

// NewSessionService wires the collaborators together.
func NewSessionService(store IdentityStore, cache IdentityCache, tokens TokenIssuer, refresh RefreshStore, opts Options) *SessionService {
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 14 * 24 * time.Hour
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &SessionService{
		store:   store,
		cache:   cache,
		tokens:  tokens,
		refresh: refresh,
		opts:    opts,
		log:     logger.OrDiscard(opts.Logger),
	}
}

// Login records a successful provider login and opens a session.
//
// Only a store failure (or failing to sign) aborts the login; the cache write
// is best-effort and a failure there is logged and skipped.
func (s *SessionService) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	if req.ProviderID == "" || req.DisplayName == "" {
		return LoginResult{}, ErrInvalidLogin
	}
	log := s.log.With("provider", string(req.Provider), "provider_id", req.ProviderID)

	s.trace(ctx, log, StateResolvingIdentity)
	ident, err := s.store.Upsert(ctx, req.Provider, req.ProviderID, req.DisplayName, req.AvatarURL)
	if err != nil {
		log.ErrorContext(ctx, "login failed: identity store", "error", err)
		return LoginResult{}, fmt.Errorf("resolve identity: %w", err)
	}
	s.trace(ctx, log, StatePersisting)
	if !ident.Enabled {
		log.WarnContext(ctx, "login refused: identity disabled", "identity_id", ident.ID)
		return LoginResult{}, ErrIdentityDisabled
	}
	created := ident.CreatedAt.Equal(ident.LastLoginAt)

	s.trace(ctx, log, StateCaching)
	res := LoginResult{Identity: ident}
	if err := s.cache.Put(ctx, ident); err != nil {
		res.CacheFailed = true
		s.trace(ctx, log, StateCacheFailed)
	}

	s.trace(ctx, log, StateIssuingToken)
	res.AccessToken, err = s.tokens.Issue(ident.ID, ident.DisplayName)
	if err != nil {
		log.ErrorContext(ctx, "login failed: token issue", "identity_id", ident.ID, "error", err)
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	res.Refresh, err = s.issueRefresh(ctx, ident.ID)
	if err != nil {
		log.ErrorContext(ctx, "login failed: refresh credential", "identity_id", ident.ID, "error", err)
		return LoginResult{}, err
	}

	s.trace(ctx, log, StateDone)
	ev := queue.NewIdentityEvent(queue.EventLogin, ident.ID, string(ident.Provider), ident.DisplayName, s.opts.Now())
	ev.Created = created
	s.publish(ctx, ev)
	log.InfoContext(ctx, "login succeeded", "identity_id", ident.ID, "created", created)
	return res, nil
}

// GetUser resolves an identity through the cache, falling back to the store
// and warming the cache on a store hit. Concurrent misses for the same id
// share one store read.
func (s *SessionService) GetUser(ctx context.Context, id uint64) (model.Identity, error) {
	if ident, ok := s.cache.Get(ctx, id); ok {
		return ident, nil
	}
	v, err, _ := s.lookups.Do(strconv.FormatUint(id, 10), func() (any, error) {
		// shared by every waiter, so not bound to the first caller's deadline
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lookupTimeout)
		defer cancel()
		ident, err := s.store.FindByID(sctx, id)
		if err != nil {
			return model.Identity{}, err
		}
		_ = s.cache.Put(sctx, ident)
		return ident, nil
	})
	if err != nil {
		return model.Identity{}, err
	}
	return v.(model.Identity), nil
}

// Refresh exchanges a raw refresh credential for a new access token. With
// rotation enabled the presented credential is revoked and a new one issued.
func (s *SessionService) Refresh(ctx context.Context, raw string) (LoginResult, error) {
	if raw == "" {
		return LoginResult{}, ErrRefreshInvalid
	}
	hash := utils.HashRefreshRaw(raw)
	id, err := s.refresh.ValidateRefresh(ctx, hash)
	if errors.Is(err, repository.ErrNotFound) {
		return LoginResult{}, ErrRefreshInvalid
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("validate refresh: %w", err)
	}

	ident, err := s.GetUser(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return LoginResult{}, ErrRefreshInvalid
	}
	if err != nil {
		return LoginResult{}, fmt.Errorf("load identity: %w", err)
	}
	if !ident.Active() {
		_ = s.refresh.RevokeAllForIdentity(ctx, ident.ID)
		if ident.Deleted {
			return LoginResult{}, ErrRefreshInvalid
		}
		return LoginResult{}, fmt.Errorf("%w: %w", ErrRefreshInvalid, ErrIdentityDisabled)
	}

	// the consume is the commit point: a credential redeemed concurrently
	// succeeds for exactly one caller
	if s.opts.RefreshRotate {
		ok, err := s.refresh.ConsumeRefresh(ctx, hash)
		if err != nil {
			return LoginResult{}, fmt.Errorf("rotate refresh: %w", err)
		}
		if !ok {
			return LoginResult{}, ErrRefreshInvalid
		}
	}

	res := LoginResult{Identity: ident}
	res.AccessToken, err = s.tokens.Issue(ident.ID, ident.DisplayName)
	if err != nil {
		return LoginResult{}, fmt.Errorf("issue access token: %w", err)
	}
	if s.opts.RefreshRotate {
		if res.Refresh, err = s.issueRefresh(ctx, ident.ID); err != nil {
			return LoginResult{}, err
		}
	}
	return res, nil
}

// Logout revokes a refresh credential. Unknown credentials are ignored.
func (s *SessionService) Logout(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	return s.refresh.RevokeByHash(ctx, utils.HashRefreshRaw(raw))
}

// LogoutAll revokes every refresh credential of an identity, ending its
// sessions on all devices.
func (s *SessionService) LogoutAll(ctx context.Context, identityID uint64) error {
	return s.refresh.RevokeAllForIdentity(ctx, identityID)
}

// DeleteUser soft-deletes an identity, drops its snapshot and ends all of
// its sessions. Sequence housekeeping is deliberately not triggered here.
func (s *SessionService) DeleteUser(ctx context.Context, id uint64) error {
	ident, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SoftDelete(ctx, id); err != nil {
		return err
	}
	s.cache.Invalidate(ctx, id)
	if err := s.refresh.RevokeAllForIdentity(ctx, id); err != nil {
		s.log.WarnContext(ctx, "revoke refresh credentials after delete failed", "identity_id", id, "error", err)
	}
	s.publish(ctx, queue.NewIdentityEvent(queue.EventDeleted, id, string(ident.Provider), ident.DisplayName, s.opts.Now()))
	s.log.InfoContext(ctx, "identity soft-deleted", "identity_id", id)
	return nil
}

// ResetSequence runs the store's id sequence maintenance. Only the
// development tooling calls it.
func (s *SessionService) ResetSequence(ctx context.Context) error {
	return s.store.ResetSequence(ctx)
}

// Wait blocks until in-flight event publications finish.
func (s *SessionService) Wait() { s.pending.Wait() }

func (s *SessionService) issueRefresh(ctx context.Context, identityID uint64) (utils.RefreshToken, error) {
	rt, err := utils.NewRefreshToken(s.opts.Now(), s.opts.RefreshTTL)
	if err != nil {
		return utils.RefreshToken{}, fmt.Errorf("generate refresh credential: %w", err)
	}
	if err := s.refresh.StoreRefresh(ctx, identityID, utils.HashRefreshRaw(rt.Raw), rt.Exp); err != nil {
		return utils.RefreshToken{}, fmt.Errorf("store refresh credential: %w", err)
	}
	return rt, nil
}

func (s *SessionService) publish(ctx context.Context, ev queue.IdentityEvent) {
	if s.opts.Events == nil {
		return
	}
	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.opts.Events.Publish(pctx, ev); err != nil {
			s.log.Warn("identity event not published", "type", ev.Type, "identity_id", ev.IdentityID, "error", err)
		}
	}()
}
