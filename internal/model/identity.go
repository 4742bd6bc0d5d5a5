package model

import (
	"errors"
	"strings"
	"time"
)

// Provider names the external identity source that authenticated a user.
type Provider string

const (
	ProviderKakao  Provider = "kakao"
	ProviderNaver  Provider = "naver"
	ProviderGoogle Provider = "google"
)

// Providers lists every supported provider in display order.
var Providers = []Provider{ProviderKakao, ProviderNaver, ProviderGoogle}

// ErrUnknownProvider is returned by ParseProvider for names outside Providers.
var ErrUnknownProvider = errors.New("unknown identity provider")

// ParseProvider normalizes s (case and surrounding whitespace) into a Provider.
func ParseProvider(s string) (Provider, error) {
	p := Provider(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", ErrUnknownProvider
	}
	return p, nil
}

// Valid reports whether p is one of the supported providers.
func (p Provider) Valid() bool {
	switch p {
	case ProviderKakao, ProviderNaver, ProviderGoogle:
		return true
	}
	return false
}

// Title returns the human-readable provider name used in user-facing messages.
func (p Provider) Title() string {
	switch p {
	case ProviderKakao:
		return "Kakao"
	case ProviderNaver:
		return "Naver"
	case ProviderGoogle:
		return "Google"
	}
	return string(p)
}

// Identity mirrors one row of the `identities` table: the durable account of
// a single end user, keyed by (provider, provider_id) among non-deleted rows.
//
// Fields:
//
//	ID          - identities.id, assigned on insert and never reused by this service.
//	Provider    - identities.provider.
//	ProviderID  - identities.provider_id, opaque to this service.
//	DisplayName - identities.display_name, overwritten on every login.
//	AvatarURL   - identities.avatar_url (nullable).
//	CreatedAt   - identities.created_at.
//	LastLoginAt - identities.last_login_at.
//	Enabled     - identities.enabled.
//	Deleted     - identities.deleted (soft delete marker).
//	DeletedAt   - identities.deleted_at, set only when Deleted is true.
type Identity struct {
	ID          uint64     `json:"id"`
	Provider    Provider   `json:"provider"`
	ProviderID  string     `json:"providerId"`
	DisplayName string     `json:"displayName"`
	AvatarURL   *string    `json:"avatarUrl,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	LastLoginAt time.Time  `json:"lastLoginAt"`
	Enabled     bool       `json:"enabled"`
	Deleted     bool       `json:"deleted"`
	DeletedAt   *time.Time `json:"deletedAt,omitempty"`
}

// Active reports whether the identity may still authenticate.
func (i Identity) Active() bool { return i.Enabled && !i.Deleted }
