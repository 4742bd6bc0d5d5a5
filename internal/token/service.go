// Package token issues and verifies the HS256 access tokens handed to
// browsers after login. Tokens are self-contained: verification needs only
// the shared secret, never a server-side lookup.
package token

import (
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken covers every verification failure: bad signature,
// malformed structure, wrong algorithm, expiry. Callers answer 401.
var ErrInvalidToken = errors.New("invalid token")

// ErrSecretTooShort is returned when the HMAC secret is under 32 bytes.
var ErrSecretTooShort = errors.New("jwt secret must be at least 32 bytes")

// Claims carried by an access token. Subject holds the identity id in
// decimal form; ID repeats it as a number for clients.
type Claims struct {
	ID          uint64 `json:"id"`
	DisplayName string `json:"displayName"`
	jwt.RegisteredClaims
}

// AccessToken is a signed token and its expiry.
type AccessToken struct {
	Token     string
	ExpiresAt time.Time
}

// Service signs and verifies access tokens with one symmetric key.
type Service struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithIssuer sets the iss claim and requires it on verification.
func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithClock replaces time.Now for issuing and expiry checks.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService builds a Service issuing tokens valid for ttl.
func NewService(secret string, ttl time.Duration, opts ...Option) (*Service, error) {
	if len(secret) < 32 {
		return nil, ErrSecretTooShort
	}
	if ttl <= 0 {
		return nil, errors.New("token ttl must be positive")
	}
	s := &Service{secret: []byte(secret), ttl: ttl, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// TTL reports the configured validity window.
func (s *Service) TTL() time.Duration { return s.ttl }

// Issue signs a token for identityID valid from now for the configured window.
func (s *Service) Issue(identityID uint64, displayName string) (AccessToken, error) {
	// JWT dates have second precision
	now := s.now().UTC().Truncate(time.Second)
	exp := now.Add(s.ttl)
	claims := Claims{
		ID:          identityID,
		DisplayName: displayName,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   strconv.FormatUint(identityID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, ExpiresAt: exp}, nil
}

// Verify checks signature, algorithm, expiry and subject, and returns the
// claims. Every failure is ErrInvalidToken.
func (s *Service) Verify(raw string) (*Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
	}
	if s.issuer != "" {
		opts = append(opts, jwt.WithIssuer(s.issuer))
	}
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	}, opts...)
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	if id, err := ExtractIdentityID(claims); err != nil || id != claims.ID {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// ExtractIdentityID reads the identity id from the subject of claims that
// Verify already accepted.
func ExtractIdentityID(claims *Claims) (uint64, error) {
	if claims == nil {
		return 0, ErrInvalidToken
	}
	id, err := strconv.ParseUint(claims.Subject, 10, 64)
	if err != nil || id == 0 {
		return 0, ErrInvalidToken
	}
	return id, nil
}

// IdentityIDFromToken verifies raw and returns its identity id.
func (s *Service) IdentityIDFromToken(raw string) (uint64, error) {
	claims, err := s.Verify(raw)
	if err != nil {
		return 0, err
	}
	return ExtractIdentityID(claims)
}
