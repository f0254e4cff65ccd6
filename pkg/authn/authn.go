// Package authn implements InfraLLM's two authentication schemes (spec.md
// §4.9/§6, promoted to its own component by SPEC_FULL.md §4.10): primary
// JWTs issued by this service, and long-lived `infra_`-prefixed API access
// tokens.
//
// The JWT side is grounded on the shape of sammcj-mcp-devtools's
// JWTValidator (internal/oauth/validation/validator.go) — parse with
// claims, validate signing method, check expiry/not-before — adapted from
// RSA/JWKS verification of third-party OAuth tokens down to HS256 with a
// single shared signing secret, since InfraLLM issues its own tokens rather
// than validating someone else's.
package authn

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/infrallm/infrallm/pkg/apperr"
	"github.com/infrallm/infrallm/pkg/store"
)

// AccessTokenPrefix marks a raw credential as a long-lived API token rather
// than a JWT (spec.md §3).
const AccessTokenPrefix = "infra_"

// accessTokenRandomBytes yields 40+ base32 characters after encoding,
// matching spec.md §9's "infra_ + 40+ random base32 chars" token format.
const accessTokenRandomBytes = 25

// DefaultTokenTTL is how long an issued JWT is valid absent an override.
const DefaultTokenTTL = 24 * time.Hour

// AuthMethod records which scheme authenticated a request.
type AuthMethod string

const (
	AuthMethodJWT         AuthMethod = "jwt"
	AuthMethodAccessToken AuthMethod = "access_token"
)

// Claims is the JWT payload InfraLLM issues and verifies: {sub, email,
// org_id} per spec.md §9.
type Claims struct {
	Email          string `json:"email"`
	OrganizationID string `json:"org_id"`
	jwt.RegisteredClaims
}

// Identity is the authenticated principal attached to a request, regardless
// of which scheme produced it.
type Identity struct {
	UserID         string
	Email          string
	OrganizationID string
	AuthMethod     AuthMethod
	AccessTokenID  string // set only when AuthMethod == AuthMethodAccessToken
}

var (
	// ErrMissingCredential is returned when no token was presented.
	ErrMissingCredential = errors.New("authn: no credential presented")
	// ErrInvalidToken is returned for any malformed, unverifiable, expired,
	// or revoked credential, deliberately without detail to avoid leaking
	// which part of the check failed.
	ErrInvalidToken = errors.New("authn: invalid or expired token")
)

// Authenticator issues and verifies JWTs, and verifies AccessTokens against
// store.AccessTokenRepository.
type Authenticator struct {
	secret   []byte
	tokens   store.AccessTokenRepository
	tokenTTL time.Duration
	issuer   string
}

// NewAuthenticator constructs an Authenticator. secret is the HS256 signing
// key shared by every InfraLLM instance issuing/verifying tokens; tokens is
// the repository backing long-lived access tokens.
func NewAuthenticator(secret string, tokens store.AccessTokenRepository) *Authenticator {
	return &Authenticator{
		secret:   []byte(secret),
		tokens:   tokens,
		tokenTTL: DefaultTokenTTL,
		issuer:   "infrallm",
	}
}

// WithTokenTTL overrides the default JWT lifetime.
func (a *Authenticator) WithTokenTTL(ttl time.Duration) *Authenticator {
	a.tokenTTL = ttl
	return a
}

// WithIssuer overrides the "iss" claim minted into issued JWTs (the
// JWT_ISSUER setting in spec.md §4.1).
func (a *Authenticator) WithIssuer(issuer string) *Authenticator {
	a.issuer = issuer
	return a
}

// IssueJWT mints a signed JWT for userID/organizationID, valid for the
// configured TTL.
func (a *Authenticator) IssueJWT(userID, email, organizationID string) (string, error) {
	now := time.Now()
	claims := Claims{
		Email:          email,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    a.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", apperr.Internal("sign jwt", err)
	}
	return signed, nil
}

// VerifyJWT parses and validates a JWT, returning the Identity it encodes.
func (a *Authenticator) VerifyJWT(tokenString string) (*Identity, error) {
	if tokenString == "" {
		return nil, ErrMissingCredential
	}

	parsed, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}

	return &Identity{
		UserID:         claims.Subject,
		Email:          claims.Email,
		OrganizationID: claims.OrganizationID,
		AuthMethod:     AuthMethodJWT,
	}, nil
}

// IssueAccessToken generates a new infra_-prefixed raw token, persists its
// hash, and returns the raw value — the only time it is ever visible.
func (a *Authenticator) IssueAccessToken(ctx context.Context, id, organizationID, userID, name string, expiresAt *time.Time) (raw string, err error) {
	raw, err = generateAccessToken()
	if err != nil {
		return "", apperr.Internal("generate access token", err)
	}

	t := &store.AccessToken{
		ID:             id,
		OrganizationID: organizationID,
		UserID:         userID,
		Name:           name,
		TokenHash:      HashAccessToken(raw),
		ExpiresAt:      expiresAt,
		IsActive:       true,
		CreatedAt:      time.Now(),
	}
	if err := a.tokens.Create(ctx, t); err != nil {
		return "", apperr.Wrap(apperr.KindInternal, "persist access token", err)
	}
	return raw, nil
}

// VerifyAccessToken looks up raw by its hash, rejecting revoked or expired
// tokens, and asynchronously records the use.
func (a *Authenticator) VerifyAccessToken(ctx context.Context, raw string) (*Identity, error) {
	if !strings.HasPrefix(raw, AccessTokenPrefix) {
		return nil, ErrInvalidToken
	}

	t, err := a.tokens.GetByHash(ctx, HashAccessToken(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !t.IsActive {
		return nil, ErrInvalidToken
	}
	if t.ExpiresAt != nil && t.ExpiresAt.Before(time.Now()) {
		return nil, ErrInvalidToken
	}

	// lastUsedAt is best-effort bookkeeping, not part of the auth decision;
	// update it off the request path so a slow store never adds latency here.
	go func(id string) {
		_ = a.tokens.TouchLastUsed(context.Background(), id)
	}(t.ID)

	return &Identity{
		UserID:         t.UserID,
		OrganizationID: t.OrganizationID,
		AuthMethod:     AuthMethodAccessToken,
		AccessTokenID:  t.ID,
	}, nil
}

// Authenticate dispatches to VerifyJWT or VerifyAccessToken by the
// credential's shape: an infra_-prefixed raw value is an access token,
// anything else is tried as a JWT. credential is whatever a transport
// adapter (e.g. pkg/api's gin middleware) extracted from the header or
// query string, per the precedence order in spec.md §4.9.
func (a *Authenticator) Authenticate(ctx context.Context, credential string) (*Identity, error) {
	if credential == "" {
		return nil, ErrMissingCredential
	}
	if strings.HasPrefix(credential, AccessTokenPrefix) {
		return a.VerifyAccessToken(ctx, credential)
	}
	return a.VerifyJWT(credential)
}

// HashAccessToken returns the hex-encoded SHA-256 digest of a raw access
// token. Raw tokens are never persisted or logged; only this hash is.
func HashAccessToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// ExtractCredential applies spec.md §4.9's precedence to pull a raw
// credential out of a request's auth-bearing fields: X-API-Key header,
// then Authorization: Bearer (JWT or infra_ access token), then
// ?api_key=, then ?access_token=. Transport adapters (pkg/api's gin
// middleware, the WebSocket upgrade handler) supply the already-extracted
// strings so this package stays free of any HTTP framework dependency.
func ExtractCredential(apiKeyHeader, authorizationHeader, apiKeyQuery, accessTokenQuery string) string {
	if apiKeyHeader != "" {
		return apiKeyHeader
	}
	if authorizationHeader != "" {
		if rest, ok := strings.CutPrefix(authorizationHeader, "Bearer "); ok {
			return rest
		}
	}
	if apiKeyQuery != "" {
		return apiKeyQuery
	}
	return accessTokenQuery
}

func generateAccessToken() (string, error) {
	buf := make([]byte, accessTokenRandomBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	suffix := base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
	return AccessTokenPrefix + suffix, nil
}
