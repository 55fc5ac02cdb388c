package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/store"
)

// Denial reasons for API key validation. The HTTP layer maps these to
// responses; callers distinguish authentication failures (malformed,
// invalid, expired) from the authorization failure (insufficient scope) and
// from infrastructure faults (store unavailable).
var (
	// ErrMalformedKey means the presented string does not even look like a
	// Lacuna key. No store lookup is performed for these.
	ErrMalformedKey = errors.New("malformed api key")

	// ErrInvalidCredentials means the digest matched no active credential.
	// Revoked, deleted, and never-issued keys are deliberately
	// indistinguishable to prevent enumeration.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrKeyExpired means the credential's expiry has passed. Detection
	// also deactivates the record (lazy revocation).
	ErrKeyExpired = errors.New("api key expired")

	// ErrInsufficientScope means the credential is valid but lacks the
	// required permission. The credential stays active and untouched.
	ErrInsufficientScope = errors.New("insufficient scope")

	// ErrStoreUnavailable wraps store I/O faults. These must surface as
	// 5xx-equivalents and never be cached as a negative validation result.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// CredentialStore is what the validator needs from the credential store.
// *store.Store satisfies it; tests substitute fakes.
type CredentialStore interface {
	GetCredentialByDigest(ctx context.Context, digest string) (*model.Credential, error)
	DeactivateCredential(ctx context.Context, id string) error
	TouchCredential(ctx context.Context, id string, usedAt time.Time) error
}

// AuthService validates presented API keys against stored digests and issues
// JWT session tokens for dashboard admins.
type AuthService struct {
	creds     CredentialStore
	jwtSecret []byte
	logger    *slog.Logger
}

// NewAuthService creates an AuthService. The logger is used only for
// bookkeeping-write failures that must not affect validation outcomes.
func NewAuthService(creds CredentialStore, jwtSecret string, logger *slog.Logger) *AuthService {
	return &AuthService{
		creds:     creds,
		jwtSecret: []byte(jwtSecret),
		logger:    logger,
	}
}

// ValidateAPIKey resolves a presented secret to its credential and applies
// lifecycle and scope checks, in order: malformed, not found, expired,
// insufficient scope. Pass an empty requiredScope to skip the scope check.
//
// On success the credential's last_used_at is updated and the credential is
// returned. An expired credential is deactivated on first detection; a
// concurrent validation may race that write, which is safe because
// deactivation is idempotent.
func (s *AuthService) ValidateAPIKey(ctx context.Context, rawKey string, requiredScope model.Scope) (*model.Credential, error) {
	// Cheap shape check first: skips the hash and the store round-trip for
	// obviously invalid input.
	if !strings.HasPrefix(rawKey, SecretPrefix) {
		return nil, ErrMalformedKey
	}

	digest := HashSecret(rawKey)

	cred, err := s.creds.GetCredentialByDigest(ctx, digest)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	now := time.Now().UTC()

	if cred.Expired(now) {
		// Lazy revocation: the expired key is deactivated on its first
		// post-expiry use instead of by a background sweep. The denial is
		// correct whether or not the write lands, so a failed write is
		// logged rather than surfaced.
		if err := s.creds.DeactivateCredential(ctx, cred.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			s.logger.Error("failed to deactivate expired credential",
				"credential_id", cred.ID, "error", err)
		}
		return nil, ErrKeyExpired
	}

	if requiredScope != "" && !cred.Scopes.Has(requiredScope) {
		return nil, ErrInsufficientScope
	}

	if err := s.creds.TouchCredential(ctx, cred.ID, now); err != nil {
		// Bookkeeping only; a valid credential is not denied because the
		// last-used write failed.
		s.logger.Error("failed to update credential last used",
			"credential_id", cred.ID, "error", err)
	} else {
		cred.LastUsedAt = &now
	}

	return cred, nil
}

// ---------------------------------------------------------------------------
// Admin JWT sessions
// ---------------------------------------------------------------------------

// JWTPrincipal identifies the admin behind a validated session token.
type JWTPrincipal struct {
	AdminID string
	Email   string
}

// ValidateJWT verifies a JWT bearer token and returns the associated admin
// identity.
func (s *AuthService) ValidateJWT(ctx context.Context, tokenStr string) (*JWTPrincipal, error) {
	claims := &jwtClaims{}

	token, err := jwt.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return s.jwtSecret, nil
	})
	if err != nil || !token.Valid {
		return nil, ErrInvalidCredentials
	}

	return &JWTPrincipal{
		AdminID: claims.AdminID,
		Email:   claims.Email,
	}, nil
}

// IssueJWT creates a new signed session token for the given admin.
func (s *AuthService) IssueJWT(ctx context.Context, adminID, email string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwtClaims{
		AdminID: adminID,
		Email:   email,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "lacuna",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.jwtSecret)
}

type jwtClaims struct {
	AdminID string `json:"admin_id"`
	Email   string `json:"email"`
	jwt.RegisteredClaims
}
