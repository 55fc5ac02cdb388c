package model

import "time"

// Credential represents an issued API key. The raw secret is never stored;
// only a SHA-256 digest and a short display prefix for identification are
// persisted. There is deliberately no plaintext field on this type.
type Credential struct {
	ID            string            `json:"id" db:"id"`
	OwnerID       string            `json:"owner_id" db:"owner_id"`
	Name          string            `json:"name" db:"name"`
	Digest        string            `json:"-" db:"digest"` // SHA-256 hex, never expose
	DisplayPrefix string            `json:"display_prefix" db:"display_prefix"`
	Scopes        ScopeSet          `json:"scopes"`
	RateLimit     int               `json:"rate_limit_per_minute" db:"rate_limit_per_minute"`
	IsActive      bool              `json:"is_active" db:"is_active"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty" db:"expires_at"`
	LastUsedAt    *time.Time        `json:"last_used_at,omitempty" db:"last_used_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// Expired reports whether the credential's expiry, if set, is before now.
// A nil ExpiresAt means the credential never expires.
func (c *Credential) Expired(now time.Time) bool {
	return c.ExpiresAt != nil && c.ExpiresAt.Before(now)
}

// CredentialUpdate describes a partial update to a credential. Nil fields are
// left unchanged. Deactivation is monotonic: an update can never flip a
// revoked credential back to active, so there is no IsActive field here.
type CredentialUpdate struct {
	Name      *string
	Scopes    *ScopeSet
	RateLimit *int
	ExpiresAt *time.Time
	Metadata  map[string]string
}

// Scope is a single permission token from the fixed vocabulary below.
type Scope string

// The scope vocabulary. Read/write per resource category, plus batch
// execution and analytics access.
const (
	ScopePapersRead    Scope = "papers:read"
	ScopePapersWrite   Scope = "papers:write"
	ScopeGapsRead      Scope = "gaps:read"
	ScopeGapsWrite     Scope = "gaps:write"
	ScopeBatchExecute  Scope = "batch:execute"
	ScopeAnalyticsRead Scope = "analytics:read"
)

// AllScopes lists every valid scope token, in display order.
var AllScopes = []Scope{
	ScopePapersRead,
	ScopePapersWrite,
	ScopeGapsRead,
	ScopeGapsWrite,
	ScopeBatchExecute,
	ScopeAnalyticsRead,
}

// Valid reports whether s is part of the scope vocabulary.
func (s Scope) Valid() bool {
	for _, known := range AllScopes {
		if s == known {
			return true
		}
	}
	return false
}

// ScopeSet is the set of scopes attached to a credential.
type ScopeSet []Scope

// Has reports whether the set contains the given scope.
func (ss ScopeSet) Has(scope Scope) bool {
	for _, s := range ss {
		if s == scope {
			return true
		}
	}
	return false
}

// Strings returns the set as plain strings, for JSON storage and display.
func (ss ScopeSet) Strings() []string {
	out := make([]string, len(ss))
	for i, s := range ss {
		out[i] = string(s)
	}
	return out
}

// ParseScopes converts raw tokens into a ScopeSet, rejecting any token
// outside the vocabulary. Duplicates are collapsed.
func ParseScopes(raw []string) (ScopeSet, error) {
	set := make(ScopeSet, 0, len(raw))
	for _, r := range raw {
		s := Scope(r)
		if !s.Valid() {
			return nil, &UnknownScopeError{Token: r}
		}
		if !set.Has(s) {
			set = append(set, s)
		}
	}
	return set, nil
}

// UnknownScopeError is returned by ParseScopes for tokens outside the
// vocabulary.
type UnknownScopeError struct {
	Token string
}

func (e *UnknownScopeError) Error() string {
	return "unknown scope " + e.Token
}
