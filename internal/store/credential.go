package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/lacunahq/lacuna/internal/model"
)

// credentialRow maps 1:1 to the credentials table. Scopes and metadata are
// JSON-encoded text columns, so the model's typed fields don't scan directly.
type credentialRow struct {
	ID            string     `db:"id"`
	OwnerID       string     `db:"owner_id"`
	Name          string     `db:"name"`
	Digest        string     `db:"digest"`
	DisplayPrefix string     `db:"display_prefix"`
	ScopesJSON    string     `db:"scopes_json"`
	RateLimit     int        `db:"rate_limit_per_minute"`
	IsActive      bool       `db:"is_active"`
	ExpiresAt     *time.Time `db:"expires_at"`
	LastUsedAt    *time.Time `db:"last_used_at"`
	CreatedAt     time.Time  `db:"created_at"`
	MetadataJSON  string     `db:"metadata_json"`
}

func credentialRowFromModel(c *model.Credential) (credentialRow, error) {
	scopesJSON, err := json.Marshal(c.Scopes.Strings())
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal scopes: %w", err)
	}
	metadata := c.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return credentialRow{}, fmt.Errorf("marshal metadata: %w", err)
	}
	return credentialRow{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		Name:          c.Name,
		Digest:        c.Digest,
		DisplayPrefix: c.DisplayPrefix,
		ScopesJSON:    string(scopesJSON),
		RateLimit:     c.RateLimit,
		IsActive:      c.IsActive,
		ExpiresAt:     c.ExpiresAt,
		LastUsedAt:    c.LastUsedAt,
		CreatedAt:     c.CreatedAt,
		MetadataJSON:  string(metadataJSON),
	}, nil
}

func (r credentialRow) toModel() (model.Credential, error) {
	var rawScopes []string
	if r.ScopesJSON != "" {
		if err := json.Unmarshal([]byte(r.ScopesJSON), &rawScopes); err != nil {
			return model.Credential{}, fmt.Errorf("unmarshal scopes: %w", err)
		}
	}
	// Reject malformed documents rather than trusting the store's shape.
	scopes, err := model.ParseScopes(rawScopes)
	if err != nil {
		return model.Credential{}, fmt.Errorf("credential %s: %w", r.ID, err)
	}

	metadata := map[string]string{}
	if r.MetadataJSON != "" && r.MetadataJSON != "{}" {
		if err := json.Unmarshal([]byte(r.MetadataJSON), &metadata); err != nil {
			return model.Credential{}, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}

	return model.Credential{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Name:          r.Name,
		Digest:        r.Digest,
		DisplayPrefix: r.DisplayPrefix,
		Scopes:        scopes,
		RateLimit:     r.RateLimit,
		IsActive:      r.IsActive,
		ExpiresAt:     r.ExpiresAt,
		LastUsedAt:    r.LastUsedAt,
		CreatedAt:     r.CreatedAt,
		Metadata:      metadata,
	}, nil
}

// CreateCredential inserts a new credential record. The ID and CreatedAt
// fields on c are populated after a successful insert. A digest collision
// returns ErrDuplicateDigest.
func (s *Store) CreateCredential(ctx context.Context, c *model.Credential) error {
	c.ID = uuid.Must(uuid.NewV7()).String()
	c.CreatedAt = time.Now().UTC()

	row, err := credentialRowFromModel(c)
	if err != nil {
		return err
	}

	const q = `INSERT INTO credentials
		(id, owner_id, name, digest, display_prefix, scopes_json,
		 rate_limit_per_minute, is_active, expires_at, last_used_at,
		 created_at, metadata_json)
		VALUES
		(:id, :owner_id, :name, :digest, :display_prefix, :scopes_json,
		 :rate_limit_per_minute, :is_active, :expires_at, :last_used_at,
		 :created_at, :metadata_json)`

	if _, err := s.db.NamedExecContext(ctx, q, row); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateDigest
		}
		return fmt.Errorf("insert credential: %w", err)
	}
	return nil
}

// GetCredential returns a credential by ID, active or not.
func (s *Store) GetCredential(ctx context.Context, id string) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE id = ?")
	if err := s.db.GetContext(ctx, &row, q, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCredentialByDigest looks up an active credential by its SHA-256 digest.
// Revoked credentials are invisible here: lookup is the validation path and
// a revoked key must be indistinguishable from one that never existed.
func (s *Store) GetCredentialByDigest(ctx context.Context, digest string) (*model.Credential, error) {
	var row credentialRow
	q := s.db.Rebind("SELECT * FROM credentials WHERE digest = ? AND is_active = ?")
	if err := s.db.GetContext(ctx, &row, q, digest, true); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get credential by digest: %w", err)
	}
	c, err := row.toModel()
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCredentialsByOwner returns all credentials belonging to an owner,
// newest first. Pass empty string to list every credential.
func (s *Store) ListCredentialsByOwner(ctx context.Context, ownerID string) ([]model.Credential, error) {
	var rows []credentialRow
	var err error
	if ownerID == "" {
		err = s.db.SelectContext(ctx, &rows,
			"SELECT * FROM credentials ORDER BY created_at DESC")
	} else {
		q := s.db.Rebind("SELECT * FROM credentials WHERE owner_id = ? ORDER BY created_at DESC")
		err = s.db.SelectContext(ctx, &rows, q, ownerID)
	}
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}

	out := make([]model.Credential, 0, len(rows))
	for _, r := range rows {
		c, err := r.toModel()
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// UpdateCredential applies a partial update. Nil fields are left unchanged.
// The active flag is deliberately not updatable here; see DeactivateCredential.
func (s *Store) UpdateCredential(ctx context.Context, id string, upd model.CredentialUpdate) error {
	var sets []string
	var args []interface{}

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Scopes != nil {
		scopesJSON, err := json.Marshal(upd.Scopes.Strings())
		if err != nil {
			return fmt.Errorf("marshal scopes: %w", err)
		}
		sets = append(sets, "scopes_json = ?")
		args = append(args, string(scopesJSON))
	}
	if upd.RateLimit != nil {
		sets = append(sets, "rate_limit_per_minute = ?")
		args = append(args, *upd.RateLimit)
	}
	if upd.ExpiresAt != nil {
		sets = append(sets, "expires_at = ?")
		args = append(args, upd.ExpiresAt.UTC())
	}
	if upd.Metadata != nil {
		metadataJSON, err := json.Marshal(upd.Metadata)
		if err != nil {
			return fmt.Errorf("marshal metadata: %w", err)
		}
		sets = append(sets, "metadata_json = ?")
		args = append(args, string(metadataJSON))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	q := s.db.Rebind("UPDATE credentials SET " + strings.Join(sets, ", ") + " WHERE id = ?")

	result, err := s.db.ExecContext(ctx, q, args...)
	if err != nil {
		return fmt.Errorf("update credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeactivateCredential flips a credential to inactive. The write is
// idempotent: deactivating an already-inactive credential is a harmless
// no-op, which is what makes the concurrent lazy-expiry race safe.
func (s *Store) DeactivateCredential(ctx context.Context, id string) error {
	q := s.db.Rebind("UPDATE credentials SET is_active = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, false, id)
	if err != nil {
		return fmt.Errorf("deactivate credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// TouchCredential sets the last_used_at timestamp.
func (s *Store) TouchCredential(ctx context.Context, id string, usedAt time.Time) error {
	q := s.db.Rebind("UPDATE credentials SET last_used_at = ? WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, usedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("touch credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// DeleteCredential hard-removes a credential. Usage events for it are kept;
// they are append-only history.
func (s *Store) DeleteCredential(ctx context.Context, id string) error {
	q := s.db.Rebind("DELETE FROM credentials WHERE id = ?")
	result, err := s.db.ExecContext(ctx, q, id)
	if err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete credential rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
