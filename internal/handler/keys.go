package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/service"
	"github.com/lacunahq/lacuna/internal/store"
)

// KeysHandler manages API credentials and their usage history.
type KeysHandler struct {
	store *store.Store
	usage *service.UsageService
}

// NewKeysHandler creates a new KeysHandler.
func NewKeysHandler(st *store.Store, usage *service.UsageService) *KeysHandler {
	return &KeysHandler{
		store: st,
		usage: usage,
	}
}

// ListKeys returns credentials, optionally filtered by owner, without ever
// exposing digests.
// GET /api/v1/system/key?owner_id=...
func (h *KeysHandler) ListKeys(w http.ResponseWriter, r *http.Request) {
	creds, err := h.store.ListCredentialsByOwner(r.Context(), queryString(r, "owner_id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list keys: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(creds))
	for i := range creds {
		resources = append(resources, credentialToMap(&creds[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// createKeyRequest is the expected payload for CreateKey.
type createKeyRequest struct {
	OwnerID   string            `json:"owner_id"`
	Name      string            `json:"name"`
	Scopes    []string          `json:"scopes"`
	RateLimit int               `json:"rate_limit_per_minute"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// createKeyResponse includes the plaintext key (shown once only).
type createKeyResponse struct {
	ID            string            `json:"id"`
	Key           string            `json:"api_key"` // Plaintext, shown ONCE.
	DisplayPrefix string            `json:"display_prefix"`
	OwnerID       string            `json:"owner_id"`
	Name          string            `json:"name"`
	Scopes        []string          `json:"scopes"`
	RateLimit     int               `json:"rate_limit_per_minute"`
	IsActive      bool              `json:"is_active"`
	ExpiresAt     *time.Time        `json:"expires_at,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateKey generates a new secret, stores only its digest, and returns the
// plaintext exactly once.
// POST /api/v1/system/key
func (h *KeysHandler) CreateKey(w http.ResponseWriter, r *http.Request) {
	var req createKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if req.OwnerID == "" {
		writeError(w, http.StatusBadRequest, "owner_id is required")
		return
	}
	scopes, err := model.ParseScopes(req.Scopes)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid scopes: "+err.Error())
		return
	}
	if req.RateLimit <= 0 {
		req.RateLimit = 60
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		writeError(w, http.StatusBadRequest, "expires_at must be in the future")
		return
	}

	sec, err := service.GenerateSecret()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to generate key: "+err.Error())
		return
	}

	cred := &model.Credential{
		OwnerID:       req.OwnerID,
		Name:          req.Name,
		Digest:        sec.Digest,
		DisplayPrefix: sec.DisplayPrefix,
		Scopes:        scopes,
		RateLimit:     req.RateLimit,
		IsActive:      true,
		ExpiresAt:     req.ExpiresAt,
		Metadata:      req.Metadata,
	}
	if err := h.store.CreateCredential(r.Context(), cred); err != nil {
		if errors.Is(err, store.ErrDuplicateDigest) {
			// 256 bits of entropy make this unreachable in practice.
			writeError(w, http.StatusConflict, "Digest collision, retry key creation")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to save key: "+err.Error())
		return
	}

	// Return the plaintext key. This is the ONLY time it is visible.
	writeJSON(w, http.StatusCreated, createKeyResponse{
		ID:            cred.ID,
		Key:           sec.Plaintext,
		DisplayPrefix: cred.DisplayPrefix,
		OwnerID:       cred.OwnerID,
		Name:          cred.Name,
		Scopes:        cred.Scopes.Strings(),
		RateLimit:     cred.RateLimit,
		IsActive:      cred.IsActive,
		ExpiresAt:     cred.ExpiresAt,
		CreatedAt:     cred.CreatedAt,
		Metadata:      cred.Metadata,
	})
}

// GetKey returns a single credential by ID.
// GET /api/v1/system/key/{keyId}
func (h *KeysHandler) GetKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")
	cred, err := h.store.GetCredential(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, credentialToMap(cred))
}

// updateKeyRequest is the expected payload for UpdateKey. Absent fields are
// left unchanged. There is no way to re-activate a revoked key.
type updateKeyRequest struct {
	Name      *string           `json:"name,omitempty"`
	Scopes    []string          `json:"scopes,omitempty"`
	RateLimit *int              `json:"rate_limit_per_minute,omitempty"`
	ExpiresAt *time.Time        `json:"expires_at,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// UpdateKey applies a partial update to a credential.
// PATCH /api/v1/system/key/{keyId}
func (h *KeysHandler) UpdateKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")

	var req updateKeyRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	upd := model.CredentialUpdate{
		Name:      req.Name,
		RateLimit: req.RateLimit,
		ExpiresAt: req.ExpiresAt,
		Metadata:  req.Metadata,
	}
	if req.Scopes != nil {
		scopes, err := model.ParseScopes(req.Scopes)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid scopes: "+err.Error())
			return
		}
		upd.Scopes = &scopes
	}

	if err := h.store.UpdateCredential(r.Context(), id, upd); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to update key: "+err.Error())
		return
	}

	cred, err := h.store.GetCredential(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload key: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, credentialToMap(cred))
}

// RevokeKey deactivates a credential. Revocation is irreversible by policy.
// With ?permanent=true the record is hard-deleted instead.
// DELETE /api/v1/system/key/{keyId}
func (h *KeysHandler) RevokeKey(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")

	var err error
	action := "revoked"
	if queryBool(r, "permanent") {
		err = h.store.DeleteCredential(r.Context(), id)
		action = "deleted"
	} else {
		err = h.store.DeactivateCredential(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke key: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "API key " + action,
	})
}

// KeyUsage returns the credential's usage events from the trailing window
// (default 7 days), most recent first, plus a requests-in-the-last-minute
// figure derived from the same event log.
// GET /api/v1/system/key/{keyId}/usage?window_days=7
func (h *KeysHandler) KeyUsage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "keyId")

	if _, err := h.store.GetCredential(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Key not found: "+id)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to get key: "+err.Error())
		return
	}

	windowDays := queryInt(r, "window_days", 7)
	if windowDays < 1 {
		windowDays = 1
	}

	events, err := h.usage.Query(r.Context(), id, windowDays)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query usage: "+err.Error())
		return
	}
	lastMinute, err := h.usage.CountSince(r.Context(), id, time.Minute)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to count usage: "+err.Error())
		return
	}

	resources := make([]map[string]interface{}, 0, len(events))
	for _, ev := range events {
		resources = append(resources, map[string]interface{}{
			"id":               ev.ID,
			"endpoint":         ev.Endpoint,
			"method":           ev.Method,
			"status_code":      ev.StatusCode,
			"response_time_ms": ev.ResponseTimeMs,
			"timestamp":        ev.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"resource": resources,
		"meta": map[string]interface{}{
			"count":                len(resources),
			"window_days":          windowDays,
			"requests_last_minute": lastMinute,
		},
	})
}

// credentialToMap serializes a credential for API responses. The digest is
// structurally absent, not masked.
func credentialToMap(c *model.Credential) map[string]interface{} {
	m := map[string]interface{}{
		"id":                    c.ID,
		"owner_id":              c.OwnerID,
		"name":                  c.Name,
		"display_prefix":        c.DisplayPrefix,
		"scopes":                c.Scopes.Strings(),
		"rate_limit_per_minute": c.RateLimit,
		"is_active":             c.IsActive,
		"created_at":            c.CreatedAt,
	}
	if c.ExpiresAt != nil {
		m["expires_at"] = c.ExpiresAt
	}
	if c.LastUsedAt != nil {
		m["last_used_at"] = c.LastUsedAt
	}
	if len(c.Metadata) > 0 {
		m["metadata"] = c.Metadata
	}
	return m
}
