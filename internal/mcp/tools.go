package mcp

import (
	"context"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/service"
)

// registerTools registers all Lacuna MCP tools on the given server.
func (s *MCPServer) registerTools(srv *server.MCPServer) {

	// ----- Discovery tools -----

	srv.AddTool(
		mcp.NewTool("lacuna_list_keys",
			mcp.WithDescription(
				"List issued API keys, optionally filtered by owner. Returns each key's "+
					"ID, display prefix, scopes, rate limit, active status, and last use. "+
					"The full secret is never available; only the display prefix is shown.",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("owner_id",
				mcp.Description("Filter keys by owner ID. Omit to list all keys."),
			),
		),
		s.handleListKeys,
	)

	srv.AddTool(
		mcp.NewTool("lacuna_key_usage",
			mcp.WithDescription(
				"Get the usage history for an API key: every recorded call with its "+
					"endpoint, method, status code, and response time, most recent first. "+
					"Use window_days to control how far back to look (default 7).",
			),
			mcp.WithToolAnnotation(readOnlyAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("ID of the API key to inspect"),
			),
			mcp.WithNumber("window_days",
				mcp.Description("Trailing window in days (default 7)"),
			),
		),
		s.handleKeyUsage,
	)

	// ----- Mutation tools -----

	srv.AddTool(
		mcp.NewTool("lacuna_create_key",
			mcp.WithDescription(
				"Issue a new API key for an owner. The plaintext key appears ONCE in "+
					"the response and cannot be recovered afterwards; only its SHA-256 "+
					"digest is stored.\n\n"+
					"Valid scopes: "+strings.Join(scopeStrings(), ", "),
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("owner_id",
				mcp.Required(),
				mcp.Description("ID of the user or service the key belongs to"),
			),
			mcp.WithString("name",
				mcp.Description("Human-readable label for the key (e.g. \"ci-pipeline\")"),
			),
			mcp.WithArray("scopes",
				mcp.Required(),
				mcp.Description("Permission scopes to grant (e.g. [\"papers:read\", \"gaps:read\"])"),
				mcp.WithStringItems(),
			),
			mcp.WithNumber("rate_limit_per_minute",
				mcp.Description("Requests per minute allowance (default 60)"),
			),
			mcp.WithString("expires_at",
				mcp.Description("RFC 3339 expiry timestamp. Omit for a non-expiring key."),
			),
		),
		s.handleCreateKey,
	)

	srv.AddTool(
		mcp.NewTool("lacuna_revoke_key",
			mcp.WithDescription(
				"Revoke an API key by ID. Revocation is immediate and irreversible: "+
					"the key stops validating and cannot be re-activated. The usage "+
					"history is retained.",
			),
			mcp.WithToolAnnotation(mutatingAnnotation()),
			mcp.WithString("key_id",
				mcp.Required(),
				mcp.Description("ID of the API key to revoke"),
			),
		),
		s.handleRevokeKey,
	)
}

// =========================================================================
// Tool handlers
// =========================================================================

// handleListKeys returns issued keys, digests excluded.
func (s *MCPServer) handleListKeys(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	ownerID := optionalString(request, "owner_id")

	creds, err := s.store.ListCredentialsByOwner(ctx, ownerID)
	if err != nil {
		return toolError("Failed to list keys: %v", err)
	}

	items := make([]map[string]interface{}, len(creds))
	for i := range creds {
		items[i] = keyInfo(&creds[i])
	}

	return successJSON(items)
}

// handleKeyUsage returns the usage event log for one key.
func (s *MCPServer) handleKeyUsage(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v. Use lacuna_list_keys to find key IDs.", err)
	}
	windowDays := optionalInt(request, "window_days", 7)
	if windowDays < 1 {
		windowDays = 1
	}

	if _, err := s.store.GetCredential(ctx, keyID); err != nil {
		return toolError("Key %q not found. Use lacuna_list_keys to find key IDs.", keyID)
	}

	events, err := s.usage.Query(ctx, keyID, windowDays)
	if err != nil {
		return toolError("Failed to query usage: %v", err)
	}

	type eventInfo struct {
		Endpoint       string    `json:"endpoint"`
		Method         string    `json:"method"`
		StatusCode     int       `json:"status_code"`
		ResponseTimeMs int64     `json:"response_time_ms"`
		Timestamp      time.Time `json:"timestamp"`
	}

	items := make([]eventInfo, len(events))
	for i, ev := range events {
		items[i] = eventInfo{
			Endpoint:       ev.Endpoint,
			Method:         ev.Method,
			StatusCode:     ev.StatusCode,
			ResponseTimeMs: ev.ResponseTimeMs,
			Timestamp:      ev.Timestamp,
		}
	}

	return successJSON(map[string]interface{}{
		"key_id":      keyID,
		"window_days": windowDays,
		"count":       len(items),
		"events":      items,
	})
}

// handleCreateKey issues a new credential and returns the plaintext once.
func (s *MCPServer) handleCreateKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	ownerID, err := requireString(request, "owner_id")
	if err != nil {
		return toolError("%v", err)
	}
	rawScopes := optionalStringSlice(request, "scopes")
	scopes, err := model.ParseScopes(rawScopes)
	if err != nil {
		return toolError("Invalid scopes: %v\n\nValid scopes: %v", err, scopeStrings())
	}
	if len(scopes) == 0 {
		return toolError("At least one scope is required. Valid scopes: %v", scopeStrings())
	}

	rateLimit := optionalInt(request, "rate_limit_per_minute", 60)
	if rateLimit <= 0 {
		rateLimit = 60
	}

	var expiresAt *time.Time
	if raw := optionalString(request, "expires_at"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return toolError("Invalid expires_at %q: must be RFC 3339 (e.g. 2026-12-31T00:00:00Z)", raw)
		}
		if t.Before(time.Now()) {
			return toolError("expires_at %q is in the past", raw)
		}
		expiresAt = &t
	}

	sec, err := service.GenerateSecret()
	if err != nil {
		return toolError("Failed to generate key: %v", err)
	}

	cred := &model.Credential{
		OwnerID:       ownerID,
		Name:          optionalString(request, "name"),
		Digest:        sec.Digest,
		DisplayPrefix: sec.DisplayPrefix,
		Scopes:        scopes,
		RateLimit:     rateLimit,
		IsActive:      true,
		ExpiresAt:     expiresAt,
	}
	if err := s.store.CreateCredential(ctx, cred); err != nil {
		return toolError("Failed to save key: %v", err)
	}

	info := keyInfo(cred)
	info["api_key"] = sec.Plaintext
	info["warning"] = "Store this key now. It is shown only once and cannot be recovered."
	return successJSON(info)
}

// handleRevokeKey deactivates a credential.
func (s *MCPServer) handleRevokeKey(
	ctx context.Context,
	request mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {

	keyID, err := requireString(request, "key_id")
	if err != nil {
		return toolError("%v. Use lacuna_list_keys to find key IDs.", err)
	}

	if err := s.store.DeactivateCredential(ctx, keyID); err != nil {
		return toolError("Failed to revoke key %q: %v", keyID, err)
	}

	return successJSON(map[string]interface{}{
		"revoked": true,
		"key_id":  keyID,
	})
}

// keyInfo serializes a credential for tool output. No digest, ever.
func keyInfo(c *model.Credential) map[string]interface{} {
	info := map[string]interface{}{
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
		info["expires_at"] = c.ExpiresAt
	}
	if c.LastUsedAt != nil {
		info["last_used_at"] = c.LastUsedAt
	}
	return info
}

func scopeStrings() []string {
	out := make([]string, len(model.AllScopes))
	for i, sc := range model.AllScopes {
		out[i] = string(sc)
	}
	return out
}
