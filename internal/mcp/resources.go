package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/lacunahq/lacuna/internal/model"
)

// registerResources adds MCP resource definitions to the server. Resources
// provide read-only data that LLM clients can load into their context.
func (s *MCPServer) registerResources(srv *server.MCPServer) {

	// -------------------------------------------------------------------
	// lacuna://scopes: the scope vocabulary
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"lacuna://scopes",
			"API Key Scope Vocabulary",
			mcp.WithResourceDescription(
				"The fixed set of permission scopes that can be granted to "+
					"API keys, with a description of what each one allows.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleScopesResource,
	)

	// -------------------------------------------------------------------
	// lacuna://keys: list of issued API keys
	// -------------------------------------------------------------------
	srv.AddResource(
		mcp.NewResource(
			"lacuna://keys",
			"Issued API Keys",
			mcp.WithResourceDescription(
				"List of all issued API keys with their display prefixes, "+
					"scopes, rate limits, and lifecycle state. Secrets are not included.",
			),
			mcp.WithMIMEType("application/json"),
		),
		s.handleKeysResource,
	)
}

// scopeDescriptions maps each scope to a one-line summary for LLM clients.
var scopeDescriptions = map[model.Scope]string{
	model.ScopePapersRead:    "Read indexed papers and their metadata",
	model.ScopePapersWrite:   "Submit and annotate papers",
	model.ScopeGapsRead:      "Read identified research gaps",
	model.ScopeGapsWrite:     "Create and update research gap records",
	model.ScopeBatchExecute:  "Run batch mining and analysis jobs",
	model.ScopeAnalyticsRead: "Read aggregated analytics and trends",
}

// handleScopesResource returns the scope vocabulary as JSON.
func (s *MCPServer) handleScopesResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	type scopeInfo struct {
		Scope       string `json:"scope"`
		Description string `json:"description"`
	}

	items := make([]scopeInfo, len(model.AllScopes))
	for i, sc := range model.AllScopes {
		items[i] = scopeInfo{
			Scope:       string(sc),
			Description: scopeDescriptions[sc],
		}
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal scopes: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "lacuna://scopes",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}

// handleKeysResource returns a JSON list of all issued keys.
func (s *MCPServer) handleKeysResource(
	ctx context.Context,
	request mcp.ReadResourceRequest,
) ([]mcp.ResourceContents, error) {

	creds, err := s.store.ListCredentialsByOwner(ctx, "")
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}

	items := make([]map[string]interface{}, len(creds))
	for i := range creds {
		items[i] = keyInfo(&creds[i])
	}

	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal keys: %w", err)
	}

	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      "lacuna://keys",
			MIMEType: "application/json",
			Text:     string(b),
		},
	}, nil
}
