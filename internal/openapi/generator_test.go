package openapi

import (
	"encoding/json"
	"testing"
)

func TestGenerateBasicStructure(t *testing.T) {
	doc := Generate("http://localhost:8080")

	if doc.OpenAPI != "3.1.0" {
		t.Errorf("openapi version = %q, want 3.1.0", doc.OpenAPI)
	}
	if doc.Info == nil || doc.Info.Title != "Lacuna API" {
		t.Errorf("unexpected info: %+v", doc.Info)
	}
	if len(doc.Servers) != 1 || doc.Servers[0].URL != "http://localhost:8080" {
		t.Errorf("unexpected servers: %+v", doc.Servers)
	}
}

func TestGenerateSecuritySchemes(t *testing.T) {
	doc := Generate("http://localhost:8080")

	apiKey, ok := doc.Components.SecuritySchemes["apiKey"]
	if !ok {
		t.Fatal("missing apiKey security scheme")
	}
	if apiKey.Value.Name != "X-API-Key" || apiKey.Value.In != "header" {
		t.Errorf("unexpected apiKey scheme: %+v", apiKey.Value)
	}

	bearer, ok := doc.Components.SecuritySchemes["bearerAuth"]
	if !ok {
		t.Fatal("missing bearerAuth security scheme")
	}
	if bearer.Value.Scheme != "bearer" || bearer.Value.BearerFormat != "JWT" {
		t.Errorf("unexpected bearerAuth scheme: %+v", bearer.Value)
	}
}

func TestGeneratePaths(t *testing.T) {
	doc := Generate("http://localhost:8080")

	wantPaths := []string{
		"/api/v1/system/key",
		"/api/v1/system/key/{keyId}",
		"/api/v1/system/key/{keyId}/usage",
		"/api/v1/system/admin/session",
		"/api/v1/whoami",
		"/api/v1/usage",
	}
	for _, p := range wantPaths {
		if doc.Paths.Find(p) == nil {
			t.Errorf("missing path %s", p)
		}
	}

	keyItem := doc.Paths.Find("/api/v1/system/key")
	if keyItem.Get == nil || keyItem.Post == nil {
		t.Error("expected GET and POST on /api/v1/system/key")
	}
	idItem := doc.Paths.Find("/api/v1/system/key/{keyId}")
	if idItem.Get == nil || idItem.Patch == nil || idItem.Delete == nil {
		t.Error("expected GET, PATCH, DELETE on /api/v1/system/key/{keyId}")
	}
}

func TestGenerateSchemas(t *testing.T) {
	doc := Generate("http://localhost:8080")

	for _, name := range []string{"ErrorResponse", "APIKey", "APIKeyCreate", "APIKeyCreated", "UsageEvent"} {
		if _, ok := doc.Components.Schemas[name]; !ok {
			t.Errorf("missing component schema %s", name)
		}
	}

	// The created-key schema carries the one-time secret; the plain key
	// schema must not.
	created := doc.Components.Schemas["APIKeyCreated"].Value
	if _, ok := created.Properties["api_key"]; !ok {
		t.Error("APIKeyCreated missing api_key property")
	}
	plain := doc.Components.Schemas["APIKey"].Value
	if _, ok := plain.Properties["api_key"]; ok {
		t.Error("APIKey must not expose api_key")
	}
	if _, ok := plain.Properties["digest"]; ok {
		t.Error("APIKey must not expose digest")
	}
}

func TestGenerateScopeEnum(t *testing.T) {
	doc := Generate("http://localhost:8080")

	create := doc.Components.Schemas["APIKeyCreate"].Value
	scopes := create.Properties["scopes"].Value
	enum := scopes.Items.Value.Enum
	if len(enum) != 6 {
		t.Fatalf("scope enum length = %d, want 6", len(enum))
	}
	found := false
	for _, v := range enum {
		if v == "batch:execute" {
			found = true
		}
	}
	if !found {
		t.Error("scope enum missing batch:execute")
	}
}

func TestGenerateMarshalsToJSON(t *testing.T) {
	doc := Generate("http://localhost:8080")

	b, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal spec: %v", err)
	}
	var round map[string]interface{}
	if err := json.Unmarshal(b, &round); err != nil {
		t.Fatalf("unmarshal spec: %v", err)
	}
	if round["openapi"] != "3.1.0" {
		t.Errorf("round-trip openapi = %v", round["openapi"])
	}
}
