package openapi

import (
	"github.com/getkin/kin-openapi/openapi3"

	"github.com/lacunahq/lacuna/internal/model"
)

// Generate builds the OpenAPI 3.1 document for the Lacuna API. The surface is
// fixed (key management, usage metering, admin sessions, whoami), so the
// document is assembled statically rather than derived from runtime state.
func Generate(baseURL string) *openapi3.T {
	doc := &openapi3.T{
		OpenAPI: "3.1.0",
		Info: &openapi3.Info{
			Title:       "Lacuna API",
			Description: "API key issuance, validation, and usage metering for the Lacuna research-gap mining platform.",
			Version:     "1.0.0",
		},
		Servers: openapi3.Servers{
			{URL: baseURL},
		},
	}

	components := openapi3.NewComponents()
	components.Schemas = openapi3.Schemas{}
	components.SecuritySchemes = openapi3.SecuritySchemes{}
	doc.Components = &components

	doc.Components.SecuritySchemes["apiKey"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type: "apiKey",
			In:   "header",
			Name: "X-API-Key",
		},
	}
	doc.Components.SecuritySchemes["bearerAuth"] = &openapi3.SecuritySchemeRef{
		Value: &openapi3.SecurityScheme{
			Type:         "http",
			Scheme:       "bearer",
			BearerFormat: "JWT",
		},
	}

	doc.Security = openapi3.SecurityRequirements{
		{"apiKey": {}},
		{"bearerAuth": {}},
	}

	doc.Paths = openapi3.NewPaths()

	doc.Components.Schemas["ErrorResponse"] = errorResponseSchema()
	doc.Components.Schemas["APIKey"] = apiKeySchema()
	doc.Components.Schemas["APIKeyCreate"] = apiKeyCreateSchema()
	doc.Components.Schemas["APIKeyCreated"] = apiKeyCreatedSchema()
	doc.Components.Schemas["UsageEvent"] = usageEventSchema()

	addKeyPaths(doc)
	addUsagePaths(doc)
	addSessionPaths(doc)
	addWhoAmIPath(doc)

	return doc
}

// ─── Path Builders ──────────────────────────────────────────────────────────

func addKeyPaths(doc *openapi3.T) {
	keyRef := openapi3.NewSchemaRef("#/components/schemas/APIKey", nil)
	createRef := openapi3.NewSchemaRef("#/components/schemas/APIKeyCreate", nil)
	createdRef := openapi3.NewSchemaRef("#/components/schemas/APIKeyCreated", nil)

	listResponseSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: keyRef,
					},
				},
				"meta": metaSchema(),
			},
		},
	}

	ownerParam := openapi3.NewQueryParameter("owner_id").
		WithDescription("Filter keys by owner ID.").
		WithSchema(openapi3.NewStringSchema())

	doc.Paths.Set("/api/v1/system/key", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "List API keys",
			Description: "List issued API keys. Secrets are never returned; keys are identified by their display prefix.",
			OperationID: "list_keys",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: ownerParam},
			},
			Responses: newResponses("200", "List of API keys", listResponseSchema),
		},
		Post: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Create an API key",
			Description: "Issue a new API key. The plaintext secret appears once in the response and cannot be recovered afterwards.",
			OperationID: "create_key",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Description: "Key parameters",
					Required:    true,
					Content:     openapi3.NewContentWithJSONSchemaRef(createRef),
				},
			},
			Responses: newResponses("201", "The created key, including its one-time plaintext secret", createdRef),
		},
	})

	keyIDParam := openapi3.NewPathParameter("keyId").
		WithDescription("API key ID.").
		WithSchema(openapi3.NewStringSchema())
	keyIDParams := openapi3.Parameters{
		&openapi3.ParameterRef{Value: keyIDParam},
	}

	permanentParam := openapi3.NewQueryParameter("permanent").
		WithDescription("Hard-delete the record instead of revoking it (\"true\" to enable).").
		WithSchema(&openapi3.Schema{Type: &openapi3.Types{"boolean"}})

	doc.Paths.Set("/api/v1/system/key/{keyId}", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Get an API key",
			OperationID: "get_key",
			Parameters:  keyIDParams,
			Responses:   newResponses("200", "The API key", keyRef),
		},
		Patch: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Update an API key",
			Description: "Partially update a key's name, scopes, rate limit, expiry, or metadata. A revoked key cannot be re-activated.",
			OperationID: "update_key",
			Parameters:  keyIDParams,
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Description: "Fields to change",
					Required:    true,
					Content:     openapi3.NewContentWithJSONSchemaRef(createRef),
				},
			},
			Responses: newResponses("200", "The updated key", keyRef),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"keys"},
			Summary:     "Revoke an API key",
			Description: "Revoke a key so it stops validating immediately. Revocation is irreversible; usage history is retained.",
			OperationID: "revoke_key",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: keyIDParam},
				&openapi3.ParameterRef{Value: permanentParam},
			},
			Responses: newResponses("200", "Revocation confirmation", successSchema()),
		},
	})
}

func addUsagePaths(doc *openapi3.T) {
	eventRef := openapi3.NewSchemaRef("#/components/schemas/UsageEvent", nil)

	usageResponseSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"resource": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: eventRef,
					},
				},
				"meta": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"count":                intSchema("Number of events in the window."),
							"window_days":          intSchema("Trailing window size in days."),
							"requests_last_minute": intSchema("Events recorded in the last 60 seconds."),
						},
					},
				},
			},
		},
	}

	keyIDParam := openapi3.NewPathParameter("keyId").
		WithDescription("API key ID.").
		WithSchema(openapi3.NewStringSchema())
	windowParam := openapi3.NewQueryParameter("window_days").
		WithDescription("Trailing window in days (default 7).").
		WithSchema(&openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"})

	doc.Paths.Set("/api/v1/system/key/{keyId}/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"usage"},
			Summary:     "Get key usage history",
			Description: "Usage events for a key from the trailing window, most recent first.",
			OperationID: "key_usage",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: keyIDParam},
				&openapi3.ParameterRef{Value: windowParam},
			},
			Responses: newResponses("200", "Usage events", usageResponseSchema),
		},
	})

	doc.Paths.Set("/api/v1/usage", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"usage"},
			Summary:     "Get own usage history",
			Description: "Usage events for the calling key. Requires the analytics:read scope.",
			OperationID: "my_usage",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: windowParam},
			},
			Responses: newResponses("200", "Usage events", usageResponseSchema),
		},
	})
}

func addSessionPaths(doc *openapi3.T) {
	loginSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"email", "password"},
			Properties: openapi3.Schemas{
				"email":    stringSchema("Admin email address."),
				"password": stringSchema("Admin password."),
			},
		},
	}
	sessionSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"session_token": stringSchema("JWT bearer token."),
				"token_type":    stringSchema("Always \"bearer\"."),
				"expires_in":    intSchema("Token lifetime in seconds."),
				"admin_id":      stringSchema("Admin account ID."),
				"email":         stringSchema("Admin email address."),
				"name":          stringSchema("Admin display name."),
			},
		},
	}

	doc.Paths.Set("/api/v1/system/admin/session", &openapi3.PathItem{
		Post: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Log in",
			OperationID: "login",
			RequestBody: &openapi3.RequestBodyRef{
				Value: &openapi3.RequestBody{
					Description: "Credentials",
					Required:    true,
					Content:     openapi3.NewContentWithJSONSchemaRef(loginSchema),
				},
			},
			Responses: newResponses("200", "Session token", sessionSchema),
		},
		Delete: &openapi3.Operation{
			Tags:        []string{"admin"},
			Summary:     "Log out",
			Description: "Sessions are stateless JWTs; clients discard their token.",
			OperationID: "logout",
			Responses:   newResponses("200", "Logout confirmation", successSchema()),
		},
	})
}

func addWhoAmIPath(doc *openapi3.T) {
	whoamiSchema := &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"type":     stringSchema("Principal type: api_key or admin."),
				"owner_id": stringSchema("Owner of the presenting key."),
				"key_id":   stringSchema("ID of the presenting key."),
				"scopes": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:  &openapi3.Types{"array"},
						Items: stringSchema("Scope token."),
					},
				},
			},
		},
	}

	scopeParam := openapi3.NewQueryParameter("scope").
		WithDescription("Also check that the presenting key holds this scope. Responds 403 if it does not.").
		WithSchema(openapi3.NewStringSchema())

	doc.Paths.Set("/api/v1/whoami", &openapi3.PathItem{
		Get: &openapi3.Operation{
			Tags:        []string{"auth"},
			Summary:     "Identify the caller",
			Description: "Returns the principal behind the presented credentials. Useful for verifying a key works and inspecting its scopes.",
			OperationID: "whoami",
			Parameters: openapi3.Parameters{
				&openapi3.ParameterRef{Value: scopeParam},
			},
			Responses: newResponses("200", "The authenticated principal", whoamiSchema),
		},
	})
}

// ─── Schema Builders ────────────────────────────────────────────────────────

func apiKeySchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":                    stringSchema("Key ID (UUID v7)."),
				"owner_id":              stringSchema("Owner the key belongs to."),
				"name":                  stringSchema("Human-readable label."),
				"display_prefix":        stringSchema("First characters of the secret, for identification."),
				"scopes":                scopesSchema(),
				"rate_limit_per_minute": intSchema("Requests per minute allowance."),
				"is_active":             boolSchema("False once revoked or expired."),
				"expires_at":            dateTimeSchema("Expiry timestamp. Absent for non-expiring keys."),
				"last_used_at":          dateTimeSchema("Timestamp of the most recent successful validation."),
				"created_at":            dateTimeSchema("Issuance timestamp."),
			},
		},
	}
}

func apiKeyCreateSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:     &openapi3.Types{"object"},
			Required: []string{"owner_id", "scopes"},
			Properties: openapi3.Schemas{
				"owner_id":              stringSchema("Owner the key belongs to."),
				"name":                  stringSchema("Human-readable label."),
				"scopes":                scopesSchema(),
				"rate_limit_per_minute": intSchema("Requests per minute allowance (default 60)."),
				"expires_at":            dateTimeSchema("Expiry timestamp. Omit for a non-expiring key."),
				"metadata": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type:        &openapi3.Types{"object"},
						Description: "Free-form string key/value annotations.",
					},
				},
			},
		},
	}
}

func apiKeyCreatedSchema() *openapi3.SchemaRef {
	ref := apiKeySchema()
	ref.Value.Properties["api_key"] = stringSchema("The plaintext secret. Shown exactly once.")
	return ref
}

func usageEventSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":               stringSchema("Event ID."),
				"endpoint":         stringSchema("Request path."),
				"method":           stringSchema("HTTP method."),
				"status_code":      intSchema("Response status code."),
				"response_time_ms": intSchema("Server-side handling time in milliseconds."),
				"timestamp":        dateTimeSchema("When the call was made."),
			},
		},
	}
}

func errorResponseSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": &openapi3.SchemaRef{
					Value: &openapi3.Schema{
						Type: &openapi3.Types{"object"},
						Properties: openapi3.Schemas{
							"code":    &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Format: "int32"}},
							"message": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"string"}}},
							"context": &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{"object"}}},
						},
					},
				},
			},
		},
	}
}

func scopesSchema() *openapi3.SchemaRef {
	enum := make([]interface{}, len(model.AllScopes))
	for i, s := range model.AllScopes {
		enum[i] = string(s)
	}
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type:        &openapi3.Types{"array"},
			Description: "Permission scopes granted to the key.",
			Items: &openapi3.SchemaRef{
				Value: &openapi3.Schema{
					Type: &openapi3.Types{"string"},
					Enum: enum,
				},
			},
		},
	}
}

func successSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"success": boolSchema(""),
				"message": stringSchema(""),
			},
		},
	}
}

func stringSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Description: desc},
	}
}

func intSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"integer"}, Description: desc},
	}
}

func boolSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"boolean"}, Description: desc},
	}
}

func dateTimeSchema(desc string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{Type: &openapi3.Types{"string"}, Format: "date-time", Description: desc},
	}
}

// metaSchema returns the schema for the "meta" field in list responses.
func metaSchema() *openapi3.SchemaRef {
	return &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"count": intSchema("Number of records returned."),
			},
		},
	}
}

// ─── Response Helpers ───────────────────────────────────────────────────────

// newResponses builds a Responses map with a success response and standard error responses.
func newResponses(statusCode, description string, schema *openapi3.SchemaRef) *openapi3.Responses {
	responses := openapi3.NewResponses()

	successDesc := description
	responses.Set(statusCode, &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &successDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(schema),
		},
	})

	errorRef := openapi3.NewSchemaRef("#/components/schemas/ErrorResponse", nil)

	badReqDesc := "Bad request"
	responses.Set("400", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &badReqDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	unauthDesc := "Unauthorized"
	responses.Set("401", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &unauthDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	notFoundDesc := "Not found"
	responses.Set("404", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &notFoundDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	serverErrDesc := "Internal server error"
	responses.Set("500", &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &serverErrDesc,
			Content:     openapi3.NewContentWithJSONSchemaRef(errorRef),
		},
	})

	return responses
}
