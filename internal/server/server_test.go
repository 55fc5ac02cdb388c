package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/lacunahq/lacuna/internal/model"
	"github.com/lacunahq/lacuna/internal/service"
	"github.com/lacunahq/lacuna/internal/store"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

const (
	testJWTSecret = "test-secret-for-jwt-integration-tests"
	testPassword  = "supersecretpassword"
	testAdminName = "Test Admin"
)

// testEnv holds all the shared state for integration tests.
type testEnv struct {
	server   *Server
	store    *store.Store
	authSvc  *service.AuthService
	usageSvc *service.UsageService
}

// newTestEnv creates a fresh test environment with an in-memory store,
// wired services, and a fully assembled Server. Rate limiting is off so
// functional tests can hammer endpoints freely.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWith(t, func(cfg *Config) {
		cfg.RatePerMinute = 0
		cfg.KeyRatePerMinute = 0
	})
}

// newTestEnvWith is newTestEnv with a config hook, for tests that need
// non-default server settings.
func newTestEnvWith(t *testing.T, tweak func(*Config)) *testEnv {
	t.Helper()

	st, err := store.NewStore("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.NewStore: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authSvc := service.NewAuthService(st, testJWTSecret, logger)
	usageSvc := service.NewUsageService(st, logger)

	cfg := DefaultConfig()
	if tweak != nil {
		tweak(&cfg)
	}
	srv := New(cfg, st, authSvc, usageSvc, logger)

	return &testEnv{
		server:   srv,
		store:    st,
		authSvc:  authSvc,
		usageSvc: usageSvc,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: service.HashSecret(testPassword),
		Name:         testAdminName,
		IsActive:     true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// adminToken logs in as the default admin and returns the JWT token string.
func (e *testEnv) adminToken(t *testing.T) string {
	t.Helper()
	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := e.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Token == "" {
		t.Fatal("adminToken: got empty token from login")
	}
	return resp.Token
}

// createKey issues an API key via the HTTP API and returns its ID and
// plaintext secret.
func (e *testEnv) createKey(t *testing.T, token string, scopes ...string) (string, string) {
	t.Helper()
	body := jsonBody(t, map[string]interface{}{
		"owner_id": "owner-1",
		"name":     "integration-test",
		"scopes":   scopes,
	})
	rr := e.doAuth(t, "POST", "/api/v1/system/key", body, token)
	assertStatus(t, rr, http.StatusCreated)

	var resp struct {
		ID  string `json:"id"`
		Key string `json:"api_key"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Key == "" {
		t.Fatal("createKey: empty api_key in response")
	}
	return resp.ID, resp.Key
}

// do executes an HTTP request against the test server and returns the recorder.
// headers is an optional map of header key-value pairs.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rr := httptest.NewRecorder()
	e.server.ServeHTTP(rr, req)
	return rr
}

// doAuth executes an authenticated HTTP request using the admin JWT.
func (e *testEnv) doAuth(t *testing.T, method, path string, body io.Reader, token string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// doAPIKey executes an HTTP request authenticated with an API key.
func (e *testEnv) doAPIKey(t *testing.T, method, path string, body io.Reader, apiKey string) *httptest.ResponseRecorder {
	t.Helper()
	return e.do(t, method, path, body, map[string]string{
		"X-API-Key": apiKey,
	})
}

func jsonBody(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("jsonBody: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func assertContentType(t *testing.T, rr *httptest.ResponseRecorder, want string) {
	t.Helper()
	got := rr.Header().Get("Content-Type")
	if got != want {
		t.Errorf("Content-Type = %q, want %q", got, want)
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}

// ---------------------------------------------------------------------------
// Health check tests
// ---------------------------------------------------------------------------

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/healthz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp map[string]string
	decodeJSON(t, rr, &resp)
	if resp["status"] != "ok" {
		t.Errorf("status = %q, want %q", resp["status"], "ok")
	}
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/readyz", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var resp struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Status != "ok" {
		t.Errorf("status = %q, want ok", resp.Status)
	}
	if resp.Checks["store"] != "ok" {
		t.Errorf("store check = %q, want ok", resp.Checks["store"])
	}
}

// ---------------------------------------------------------------------------
// Admin login/logout tests
// ---------------------------------------------------------------------------

func TestAdminLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Token     string `json:"session_token"`
		TokenType string `json:"token_type"`
		ExpiresIn int    `json:"expires_in"`
		AdminID   string `json:"admin_id"`
		Email     string `json:"email"`
		Name      string `json:"name"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Token == "" {
		t.Error("expected non-empty session_token")
	}
	if resp.TokenType != "bearer" {
		t.Errorf("token_type = %q, want %q", resp.TokenType, "bearer")
	}
	if resp.ExpiresIn <= 0 {
		t.Errorf("expires_in = %d, want > 0", resp.ExpiresIn)
	}
	if resp.Email != "admin@example.com" {
		t.Errorf("email = %q, want %q", resp.Email, "admin@example.com")
	}
	if resp.Name != testAdminName {
		t.Errorf("name = %q, want %q", resp.Name, testAdminName)
	}
}

func TestAdminLogin_WrongPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": "wrongpassword",
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogin_UnknownEmail(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	body := jsonBody(t, map[string]string{
		"email":    "nobody@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogin_MissingFields(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	// Missing password
	body := jsonBody(t, map[string]string{"email": "admin@example.com"})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)

	// Missing email
	body = jsonBody(t, map[string]string{"password": testPassword})
	rr = env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestAdminLogin_InactiveAccount(t *testing.T) {
	env := newTestEnv(t)
	admin := &model.Admin{
		Email:        "inactive@example.com",
		PasswordHash: service.HashSecret(testPassword),
		Name:         "Inactive Admin",
		IsActive:     false,
	}
	if err := env.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("CreateAdmin: %v", err)
	}

	body := jsonBody(t, map[string]string{
		"email":    "inactive@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestAdminLogout(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "DELETE", "/api/v1/system/admin/session", nil, nil)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["success"] != true {
		t.Errorf("success = %v, want true", resp["success"])
	}
}

// ---------------------------------------------------------------------------
// Authentication / authorization tests
// ---------------------------------------------------------------------------

func TestSystemEndpoints_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	// All system endpoints (other than login/logout) should reject
	// unauthenticated requests with 401.
	endpoints := []struct {
		method string
		path   string
	}{
		{"GET", "/api/v1/system/admin"},
		{"POST", "/api/v1/system/admin"},
		{"GET", "/api/v1/system/key"},
		{"POST", "/api/v1/system/key"},
		{"GET", "/api/v1/system/key/some-id"},
		{"DELETE", "/api/v1/system/key/some-id"},
		{"GET", "/api/v1/system/key/some-id/usage"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			var body io.Reader
			if ep.method == "POST" {
				body = jsonBody(t, map[string]string{})
			}
			rr := env.do(t, ep.method, ep.path, body, nil)
			assertStatus(t, rr, http.StatusUnauthorized)
		})
	}
}

func TestSystemEndpoints_InvalidJWT(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/key", nil, "invalid.jwt.token")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSystemEndpoints_ExpiredJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	// Issue a token that already expired.
	token, err := env.authSvc.IssueJWT(context.Background(), "admin-1", "admin@example.com", -1*time.Hour)
	if err != nil {
		t.Fatalf("IssueJWT: %v", err)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/key", nil, token)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSystemEndpoints_APIKeyNotAdmin(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")

	// API keys are not admin, so system endpoints should return 403.
	rr := env.doAPIKey(t, "GET", "/api/v1/system/key", nil, key)
	assertStatus(t, rr, http.StatusForbidden)
}

// ---------------------------------------------------------------------------
// Key management over HTTP
// ---------------------------------------------------------------------------

func TestKeyCRUD(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	id, _ := env.createKey(t, token, "papers:read", "gaps:read")

	// --- List ---
	rr := env.doAuth(t, "GET", "/api/v1/system/key", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var listResp struct {
		Resource []map[string]interface{} `json:"resource"`
	}
	decodeJSON(t, rr, &listResp)
	if len(listResp.Resource) != 1 {
		t.Fatalf("list count = %d, want 1", len(listResp.Resource))
	}

	// --- Get ---
	rr = env.doAuth(t, "GET", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)

	var getResp map[string]interface{}
	decodeJSON(t, rr, &getResp)
	if getResp["name"] != "integration-test" {
		t.Errorf("name = %v, want integration-test", getResp["name"])
	}
	if getResp["is_active"] != true {
		t.Errorf("is_active = %v, want true", getResp["is_active"])
	}

	// --- Update ---
	updateBody := jsonBody(t, map[string]interface{}{
		"name":                  "renamed",
		"rate_limit_per_minute": 120,
	})
	rr = env.doAuth(t, "PATCH", "/api/v1/system/key/"+id, updateBody, token)
	assertStatus(t, rr, http.StatusOK)

	var updateResp map[string]interface{}
	decodeJSON(t, rr, &updateResp)
	if updateResp["name"] != "renamed" {
		t.Errorf("update name = %v, want renamed", updateResp["name"])
	}
	if updateResp["rate_limit_per_minute"].(float64) != 120 {
		t.Errorf("rate limit = %v, want 120", updateResp["rate_limit_per_minute"])
	}

	// --- Revoke ---
	rr = env.doAuth(t, "DELETE", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)

	rr = env.doAuth(t, "GET", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)
	decodeJSON(t, rr, &getResp)
	if getResp["is_active"] != false {
		t.Errorf("is_active after revoke = %v, want false", getResp["is_active"])
	}
}

func TestCreateKey_Validation(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"missing owner", map[string]interface{}{"scopes": []string{"papers:read"}}},
		{"unknown scope", map[string]interface{}{"owner_id": "u", "scopes": []string{"everything"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.doAuth(t, "POST", "/api/v1/system/key", jsonBody(t, tt.body), token)
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}
}

func TestGetKey_NotFound(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/system/key/nonexistent", nil, token)
	assertStatus(t, rr, http.StatusNotFound)
}

// ---------------------------------------------------------------------------
// API key authentication and whoami
// ---------------------------------------------------------------------------

func TestWhoAmI_APIKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	id, key := env.createKey(t, token, "papers:read", "analytics:read")

	rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Type    string   `json:"type"`
		KeyID   string   `json:"key_id"`
		OwnerID string   `json:"owner_id"`
		Scopes  []string `json:"scopes"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Type != "api_key" {
		t.Errorf("type = %q, want api_key", resp.Type)
	}
	if resp.KeyID != id {
		t.Errorf("key_id = %q, want %q", resp.KeyID, id)
	}
	if resp.OwnerID != "owner-1" {
		t.Errorf("owner_id = %q, want owner-1", resp.OwnerID)
	}
	if len(resp.Scopes) != 2 {
		t.Errorf("scopes = %v, want 2 entries", resp.Scopes)
	}
}

func TestWhoAmI_AdminJWT(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	rr := env.doAuth(t, "GET", "/api/v1/whoami", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var resp map[string]interface{}
	decodeJSON(t, rr, &resp)
	if resp["type"] != "admin" {
		t.Errorf("type = %v, want admin", resp["type"])
	}
	if resp["email"] != "admin@example.com" {
		t.Errorf("email = %v", resp["email"])
	}
}

func TestWhoAmI_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/api/v1/whoami", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestWhoAmI_InvalidAPIKey(t *testing.T) {
	env := newTestEnv(t)

	rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, "lk_notarealkey0000000000000000000")
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestWhoAmI_RevokedAPIKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	id, key := env.createKey(t, token, "papers:read")

	rr := env.doAuth(t, "DELETE", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)

	// A revoked key reads exactly like a nonexistent one.
	rr = env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestWhoAmI_ScopeQueryDenied(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")

	// The key only holds papers:read, so asking about papers:write must
	// come back forbidden, in the standard error envelope.
	rr := env.doAPIKey(t, "GET", "/api/v1/whoami?scope=papers:write", nil, key)
	assertStatus(t, rr, http.StatusForbidden)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)
	if errResp.Error.Code != http.StatusForbidden {
		t.Errorf("error.code = %d, want 403", errResp.Error.Code)
	}
}

func TestWhoAmI_ScopeQueryGranted(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")

	rr := env.doAPIKey(t, "GET", "/api/v1/whoami?scope=papers:read", nil, key)
	assertStatus(t, rr, http.StatusOK)
}

func TestWhoAmI_ScopeQueryUnknownScope(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")

	rr := env.doAPIKey(t, "GET", "/api/v1/whoami?scope=everything", nil, key)
	assertStatus(t, rr, http.StatusBadRequest)
}

func TestWhoAmI_ScopeQueryAdminBypass(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// Admin sessions hold every scope implicitly.
	rr := env.doAuth(t, "GET", "/api/v1/whoami?scope=papers:write", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Self-service usage endpoint
// ---------------------------------------------------------------------------

func TestMyUsage_WithAnalyticsScope(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read", "analytics:read")

	// Two calls that will show up in the key's own usage.
	for i := 0; i < 2; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
		assertStatus(t, rr, http.StatusOK)
	}

	rr := env.doAPIKey(t, "GET", "/api/v1/usage?window_days=1", nil, key)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []map[string]interface{} `json:"resource"`
		Meta     struct {
			Count      int `json:"count"`
			WindowDays int `json:"window_days"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 2 {
		t.Errorf("usage count = %d, want 2", resp.Meta.Count)
	}
	if resp.Meta.WindowDays != 1 {
		t.Errorf("window_days = %d, want 1", resp.Meta.WindowDays)
	}
	for _, ev := range resp.Resource {
		if ev["endpoint"] != "/api/v1/whoami" {
			t.Errorf("event endpoint = %v, want /api/v1/whoami", ev["endpoint"])
		}
	}
}

func TestMyUsage_MissingAnalyticsScope(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")

	rr := env.doAPIKey(t, "GET", "/api/v1/usage", nil, key)
	assertStatus(t, rr, http.StatusForbidden)
}

func TestMyUsage_AdminSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)

	// Admins have no credential of their own to report on.
	rr := env.doAuth(t, "GET", "/api/v1/usage", nil, token)
	assertStatus(t, rr, http.StatusBadRequest)
}

// ---------------------------------------------------------------------------
// Per-key rate limiting
// ---------------------------------------------------------------------------

func TestPerKeyRateLimit(t *testing.T) {
	env := newTestEnvWith(t, func(cfg *Config) {
		cfg.RatePerMinute = 0
		cfg.KeyRatePerMinute = 2
	})
	env.seedAdmin(t)
	token := env.adminToken(t)
	_, key := env.createKey(t, token, "papers:read")
	_, other := env.createKey(t, token, "papers:read")

	for i := 0; i < 2; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
		assertStatus(t, rr, http.StatusOK)
	}
	rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusTooManyRequests)

	// Each key gets its own bucket.
	rr = env.doAPIKey(t, "GET", "/api/v1/whoami", nil, other)
	assertStatus(t, rr, http.StatusOK)

	// Admin sessions carry no key header and bucket by IP instead, so the
	// exhausted key bucket does not touch them.
	rr = env.doAuth(t, "GET", "/api/v1/whoami", nil, token)
	assertStatus(t, rr, http.StatusOK)
}

// ---------------------------------------------------------------------------
// Usage metering through the HTTP stack
// ---------------------------------------------------------------------------

func TestUsageMeteredAndQueryable(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	id, key := env.createKey(t, token, "papers:read")

	// Three authenticated calls with the key.
	for i := 0; i < 3; i++ {
		rr := env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
		assertStatus(t, rr, http.StatusOK)
	}

	rr := env.doAuth(t, "GET", "/api/v1/system/key/"+id+"/usage?window_days=1", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []map[string]interface{} `json:"resource"`
		Meta     struct {
			Count      int `json:"count"`
			LastMinute int `json:"requests_last_minute"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 3 {
		t.Errorf("usage count = %d, want 3", resp.Meta.Count)
	}
	if resp.Meta.LastMinute != 3 {
		t.Errorf("requests_last_minute = %d, want 3", resp.Meta.LastMinute)
	}
	for _, ev := range resp.Resource {
		if ev["endpoint"] != "/api/v1/whoami" {
			t.Errorf("event endpoint = %v, want /api/v1/whoami", ev["endpoint"])
		}
	}
}

func TestUsageNotRecordedForRejectedKey(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)
	token := env.adminToken(t)
	id, key := env.createKey(t, token, "papers:read")

	// Revoke, then attempt a call.
	rr := env.doAuth(t, "DELETE", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusUnauthorized)

	rr = env.doAuth(t, "GET", "/api/v1/system/key/"+id+"/usage", nil, token)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &resp)
	if resp.Meta.Count != 0 {
		t.Errorf("usage count = %d, want 0 (denied calls are not metered)", resp.Meta.Count)
	}
}

// ---------------------------------------------------------------------------
// Full workflow: login -> create key -> use key -> inspect usage -> revoke
// ---------------------------------------------------------------------------

func TestFullWorkflow(t *testing.T) {
	env := newTestEnv(t)
	env.seedAdmin(t)

	// Step 1: Login
	loginBody := jsonBody(t, map[string]string{
		"email":    "admin@example.com",
		"password": testPassword,
	})
	rr := env.do(t, "POST", "/api/v1/system/admin/session", loginBody, nil)
	assertStatus(t, rr, http.StatusOK)

	var loginResp struct {
		Token string `json:"session_token"`
	}
	decodeJSON(t, rr, &loginResp)
	token := loginResp.Token

	// Step 2: Issue a key
	id, key := env.createKey(t, token, "gaps:read", "batch:execute")

	// Step 3: The key authenticates
	rr = env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusOK)

	// Step 4: But cannot touch admin endpoints
	rr = env.doAPIKey(t, "GET", "/api/v1/system/key", nil, key)
	assertStatus(t, rr, http.StatusForbidden)

	// Step 5: The call was metered
	rr = env.doAuth(t, "GET", "/api/v1/system/key/"+id+"/usage", nil, token)
	assertStatus(t, rr, http.StatusOK)
	var usageResp struct {
		Meta struct {
			Count int `json:"count"`
		} `json:"meta"`
	}
	decodeJSON(t, rr, &usageResp)
	if usageResp.Meta.Count < 1 {
		t.Errorf("usage count = %d, want >= 1", usageResp.Meta.Count)
	}

	// Step 6: Revoke, and the key stops working
	rr = env.doAuth(t, "DELETE", "/api/v1/system/key/"+id, nil, token)
	assertStatus(t, rr, http.StatusOK)
	rr = env.doAPIKey(t, "GET", "/api/v1/whoami", nil, key)
	assertStatus(t, rr, http.StatusUnauthorized)
}

// ---------------------------------------------------------------------------
// OpenAPI spec endpoint
// ---------------------------------------------------------------------------

func TestOpenAPISpec(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "GET", "/openapi.json", nil, nil)
	assertStatus(t, rr, http.StatusOK)
	assertContentType(t, rr, "application/json")

	var spec map[string]interface{}
	decodeJSON(t, rr, &spec)

	if spec["openapi"] != "3.1.0" {
		t.Errorf("openapi version = %v, want 3.1.0", spec["openapi"])
	}
	info, ok := spec["info"].(map[string]interface{})
	if !ok {
		t.Fatal("expected info to be an object")
	}
	if info["title"] != "Lacuna API" {
		t.Errorf("info.title = %v, want Lacuna API", info["title"])
	}
}

// ---------------------------------------------------------------------------
// CORS headers test
// ---------------------------------------------------------------------------

func TestCORSHeaders(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "OPTIONS", "/healthz", nil, map[string]string{
		"Origin":                         "http://localhost:3000",
		"Access-Control-Request-Method":  "GET",
		"Access-Control-Request-Headers": "Authorization,Content-Type,X-API-Key",
	})

	// Chi's CORS handler should return a 2xx for preflight.
	if rr.Code < 200 || rr.Code >= 300 {
		t.Errorf("CORS preflight status = %d, want 2xx", rr.Code)
	}

	acaoHeader := rr.Header().Get("Access-Control-Allow-Origin")
	if acaoHeader == "" {
		t.Error("expected Access-Control-Allow-Origin header")
	}
}

// ---------------------------------------------------------------------------
// Error response format test
// ---------------------------------------------------------------------------

func TestErrorResponseFormat(t *testing.T) {
	env := newTestEnv(t)

	// Hit a route that will return an error (unauthenticated).
	rr := env.do(t, "GET", "/api/v1/system/key", nil, nil)
	assertStatus(t, rr, http.StatusUnauthorized)

	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	decodeJSON(t, rr, &errResp)

	if errResp.Error.Code != 401 {
		t.Errorf("error.code = %d, want 401", errResp.Error.Code)
	}
	if errResp.Error.Message == "" {
		t.Error("expected non-empty error.message")
	}
}

// ---------------------------------------------------------------------------
// Method not allowed
// ---------------------------------------------------------------------------

func TestMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)

	// PATCH /healthz is not defined.
	rr := env.do(t, "PATCH", "/healthz", nil, nil)
	if rr.Code != http.StatusMethodNotAllowed && rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 405 or 404", rr.Code)
	}
}

// ---------------------------------------------------------------------------
// Request with invalid JSON body
// ---------------------------------------------------------------------------

func TestInvalidJSONBody(t *testing.T) {
	env := newTestEnv(t)

	body := bytes.NewBufferString("{invalid json")
	rr := env.do(t, "POST", "/api/v1/system/admin/session", body, nil)
	assertStatus(t, rr, http.StatusBadRequest)
}
