package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"

	"github.com/powerplatform-toolbox/toolbox-registry/internal/auth"
	"github.com/powerplatform-toolbox/toolbox-registry/internal/db/repositories"
)

// userCols matches SELECT * FROM users
var userCols = []string{
	"id", "email", "name", "password_hash", "role", "is_active",
	"created_at", "updated_at", "last_login_at",
}

// apiKeyCols matches SELECT * FROM api_keys
var apiKeyCols = []string{
	"id", "user_id", "name", "key_prefix", "key_hash", "scopes",
	"expires_at", "last_used_at", "is_active", "created_at",
}

func newUserRepo(t *testing.T) (*repositories.UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (user): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewUserRepository(sqlx.NewDb(db, "postgres")), mock
}

func newAPIKeyRepo(t *testing.T) (*repositories.APIKeyRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New (apikey): %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return repositories.NewAPIKeyRepository(sqlx.NewDb(db, "postgres")), mock
}

func userRow(id, email, role string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows(userCols).AddRow(
		id, email, "Test User", "$2a$04$hash", role, true, now, now, nil,
	)
}

func generateTestJWT(t *testing.T, userID string) string {
	t.Helper()
	token, err := auth.GenerateJWT(userID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	return token
}

// newAuthRouter builds a router with AuthMiddleware using nil repos.
// nil repos are safe for early-exit paths that abort before any repo call.
func newAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(AuthMiddleware(nil, nil, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func newOptionalAuthRouter() *gin.Engine {
	r := gin.New()
	r.Use(OptionalAuthMiddleware(nil, nil, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doAuthRequest(r *gin.Engine, authHeader string) int {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	r.ServeHTTP(w, req)
	return w.Code
}

// ---------------------------------------------------------------------------
// AuthMiddleware — early-exit paths (no repository calls needed)
// ---------------------------------------------------------------------------

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	if code := doAuthRequest(newAuthRouter(), ""); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestAuthMiddleware_NonBearerPrefix(t *testing.T) {
	if code := doAuthRequest(newAuthRouter(), "Basic dXNlcjpwYXNz"); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestAuthMiddleware_EmptyToken(t *testing.T) {
	// "Bearer " with only whitespace → trimmed to empty → 401
	if code := doAuthRequest(newAuthRouter(), "Bearer   "); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

// ---------------------------------------------------------------------------
// OptionalAuthMiddleware — early-exit paths (passes through, never aborts)
// ---------------------------------------------------------------------------

func TestOptionalAuthMiddleware_MissingHeader(t *testing.T) {
	if code := doAuthRequest(newOptionalAuthRouter(), ""); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (optional auth passes through)", code)
	}
}

func TestOptionalAuthMiddleware_NonBearerPrefix(t *testing.T) {
	if code := doAuthRequest(newOptionalAuthRouter(), "Basic dXNlcjpwYXNz"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (optional auth passes through)", code)
	}
}

// ---------------------------------------------------------------------------
// authenticateAPIKey (unexported helper)
// ---------------------------------------------------------------------------

func TestAuthenticateAPIKey_DBError(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnError(errors.New("db error"))

	key, err := authenticateAPIKey(context.Background(), "some-key", "prefix", repo)
	if err == nil {
		t.Error("expected error")
	}
	if key != nil {
		t.Error("expected nil key on error")
	}
}

func TestAuthenticateAPIKey_NoKeysFound(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	mock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	key, err := authenticateAPIKey(context.Background(), "some-key", "prefix", repo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("expected nil key when no keys found")
	}
}

func TestAuthenticateAPIKey_KeyDoesNotMatch(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)
	// Use a hash that won't match "some-key"
	badHash := "$2a$04$notarealhashatall"
	mock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).AddRow(
			"key-1", "user-1", "Test Key", "tbx_prefix", badHash,
			[]byte("{intakes:read}"), nil, nil, true, time.Now(),
		))

	key, err := authenticateAPIKey(context.Background(), "some-key", "prefix", repo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key != nil {
		t.Error("expected nil key when hash does not match")
	}
}

func TestAuthenticateAPIKey_KeyMatches(t *testing.T) {
	repo, mock := newAPIKeyRepo(t)

	// Real bcrypt hash at minimum cost for speed
	providedKey := "tbx_test_secret"
	hashBytes, err := bcrypt.GenerateFromPassword([]byte(providedKey), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}

	mock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).AddRow(
			"key-1", "user-1", "Test Key", "tbx_test_s", string(hashBytes),
			[]byte("{intakes:read}"), nil, nil, true, time.Now(),
		))

	key, err := authenticateAPIKey(context.Background(), providedKey, "tbx_test_s", repo)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if key == nil {
		t.Error("expected key to be returned for matching hash")
	}
}

// ---------------------------------------------------------------------------
// AuthMiddleware — API key paths
// ---------------------------------------------------------------------------

func newAuthRouterWithRepos(t *testing.T) (sqlmock.Sqlmock, sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	userRepo, userMock := newUserRepo(t)
	apiKeyRepo, apiKeyMock := newAPIKeyRepo(t)

	r := gin.New()
	r.Use(AuthMiddleware(nil, userRepo, apiKeyRepo))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return userMock, apiKeyMock, r
}

func TestAuthMiddleware_APIKeyDBError(t *testing.T) {
	_, apiKeyMock, r := newAuthRouterWithRepos(t)
	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnError(errors.New("db error"))

	if code := doAuthRequest(r, "Bearer not-a-valid-token-12345"); code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", code)
	}
}

func TestAuthMiddleware_APIKeyNotFound(t *testing.T) {
	_, apiKeyMock, r := newAuthRouterWithRepos(t)
	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	if code := doAuthRequest(r, "Bearer not-a-valid-token-12345"); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestAuthMiddleware_ExpiredAPIKey(t *testing.T) {
	_, apiKeyMock, r := newAuthRouterWithRepos(t)

	token := "tbx_test_expired"
	hashBytes, _ := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	expiredAt := time.Now().Add(-time.Hour)

	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).AddRow(
			"key-1", "user-1", "Test Key", "tbx_test_e", string(hashBytes),
			[]byte("{intakes:read}"), &expiredAt, nil, true, time.Now(),
		))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", code)
	}
}

func TestAuthMiddleware_APIKeyWithUser(t *testing.T) {
	userMock, apiKeyMock, r := newAuthRouterWithRepos(t)

	token := "tbx_apikey_test123"
	hashBytes, _ := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)

	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).AddRow(
			"key-1", "user-1", "Test Key", "tbx_apikey", string(hashBytes),
			[]byte("{intakes:read,intakes:write}"), nil, nil, true, time.Now(),
		))

	// The user linked to the API key is loaded for context
	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(userRow("user-1", "test@example.com", "submitter"))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200: API key with user load", code)
	}
}

// ---------------------------------------------------------------------------
// AuthMiddleware — JWT path
// ---------------------------------------------------------------------------

func newJWTRouter(t *testing.T) (sqlmock.Sqlmock, *gin.Engine) {
	t.Helper()
	userRepo, userMock := newUserRepo(t)

	r := gin.New()
	r.Use(AuthMiddleware(nil, userRepo, nil))
	r.GET("/", func(c *gin.Context) {
		scopes, _ := c.Get("scopes")
		c.JSON(http.StatusOK, gin.H{"scopes": scopes})
	})
	return userMock, r
}

func TestAuthMiddleware_JWT_ValidUser(t *testing.T) {
	userMock, r := newJWTRouter(t)

	token := generateTestJWT(t, "user-1")

	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(userRow("user-1", "test@example.com", "submitter"))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200: JWT valid user", code)
	}
}

func TestAuthMiddleware_JWT_UserNotFound(t *testing.T) {
	userMock, r := newJWTRouter(t)

	token := generateTestJWT(t, "nonexistent-user")

	// No rows = user not found
	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401: user not found", code)
	}
}

func TestAuthMiddleware_JWT_InactiveUser(t *testing.T) {
	userMock, r := newJWTRouter(t)

	token := generateTestJWT(t, "user-1")

	now := time.Now()
	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(
			"user-1", "gone@example.com", "Gone", "$2a$04$hash", "submitter", false, now, now, nil,
		))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401: deactivated user", code)
	}
}

func TestAuthMiddleware_JWT_DBError(t *testing.T) {
	userMock, r := newJWTRouter(t)

	token := generateTestJWT(t, "user-1")

	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnError(errors.New("db error"))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500: DB error loading user", code)
	}
}

func TestAuthMiddleware_JWT_AdminGetsWildcardScope(t *testing.T) {
	userRepo, userMock := newUserRepo(t)

	var gotScopes []string
	r := gin.New()
	r.Use(AuthMiddleware(nil, userRepo, nil))
	r.GET("/", func(c *gin.Context) {
		if v, ok := c.Get("scopes"); ok {
			gotScopes, _ = v.([]string)
		}
		c.Status(http.StatusOK)
	})

	token := generateTestJWT(t, "admin-1")

	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(userRow("admin-1", "admin@example.com", "admin"))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Fatalf("status = %d, want 200", code)
	}
	if len(gotScopes) != 1 || gotScopes[0] != "admin" {
		t.Errorf("scopes = %v, want [admin]", gotScopes)
	}
}

// ---------------------------------------------------------------------------
// OptionalAuthMiddleware — authenticated paths
// ---------------------------------------------------------------------------

func TestOptionalAuthMiddleware_ValidJWT_SetsUser(t *testing.T) {
	userRepo, userMock := newUserRepo(t)

	r := gin.New()
	r.Use(OptionalAuthMiddleware(nil, userRepo, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	token := generateTestJWT(t, "user-1")

	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(userRow("user-1", "test@example.com", "submitter"))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (optional auth always passes through)", code)
	}
}

func TestOptionalAuthMiddleware_ValidJWT_UserNotFound_PassesThrough(t *testing.T) {
	userRepo, userMock := newUserRepo(t)

	r := gin.New()
	r.Use(OptionalAuthMiddleware(nil, userRepo, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	token := generateTestJWT(t, "nonexistent-user")

	userMock.ExpectQuery("SELECT \\* FROM users WHERE id").
		WillReturnRows(sqlmock.NewRows(userCols))

	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (user not found should not abort)", code)
	}
}

func TestOptionalAuthMiddleware_APIKey_NoMatch_PassesThrough(t *testing.T) {
	apiKeyRepo, apiKeyMock := newAPIKeyRepo(t)

	r := gin.New()
	r.Use(OptionalAuthMiddleware(nil, nil, apiKeyRepo))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols))

	if code := doAuthRequest(r, "Bearer not-a-jwt-and-no-match00"); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (no key found, passes through)", code)
	}
}

func TestOptionalAuthMiddleware_APIKey_Expired_PassesThrough(t *testing.T) {
	apiKeyRepo, apiKeyMock := newAPIKeyRepo(t)

	r := gin.New()
	r.Use(OptionalAuthMiddleware(nil, nil, apiKeyRepo))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	token := "tbx_expired_key9"
	hashBytes, _ := bcrypt.GenerateFromPassword([]byte(token), bcrypt.MinCost)
	expiredAt := time.Now().Add(-time.Hour)

	apiKeyMock.ExpectQuery("SELECT \\* FROM api_keys WHERE key_prefix").
		WillReturnRows(sqlmock.NewRows(apiKeyCols).AddRow(
			"key-3", "user-3", "Expired Key", "tbx_expire", string(hashBytes),
			[]byte("{intakes:read}"), &expiredAt, nil, true, time.Now(),
		))

	// Expired key — optional auth passes through rather than aborting
	if code := doAuthRequest(r, "Bearer "+token); code != http.StatusOK {
		t.Errorf("status = %d, want 200 (expired key should not abort in optional middleware)", code)
	}
}
