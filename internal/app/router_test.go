package app

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-procure/internal/observability"
	"github.com/odyssey-erp/odyssey-procure/internal/rbac"
	"github.com/odyssey-erp/odyssey-procure/internal/shared"
	"github.com/odyssey-erp/odyssey-procure/jobs"
	_ "github.com/odyssey-erp/odyssey-procure/testing"
)

func testRouter(t *testing.T) (http.Handler, *rbac.Authenticator) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	auth := rbac.NewAuthenticator("test-secret", logger)
	service := rbac.NewService(nil)
	router := NewRouter(RouterParams{
		Logger:             logger,
		Config:             &Config{AppEnv: "test", AppRequestTimeout: time.Second, RateLimitPerMinute: 1000},
		Authenticator:      auth,
		PermissionsHandler: rbac.NewPermissionsHandler(service, rbac.Middleware{Service: service, Logger: logger}),
		JobHandler:         jobs.NewHandler(nil, logger),
		Metrics:            observability.NewMetrics(),
	})
	return router, auth
}

func TestRouterPublicEndpoints(t *testing.T) {
	router, _ := testRouter(t)

	for _, path := range []string{"/healthz", "/metrics", "/jobs/health"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code, path)
	}

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	require.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	require.Equal(t, "DENY", rr.Header().Get("X-Frame-Options"))
}

func TestRouterRequiresBearerToken(t *testing.T) {
	router, auth := testRouter(t)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/permissions/me", nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	token, err := auth.Issue(shared.Actor{ID: 20, Name: "Maya", Role: shared.RoleDepartmentManager}, time.Hour)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	var me struct {
		ID          int64    `json:"id"`
		Role        string   `json:"role"`
		Permissions []string `json:"permissions"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &me))
	require.Equal(t, int64(20), me.ID)
	require.Contains(t, me.Permissions, shared.PermProcurementApprove)
}

func TestRouterNotFoundIsProblem(t *testing.T) {
	router, _ := testRouter(t)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/nope", nil))
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.Equal(t, "application/problem+json", rr.Header().Get("Content-Type"))
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	_, err := LoadConfig()
	require.Error(t, err)

	t.Setenv("JWT_SECRET", "dev-secret")
	t.Setenv("RATE_LIMIT_PER_MINUTE", "250")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, 250, cfg.RateLimitPerMinute)
	require.Equal(t, "notifications", cfg.NotifyQueue)
	require.False(t, cfg.IsProduction())

	t.Setenv("APP_ENV", "production")
	_, err = LoadConfig()
	require.Error(t, err)
}

func TestRouterPermissionGrantsRequirePlatformPermission(t *testing.T) {
	router, auth := testRouter(t)

	get := func(actor shared.Actor) int {
		token, err := auth.Issue(actor, time.Hour)
		require.NoError(t, err)
		req := httptest.NewRequest(http.MethodGet, "/api/v1/permissions/", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		return rr.Code
	}
	require.Equal(t, http.StatusForbidden, get(shared.Actor{ID: 10, Name: "Eko", Role: shared.RoleEmployee}))
	require.Equal(t, http.StatusOK, get(shared.Actor{ID: 1, Name: "Root", Role: shared.RoleAdmin}))
}

func TestTestModeFollowsEnvironment(t *testing.T) {
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())

	require.False(t, SkipStartup(nil, "http"))

	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	require.True(t, SkipStartup(slog.New(slog.NewTextHandler(io.Discard, nil)), "worker"))
}
