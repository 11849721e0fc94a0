package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/tabletalk/tabletalk/internal/auth"
	"github.com/tabletalk/tabletalk/internal/config"
)

func TestHealthEndpoint(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestReadyEndpointReturns503WhenDependencyFails(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		Readiness: func(_ context.Context) error {
			return errors.New("dependency down")
		},
	})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/ready", nil))

	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestProtectedRouteRequiresAuth(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{
		"TABLETALK_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k1:alice:analyst")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	registry := newStubRegistry()
	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       registry,
	})

	unauthResp := httptest.NewRecorder()
	h.ServeHTTP(unauthResp, httptest.NewRequest(http.MethodPost, "/v1/sessions", nil))
	if unauthResp.Code != http.StatusUnauthorized {
		t.Fatalf("unauth status = %d", unauthResp.Code)
	}

	authReq := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	authReq.Header.Set("X-API-Key", "k1")
	authResp := httptest.NewRecorder()
	h.ServeHTTP(authResp, authReq)
	if authResp.Code != http.StatusCreated {
		t.Fatalf("auth status = %d, body=%s", authResp.Code, authResp.Body.String())
	}

	var body map[string]any
	if err := json.Unmarshal(authResp.Body.Bytes(), &body); err != nil {
		t.Fatalf("json decode failed: %v", err)
	}
	if body["session_id"] == "" {
		t.Fatalf("session_id = %v", body["session_id"])
	}
}

func TestProtectedRouteRejectsMissingRole(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{
		"TABLETALK_AUTH_REQUIRED": "true",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	validator, err := auth.NewStaticAPIKeyValidator("k2:bob:viewer")
	if err != nil {
		t.Fatalf("validator setup failed: %v", err)
	}

	h := NewHandler(cfg, Dependencies{
		AuthMiddleware: auth.Middleware(nil, validator),
		Sessions:       newStubRegistry(),
	})

	req := httptest.NewRequest(http.MethodPost, "/v1/sessions", nil)
	req.Header.Set("X-API-Key", "k2")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestCombineReadinessChecksStopsOnFirstFailure(t *testing.T) {
	order := make([]int, 0, 3)
	combined := CombineReadinessChecks(
		func(_ context.Context) error {
			order = append(order, 1)
			return nil
		},
		func(_ context.Context) error {
			order = append(order, 2)
			return errors.New("boom")
		},
		func(_ context.Context) error {
			order = append(order, 3)
			return nil
		},
	)

	err := combined(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(order) != 2 || order[0] != 1 || order[1] != 2 {
		t.Fatalf("execution order = %#v", order)
	}
}

func TestCheckDatabaseConfig(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{
		"TABLETALK_DB_DRIVER": "postgres",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	if err := CheckDatabaseConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing postgres dsn to fail readiness")
	}

	cfg.Database.DSN = "postgres://localhost/tabletalk"
	if err := CheckDatabaseConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckDatabaseConfig() error = %v", err)
	}
}

func TestCheckArchiveConfigSkipsWhenDisabled(t *testing.T) {
	cfg, err := config.Load("tabletalk-api", mapLookup(map[string]string{
		"TABLETALK_ARCHIVE_ENABLED": "false",
		"TABLETALK_ARCHIVE_BUCKET":  "",
	}))
	if err != nil {
		t.Fatalf("config load failed: %v", err)
	}
	if err := CheckArchiveConfig(cfg)(context.Background()); err != nil {
		t.Fatalf("CheckArchiveConfig() error = %v", err)
	}

	cfg.Archive.Enabled = true
	if err := CheckArchiveConfig(cfg)(context.Background()); err == nil {
		t.Fatal("expected missing bucket to fail readiness")
	}
}

func mapLookup(values map[string]string) config.LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
