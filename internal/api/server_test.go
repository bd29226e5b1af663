package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/config"
	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/registry"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestStatusForKindMapping(t *testing.T) {
	cases := map[orchestrator.ErrorKind]int{
		orchestrator.ErrBadRequest:            http.StatusBadRequest,
		orchestrator.ErrUnsupportedFeature:    http.StatusBadRequest,
		orchestrator.ErrAuthenticationFailed:  http.StatusUnauthorized,
		orchestrator.ErrRateLimitedAll:        http.StatusTooManyRequests,
		orchestrator.ErrContentLengthExceeded: http.StatusRequestEntityTooLarge,
		orchestrator.ErrNoAccountAvailable:    http.StatusServiceUnavailable,
		orchestrator.ErrUpstreamUnavailable:   http.StatusServiceUnavailable,
		orchestrator.ErrInternal:              http.StatusInternalServerError,
	}
	for kind, want := range cases {
		if got := statusForKind(kind); got != want {
			t.Fatalf("statusForKind(%v) = %d, want %d", kind, got, want)
		}
	}
}

func TestDisplayNameFallsBackToModelID(t *testing.T) {
	reg := &registry.Registration{}
	if got := displayName(reg, "claude-sonnet-4"); got != "claude-sonnet-4" {
		t.Fatalf("expected fallback to model id, got %q", got)
	}
	reg.Info = &registry.ModelInfo{DisplayName: "Claude Sonnet 4"}
	if got := displayName(reg, "claude-sonnet-4"); got != "Claude Sonnet 4" {
		t.Fatalf("expected display name, got %q", got)
	}
}

func TestDerefOrZero(t *testing.T) {
	if got := derefOrZero(nil); !got.IsZero() {
		t.Fatalf("expected zero time for nil, got %v", got)
	}
	now := time.Now()
	if got := derefOrZero(&now); !got.Equal(now) {
		t.Fatalf("expected dereferenced time, got %v", got)
	}
}

func newTestServer(secret string) *Server {
	cfg := &config.Config{ManagementSecret: secret}
	store := account.NewStore()
	return NewServer(cfg, store, nil, nil)
}

func TestManagementRoutesOpenWhenNoSecretConfigured(t *testing.T) {
	s := newTestServer("")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized {
		t.Fatalf("expected management routes to be open with no secret set, got %d", rec.Code)
	}
}

func TestManagementRoutesRejectMissingSecret(t *testing.T) {
	s := newTestServer("topsecret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without bearer header, got %d", rec.Code)
	}
}

func TestManagementRoutesAcceptCorrectSecret(t *testing.T) {
	s := newTestServer("topsecret")
	req := httptest.NewRequest(http.MethodGet, "/api/status", nil)
	req.Header.Set("Authorization", "Bearer topsecret")
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code == http.StatusUnauthorized {
		t.Fatal("expected the correct bearer secret to be accepted")
	}
}

func TestLandingPageServesWithoutSecret(t *testing.T) {
	s := newTestServer("topsecret")
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected landing page to be reachable without the management secret, got %d", rec.Code)
	}
}
