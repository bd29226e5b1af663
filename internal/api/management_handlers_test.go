package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/petehsu/KiroProxy/internal/account"
)

func TestHandleRefreshAccountUnknownID(t *testing.T) {
	s := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/missing/refresh", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown account, got %d", rec.Code)
	}
}

func TestHandleRefreshAccountWithoutUpstreamWired(t *testing.T) {
	s := newTestServer("")
	s.Store.Add(&account.Account{ID: "a", Enabled: true})

	req := httptest.NewRequest(http.MethodPost, "/api/accounts/a/refresh", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no orchestrator/upstream is wired, got %d", rec.Code)
	}
}

func TestHandleRefreshAllAccountsWithoutUpstreamWired(t *testing.T) {
	s := newTestServer("")
	req := httptest.NewRequest(http.MethodPost, "/api/accounts/refresh-all", nil)
	rec := httptest.NewRecorder()
	s.Engine.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when no orchestrator/upstream is wired, got %d", rec.Code)
	}
}
