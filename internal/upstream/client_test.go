package upstream

import (
	"net/http"
	"testing"

	"github.com/petehsu/KiroProxy/internal/account"
)

func TestClassifyStatusRateLimited(t *testing.T) {
	if got := ClassifyStatus(http.StatusTooManyRequests, ""); got != account.ErrRateLimited {
		t.Fatalf("expected ErrRateLimited, got %v", got)
	}
}

func TestClassifyStatusAuthFailed(t *testing.T) {
	for _, status := range []int{http.StatusUnauthorized, http.StatusForbidden} {
		if got := ClassifyStatus(status, ""); got != account.ErrAuthFailed {
			t.Fatalf("status %d: expected ErrAuthFailed, got %v", status, got)
		}
	}
}

func TestClassifyStatusServerError(t *testing.T) {
	if got := ClassifyStatus(http.StatusBadGateway, ""); got != account.ErrServerError {
		t.Fatalf("expected ErrServerError, got %v", got)
	}
}

func TestClassifyStatusLengthExceededSniffsBody(t *testing.T) {
	got := ClassifyStatus(http.StatusBadRequest, `{"message":"CONTENT_LENGTH_EXCEEDS_THRESHOLD"}`)
	if got != account.ErrLengthExceeded {
		t.Fatalf("expected ErrLengthExceeded, got %v", got)
	}
}

func TestClassifyStatusGenericClientError(t *testing.T) {
	if got := ClassifyStatus(http.StatusBadRequest, "some other problem"); got != account.ErrClientError {
		t.Fatalf("expected ErrClientError, got %v", got)
	}
}

func TestClassifyStatusDefaultTransportError(t *testing.T) {
	if got := ClassifyStatus(http.StatusOK, ""); got != account.ErrTransportError {
		t.Fatalf("expected ErrTransportError for a non-error status, got %v", got)
	}
}

func TestContainsAnyCaseSensitive(t *testing.T) {
	if !containsAny("prefix context_length_exceeded suffix", "context_length_exceeded") {
		t.Fatal("expected needle to be found")
	}
	if containsAny("nothing relevant here", "context_length_exceeded") {
		t.Fatal("expected no match")
	}
	if containsAny("CONTEXT_LENGTH_EXCEEDED", "context_length_exceeded") {
		t.Fatal("expected a differently-cased needle not to match")
	}
}
