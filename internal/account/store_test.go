package account

import (
	"context"
	"testing"
	"time"
)

func newActiveAccount(id string) *Account {
	return &Account{
		ID:      id,
		Enabled: true,
		health:  HealthActive,
		Credential: Credential{
			AccessToken: "tok-" + id,
			AuthKind:    AuthKindSocial,
		},
	}
}

func TestSelectNeverReturnsExcludedOrUnselectable(t *testing.T) {
	s := NewStore()
	s.Add(newActiveAccount("a"))
	s.Add(newActiveAccount("b"))
	s.SetEnabled("b", false)

	acc, err := s.Select(context.Background(), "", "a")
	if err == nil {
		t.Fatalf("expected ErrNoAccount, got account %s", acc.ID)
	}
}

func TestSessionStickinessWithinWindow(t *testing.T) {
	s := NewStore()
	s.Add(newActiveAccount("a"))
	s.Add(newActiveAccount("b"))

	first, err := s.Select(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s.Release(first.ID)

	second, err := s.Select(context.Background(), "sess-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("expected sticky session to reuse %s, got %s", first.ID, second.ID)
	}
}

func TestMarkFailureRateLimitedEntersFixedCooldown(t *testing.T) {
	s := NewStore()
	a := newActiveAccount("a")
	s.Add(a)

	s.MarkFailure("a", ErrRateLimited)

	got, _ := s.Get("a")
	if got.health != HealthCooldown {
		t.Fatalf("expected cooldown health, got %s", got.health)
	}
	if time.Until(got.cooldownUntil) > rateLimitCooldown || time.Until(got.cooldownUntil) < rateLimitCooldown-time.Second {
		t.Fatalf("expected ~5 minute cooldown, got %s", time.Until(got.cooldownUntil))
	}
}

func TestMarkFailureServerErrorUsesRateLimiterBackoff(t *testing.T) {
	s := NewStore()
	s.Add(newActiveAccount("a"))

	s.MarkFailure("a", ErrServerError)
	got, _ := s.Get("a")
	if got.health != HealthCooldown {
		t.Fatalf("expected cooldown health, got %s", got.health)
	}
	if got.cooldownUntil.Before(time.Now()) {
		t.Fatal("expected cooldownUntil to be set in the future")
	}

	s.MarkFailure("a", ErrServerError)
	if state := s.limiter.GetTokenState("a"); state == nil || state.FailCount != 2 {
		t.Fatalf("expected the rate limiter's failure streak to reach 2, got %+v", state)
	}

	s.MarkSuccess("a", Quota{})
	if state := s.limiter.GetTokenState("a"); state == nil || state.FailCount != 0 {
		t.Fatalf("expected MarkSuccess to reset the failure streak, got %+v", state)
	}
}

func TestMarkSuccessResetsCooldown(t *testing.T) {
	s := NewStore()
	s.Add(newActiveAccount("a"))
	s.MarkFailure("a", ErrRateLimited)
	s.MarkSuccess("a", Quota{})

	got, _ := s.Get("a")
	if got.health != HealthActive {
		t.Fatalf("expected account restored to active, got %s", got.health)
	}
}

func TestSelectPrefersLeastRecentlyUsedOverFewerInFlight(t *testing.T) {
	s := NewStore()
	idle := newActiveAccount("idle")
	idle.lastUsedAt = time.Now().Add(-10 * time.Minute)
	idle.inFlightCount.Store(1)
	s.Add(idle)

	busyRecent := newActiveAccount("busy-recent")
	busyRecent.lastUsedAt = time.Now().Add(-1 * time.Second)
	busyRecent.inFlightCount.Store(0)
	s.Add(busyRecent)

	acc, err := s.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.ID != "idle" {
		t.Fatalf("expected LRU to win over fewer in-flight requests, got %s", acc.ID)
	}
}

func TestSelectBreaksLRUTiesByFewestInFlight(t *testing.T) {
	s := NewStore()
	same := time.Now().Add(-5 * time.Minute)

	loaded := newActiveAccount("loaded")
	loaded.lastUsedAt = same
	loaded.inFlightCount.Store(3)
	s.Add(loaded)

	light := newActiveAccount("light")
	light.lastUsedAt = same
	light.inFlightCount.Store(0)
	s.Add(light)

	acc, err := s.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.ID != "light" {
		t.Fatalf("expected the tie to break toward fewer in-flight requests, got %s", acc.ID)
	}
}

func TestInFlightCountReturnsToZeroAfterRelease(t *testing.T) {
	s := NewStore()
	s.Add(newActiveAccount("a"))

	acc, err := s.Select(context.Background(), "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if acc.inFlightCount.Load() != 1 {
		t.Fatalf("expected in-flight count 1, got %d", acc.inFlightCount.Load())
	}
	s.Release(acc.ID)
	if acc.inFlightCount.Load() != 0 {
		t.Fatalf("expected in-flight count back to 0, got %d", acc.inFlightCount.Load())
	}
}
