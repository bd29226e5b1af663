package registry

import "testing"

func TestNewSeedsCanonicalModels(t *testing.T) {
	r := New()
	models := r.GetAllModels()
	for _, id := range []string{"claude-sonnet-4", "claude-sonnet-4.5", "claude-haiku-4.5", "claude-opus-4.5"} {
		if _, ok := models[id]; !ok {
			t.Fatalf("expected %s to be seeded", id)
		}
	}
}

func TestMarkAndClearQuotaExceeded(t *testing.T) {
	r := New()
	r.MarkQuotaExceeded("claude-sonnet-4", "acct-1")

	reg := r.LookupModelInfo("claude-sonnet-4")
	if _, ok := reg.QuotaExceededClients["acct-1"]; !ok {
		t.Fatal("expected acct-1 to be marked quota-exceeded")
	}

	r.ClearModelQuotaExceeded("acct-1")
	reg = r.LookupModelInfo("claude-sonnet-4")
	if _, ok := reg.QuotaExceededClients["acct-1"]; ok {
		t.Fatal("expected acct-1's quota-exceeded marker to be cleared")
	}
}

func TestClearQuotaExceededClearsAcrossAllModels(t *testing.T) {
	r := New()
	r.MarkQuotaExceeded("claude-sonnet-4", "acct-1")
	r.MarkQuotaExceeded("claude-opus-4.5", "acct-1")

	r.ClearModelQuotaExceeded("acct-1")

	for _, id := range []string{"claude-sonnet-4", "claude-opus-4.5"} {
		reg := r.LookupModelInfo(id)
		if _, ok := reg.QuotaExceededClients["acct-1"]; ok {
			t.Fatalf("expected %s to be cleared for acct-1", id)
		}
	}
}

func TestResumeClientModelClearsBothMarkers(t *testing.T) {
	r := New()
	r.MarkQuotaExceeded("claude-sonnet-4", "acct-1")
	reg := r.LookupModelInfo("claude-sonnet-4")
	now := *reg.QuotaExceededClients["acct-1"]
	reg.SuspendedClients["acct-1"] = &now

	r.ResumeClientModel("claude-sonnet-4", "acct-1")

	reg = r.LookupModelInfo("claude-sonnet-4")
	if _, ok := reg.QuotaExceededClients["acct-1"]; ok {
		t.Fatal("expected quota-exceeded marker cleared")
	}
	if _, ok := reg.SuspendedClients["acct-1"]; ok {
		t.Fatal("expected suspended marker cleared")
	}
}

func TestGetClientProviderUnknown(t *testing.T) {
	r := New()
	if got := r.GetClientProvider("never-registered"); got != "unknown" {
		t.Fatalf("expected unknown, got %q", got)
	}
	r.RegisterAccountProvider("acct-1", "kiro")
	if got := r.GetClientProvider("acct-1"); got != "kiro" {
		t.Fatalf("expected kiro, got %q", got)
	}
}
