package orchestrator

import (
	"context"
	"testing"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/flow"
	"github.com/petehsu/KiroProxy/internal/governor"
	"github.com/petehsu/KiroProxy/internal/normalize"
	"github.com/petehsu/KiroProxy/internal/upstream"
)

func TestClampAttemptsBounds(t *testing.T) {
	cases := map[int]int{-1: 1, 0: 1, 1: 1, 2: 2, 3: 3, 10: 3}
	for in, want := range cases {
		if got := clampAttempts(in); got != want {
			t.Fatalf("clampAttempts(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestSessionOrNewIDReusesGivenSession(t *testing.T) {
	if got := sessionOrNewID("abc"); got != "abc" {
		t.Fatalf("expected sticky session id to pass through, got %q", got)
	}
}

func TestSessionOrNewIDGeneratesWhenEmpty(t *testing.T) {
	got := sessionOrNewID("")
	if got == "" {
		t.Fatal("expected a generated id, got empty string")
	}
}

func TestExecuteCollectedNoAccountAvailable(t *testing.T) {
	store := account.NewStore()
	flows := flow.NewRing(4)
	gov := governor.New(governor.Config{}, nil)
	orch := New(store, &upstream.Client{}, gov, flows)

	_, err := orch.ExecuteCollected(context.Background(), Request{
		Conversation: normalize.Conversation{},
		Model:        "claude-sonnet-4",
	})

	if err == nil {
		t.Fatal("expected an error with no accounts in the store")
	}
	if err.Kind != ErrNoAccountAvailable {
		t.Fatalf("expected ErrNoAccountAvailable, got %v", err.Kind)
	}

	recorded := flows.List()
	if len(recorded) != 1 {
		t.Fatalf("expected one flow record pushed, got %d", len(recorded))
	}
	if recorded[0].Status != "error" {
		t.Fatalf("expected flow record to be marked error, got %q", recorded[0].Status)
	}
}
