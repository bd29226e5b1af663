package governor

import (
	"strings"
	"testing"

	"github.com/petehsu/KiroProxy/internal/normalize"
)

func textMessage(role normalize.Role, words int) normalize.Message {
	return normalize.Message{
		Role:    role,
		Content: []normalize.ContentBlock{{Type: normalize.BlockText, Text: strings.Repeat("word ", words)}},
	}
}

func TestPreSendNoopWhenStrategiesDisabled(t *testing.T) {
	g := New(Config{}, nil)
	conv := normalize.Conversation{Messages: []normalize.Message{textMessage(normalize.RoleUser, 100)}}

	got := g.PreSend(conv)

	if len(got.Messages) != len(conv.Messages) {
		t.Fatalf("expected no truncation, got %d messages", len(got.Messages))
	}
}

func TestPreSendAutoTruncateDropsOldestPairs(t *testing.T) {
	cfg := Config{AutoTruncate: true, TokenThreshold: 50}
	g := New(cfg, nil)

	conv := normalize.Conversation{Messages: []normalize.Message{
		textMessage(normalize.RoleUser, 200),
		textMessage(normalize.RoleAssistant, 200),
		textMessage(normalize.RoleUser, 5),
	}}

	got := g.PreSend(conv)

	if len(got.Messages) >= len(conv.Messages) {
		t.Fatalf("expected messages to be dropped, got %d (started with %d)", len(got.Messages), len(conv.Messages))
	}
	last := got.Messages[len(got.Messages)-1]
	if last.Role != normalize.RoleUser {
		t.Fatalf("expected last message to remain the final user turn, got role %q", last.Role)
	}
}

func TestOnLengthExceededNoopWhenErrorRetryDisabled(t *testing.T) {
	g := New(Config{ErrorRetry: false, ErrorRetryThreshold: 1}, nil)
	conv := normalize.Conversation{Messages: []normalize.Message{textMessage(normalize.RoleUser, 500)}}

	got := g.OnLengthExceeded(conv)

	if len(got.Messages) != 1 {
		t.Fatalf("expected no-op when error-retry disabled, got %d messages", len(got.Messages))
	}
}

func TestOnLengthExceededAppliesStricterThreshold(t *testing.T) {
	g := New(Config{ErrorRetry: true, ErrorRetryThreshold: 10}, nil)
	conv := normalize.Conversation{Messages: []normalize.Message{
		textMessage(normalize.RoleUser, 100),
		textMessage(normalize.RoleAssistant, 100),
		textMessage(normalize.RoleUser, 2),
	}}

	got := g.OnLengthExceeded(conv)

	if len(got.Messages) >= len(conv.Messages) {
		t.Fatalf("expected stricter threshold to truncate, got %d messages", len(got.Messages))
	}
}

func TestSmartSummaryFallsBackWhenSummarizerNil(t *testing.T) {
	cfg := Config{AutoTruncate: true, SmartSummary: true, TokenThreshold: 10}
	g := New(cfg, nil)

	conv := normalize.Conversation{Messages: []normalize.Message{
		textMessage(normalize.RoleUser, 100),
		textMessage(normalize.RoleAssistant, 100),
		textMessage(normalize.RoleUser, 2),
	}}

	got := g.PreSend(conv)

	if strings.Contains(got.System, "summarized") {
		t.Fatal("expected no summary note when summarizer is nil")
	}
}

func TestSmartSummaryAddsSystemNote(t *testing.T) {
	cfg := Config{AutoTruncate: true, SmartSummary: true, TokenThreshold: 10}
	summarize := func(dropped []normalize.Message) (string, error) { return "the user greeted the assistant", nil }
	g := New(cfg, summarize)

	conv := normalize.Conversation{Messages: []normalize.Message{
		textMessage(normalize.RoleUser, 100),
		textMessage(normalize.RoleAssistant, 100),
		textMessage(normalize.RoleUser, 2),
	}}

	got := g.PreSend(conv)

	if !strings.Contains(got.System, "summarized") {
		t.Fatalf("expected system prefix to carry summary note, got %q", got.System)
	}
}
