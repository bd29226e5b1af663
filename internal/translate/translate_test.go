package translate

import "testing"

func TestMapModelKnownAliases(t *testing.T) {
	cases := map[string]string{
		"gpt-4o":         "claude-sonnet-4",
		"gemini-1.5-pro": "claude-sonnet-4.5",
		"haiku":          "claude-haiku-4.5",
		"opus":           "claude-opus-4.5",
		"auto":           "auto",
		"claude-sonnet-4": "claude-sonnet-4",
	}
	for in, want := range cases {
		if got := MapModel(in); got != want {
			t.Errorf("MapModel(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMapModelUnknownIsDeterministic(t *testing.T) {
	a := MapModel("some-random-model")
	b := MapModel("some-random-model")
	if a != b || a != defaultUpstreamModel {
		t.Fatalf("expected deterministic default mapping, got %q and %q", a, b)
	}
}

func TestNormalizeToolsTruncatesAt50(t *testing.T) {
	tools := make([]Tool, 51)
	for i := range tools {
		tools[i] = Tool{Name: "t"}
	}
	out := NormalizeTools(tools)
	if len(out) != maxTools {
		t.Fatalf("expected %d tools after truncation, got %d", maxTools, len(out))
	}
}

func TestNormalizeToolsTruncatesLongDescription(t *testing.T) {
	long := make([]byte, maxToolDescriptionLen+50)
	for i := range long {
		long[i] = 'x'
	}
	out := NormalizeTools([]Tool{{Name: "t", Description: string(long)}})
	if len(out[0].Description) != maxToolDescriptionLen+len("…") {
		t.Fatalf("expected truncated description with ellipsis, got len %d", len(out[0].Description))
	}
}

func TestParseOpenAIRequestRoundTripsModelAndText(t *testing.T) {
	body := []byte(`{"model":"gpt-4o","messages":[{"role":"user","content":"ping"}]}`)
	conv, _, _, model, stream, err := ParseOpenAIRequest(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if model != "gpt-4o" {
		t.Fatalf("expected model preserved pre-mapping, got %q", model)
	}
	if stream {
		t.Fatalf("expected non-streaming request")
	}
	if len(conv.Messages) != 1 || conv.Messages[0].Content[0].Text != "ping" {
		t.Fatalf("expected single user message 'ping', got %+v", conv.Messages)
	}
}
