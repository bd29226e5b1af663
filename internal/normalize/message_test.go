package normalize

import "testing"

func textMsg(role Role, text string) Message {
	return Message{Role: role, Content: []ContentBlock{{Type: BlockText, Text: text}}}
}

func toolResultMsg(id, text string) Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockToolResult, ToolResultForID: id, ToolResultText: text}}}
}

func TestNormalizeInsertsPlaceholderBetweenAdjacentSameRole(t *testing.T) {
	msgs := []Message{
		textMsg(RoleUser, "hi"),
		textMsg(RoleAssistant, "hello"),
		textMsg(RoleAssistant, "how can I help"),
	}
	conv := Normalize("", msgs)
	// [user hi, assistant hello, user <placeholder>, assistant how, user <trailing placeholder>]
	if len(conv.Messages) != 5 {
		t.Fatalf("expected 5 messages (placeholder spliced in, plus trailing fixup), got %d: %+v", len(conv.Messages), conv.Messages)
	}
	if conv.Messages[2].Role != RoleUser {
		t.Fatalf("expected spliced placeholder to be RoleUser, got %s", conv.Messages[2].Role)
	}
	if conv.Messages[4].Role != RoleUser {
		t.Fatalf("expected sequence to end on user, got %s", conv.Messages[4].Role)
	}
}

func TestNormalizeIsIdempotent(t *testing.T) {
	msgs := []Message{
		textMsg(RoleUser, "a"),
		textMsg(RoleAssistant, "b"),
		textMsg(RoleAssistant, "c"),
		textMsg(RoleUser, "d"),
	}
	once := Normalize("sys", msgs)
	twice := Normalize(once.System, once.Messages)

	if len(once.Messages) != len(twice.Messages) {
		t.Fatalf("not idempotent: %d vs %d messages", len(once.Messages), len(twice.Messages))
	}
	for i := range once.Messages {
		if once.Messages[i].Role != twice.Messages[i].Role {
			t.Fatalf("role mismatch at %d: %s vs %s", i, once.Messages[i].Role, twice.Messages[i].Role)
		}
	}
}

func TestNormalizeDoesNotMutateInput(t *testing.T) {
	original := []Message{textMsg(RoleUser, "hi")}
	snapshotLen := len(original[0].Content)

	_ = Normalize("", original)

	if len(original[0].Content) != snapshotLen {
		t.Fatalf("Normalize mutated its input")
	}
}

// TestNormalizeScenarioS4 exercises the exact sequence from the alternation
// scenario: two user turns, a tool result, then an assistant turn.
func TestNormalizeScenarioS4(t *testing.T) {
	msgs := []Message{
		textMsg(RoleUser, "a"),
		textMsg(RoleUser, "b"),
		toolResultMsg("x", "r"),
		textMsg(RoleAssistant, "c"),
	}
	conv := Normalize("", msgs)

	wantRoles := []Role{RoleUser, RoleAssistant, RoleUser, RoleAssistant, RoleUser}
	if len(conv.Messages) != len(wantRoles) {
		t.Fatalf("expected %d messages, got %d: %+v", len(wantRoles), len(conv.Messages), conv.Messages)
	}
	for i, want := range wantRoles {
		if conv.Messages[i].Role != want {
			t.Fatalf("message %d: expected role %s, got %s", i, want, conv.Messages[i].Role)
		}
	}

	merged := conv.Messages[2]
	if len(merged.Content) != 2 || merged.Content[0].Text != "b" || merged.Content[1].ToolResultForID != "x" {
		t.Fatalf("expected tool result merged into preceding user turn, got %+v", merged.Content)
	}
}

func TestNormalizeStartingWithToolResultDoesNotDoublePrepend(t *testing.T) {
	msgs := []Message{
		toolResultMsg("x", "r"),
		textMsg(RoleAssistant, "c"),
	}
	conv := Normalize("", msgs)
	if conv.Messages[0].Role != RoleUser {
		t.Fatalf("expected sequence to start with user, got %s", conv.Messages[0].Role)
	}
	if conv.Messages[len(conv.Messages)-1].Role != RoleUser {
		t.Fatalf("expected sequence to end with user, got %s", conv.Messages[len(conv.Messages)-1].Role)
	}
}

func TestNormalizeDedupesToolResultsByIDKeepingLast(t *testing.T) {
	msgs := []Message{
		textMsg(RoleUser, "b"),
		toolResultMsg("x", "first"),
		toolResultMsg("x", "second"),
	}
	conv := Normalize("", msgs)
	merged := conv.Messages[0]
	var found int
	for _, b := range merged.Content {
		if b.Type == BlockToolResult && b.ToolResultForID == "x" {
			found++
			if b.ToolResultText != "second" {
				t.Fatalf("expected last occurrence to win, got %q", b.ToolResultText)
			}
		}
	}
	if found != 1 {
		t.Fatalf("expected exactly one deduped tool_result for id x, got %d", found)
	}
}
