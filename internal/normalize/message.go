// Package normalize defines the canonical message sequence that the three
// inbound wire formats (OpenAI, Anthropic, Gemini) are parsed into by package
// translate, and enforces the
// invariants every downstream translator and the upstream Kiro protocol
// depend on: strict user/assistant alternation and one tool-result block
// per preceding tool-use call.
package normalize

// Role is a canonical participant role.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// BlockType identifies the shape of a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockImage      BlockType = "image"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is one canonical content element within a Message. Only the
// fields relevant to Type are populated.
type ContentBlock struct {
	Type BlockType

	Text string

	// ImageURL holds a data-URI or remote URL; MediaType is the MIME type when
	// known (required for data URIs, inferred from extension for URLs).
	ImageURL  string
	MediaType string

	// ToolUse
	ToolUseID   string
	ToolName    string
	ToolInput   map[string]any

	// ToolResult
	ToolResultForID string
	ToolResultText  string
	ToolResultError bool
}

// Message is one canonical turn.
type Message struct {
	Role    Role
	Content []ContentBlock
}

// Conversation is the canonical request body shared by every translator:
// an optional system prompt plus the alternating message history.
type Conversation struct {
	System   string
	Messages []Message
}

// Normalize enforces the wire-format-independent invariants on msgs and
// returns a new, independent slice: the input is never mutated. Normalize
// is pure and idempotent — Normalize(Normalize(x)) == Normalize(x).
//
// The per-protocol parsers have already turned a "tool" role message into a
// user message carrying only tool_result blocks (see openai.go/anthropic.go),
// so what's left here is: merge that tool-result-only message into whatever
// user turn precedes it, insert a minimal placeholder turn wherever two
// messages of the same role would otherwise end up adjacent, and fix up the
// ends of the sequence so it starts and never finishes on "assistant".
func Normalize(system string, msgs []Message) Conversation {
	merged := mergeAndAlternate(msgs)
	fixed := fixSequenceEnds(merged)
	return Conversation{System: system, Messages: fixed}
}

// isToolResultOnly reports whether m is entirely tool_result blocks — the
// shape a "tool" role message takes once a protocol parser has decoded it.
func isToolResultOnly(m Message) bool {
	if len(m.Content) == 0 {
		return false
	}
	for _, b := range m.Content {
		if b.Type != BlockToolResult {
			return false
		}
	}
	return true
}

func mergeAndAlternate(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if len(m.Content) == 0 {
			continue
		}
		if isToolResultOnly(m) && len(out) > 0 && out[len(out)-1].Role == RoleUser {
			out[len(out)-1].Content = mergeToolResults(out[len(out)-1].Content, m.Content)
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == m.Role {
			out = append(out, placeholderFor(m.Role))
		}
		out = append(out, Message{Role: m.Role, Content: append([]ContentBlock{}, m.Content...)})
	}
	return out
}

// mergeToolResults appends incoming onto existing and drops any earlier
// tool_result block superseded by a later one carrying the same call ID.
func mergeToolResults(existing, incoming []ContentBlock) []ContentBlock {
	all := append(append([]ContentBlock{}, existing...), incoming...)
	lastOccurrence := make(map[string]int, len(all))
	for i, b := range all {
		if b.Type == BlockToolResult {
			lastOccurrence[b.ToolResultForID] = i
		}
	}
	out := make([]ContentBlock, 0, len(all))
	for i, b := range all {
		if b.Type == BlockToolResult && lastOccurrence[b.ToolResultForID] != i {
			continue
		}
		out = append(out, b)
	}
	return out
}

// placeholderFor returns the minimal turn of the opposite role, used to
// split two adjacent messages that would otherwise share a role.
func placeholderFor(adjacentRole Role) Message {
	if adjacentRole == RoleUser {
		return Message{Role: RoleAssistant, Content: []ContentBlock{{Type: BlockText, Text: "…"}}}
	}
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: " "}}}
}

// fixSequenceEnds ensures the sequence starts with user and never ends on
// assistant, per §3's alternation invariant.
func fixSequenceEnds(msgs []Message) []Message {
	if len(msgs) == 0 {
		return []Message{minimalUserTurn()}
	}
	out := msgs
	if out[0].Role != RoleUser {
		out = append([]Message{minimalUserTurn()}, out...)
	}
	if out[len(out)-1].Role == RoleAssistant {
		out = append(out, minimalUserTurn())
	}
	return out
}

func minimalUserTurn() Message {
	return Message{Role: RoleUser, Content: []ContentBlock{{Type: BlockText, Text: " "}}}
}

// ToolResultsFor returns the tool_result blocks in msg that answer the
// given tool_use ID, in case a client splits multiple tool results across
// separate content blocks of the same message.
func ToolResultsFor(msg Message, toolUseID string) []ContentBlock {
	var out []ContentBlock
	for _, b := range msg.Content {
		if b.Type == BlockToolResult && b.ToolResultForID == toolUseID {
			out = append(out, b)
		}
	}
	return out
}
