// codewhisperer.go builds the upstream CodeWhisperer request body and
// parses its response stream into the canonical Result/Event shapes the
// three protocol translators render from.
package translate

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/petehsu/KiroProxy/internal/normalize"
)

// cwMessage is one turn in the upstream history shape.
type cwMessage struct {
	Role    string       `json:"role"`
	Content []cwContent  `json:"content"`
}

type cwContent struct {
	Type      string         `json:"type"`
	Text      string         `json:"text,omitempty"`
	ToolUseID string         `json:"toolUseId,omitempty"`
	Name      string         `json:"name,omitempty"`
	Input     map[string]any `json:"input,omitempty"`
	Content   string         `json:"content,omitempty"`
	IsError   bool           `json:"isError,omitempty"`
}

type cwTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type cwRequest struct {
	ConversationID string      `json:"conversationId"`
	Model          string      `json:"modelId"`
	System         string      `json:"system,omitempty"`
	Messages       []cwMessage `json:"messages"`
	Tools          []cwTool    `json:"tools,omitempty"`
	// NativeCapabilities flags upstream-native tools the model may invoke
	// without a user-supplied schema, e.g. "web_search".
	NativeCapabilities []string `json:"nativeCapabilities,omitempty"`
	AgentMode          string   `json:"agentMode"`
}

// BuildCodeWhispererRequest renders a normalized conversation plus tool set
// into the upstream request body. conversationID should be a stable hash of
// the session/account pair so CodeWhisperer can correlate multi-turn state;
// callers without a session key may pass any unique-enough string.
func BuildCodeWhispererRequest(conv normalize.Conversation, tools []Tool, choice ToolChoice, model, conversationID string) ([]byte, error) {
	system := conv.System
	if instr := RequiredInstruction(choice); instr != "" {
		if system != "" {
			system += "\n\n" + instr
		} else {
			system = instr
		}
	}

	req := cwRequest{
		ConversationID: conversationID,
		Model:          MapModel(model),
		System:         system,
		AgentMode:      "spec",
	}

	for _, m := range conv.Messages {
		cm := cwMessage{Role: string(m.Role)}
		for _, b := range m.Content {
			switch b.Type {
			case normalize.BlockText:
				cm.Content = append(cm.Content, cwContent{Type: "text", Text: b.Text})
			case normalize.BlockToolUse:
				cm.Content = append(cm.Content, cwContent{Type: "tool_use", ToolUseID: b.ToolUseID, Name: b.ToolName, Input: b.ToolInput})
			case normalize.BlockToolResult:
				cm.Content = append(cm.Content, cwContent{Type: "tool_result", ToolUseID: b.ToolResultForID, Content: b.ToolResultText, IsError: b.ToolResultError})
			case normalize.BlockImage:
				cm.Content = append(cm.Content, cwContent{Type: "image", Content: b.ImageURL})
			}
		}
		req.Messages = append(req.Messages, cm)
	}

	normalizedTools := NormalizeTools(tools)
	for _, t := range normalizedTools {
		if IsWebSearch(t) {
			req.NativeCapabilities = append(req.NativeCapabilities, reservedWebSearchTool)
			continue
		}
		req.Tools = append(req.Tools, cwTool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	return json.Marshal(req)
}

// StopReason is the canonical reason generation ended.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopMaxTokens StopReason = "max_tokens"
	StopToolUse   StopReason = "tool_use"
)

// Usage is a canonical token count pair.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Result is the fully-collected canonical assistant turn, used by
// non-streaming responses.
type Result struct {
	Model      string
	Content    []normalize.ContentBlock
	StopReason StopReason
	Usage      Usage
}

// EventKind identifies a streaming delta's shape.
type EventKind string

const (
	EventTextDelta    EventKind = "text_delta"
	EventToolUseStart EventKind = "tool_use_start"
	EventToolUseDelta EventKind = "tool_use_delta"
	EventStop         EventKind = "stop"
)

// Event is one canonical streaming delta, in upstream arrival order.
type Event struct {
	Kind       EventKind
	Index      int
	Text       string
	ToolUseID  string
	ToolName   string
	InputDelta string // raw partial JSON fragment for tool_use_delta
	StopReason StopReason
}

// cwFrame is one line of the upstream event stream. Kiro frames the
// underlying vnd.amazon.event-stream payloads as newline-delimited JSON by
// the time they reach this layer; each frame carries either an assistant
// text delta or a tool-use delta, mirroring the two event types
// CodeWhisperer's generateAssistantResponse stream emits.
type cwFrame struct {
	Content       string `json:"content,omitempty"`
	ToolUseID     string `json:"toolUseId,omitempty"`
	Name          string `json:"name,omitempty"`
	Input         string `json:"input,omitempty"`
	Stop          bool   `json:"stop,omitempty"`
	StopReason    string `json:"stopReason,omitempty"`
}

// ParseStream decodes the upstream NDJSON stream, invoking emit for each
// canonical Event in arrival order. It returns once the stream ends or emit
// returns an error.
func ParseStream(r io.Reader, emit func(Event) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	index := 0
	openToolID := ""
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var frame cwFrame
		if err := json.Unmarshal(line, &frame); err != nil {
			continue // tolerate stray non-JSON keepalive lines
		}

		switch {
		case frame.ToolUseID != "" && frame.Name != "" && frame.ToolUseID != openToolID:
			openToolID = frame.ToolUseID
			if err := emit(Event{Kind: EventToolUseStart, Index: index, ToolUseID: frame.ToolUseID, ToolName: frame.Name}); err != nil {
				return err
			}
			index++
		case frame.ToolUseID != "" && frame.Input != "":
			if err := emit(Event{Kind: EventToolUseDelta, Index: index - 1, ToolUseID: frame.ToolUseID, InputDelta: frame.Input}); err != nil {
				return err
			}
		case frame.Content != "":
			if err := emit(Event{Kind: EventTextDelta, Index: index, Text: frame.Content}); err != nil {
				return err
			}
		case frame.Stop:
			reason := StopEndTurn
			if frame.StopReason == "tool_use" || openToolID != "" {
				reason = StopToolUse
			} else if frame.StopReason == "max_tokens" {
				reason = StopMaxTokens
			}
			return emit(Event{Kind: EventStop, StopReason: reason})
		}
	}
	return scanner.Err()
}

// ParseCollected drains the same NDJSON stream ParseStream reads but
// assembles it into a single Result, for non-streaming client requests.
func ParseCollected(body []byte, model string) (*Result, error) {
	res := &Result{Model: model, StopReason: StopEndTurn}

	var textBuf bytes.Buffer
	toolInputs := map[string]*bytes.Buffer{}
	var toolOrder []string
	toolNames := map[string]string{}

	err := ParseStream(bytes.NewReader(body), func(ev Event) error {
		switch ev.Kind {
		case EventTextDelta:
			textBuf.WriteString(ev.Text)
		case EventToolUseStart:
			toolInputs[ev.ToolUseID] = &bytes.Buffer{}
			toolOrder = append(toolOrder, ev.ToolUseID)
			toolNames[ev.ToolUseID] = ev.ToolName
		case EventToolUseDelta:
			if buf, ok := toolInputs[ev.ToolUseID]; ok {
				buf.WriteString(ev.InputDelta)
			}
		case EventStop:
			res.StopReason = ev.StopReason
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("translate: parse upstream stream: %w", err)
	}

	if textBuf.Len() > 0 {
		res.Content = append(res.Content, normalize.ContentBlock{Type: normalize.BlockText, Text: textBuf.String()})
	}
	for _, id := range toolOrder {
		var input map[string]any
		raw := toolInputs[id].Bytes()
		if len(raw) > 0 {
			_ = json.Unmarshal(raw, &input)
		}
		if input == nil {
			input = map[string]any{}
		}
		res.Content = append(res.Content, normalize.ContentBlock{
			Type:      normalize.BlockToolUse,
			ToolUseID: id,
			ToolName:  toolNames[id],
			ToolInput: input,
		})
	}
	if len(toolOrder) > 0 && res.StopReason == StopEndTurn {
		res.StopReason = StopToolUse
	}

	res.Usage = Usage{
		InputTokens:  EstimateTextTokens(body), // placeholder; Orchestrator.ExecuteCollected replaces it with the estimate of the sent conversation
		OutputTokens: EstimateContentTokens(res.Content),
	}
	return res, nil
}
