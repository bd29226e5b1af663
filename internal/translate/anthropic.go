package translate

import (
	"encoding/json"
	"fmt"

	"github.com/petehsu/KiroProxy/internal/normalize"
)

type anthropicContentBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Source    *anthropicImage `json:"source,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     map[string]any  `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   json.RawMessage `json:"content,omitempty"`
	IsError   bool            `json:"is_error,omitempty"`
}

type anthropicImage struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicRequest struct {
	Model      string             `json:"model"`
	System     json.RawMessage    `json:"system,omitempty"`
	Messages   []anthropicMessage `json:"messages"`
	Tools      []anthropicTool    `json:"tools,omitempty"`
	ToolChoice json.RawMessage    `json:"tool_choice,omitempty"`
	Stream     bool               `json:"stream,omitempty"`
	MaxTokens  int                `json:"max_tokens,omitempty"`
}

// ParseAnthropicRequest decodes a /v1/messages body into the canonical
// shapes.
func ParseAnthropicRequest(body []byte) (normalize.Conversation, []Tool, ToolChoice, string, bool, error) {
	var req anthropicRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return normalize.Conversation{}, nil, ToolChoice{}, "", false, fmt.Errorf("anthropic: invalid request body: %w", err)
	}

	system := decodeAnthropicSystem(req.System)

	var msgs []normalize.Message
	for _, m := range req.Messages {
		role := normalize.RoleUser
		if m.Role == "assistant" {
			role = normalize.RoleAssistant
		}
		var blocks []normalize.ContentBlock
		for _, b := range m.Content {
			switch b.Type {
			case "text":
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockText, Text: b.Text})
			case "image":
				if b.Source != nil {
					blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockImage, ImageURL: b.Source.Data, MediaType: b.Source.MediaType})
				}
			case "tool_use":
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockToolUse, ToolUseID: b.ID, ToolName: b.Name, ToolInput: b.Input})
			case "tool_result":
				blocks = append(blocks, normalize.ContentBlock{
					Type:            normalize.BlockToolResult,
					ToolResultForID: b.ToolUseID,
					ToolResultText:  decodeAnthropicToolResultText(b.Content),
					ToolResultError: b.IsError,
				})
			}
		}
		msgs = append(msgs, normalize.Message{Role: role, Content: blocks})
	}

	var tools []Tool
	for _, t := range req.Tools {
		tools = append(tools, Tool{Name: t.Name, Description: t.Description, InputSchema: t.InputSchema})
	}

	conv := normalize.Normalize(system, msgs)
	return conv, tools, parseAnthropicToolChoice(req.ToolChoice), req.Model, req.Stream, nil
}

func decodeAnthropicSystem(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}

func decodeAnthropicToolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var blocks []anthropicContentBlock
	if err := json.Unmarshal(raw, &blocks); err == nil {
		out := ""
		for _, b := range blocks {
			out += b.Text
		}
		return out
	}
	return ""
}

func parseAnthropicToolChoice(raw json.RawMessage) ToolChoice {
	if len(raw) == 0 {
		return ToolChoice{}
	}
	var obj struct {
		Type string `json:"type"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return ToolChoice{}
	}
	switch obj.Type {
	case "any":
		return ToolChoice{Mode: "required"}
	case "tool":
		return ToolChoice{Mode: obj.Name, Name: obj.Name}
	case "none":
		return ToolChoice{Mode: "none"}
	default:
		return ToolChoice{Mode: "auto"}
	}
}

// RenderAnthropicResponse renders a collected Result as a /v1/messages body.
func RenderAnthropicResponse(res *Result, id string) []byte {
	var content []map[string]any
	for _, b := range res.Content {
		switch b.Type {
		case normalize.BlockText:
			content = append(content, map[string]any{"type": "text", "text": b.Text})
		case normalize.BlockToolUse:
			content = append(content, map[string]any{"type": "tool_use", "id": b.ToolUseID, "name": b.ToolName, "input": b.ToolInput})
		}
	}
	body, _ := json.Marshal(map[string]any{
		"id":            id,
		"type":          "message",
		"role":          "assistant",
		"model":         res.Model,
		"content":       content,
		"stop_reason":   res.StopReason,
		"stop_sequence": nil,
		"usage": map[string]any{
			"input_tokens":  res.Usage.InputTokens,
			"output_tokens": res.Usage.OutputTokens,
		},
	})
	return body
}

// AnthropicSSEEvent renders one canonical Event plus its wrapping
// "event: <type>\ndata: {...}\n\n" frame(s). Anthropic streams are
// multi-event per delta (a content_block_start, then deltas, then stop), so
// this returns the full set of frames produced by ev.
func AnthropicSSEEvent(ev Event, messageID, model string) [][]byte {
	frame := func(eventType string, payload map[string]any) []byte {
		payload["type"] = eventType
		data, _ := json.Marshal(payload)
		return []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", eventType, data))
	}

	switch ev.Kind {
	case EventTextDelta:
		return [][]byte{frame("content_block_delta", map[string]any{
			"index": ev.Index,
			"delta": map[string]any{"type": "text_delta", "text": ev.Text},
		})}
	case EventToolUseStart:
		return [][]byte{frame("content_block_start", map[string]any{
			"index":         ev.Index,
			"content_block": map[string]any{"type": "tool_use", "id": ev.ToolUseID, "name": ev.ToolName, "input": map[string]any{}},
		})}
	case EventToolUseDelta:
		return [][]byte{frame("content_block_delta", map[string]any{
			"index": ev.Index,
			"delta": map[string]any{"type": "input_json_delta", "partial_json": ev.InputDelta},
		})}
	case EventStop:
		return [][]byte{
			frame("message_delta", map[string]any{"delta": map[string]any{"stop_reason": ev.StopReason}}),
			frame("message_stop", map[string]any{}),
		}
	default:
		return nil
	}
}

// AnthropicMessageStart is the first frame of every Anthropic stream.
func AnthropicMessageStart(messageID, model string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type": "message_start",
		"message": map[string]any{
			"id": messageID, "type": "message", "role": "assistant", "model": model,
			"content": []any{}, "stop_reason": nil, "usage": map[string]any{"input_tokens": 0, "output_tokens": 0},
		},
	})
	return []byte(fmt.Sprintf("event: message_start\ndata: %s\n\n", data))
}
