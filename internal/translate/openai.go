package translate

import (
	"encoding/json"
	"fmt"

	"github.com/petehsu/KiroProxy/internal/normalize"
)

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    json.RawMessage  `json:"content"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openAIFunctionDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type openAITool struct {
	Type     string            `json:"type"`
	Function openAIFunctionDef `json:"function"`
}

type openAIRequest struct {
	Model      string          `json:"model"`
	Messages   []openAIMessage `json:"messages"`
	Tools      []openAITool    `json:"tools,omitempty"`
	ToolChoice json.RawMessage `json:"tool_choice,omitempty"`
	Stream     bool            `json:"stream,omitempty"`
}

// ParseOpenAIRequest decodes an OpenAI chat-completions body into the
// canonical shapes every downstream stage consumes.
func ParseOpenAIRequest(body []byte) (normalize.Conversation, []Tool, ToolChoice, string, bool, error) {
	var req openAIRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return normalize.Conversation{}, nil, ToolChoice{}, "", false, fmt.Errorf("openai: invalid request body: %w", err)
	}

	var system string
	var msgs []normalize.Message
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system += decodeTextContent(m.Content)
		case "tool":
			msgs = append(msgs, normalize.Message{
				Role: normalize.RoleUser,
				Content: []normalize.ContentBlock{{
					Type:            normalize.BlockToolResult,
					ToolResultForID: m.ToolCallID,
					ToolResultText:  decodeTextContent(m.Content),
				}},
			})
		case "user":
			msgs = append(msgs, normalize.Message{Role: normalize.RoleUser, Content: decodeMultipart(m.Content)})
		case "assistant":
			blocks := decodeMultipart(m.Content)
			for _, tc := range m.ToolCalls {
				var input map[string]any
				_ = json.Unmarshal([]byte(tc.Function.Arguments), &input)
				blocks = append(blocks, normalize.ContentBlock{
					Type:      normalize.BlockToolUse,
					ToolUseID: tc.ID,
					ToolName:  tc.Function.Name,
					ToolInput: input,
				})
			}
			msgs = append(msgs, normalize.Message{Role: normalize.RoleAssistant, Content: blocks})
		}
	}

	var tools []Tool
	for _, t := range req.Tools {
		tools = append(tools, Tool{Name: t.Function.Name, Description: t.Function.Description, InputSchema: t.Function.Parameters})
	}

	choice := parseOpenAIToolChoice(req.ToolChoice)

	conv := normalize.Normalize(system, msgs)
	return conv, tools, choice, req.Model, req.Stream, nil
}

func parseOpenAIToolChoice(raw json.RawMessage) ToolChoice {
	if len(raw) == 0 {
		return ToolChoice{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return ToolChoice{Mode: s}
	}
	var obj struct {
		Type     string `json:"type"`
		Function struct {
			Name string `json:"name"`
		} `json:"function"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Function.Name != "" {
		return ToolChoice{Mode: obj.Function.Name, Name: obj.Function.Name}
	}
	return ToolChoice{}
}

func decodeTextContent(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return ""
}

func decodeMultipart(raw json.RawMessage) []normalize.ContentBlock {
	if len(raw) == 0 {
		return nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return nil
		}
		return []normalize.ContentBlock{{Type: normalize.BlockText, Text: s}}
	}
	var parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		ImageURL struct {
			URL string `json:"url"`
		} `json:"image_url"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil
	}
	var out []normalize.ContentBlock
	for _, p := range parts {
		switch p.Type {
		case "text":
			out = append(out, normalize.ContentBlock{Type: normalize.BlockText, Text: p.Text})
		case "image_url":
			out = append(out, normalize.ContentBlock{Type: normalize.BlockImage, ImageURL: p.ImageURL.URL})
		}
	}
	return out
}

// RenderOpenAIResponse renders a collected Result as an OpenAI
// chat.completion JSON body.
func RenderOpenAIResponse(res *Result, id string) []byte {
	var textBuf string
	var toolCalls []map[string]any
	for _, b := range res.Content {
		switch b.Type {
		case normalize.BlockText:
			textBuf += b.Text
		case normalize.BlockToolUse:
			args, _ := json.Marshal(b.ToolInput)
			toolCalls = append(toolCalls, map[string]any{
				"id":   b.ToolUseID,
				"type": "function",
				"function": map[string]any{
					"name":      b.ToolName,
					"arguments": string(args),
				},
			})
		}
	}

	message := map[string]any{"role": "assistant", "content": textBuf}
	if len(toolCalls) > 0 {
		message["tool_calls"] = toolCalls
		message["content"] = nil
	}

	finish := openAIFinishReason(res.StopReason)

	body, _ := json.Marshal(map[string]any{
		"id":      id,
		"object":  "chat.completion",
		"model":   res.Model,
		"choices": []map[string]any{{"index": 0, "message": message, "finish_reason": finish}},
		"usage": map[string]any{
			"prompt_tokens":     res.Usage.InputTokens,
			"completion_tokens": res.Usage.OutputTokens,
			"total_tokens":      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	})
	return body
}

func openAIFinishReason(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "length"
	case StopToolUse:
		return "tool_calls"
	default:
		return "stop"
	}
}

// RenderOpenAIChunk renders one canonical Event as an OpenAI streaming SSE
// frame ("data: {...}\n\n"), or nil for events that don't produce a chunk.
func RenderOpenAIChunk(ev Event, model, id string) []byte {
	var delta map[string]any
	var finish *string

	switch ev.Kind {
	case EventTextDelta:
		delta = map[string]any{"content": ev.Text}
	case EventToolUseStart:
		delta = map[string]any{"tool_calls": []map[string]any{{
			"index": ev.Index,
			"id":    ev.ToolUseID,
			"type":  "function",
			"function": map[string]any{
				"name":      ev.ToolName,
				"arguments": "",
			},
		}}}
	case EventToolUseDelta:
		delta = map[string]any{"tool_calls": []map[string]any{{
			"index":    ev.Index,
			"function": map[string]any{"arguments": ev.InputDelta},
		}}}
	case EventStop:
		reason := openAIFinishReason(ev.StopReason)
		finish = &reason
		delta = map[string]any{}
	default:
		return nil
	}

	chunk := map[string]any{
		"id":      id,
		"object":  "chat.completion.chunk",
		"model":   model,
		"choices": []map[string]any{{"index": 0, "delta": delta, "finish_reason": finish}},
	}
	out, _ := json.Marshal(chunk)
	return append(append([]byte("data: "), out...), []byte("\n\n")...)
}

// OpenAIDoneFrame is the terminal SSE frame every OpenAI stream ends with.
func OpenAIDoneFrame() []byte {
	return []byte("data: [DONE]\n\n")
}
