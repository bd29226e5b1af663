package translate

import (
	"encoding/json"
	"fmt"

	"github.com/petehsu/KiroProxy/internal/normalize"
)

type geminiPart struct {
	Text             string              `json:"text,omitempty"`
	InlineData       *geminiInlineData   `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall `json:"functionCall,omitempty"`
	FunctionResponse *geminiFuncResponse `json:"functionResponse,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

type geminiFuncResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiContent struct {
	Role  string       `json:"role"`
	Parts []geminiPart `json:"parts"`
}

type geminiFunctionDecl struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDecl `json:"functionDeclarations"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Tools             []geminiTool    `json:"tools,omitempty"`
}

// ParseGeminiRequest decodes a generateContent body into the canonical
// shapes. model comes from the :generateContent{model} path segment, not
// the body, so callers pass it in separately after routing.
func ParseGeminiRequest(body []byte, model string) (normalize.Conversation, []Tool, ToolChoice, string, error) {
	var req geminiRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return normalize.Conversation{}, nil, ToolChoice{}, "", fmt.Errorf("gemini: invalid request body: %w", err)
	}

	var system string
	if req.SystemInstruction != nil {
		for _, p := range req.SystemInstruction.Parts {
			system += p.Text
		}
	}

	var msgs []normalize.Message
	for _, c := range req.Contents {
		role := normalize.RoleUser
		if c.Role == "model" {
			role = normalize.RoleAssistant
		}
		var blocks []normalize.ContentBlock
		for _, p := range c.Parts {
			switch {
			case p.Text != "":
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockText, Text: p.Text})
			case p.InlineData != nil:
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockImage, ImageURL: p.InlineData.Data, MediaType: p.InlineData.MimeType})
			case p.FunctionCall != nil:
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockToolUse, ToolName: p.FunctionCall.Name, ToolInput: p.FunctionCall.Args, ToolUseID: p.FunctionCall.Name})
			case p.FunctionResponse != nil:
				resp, _ := json.Marshal(p.FunctionResponse.Response)
				blocks = append(blocks, normalize.ContentBlock{Type: normalize.BlockToolResult, ToolResultForID: p.FunctionResponse.Name, ToolResultText: string(resp)})
			}
		}
		msgs = append(msgs, normalize.Message{Role: role, Content: blocks})
	}

	var tools []Tool
	for _, t := range req.Tools {
		for _, fd := range t.FunctionDeclarations {
			tools = append(tools, Tool{Name: fd.Name, Description: fd.Description, InputSchema: fd.Parameters})
		}
	}

	conv := normalize.Normalize(system, msgs)
	return conv, tools, ToolChoice{Mode: "auto"}, model, nil
}

// RenderGeminiResponse renders a collected Result as a generateContent
// response body.
func RenderGeminiResponse(res *Result) []byte {
	var parts []map[string]any
	for _, b := range res.Content {
		switch b.Type {
		case normalize.BlockText:
			parts = append(parts, map[string]any{"text": b.Text})
		case normalize.BlockToolUse:
			parts = append(parts, map[string]any{"functionCall": map[string]any{"name": b.ToolName, "args": b.ToolInput}})
		}
	}

	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content":      map[string]any{"role": "model", "parts": parts},
			"finishReason": geminiFinishReason(res.StopReason),
			"index":        0,
		}},
		"usageMetadata": map[string]any{
			"promptTokenCount":     res.Usage.InputTokens,
			"candidatesTokenCount": res.Usage.OutputTokens,
			"totalTokenCount":      res.Usage.InputTokens + res.Usage.OutputTokens,
		},
	})
	return body
}

func geminiFinishReason(r StopReason) string {
	switch r {
	case StopMaxTokens:
		return "MAX_TOKENS"
	default:
		return "STOP"
	}
}

// GeminiStreamChunk renders one canonical Event as a partial
// generateContent response object. Gemini's wire format is a
// JSON-array-streamed sequence rather than SSE: the caller writes '[', a
// comma-joined sequence of these objects, then ']'.
func GeminiStreamChunk(ev Event) []byte {
	var parts []map[string]any
	switch ev.Kind {
	case EventTextDelta:
		parts = append(parts, map[string]any{"text": ev.Text})
	case EventToolUseStart:
		parts = append(parts, map[string]any{"functionCall": map[string]any{"name": ev.ToolName, "args": map[string]any{}}})
	default:
		return nil
	}
	body, _ := json.Marshal(map[string]any{
		"candidates": []map[string]any{{
			"content": map[string]any{"role": "model", "parts": parts},
			"index":   0,
		}},
	})
	return body
}
