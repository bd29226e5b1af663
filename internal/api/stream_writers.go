package api

import (
	"fmt"
	"net/http"

	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/translate"
)

// openAIStreamWriter renders canonical events as OpenAI chat.completion.chunk
// SSE frames.
type openAIStreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	model   string
}

func newOpenAIStreamWriter(w http.ResponseWriter) *openAIStreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &openAIStreamWriter{w: w, flusher: flusher}
}

func (s *openAIStreamWriter) WriteStart(model, messageID string) error {
	s.model = model
	return nil
}

func (s *openAIStreamWriter) WriteEvent(ev translate.Event) error {
	chunk := translate.RenderOpenAIChunk(ev, s.model, "chatcmpl-stream")
	if chunk == nil {
		return nil
	}
	_, err := s.w.Write(chunk)
	return err
}

func (s *openAIStreamWriter) WriteError(err *orchestrator.Error) error {
	_, werr := fmt.Fprintf(s.w, "data: {\"error\":{\"message\":%q,\"type\":%q}}\n\n", err.Message, err.Kind)
	s.w.Write(translate.OpenAIDoneFrame())
	return werr
}

func (s *openAIStreamWriter) Flush() {
	s.w.Write(translate.OpenAIDoneFrame())
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// anthropicStreamWriter renders canonical events as Anthropic's typed SSE
// event sequence.
type anthropicStreamWriter struct {
	w         http.ResponseWriter
	flusher   http.Flusher
	model     string
	messageID string
	started   bool
}

func newAnthropicStreamWriter(w http.ResponseWriter) *anthropicStreamWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	flusher, _ := w.(http.Flusher)
	return &anthropicStreamWriter{w: w, flusher: flusher}
}

func (s *anthropicStreamWriter) WriteStart(model, messageID string) error {
	s.model, s.messageID = model, messageID
	_, err := s.w.Write(translate.AnthropicMessageStart(messageID, model))
	s.started = true
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return err
}

func (s *anthropicStreamWriter) WriteEvent(ev translate.Event) error {
	for _, frame := range translate.AnthropicSSEEvent(ev, s.messageID, s.model) {
		if _, err := s.w.Write(frame); err != nil {
			return err
		}
	}
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}

func (s *anthropicStreamWriter) WriteError(err *orchestrator.Error) error {
	if !s.started {
		s.w.Write(translate.AnthropicMessageStart(s.messageID, s.model))
	}
	_, werr := fmt.Fprintf(s.w, "event: error\ndata: {\"type\":\"error\",\"error\":{\"type\":%q,\"message\":%q}}\n\n", err.Kind, err.Message)
	return werr
}

func (s *anthropicStreamWriter) Flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

// geminiStreamWriter renders canonical events as Gemini's JSON-array-streamed
// generateContent partials.
type geminiStreamWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
	wrote   bool
}

func newGeminiStreamWriter(w http.ResponseWriter) *geminiStreamWriter {
	w.Header().Set("Content-Type", "application/json")
	flusher, _ := w.(http.Flusher)
	return &geminiStreamWriter{w: w, flusher: flusher}
}

func (s *geminiStreamWriter) WriteStart(model, messageID string) error {
	_, err := s.w.Write([]byte("["))
	return err
}

func (s *geminiStreamWriter) WriteEvent(ev translate.Event) error {
	chunk := translate.GeminiStreamChunk(ev)
	if chunk == nil {
		return nil
	}
	if s.wrote {
		if _, err := s.w.Write([]byte(",")); err != nil {
			return err
		}
	}
	s.wrote = true
	_, err := s.w.Write(chunk)
	if s.flusher != nil {
		s.flusher.Flush()
	}
	return err
}

func (s *geminiStreamWriter) WriteError(err *orchestrator.Error) error {
	if s.wrote {
		s.w.Write([]byte(","))
	}
	_, werr := fmt.Fprintf(s.w, "{\"error\":{\"code\":500,\"message\":%q,\"status\":%q}}", err.Message, err.Kind)
	return werr
}

func (s *geminiStreamWriter) Flush() {
	s.w.Write([]byte("]"))
	if s.flusher != nil {
		s.flusher.Flush()
	}
}
