package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/translate"
)

// handleChatCompletions serves POST /v1/chat/completions.
func (s *Server) handleChatCompletions(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "type": "invalid_request_error"}})
		return
	}

	conv, tools, choice, model, stream, err := translate.ParseOpenAIRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error(), "type": "invalid_request_error"}})
		return
	}

	req := orchestrator.Request{
		ClientProtocol: "openai",
		SessionID:      c.GetHeader("X-Session-Id"),
		Conversation:   conv,
		Tools:          tools,
		ToolChoice:     choice,
		Model:          translate.MapModel(model),
		Stream:         stream,
	}

	if stream {
		sw := newOpenAIStreamWriter(c.Writer)
		c.Status(http.StatusOK)
		s.Orchestrator.ExecuteStream(c.Request.Context(), req, sw)
		return
	}

	result, oerr := s.Orchestrator.ExecuteCollected(c.Request.Context(), req)
	if oerr != nil {
		writeOpenAIError(c, oerr)
		return
	}
	c.Data(http.StatusOK, "application/json", translate.RenderOpenAIResponse(result, newResponseID()))
}

func writeOpenAIError(c *gin.Context, err *orchestrator.Error) {
	c.JSON(statusForKind(err.Kind), gin.H{"error": gin.H{"message": err.Message, "type": string(err.Kind)}})
}

// handleListModels serves GET /v1/models with the small set of canonical
// upstream-backed model names the translators accept.
func (s *Server) handleListModels(c *gin.Context) {
	now := nowUnix()
	models := []gin.H{
		{"id": "claude-sonnet-4", "object": "model", "created": now, "owned_by": "kiro"},
		{"id": "claude-sonnet-4.5", "object": "model", "created": now, "owned_by": "kiro"},
		{"id": "claude-haiku-4.5", "object": "model", "created": now, "owned_by": "kiro"},
		{"id": "claude-opus-4.5", "object": "model", "created": now, "owned_by": "kiro"},
	}
	c.JSON(http.StatusOK, gin.H{"object": "list", "data": models})
}
