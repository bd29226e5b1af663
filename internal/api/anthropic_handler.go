package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/translate"
)

// handleMessages serves POST /v1/messages.
func (s *Server) handleMessages(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
		return
	}

	conv, tools, choice, model, stream, err := translate.ParseAnthropicRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"type": "error", "error": gin.H{"type": "invalid_request_error", "message": err.Error()}})
		return
	}

	req := orchestrator.Request{
		ClientProtocol: "anthropic",
		SessionID:      c.GetHeader("X-Session-Id"),
		Conversation:   conv,
		Tools:          tools,
		ToolChoice:     choice,
		Model:          translate.MapModel(model),
		Stream:         stream,
	}

	if stream {
		sw := newAnthropicStreamWriter(c.Writer)
		c.Status(http.StatusOK)
		s.Orchestrator.ExecuteStream(c.Request.Context(), req, sw)
		return
	}

	result, oerr := s.Orchestrator.ExecuteCollected(c.Request.Context(), req)
	if oerr != nil {
		writeAnthropicError(c, oerr)
		return
	}
	c.Data(http.StatusOK, "application/json", translate.RenderAnthropicResponse(result, newResponseID()))
}

func writeAnthropicError(c *gin.Context, err *orchestrator.Error) {
	c.JSON(statusForKind(err.Kind), gin.H{"type": "error", "error": gin.H{"type": string(err.Kind), "message": err.Message}})
}

// handleCountTokens serves POST /v1/messages/count_tokens. It runs the same
// parse+normalize path as handleMessages but stops short of any upstream
// call, returning only the estimate.
func (s *Server) handleCountTokens(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	conv, _, _, _, _, err := translate.ParseAnthropicRequest(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}
	count := translate.EstimateConversationTokens(conv)
	c.Data(http.StatusOK, "application/json", mustJSON(gin.H{"input_tokens": count}))
}

func mustJSON(v any) []byte {
	b, _ := json.Marshal(v)
	return b
}
