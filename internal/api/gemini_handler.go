package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/petehsu/KiroProxy/internal/orchestrator"
	"github.com/petehsu/KiroProxy/internal/translate"
)

// handleGenerateContent serves POST /v1beta/models/{model}:generateContent
// and the :streamGenerateContent variant. The colon lives inside a single
// path segment, so the route just names it :modelAction and this handler
// splits "model:action" itself.
func (s *Server) handleGenerateContent(c *gin.Context) {
	seg := c.Param("modelAction")
	model, action, ok := strings.Cut(seg, ":")
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "expected {model}:action path segment"}})
		return
	}
	stream := action == "streamGenerateContent"

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	conv, tools, choice, _, err := translate.ParseGeminiRequest(body, model)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": err.Error()}})
		return
	}

	req := orchestrator.Request{
		ClientProtocol: "gemini",
		SessionID:      c.GetHeader("X-Session-Id"),
		Conversation:   conv,
		Tools:          tools,
		ToolChoice:     choice,
		Model:          translate.MapModel(model),
		Stream:         stream,
	}

	if stream {
		sw := newGeminiStreamWriter(c.Writer)
		c.Status(http.StatusOK)
		s.Orchestrator.ExecuteStream(c.Request.Context(), req, sw)
		return
	}

	result, oerr := s.Orchestrator.ExecuteCollected(c.Request.Context(), req)
	if oerr != nil {
		c.JSON(statusForKind(oerr.Kind), gin.H{"error": gin.H{"code": statusForKind(oerr.Kind), "message": oerr.Message, "status": string(oerr.Kind)}})
		return
	}
	c.Data(http.StatusOK, "application/json", translate.RenderGeminiResponse(result))
}
