package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/petehsu/KiroProxy/internal/registry"
)

// unavailableModelInfo 表示一个不可用的模型信息
type unavailableModelInfo struct {
	ModelID    string    `json:"model_id"`
	ModelName  string    `json:"model_name"`
	Provider   string    `json:"provider"`
	AccountID  string    `json:"account_id"`
	Reason     string    `json:"reason"`      // "quota_exceeded" or "suspended"
	ReasonText string    `json:"reason_text"` // 详细原因描述
	Since      time.Time `json:"since"`       // 不可用开始时间
}

const quotaCooldown = 5 * time.Minute

// handleUnavailableModels returns every model currently unselectable for at
// least one account, per the global registry's cooldown/suspension state.
// GET /api/models/unavailable
func (s *Server) handleUnavailableModels(c *gin.Context) {
	reg := registry.GetGlobalRegistry()
	out := make([]unavailableModelInfo, 0)
	now := time.Now()

	for modelID, registration := range reg.GetAllModels() {
		if registration == nil {
			continue
		}

		for accountID, since := range registration.QuotaExceededClients {
			if since == nil || now.Sub(*since) >= quotaCooldown {
				continue // 冷却已过期
			}
			out = append(out, unavailableModelInfo{
				ModelID:    modelID,
				ModelName:  displayName(registration, modelID),
				Provider:   reg.GetClientProvider(accountID),
				AccountID:  accountID,
				Reason:     "quota_exceeded",
				ReasonText: "配额超限冷却中",
				Since:      *since,
			})
		}

		for accountID, since := range registration.SuspendedClients {
			out = append(out, unavailableModelInfo{
				ModelID:    modelID,
				ModelName:  displayName(registration, modelID),
				Provider:   reg.GetClientProvider(accountID),
				AccountID:  accountID,
				Reason:     "suspended",
				ReasonText: "已暂停",
				Since:      derefOrZero(since),
			})
		}
	}

	c.JSON(http.StatusOK, gin.H{"models": out, "count": len(out)})
}

func displayName(reg *registry.Registration, modelID string) string {
	if reg.Info != nil && reg.Info.DisplayName != "" {
		return reg.Info.DisplayName
	}
	return modelID
}

func derefOrZero(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

type resetModelAvailabilityRequest struct {
	AccountID string `json:"account_id" binding:"required"`
}

// handleResetModelAvailability clears a single account's quota-exceeded and
// suspended markers for one model, making it selectable again immediately
// instead of waiting out the cooldown.
// POST /api/models/:model_id/reset
func (s *Server) handleResetModelAvailability(c *gin.Context) {
	modelID := c.Param("model_id")
	if modelID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "model_id is required"})
		return
	}

	var req resetModelAvailabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	reg := registry.GetGlobalRegistry()
	reg.ResumeClientModel(modelID, req.AccountID)

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"message":    "模型可用性已重置",
		"model_id":   modelID,
		"account_id": req.AccountID,
	})
}
