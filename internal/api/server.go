// Package api wires the HTTP surface: the three client-facing protocol
// endpoints and the management API used by the local dashboard/CLI.
package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/config"
	"github.com/petehsu/KiroProxy/internal/flow"
	"github.com/petehsu/KiroProxy/internal/logging"
	"github.com/petehsu/KiroProxy/internal/managementasset"
	"github.com/petehsu/KiroProxy/internal/orchestrator"
)

// Server holds every dependency the HTTP handlers need.
type Server struct {
	Config       *config.Config
	Store        *account.Store
	Orchestrator *orchestrator.Orchestrator
	Flows        *flow.Ring
	Engine       *gin.Engine
}

// NewServer builds the gin engine and registers every route.
func NewServer(cfg *config.Config, store *account.Store, orch *orchestrator.Orchestrator, flows *flow.Ring) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(logging.GinLogrusRecovery(), logging.GinLogrusLogger())

	s := &Server{Config: cfg, Store: store, Orchestrator: orch, Flows: flows, Engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	e := s.Engine

	// Landing page: this gateway ships no real admin UI build, just a static
	// pointer at the management API for anyone who browses to it directly.
	e.GET("/", func(c *gin.Context) {
		managementasset.ServeEmbeddedManagementHTML(c.Writer)
	})

	// Client-facing protocol endpoints.
	e.POST("/v1/chat/completions", s.handleChatCompletions)
	e.GET("/v1/models", s.handleListModels)
	e.POST("/v1/messages", s.handleMessages)
	e.POST("/v1/messages/count_tokens", s.handleCountTokens)
	e.POST("/v1/models/:modelAction", s.handleGenerateContent)
	e.POST("/v1beta/models/:modelAction", s.handleGenerateContent)

	// Management API, guarded by the shared secret.
	mgmt := e.Group("/api", s.requireManagementSecret)
	mgmt.GET("/status", s.handleStatus)
	mgmt.GET("/stats", s.handleStats)
	mgmt.GET("/stats/detailed", s.handleStatsDetailed)
	mgmt.GET("/stats/export", s.handleStatsExport)
	mgmt.POST("/stats/import", s.handleStatsImport)
	mgmt.GET("/quota", s.handleQuota)
	mgmt.GET("/logs", s.handleLogs)
	mgmt.GET("/models/unavailable", s.handleUnavailableModels)
	mgmt.POST("/models/:model_id/reset", s.handleResetModelAvailability)

	accounts := mgmt.Group("/accounts")
	accounts.GET("", s.handleListAccounts)
	accounts.DELETE("/:id", s.handleDeleteAccount)
	accounts.POST("/:id/toggle", s.handleToggleAccount)
	accounts.POST("/:id/refresh", s.handleRefreshAccount)
	accounts.POST("/:id/restore", s.handleRestoreAccount)
	accounts.GET("/:id/usage", s.handleAccountUsage)
	accounts.POST("/refresh-all", s.handleRefreshAllAccounts)

	flows := mgmt.Group("/flows")
	flows.GET("", s.handleListFlows)
	flows.POST("/:id/bookmark", s.handleBookmarkFlow)

	cfgGroup := mgmt.Group("/config")
	cfgGroup.GET("/export", s.handleConfigExport)
	cfgGroup.POST("/import", s.handleConfigImport)

	token := mgmt.Group("/token")
	token.GET("/scan", s.handleTokenScan)
	token.POST("/add-from-scan", s.handleTokenAddFromScan)
	token.GET("/refresh-check", s.handleTokenRefreshCheck)

	kiroLogin := mgmt.Group("/kiro/login")
	kiroLogin.POST("/start", s.handleKiroLoginStart)
	kiroLogin.GET("/poll", s.handleKiroLoginPoll)
	kiroLogin.POST("/cancel", s.handleKiroLoginCancel)

	kiroSocial := mgmt.Group("/kiro/social")
	kiroSocial.POST("/start", s.handleKiroSocialStart)
	kiroSocial.POST("/exchange", s.handleKiroSocialExchange)
}

// requireManagementSecret enforces the shared-secret bearer header on every
// /api route, when a secret has been configured.
func (s *Server) requireManagementSecret(c *gin.Context) {
	if s.Config.ManagementSecret == "" {
		c.Next()
		return
	}
	got := c.GetHeader("Authorization")
	want := "Bearer " + s.Config.ManagementSecret
	if got != want {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid management secret"})
		return
	}
	c.Next()
}

func statusForKind(kind orchestrator.ErrorKind) int {
	switch kind {
	case orchestrator.ErrBadRequest, orchestrator.ErrUnsupportedFeature:
		return http.StatusBadRequest
	case orchestrator.ErrAuthenticationFailed:
		return http.StatusUnauthorized
	case orchestrator.ErrRateLimitedAll:
		return http.StatusTooManyRequests
	case orchestrator.ErrContentLengthExceeded:
		return http.StatusRequestEntityTooLarge
	case orchestrator.ErrNoAccountAvailable, orchestrator.ErrUpstreamUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func newResponseID() string {
	return "resp-" + uuid.NewString()
}

func nowUnix() int64 { return time.Now().Unix() }
