package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"
	"golang.org/x/sync/semaphore"

	"github.com/petehsu/KiroProxy/internal/account"
	"github.com/petehsu/KiroProxy/internal/config"
	"github.com/petehsu/KiroProxy/internal/usage"
)

// refreshAllConcurrency bounds how many accounts handleRefreshAllAccounts
// refreshes at once, matching the background refresher's own concurrency cap.
const refreshAllConcurrency = 10

// handleStatus reports whether the process is up and how many accounts are
// currently selectable.
func (s *Server) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":        "ok",
		"active_accounts": s.Store.ActiveCount(),
		"total_accounts":  len(s.Store.List()),
	})
}

// handleStats summarizes request and token volume from the aggregated
// usage counters.
func (s *Server) handleStats(c *gin.Context) {
	snap := usage.GetStatsStorage().Snapshot()
	c.JSON(http.StatusOK, gin.H{
		"total_requests": snap.TotalRequests,
		"success":        snap.SuccessCount,
		"errored":        snap.FailureCount,
		"total_tokens":   snap.TotalTokens,
	})
}

// handleStatsDetailed breaks request and token counts down per client
// protocol and model, plus per-account counts from the flow ring.
func (s *Server) handleStatsDetailed(c *gin.Context) {
	perAccount := make(map[string]int)
	for _, r := range s.Flows.List() {
		if r.AccountID != "" {
			perAccount[r.AccountID]++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"per_account": perAccount,
		"apis":        usage.GetStatsStorage().Snapshot().APIs,
	})
}

// handleQuota reports each account's last known quota snapshot.
func (s *Server) handleQuota(c *gin.Context) {
	out := make([]gin.H, 0)
	for _, snap := range s.Store.List() {
		out = append(out, gin.H{
			"account_id": snap.ID,
			"health":     snap.Health,
			"quota":      snap.Quota,
		})
	}
	c.JSON(http.StatusOK, gin.H{"accounts": out})
}

// handleLogs returns the most recent flow records as a lightweight log feed.
func (s *Server) handleLogs(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.Flows.List()})
}

// handleListAccounts returns every account's public snapshot.
func (s *Server) handleListAccounts(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"accounts": s.Store.List()})
}

func (s *Server) handleDeleteAccount(c *gin.Context) {
	s.Store.Remove(c.Param("id"))
	s.persistAccounts()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleToggleAccount(c *gin.Context) {
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Store.SetEnabled(c.Param("id"), body.Enabled); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.persistAccounts()
	c.Status(http.StatusNoContent)
}

// handleRefreshAccount forces a synchronous, in-band token refresh for one
// account right now, the same call path upstream.Client uses when a live
// request discovers a dead token mid-flight.
func (s *Server) handleRefreshAccount(c *gin.Context) {
	acc, ok := s.Store.Get(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
		return
	}
	if s.Orchestrator == nil || s.Orchestrator.Upstream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream client not wired"})
		return
	}

	if err := s.Orchestrator.Upstream.RefreshAccount(c.Request.Context(), acc); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"account_id": acc.ID, "refreshed": false, "error": err.Error()})
		return
	}
	s.Store.MarkRefreshed(acc.ID)
	c.JSON(http.StatusOK, gin.H{"account_id": acc.ID, "refreshed": true})
}

// handleRefreshAllAccounts refreshes every account concurrently (bounded by
// refreshAllConcurrency) and reports how many succeeded.
func (s *Server) handleRefreshAllAccounts(c *gin.Context) {
	if s.Orchestrator == nil || s.Orchestrator.Upstream == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "upstream client not wired"})
		return
	}

	accounts := s.Store.List()
	ctx := c.Request.Context()
	sem := semaphore.NewWeighted(refreshAllConcurrency)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var succeeded, failed int

	for _, snap := range accounts {
		acc, ok := s.Store.Get(snap.ID)
		if !ok {
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(acc *account.Account) {
			defer wg.Done()
			defer sem.Release(1)
			err := s.Orchestrator.Upstream.RefreshAccount(ctx, acc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				log.Warnf("management api: refresh-all failed for account %s: %v", acc.ID, err)
				return
			}
			succeeded++
			s.Store.MarkRefreshed(acc.ID)
		}(acc)
	}
	wg.Wait()

	c.JSON(http.StatusOK, gin.H{"total": len(accounts), "refreshed": succeeded, "failed": failed})
}

func (s *Server) handleRestoreAccount(c *gin.Context) {
	if err := s.Store.SetEnabled(c.Param("id"), true); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	s.persistAccounts()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleAccountUsage(c *gin.Context) {
	id := c.Param("id")
	var requests, errors int
	var tokens int64
	for _, r := range s.Flows.List() {
		if r.AccountID != id {
			continue
		}
		requests++
		tokens += r.InputTokens + r.OutputTokens
		if r.Status == "error" {
			errors++
		}
	}
	c.JSON(http.StatusOK, gin.H{"account_id": id, "requests": requests, "errors": errors, "tokens": tokens})
}

func (s *Server) handleListFlows(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"flows": s.Flows.List()})
}

func (s *Server) handleBookmarkFlow(c *gin.Context) {
	var body struct {
		Bookmarked bool `json:"bookmarked"`
	}
	_ = c.ShouldBindJSON(&body)
	if !s.Flows.Bookmark(c.Param("id"), body.Bookmarked) {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown flow id"})
		return
	}
	c.Status(http.StatusNoContent)
}

// handleStatsExport returns the full usage snapshot so it can be archived or
// merged into another process's counters later.
func (s *Server) handleStatsExport(c *gin.Context) {
	c.JSON(http.StatusOK, usage.GetStatsStorage().Snapshot())
}

// handleStatsImport merges a previously-exported snapshot into the running
// aggregate, skipping any request detail already present.
func (s *Server) handleStatsImport(c *gin.Context) {
	var incoming usage.StatisticsSnapshot
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	result := usage.GetStatsStorage().MergeSnapshot(incoming)
	c.JSON(http.StatusOK, result)
}

// handleConfigExport returns the running config with the credential fields of
// each account entry replaced by "REDACTED", so the export is safe to paste
// into a ticket or chat without leaking live tokens.
func (s *Server) handleConfigExport(c *gin.Context) {
	raw, err := json.Marshal(s.Config)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	// Config carries yaml tags only, so encoding/json keys are the Go field names.
	n := len(s.Config.Accounts)
	for i := 0; i < n; i++ {
		for _, field := range []string{"AccessToken", "RefreshToken", "ClientSecret"} {
			path := fmt.Sprintf("Accounts.%d.%s", i, field)
			if raw, err = sjson.SetBytes(raw, path, "REDACTED"); err != nil {
				c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
				return
			}
		}
	}

	c.Data(http.StatusOK, "application/json", raw)
}

func (s *Server) handleConfigImport(c *gin.Context) {
	var incoming config.Config
	if err := c.ShouldBindJSON(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := s.Store.LoadFromConfig(&incoming); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.persistAccounts()
	c.Status(http.StatusNoContent)
}

func (s *Server) persistAccounts() {
	s.Config.SetAccounts(s.Store.ExportToConfig())
	if err := s.Config.Save(); err != nil {
		log.Warnf("management api: persisting config failed: %v", err)
	}
}
