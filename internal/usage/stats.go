// Package usage aggregates flow records into request/token counters for the
// management API's /api/stats surface, with an optional Redis-backed
// storage so counters survive a process restart.
package usage

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/petehsu/KiroProxy/internal/cache"
	"github.com/petehsu/KiroProxy/internal/config"
	"github.com/petehsu/KiroProxy/internal/flow"

	log "github.com/sirupsen/logrus"
)

// TokenStats is the token breakdown for one recorded request.
type TokenStats struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
	TotalTokens  int64 `json:"total_tokens"`
}

// RequestDetail is one recorded request within a ModelSnapshot.
type RequestDetail struct {
	Timestamp time.Time  `json:"timestamp"`
	AccountID string     `json:"account_id"`
	Tokens    TokenStats `json:"tokens"`
	Failed    bool       `json:"failed"`
}

// ModelSnapshot aggregates requests for one model within one client protocol.
type ModelSnapshot struct {
	TotalRequests int64           `json:"total_requests"`
	TotalTokens   int64           `json:"total_tokens"`
	Details       []RequestDetail `json:"details"`
}

// APISnapshot aggregates requests for one client protocol ("openai",
// "anthropic", "gemini") across all models.
type APISnapshot struct {
	TotalRequests int64                    `json:"total_requests"`
	TotalTokens   int64                    `json:"total_tokens"`
	Models        map[string]ModelSnapshot `json:"models"`
}

// StatisticsSnapshot is the full exportable/importable aggregate state.
type StatisticsSnapshot struct {
	TotalRequests  int64                  `json:"total_requests"`
	SuccessCount   int64                  `json:"success_count"`
	FailureCount   int64                  `json:"failure_count"`
	TotalTokens    int64                  `json:"total_tokens"`
	APIs           map[string]APISnapshot `json:"apis"`
	RequestsByDay  map[string]int64       `json:"requests_by_day"`
	RequestsByHour map[string]int64       `json:"requests_by_hour"`
	TokensByDay    map[string]int64       `json:"tokens_by_day"`
	TokensByHour   map[string]int64       `json:"tokens_by_hour"`
}

// MergeResult reports how many imported details were new versus duplicates
// of records already present.
type MergeResult struct {
	Added   int `json:"added"`
	Skipped int `json:"skipped"`
}

// StatsStorage is the aggregation backend: in-memory for a single process,
// or Redis-backed so counters survive a restart.
type StatsStorage interface {
	Record(rec flow.Record)
	Snapshot() StatisticsSnapshot
	MergeSnapshot(snapshot StatisticsSnapshot) MergeResult
}

// NewStatsStorage picks a backend based on cfg.
func NewStatsStorage(cfg config.RedisCacheConfig) StatsStorage {
	if cfg.Enabled {
		return &redisStatsStorage{config: cfg}
	}
	return &memoryStatsStorage{stats: newRequestStatistics()}
}

var (
	defaultStatsStorage StatsStorage
	defaultStatsOnce    sync.Once
)

// InitStatsStorage initializes the global stats storage with cfg. Safe to
// call once at startup; later calls are no-ops.
func InitStatsStorage(cfg config.RedisCacheConfig) {
	defaultStatsOnce.Do(func() {
		defaultStatsStorage = NewStatsStorage(cfg)
	})
}

// GetStatsStorage returns the global stats storage, falling back to an
// in-memory store if InitStatsStorage was never called.
func GetStatsStorage() StatsStorage {
	if defaultStatsStorage == nil {
		return &memoryStatsStorage{stats: newRequestStatistics()}
	}
	return defaultStatsStorage
}

// requestStatistics is the in-memory aggregate, guarded by mu.
type requestStatistics struct {
	mu       sync.Mutex
	snapshot StatisticsSnapshot
}

func newRequestStatistics() *requestStatistics {
	return &requestStatistics{snapshot: StatisticsSnapshot{APIs: make(map[string]APISnapshot)}}
}

func (s *requestStatistics) record(rec flow.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	applyRecord(&s.snapshot, rec)
}

func (s *requestStatistics) snap() StatisticsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneSnapshot(s.snapshot)
}

func (s *requestStatistics) merge(incoming StatisticsSnapshot) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	return mergeInto(&s.snapshot, incoming)
}

type memoryStatsStorage struct {
	stats *requestStatistics
}

func (m *memoryStatsStorage) Record(rec flow.Record)       { m.stats.record(rec) }
func (m *memoryStatsStorage) Snapshot() StatisticsSnapshot { return m.stats.snap() }
func (m *memoryStatsStorage) MergeSnapshot(snapshot StatisticsSnapshot) MergeResult {
	return m.stats.merge(snapshot)
}

// applyRecord folds one flow.Record into snapshot in place.
func applyRecord(snapshot *StatisticsSnapshot, rec flow.Record) {
	statsKey := rec.ClientProtocol
	if statsKey == "" {
		statsKey = "unknown"
	}
	modelName := rec.ModelActual
	if modelName == "" {
		modelName = rec.ModelRequested
	}
	if modelName == "" {
		modelName = "unknown"
	}
	failed := rec.Status == "error"
	totalTokens := rec.InputTokens + rec.OutputTokens

	timestamp := rec.StartedAt
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	dayKey := timestamp.Format("2006-01-02")
	hourKey := hourKeyFor(timestamp)

	snapshot.TotalRequests++
	if failed {
		snapshot.FailureCount++
	} else {
		snapshot.SuccessCount++
	}
	snapshot.TotalTokens += totalTokens

	if snapshot.APIs == nil {
		snapshot.APIs = make(map[string]APISnapshot)
	}
	api := snapshot.APIs[statsKey]
	if api.Models == nil {
		api.Models = make(map[string]ModelSnapshot)
	}
	api.TotalRequests++
	api.TotalTokens += totalTokens

	model := api.Models[modelName]
	model.TotalRequests++
	model.TotalTokens += totalTokens
	model.Details = append(model.Details, RequestDetail{
		Timestamp: timestamp,
		AccountID: rec.AccountID,
		Tokens:    TokenStats{InputTokens: rec.InputTokens, OutputTokens: rec.OutputTokens, TotalTokens: totalTokens},
		Failed:    failed,
	})
	api.Models[modelName] = model
	snapshot.APIs[statsKey] = api

	if snapshot.RequestsByDay == nil {
		snapshot.RequestsByDay = make(map[string]int64)
	}
	snapshot.RequestsByDay[dayKey]++
	if snapshot.RequestsByHour == nil {
		snapshot.RequestsByHour = make(map[string]int64)
	}
	snapshot.RequestsByHour[hourKey]++
	if snapshot.TokensByDay == nil {
		snapshot.TokensByDay = make(map[string]int64)
	}
	snapshot.TokensByDay[dayKey] += totalTokens
	if snapshot.TokensByHour == nil {
		snapshot.TokensByHour = make(map[string]int64)
	}
	snapshot.TokensByHour[hourKey] += totalTokens
}

// hourKeyFor buckets ts by calendar day and hour, e.g. "2026-07-31T14:00".
func hourKeyFor(ts time.Time) string {
	return ts.Format("2006-01-02T15:00")
}

// mergeInto merges incoming's details into target, deduping by
// (api, model, timestamp, account) so re-importing the same export twice is
// a no-op the second time.
func mergeInto(target *StatisticsSnapshot, incoming StatisticsSnapshot) MergeResult {
	result := MergeResult{}

	seen := make(map[string]struct{})
	for apiName, api := range target.APIs {
		for modelName, model := range api.Models {
			for _, d := range model.Details {
				seen[dedupKey(apiName, modelName, d)] = struct{}{}
			}
		}
	}
	if target.APIs == nil {
		target.APIs = make(map[string]APISnapshot)
	}

	for apiName, incomingAPI := range incoming.APIs {
		if apiName == "" {
			continue
		}
		api := target.APIs[apiName]
		if api.Models == nil {
			api.Models = make(map[string]ModelSnapshot)
		}
		for modelName, incomingModel := range incomingAPI.Models {
			if modelName == "" {
				modelName = "unknown"
			}
			for _, d := range incomingModel.Details {
				if d.Timestamp.IsZero() {
					d.Timestamp = time.Now()
				}
				key := dedupKey(apiName, modelName, d)
				if _, exists := seen[key]; exists {
					result.Skipped++
					continue
				}
				seen[key] = struct{}{}
				recordImported(target, apiName, modelName, &api, d)
				result.Added++
			}
		}
		target.APIs[apiName] = api
	}
	return result
}

func recordImported(snapshot *StatisticsSnapshot, apiName, modelName string, api *APISnapshot, detail RequestDetail) {
	totalTokens := detail.Tokens.TotalTokens
	if totalTokens < 0 {
		totalTokens = 0
	}

	snapshot.TotalRequests++
	if detail.Failed {
		snapshot.FailureCount++
	} else {
		snapshot.SuccessCount++
	}
	snapshot.TotalTokens += totalTokens

	api.TotalRequests++
	api.TotalTokens += totalTokens
	if api.Models == nil {
		api.Models = make(map[string]ModelSnapshot)
	}
	model := api.Models[modelName]
	model.TotalRequests++
	model.TotalTokens += totalTokens
	model.Details = append(model.Details, detail)
	api.Models[modelName] = model

	dayKey := detail.Timestamp.Format("2006-01-02")
	hourKey := hourKeyFor(detail.Timestamp)

	if snapshot.RequestsByDay == nil {
		snapshot.RequestsByDay = make(map[string]int64)
	}
	snapshot.RequestsByDay[dayKey]++
	if snapshot.RequestsByHour == nil {
		snapshot.RequestsByHour = make(map[string]int64)
	}
	snapshot.RequestsByHour[hourKey]++
	if snapshot.TokensByDay == nil {
		snapshot.TokensByDay = make(map[string]int64)
	}
	snapshot.TokensByDay[dayKey] += totalTokens
	if snapshot.TokensByHour == nil {
		snapshot.TokensByHour = make(map[string]int64)
	}
	snapshot.TokensByHour[hourKey] += totalTokens
}

func cloneSnapshot(src StatisticsSnapshot) StatisticsSnapshot {
	out := src
	out.APIs = make(map[string]APISnapshot, len(src.APIs))
	for k, v := range src.APIs {
		out.APIs[k] = v
	}
	return out
}

func dedupKey(apiName, modelName string, d RequestDetail) string {
	return apiName + "|" + modelName + "|" + d.AccountID + "|" + d.Timestamp.Format(time.RFC3339Nano)
}

// redisStatsStorage is the Redis-backed StatsStorage: it keeps the whole
// aggregate as a handful of JSON blobs under cfg.Prefix, read-modify-written
// on every Record call. Good enough at kiro-proxy's request volumes; a Lua
// script would be needed for true atomicity under concurrent writers.
type redisStatsStorage struct {
	config config.RedisCacheConfig
	mu     sync.Mutex
}

const statsTTL = 24 * time.Hour

const (
	statsTotalKey  = "stats:total"
	statsAPIsKey   = "stats:apis"
	statsReqDayKey = "stats:requests_by_day"
	statsReqHrKey  = "stats:requests_by_hour"
	statsTokDayKey = "stats:tokens_by_day"
	statsTokHrKey  = "stats:tokens_by_hour"
)

func (s *redisStatsStorage) key(suffix string) string {
	return s.config.Prefix + suffix
}

func (s *redisStatsStorage) Record(rec flow.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.Snapshot()
	applyRecord(&snapshot, rec)
	s.saveSnapshot(context.Background(), snapshot)
}

func (s *redisStatsStorage) Snapshot() StatisticsSnapshot {
	client := cache.GetClient()
	if client == nil {
		return StatisticsSnapshot{APIs: make(map[string]APISnapshot)}
	}
	ctx := context.Background()
	snapshot := StatisticsSnapshot{APIs: make(map[string]APISnapshot)}

	if data, err := client.Get(ctx, s.key(statsTotalKey)).Result(); err == nil {
		var total struct {
			TotalRequests int64 `json:"total_requests"`
			SuccessCount  int64 `json:"success_count"`
			FailureCount  int64 `json:"failure_count"`
			TotalTokens   int64 `json:"total_tokens"`
		}
		if json.Unmarshal([]byte(data), &total) == nil {
			snapshot.TotalRequests, snapshot.SuccessCount = total.TotalRequests, total.SuccessCount
			snapshot.FailureCount, snapshot.TotalTokens = total.FailureCount, total.TotalTokens
		}
	}
	if data, err := client.Get(ctx, s.key(statsAPIsKey)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &snapshot.APIs)
	}
	if data, err := client.Get(ctx, s.key(statsReqDayKey)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &snapshot.RequestsByDay)
	}
	if data, err := client.Get(ctx, s.key(statsReqHrKey)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &snapshot.RequestsByHour)
	}
	if data, err := client.Get(ctx, s.key(statsTokDayKey)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &snapshot.TokensByDay)
	}
	if data, err := client.Get(ctx, s.key(statsTokHrKey)).Result(); err == nil {
		_ = json.Unmarshal([]byte(data), &snapshot.TokensByHour)
	}
	return snapshot
}

func (s *redisStatsStorage) MergeSnapshot(snapshot StatisticsSnapshot) MergeResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	current := s.Snapshot()
	result := mergeInto(&current, snapshot)
	s.saveSnapshot(context.Background(), current)
	return result
}

func (s *redisStatsStorage) saveSnapshot(ctx context.Context, snapshot StatisticsSnapshot) {
	client := cache.GetClient()
	if client == nil {
		return
	}

	totalData, _ := json.Marshal(map[string]int64{
		"total_requests": snapshot.TotalRequests,
		"success_count":  snapshot.SuccessCount,
		"failure_count":  snapshot.FailureCount,
		"total_tokens":   snapshot.TotalTokens,
	})
	if err := client.Set(ctx, s.key(statsTotalKey), totalData, statsTTL).Err(); err != nil {
		log.Errorf("usage: redis save stats failed: %v", err)
		return
	}

	if apisData, err := json.Marshal(snapshot.APIs); err == nil {
		client.Set(ctx, s.key(statsAPIsKey), apisData, statsTTL)
	}
	if data, err := json.Marshal(snapshot.RequestsByDay); err == nil {
		client.Set(ctx, s.key(statsReqDayKey), data, statsTTL)
	}
	if data, err := json.Marshal(snapshot.RequestsByHour); err == nil {
		client.Set(ctx, s.key(statsReqHrKey), data, statsTTL)
	}
	if data, err := json.Marshal(snapshot.TokensByDay); err == nil {
		client.Set(ctx, s.key(statsTokDayKey), data, statsTTL)
	}
	if data, err := json.Marshal(snapshot.TokensByHour); err == nil {
		client.Set(ctx, s.key(statsTokHrKey), data, statsTTL)
	}
}
