package usage

import (
	"testing"
	"time"

	"github.com/petehsu/KiroProxy/internal/flow"
)

func TestMemoryStatsStorageRecordAggregates(t *testing.T) {
	s := &memoryStatsStorage{stats: newRequestStatistics()}

	s.Record(flow.Record{ClientProtocol: "openai", ModelActual: "claude-sonnet-4", Status: "ok", InputTokens: 10, OutputTokens: 20, StartedAt: time.Now()})
	s.Record(flow.Record{ClientProtocol: "openai", ModelActual: "claude-sonnet-4", Status: "error", InputTokens: 5, OutputTokens: 0, StartedAt: time.Now()})

	snap := s.Snapshot()
	if snap.TotalRequests != 2 {
		t.Fatalf("expected 2 total requests, got %d", snap.TotalRequests)
	}
	if snap.SuccessCount != 1 || snap.FailureCount != 1 {
		t.Fatalf("expected 1 success / 1 failure, got %d/%d", snap.SuccessCount, snap.FailureCount)
	}
	if snap.TotalTokens != 35 {
		t.Fatalf("expected 35 total tokens, got %d", snap.TotalTokens)
	}

	api, ok := snap.APIs["openai"]
	if !ok {
		t.Fatal("expected openai api bucket")
	}
	model, ok := api.Models["claude-sonnet-4"]
	if !ok {
		t.Fatal("expected claude-sonnet-4 model bucket")
	}
	if len(model.Details) != 2 {
		t.Fatalf("expected 2 request details, got %d", len(model.Details))
	}
}

func TestRecordDefaultsUnknownProtocolAndModel(t *testing.T) {
	s := &memoryStatsStorage{stats: newRequestStatistics()}
	s.Record(flow.Record{Status: "ok"})

	snap := s.Snapshot()
	if _, ok := snap.APIs["unknown"]; !ok {
		t.Fatal("expected requests with no protocol to bucket under unknown")
	}
	if _, ok := snap.APIs["unknown"].Models["unknown"]; !ok {
		t.Fatal("expected requests with no model to bucket under unknown")
	}
}

func TestMergeSnapshotIsIdempotent(t *testing.T) {
	s := &memoryStatsStorage{stats: newRequestStatistics()}
	s.Record(flow.Record{ClientProtocol: "anthropic", ModelActual: "claude-haiku-4.5", Status: "ok", InputTokens: 1, OutputTokens: 1, AccountID: "a1", StartedAt: time.Now()})
	exported := s.Snapshot()

	target := &memoryStatsStorage{stats: newRequestStatistics()}
	first := target.MergeSnapshot(exported)
	if first.Added != 1 || first.Skipped != 0 {
		t.Fatalf("expected first merge to add 1, got %+v", first)
	}

	second := target.MergeSnapshot(exported)
	if second.Added != 0 || second.Skipped != 1 {
		t.Fatalf("expected second merge to skip the duplicate, got %+v", second)
	}

	if target.Snapshot().TotalRequests != 1 {
		t.Fatalf("expected totals to be unchanged by the duplicate merge, got %d", target.Snapshot().TotalRequests)
	}
}

func TestHourKeyBucketsByCalendarHour(t *testing.T) {
	ts := time.Date(2026, 7, 31, 14, 37, 0, 0, time.UTC)
	if got := hourKeyFor(ts); got != "2026-07-31T14:00" {
		t.Fatalf("expected 2026-07-31T14:00, got %s", got)
	}
}
