// Package governor implements the Long-Context Governor: pre-send
// truncation/summarization strategies and the post-error retry strategy
// that responds to an upstream content_length_exceeded failure.
package governor

import (
	"github.com/petehsu/KiroProxy/internal/normalize"
	"github.com/petehsu/KiroProxy/internal/translate"
	log "github.com/sirupsen/logrus"
)

// Strategy names, independently toggleable.
const (
	StrategyAutoTruncate = "auto-truncate"
	StrategyPreEstimate  = "pre-estimate"
	StrategySmartSummary = "smart-summary"
	StrategyErrorRetry   = "error-retry"
)

// Config holds the governor's toggles and thresholds.
type Config struct {
	AutoTruncate   bool
	PreEstimate    bool
	SmartSummary   bool
	ErrorRetry     bool // default true; the others default false
	TokenThreshold int  // auto-truncate threshold
	PreEstimateMargin int // pre-estimate threshold = TokenThreshold - PreEstimateMargin
	ErrorRetryThreshold int // stricter threshold used on length_exceeded retry
}

// DefaultConfig matches the spec's stated defaults: only error-retry is on
// by default.
func DefaultConfig() Config {
	return Config{
		ErrorRetry:          true,
		TokenThreshold:      180000,
		PreEstimateMargin:   20000,
		ErrorRetryThreshold: 120000,
	}
}

// Governor applies the configured strategies to a conversation before send
// and on a length_exceeded retry.
type Governor struct {
	cfg Config
	// summarize calls a cheaper upstream model to compress the dropped
	// prefix; nil disables smart-summary even if cfg.SmartSummary is set.
	summarize func(dropped []normalize.Message) (string, error)
}

// New builds a Governor. summarize may be nil; SmartSummary then falls back
// to plain truncation.
func New(cfg Config, summarize func(dropped []normalize.Message) (string, error)) *Governor {
	return &Governor{cfg: cfg, summarize: summarize}
}

// PreSend applies auto-truncate / pre-estimate / smart-summary to conv
// before the first upstream call, in that order. Each strategy is a no-op
// if its toggle is off.
func (g *Governor) PreSend(conv normalize.Conversation) normalize.Conversation {
	threshold := g.cfg.TokenThreshold
	if g.cfg.PreEstimate {
		threshold -= g.cfg.PreEstimateMargin
		if threshold < 0 {
			threshold = 0
		}
	}
	if !g.cfg.AutoTruncate && !g.cfg.PreEstimate {
		return conv
	}
	return g.truncateToThreshold(conv, threshold)
}

// OnLengthExceeded re-applies truncation with a stricter threshold for the
// single allowed retry after an upstream content_length_exceeded error.
func (g *Governor) OnLengthExceeded(conv normalize.Conversation) normalize.Conversation {
	if !g.cfg.ErrorRetry {
		return conv
	}
	return g.truncateToThreshold(conv, g.cfg.ErrorRetryThreshold)
}

// truncateToThreshold drops the oldest non-system messages in whole
// user+assistant turn pairs until the estimate is under threshold, always
// keeping the final user message intact. If SmartSummary is enabled and a
// summarizer is configured, the dropped prefix becomes a system-prefix
// summary note instead of being discarded outright.
func (g *Governor) truncateToThreshold(conv normalize.Conversation, threshold int) normalize.Conversation {
	if translate.EstimateConversationTokens(conv) <= threshold || len(conv.Messages) <= 1 {
		return conv
	}

	msgs := append([]normalize.Message{}, conv.Messages...)
	var dropped []normalize.Message

	for len(msgs) > 1 {
		estimate := translate.EstimateConversationTokens(normalize.Conversation{System: conv.System, Messages: msgs})
		if estimate <= threshold {
			break
		}
		// Drop the oldest turn pair (keep the last message untouched).
		pairLen := 1
		if len(msgs) > 2 && msgs[0].Role != msgs[1].Role {
			pairLen = 2
		}
		dropped = append(dropped, msgs[:pairLen]...)
		msgs = msgs[pairLen:]
	}

	system := conv.System
	if len(dropped) > 0 {
		if g.cfg.SmartSummary && g.summarize != nil {
			summary, err := g.summarize(dropped)
			if err != nil {
				log.Warnf("governor: smart-summary failed, falling back to plain truncation: %v", err)
			} else {
				system = appendSystemNote(system, summary)
			}
		}
		log.Infof("governor: dropped %d oldest messages to fit %d-token threshold", len(dropped), threshold)
	}

	return normalize.Conversation{System: system, Messages: msgs}
}

func appendSystemNote(system, note string) string {
	if system == "" {
		return "[earlier conversation summarized]: " + note
	}
	return system + "\n\n[earlier conversation summarized]: " + note
}
