package translate

import (
	"sync"

	"github.com/petehsu/KiroProxy/internal/normalize"
	"github.com/tiktoken-go/tokenizer"
)

var (
	encOnce sync.Once
	enc     tokenizer.Codec
)

func codec() tokenizer.Codec {
	encOnce.Do(func() {
		c, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err == nil {
			enc = c
		}
	})
	return enc
}

// EstimateTextTokens returns a best-effort token count for raw text. Claude
// models don't publish a tokenizer; cl100k_base is close enough for
// truncation/threshold decisions, which only need an estimate, not an exact
// count.
func EstimateTextTokens(text []byte) int {
	c := codec()
	if c == nil {
		return len(text) / 4 // rough fallback if the encoder failed to load
	}
	ids, _, err := c.Encode(string(text))
	if err != nil {
		return len(text) / 4
	}
	return len(ids)
}

// EstimateContentTokens sums the estimated token cost of a canonical
// content-block list, including a fixed per-tool-call overhead for the
// JSON scaffolding around tool_use blocks.
func EstimateContentTokens(blocks []normalize.ContentBlock) int {
	total := 0
	for _, b := range blocks {
		switch b.Type {
		case normalize.BlockText:
			total += EstimateTextTokens([]byte(b.Text))
		case normalize.BlockToolUse:
			total += EstimateTextTokens([]byte(b.ToolName)) + 8
			for k, v := range b.ToolInput {
				total += EstimateTextTokens([]byte(k))
				if s, ok := v.(string); ok {
					total += EstimateTextTokens([]byte(s))
				} else {
					total += 2
				}
			}
		case normalize.BlockToolResult:
			total += EstimateTextTokens([]byte(b.ToolResultText))
		}
	}
	return total
}

// EstimateConversationTokens estimates the total token cost of a canonical
// conversation, used by the Long-Context Governor's pre-send checks.
func EstimateConversationTokens(conv normalize.Conversation) int {
	total := EstimateTextTokens([]byte(conv.System))
	for _, m := range conv.Messages {
		total += EstimateContentTokens(m.Content)
	}
	return total
}
