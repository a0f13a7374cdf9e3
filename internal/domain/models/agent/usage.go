package agent

import "math"

// TokenUsage is the provider-reported token accounting for one primary call
type TokenUsage struct {
	InputTokens         int     `json:"input_tokens"`
	CachedTokens        int     `json:"cached_tokens"`
	OutputTokens        int     `json:"output_tokens"`
	ReasoningTokens     int     `json:"reasoning_tokens"`
	TotalTokens         int     `json:"total_tokens"`
	PromptCacheHitRatio float64 `json:"prompt_cache_hit_ratio"`
}

// NewTokenUsage builds a TokenUsage and derives the prompt cache hit ratio.
// A zero total is filled in as input + output.
func NewTokenUsage(input, cached, output, reasoning, total int) TokenUsage {
	if total == 0 {
		total = input + output
	}
	return TokenUsage{
		InputTokens:         input,
		CachedTokens:        cached,
		OutputTokens:        output,
		ReasoningTokens:     reasoning,
		TotalTokens:         total,
		PromptCacheHitRatio: CacheHitRatio(cached, input),
	}
}

// CacheHitRatio returns cached/input as a percentage rounded to 2 decimals.
// Returns 0 when input is 0.
func CacheHitRatio(cached, input int) float64 {
	if input <= 0 {
		return 0
	}
	ratio := float64(cached) / float64(input) * 100
	return math.Round(ratio*100) / 100
}
