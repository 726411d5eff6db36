package convert

import "github.com/relaygate/gateway/internal/protocol"

// Usage mapping (spec §4.B). Each upstream dialect's usage envelope maps
// onto the canonical Usage record, which carries enough fields (cached
// input, reasoning tokens) to reconstruct any of the three wire shapes.

type openAIUsage struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	TotalTokens             int `json:"total_tokens"`
	PromptTokensDetails     *struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details,omitempty"`
	CompletionTokensDetails *struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details,omitempty"`
}

func usageFromOpenAI(u openAIUsage) protocol.Usage {
	out := protocol.Usage{
		InputTokens:  u.PromptTokens,
		OutputTokens: u.CompletionTokens,
		TotalTokens:  u.TotalTokens,
	}
	if u.PromptTokensDetails != nil {
		out.CachedInputTokens = u.PromptTokensDetails.CachedTokens
	}
	if u.CompletionTokensDetails != nil {
		out.ReasoningTokens = u.CompletionTokensDetails.ReasoningTokens
	}
	return out
}

func usageToOpenAI(u protocol.Usage) openAIUsage {
	out := openAIUsage{
		PromptTokens:     u.InputTokens,
		CompletionTokens: u.OutputTokens,
		TotalTokens:      u.TotalTokens,
	}
	if u.CachedInputTokens > 0 {
		out.PromptTokensDetails = &struct {
			CachedTokens int `json:"cached_tokens"`
		}{CachedTokens: u.CachedInputTokens}
	}
	if u.ReasoningTokens > 0 {
		out.CompletionTokensDetails = &struct {
			ReasoningTokens int `json:"reasoning_tokens"`
		}{ReasoningTokens: u.ReasoningTokens}
	}
	return out
}

type anthropicUsage struct {
	InputTokens          int `json:"input_tokens"`
	CacheReadInputTokens int `json:"cache_read_input_tokens,omitempty"`
	OutputTokens         int `json:"output_tokens"`
}

func usageFromAnthropic(u anthropicUsage) protocol.Usage {
	return protocol.Usage{
		InputTokens:       u.InputTokens,
		OutputTokens:      u.OutputTokens,
		CachedInputTokens: u.CacheReadInputTokens,
		TotalTokens:       u.InputTokens + u.OutputTokens,
	}
}

func usageToAnthropic(u protocol.Usage) anthropicUsage {
	return anthropicUsage{
		InputTokens:          u.InputTokens,
		CacheReadInputTokens: u.CachedInputTokens,
		OutputTokens:         u.OutputTokens,
	}
}

type geminiUsage struct {
	PromptTokenCount       int `json:"promptTokenCount"`
	CandidatesTokenCount   int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount,omitempty"`
	ThoughtsTokenCount     int `json:"thoughtsTokenCount,omitempty"`
	TotalTokenCount        int `json:"totalTokenCount"`
}

func usageFromGemini(u geminiUsage) protocol.Usage {
	return protocol.Usage{
		InputTokens:       u.PromptTokenCount,
		OutputTokens:       u.CandidatesTokenCount,
		CachedInputTokens: u.CachedContentTokenCount,
		ReasoningTokens:   u.ThoughtsTokenCount,
		TotalTokens:       u.TotalTokenCount,
	}
}

func usageToGemini(u protocol.Usage) geminiUsage {
	return geminiUsage{
		PromptTokenCount:        u.InputTokens,
		CandidatesTokenCount:    u.OutputTokens,
		CachedContentTokenCount: u.CachedInputTokens,
		ThoughtsTokenCount:      u.ReasoningTokens,
		TotalTokenCount:         u.TotalTokens,
	}
}
