package anthropic

import "go.uber.org/zap"

// TokenUsage counts the tokens billed for one or more calls.
type TokenUsage struct {
	InputTokens              int64 `json:"input_tokens"`
	OutputTokens             int64 `json:"output_tokens"`
	CacheCreationInputTokens int64 `json:"cache_creation_input_tokens"`
	CacheReadInputTokens     int64 `json:"cache_read_input_tokens"`
}

// Add accumulates o into u.
func (u *TokenUsage) Add(o TokenUsage) {
	u.InputTokens += o.InputTokens
	u.OutputTokens += o.OutputTokens
	u.CacheCreationInputTokens += o.CacheCreationInputTokens
	u.CacheReadInputTokens += o.CacheReadInputTokens
}

// ModelRate is per-million-token pricing. Cache writes and reads are billed
// as multiples of the input rate.
type ModelRate struct {
	Input         float64 `yaml:"input" mapstructure:"input"`
	Output        float64 `yaml:"output" mapstructure:"output"`
	CacheWriteMul float64 `yaml:"cache_write_mul" mapstructure:"cache_write_mul"`
	CacheReadMul  float64 `yaml:"cache_read_mul" mapstructure:"cache_read_mul"`
}

// Pricing maps model IDs to rates.
type Pricing map[string]ModelRate

// DefaultPricing returns list prices for the models the engine is
// configured with out of the box.
func DefaultPricing() Pricing {
	return Pricing{
		"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
		"claude-opus-4-6":            {Input: 15.00, Output: 75.00, CacheWriteMul: 1.25, CacheReadMul: 0.1},
	}
}

// Cost returns the USD cost of u at model's rate, or 0 for an unknown model.
func (p Pricing) Cost(model string, u TokenUsage) float64 {
	rate, ok := p[model]
	if !ok {
		return 0
	}
	perTok := func(n int64, price float64) float64 { return float64(n) / 1e6 * price }
	return perTok(u.InputTokens, rate.Input) +
		perTok(u.OutputTokens, rate.Output) +
		perTok(u.CacheCreationInputTokens, rate.Input*rate.CacheWriteMul) +
		perTok(u.CacheReadInputTokens, rate.Input*rate.CacheReadMul)
}

// Log records usage and estimated cost for one operation at info level.
func (p Pricing) Log(op, model string, u TokenUsage) {
	zap.L().Info("anthropic usage",
		zap.String("op", op),
		zap.String("model", model),
		zap.Int64("input_tokens", u.InputTokens),
		zap.Int64("output_tokens", u.OutputTokens),
		zap.Int64("cache_write_tokens", u.CacheCreationInputTokens),
		zap.Int64("cache_read_tokens", u.CacheReadInputTokens),
		zap.Float64("estimated_cost_usd", p.Cost(model, u)),
	)
}
