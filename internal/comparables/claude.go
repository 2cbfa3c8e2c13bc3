// Package comparables provides valuation.CandidateSource implementations:
// a model-backed source, a static list, and a fallback chain.
package comparables

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/valuation-engine/internal/resilience"
	"github.com/sells-group/valuation-engine/internal/valuation"
	"github.com/sells-group/valuation-engine/pkg/anthropic"
)

// DefaultLimit is the number of candidates requested when the request
// leaves Limit unset.
const DefaultLimit = 8

const systemPrompt = `You identify public companies and recent M&A transactions comparable to a private lower middle market business.
Respond with a single JSON object and nothing else:
{"comparables":[{"name":string,"ev_to_ebitda":number,"ev_to_revenue":number,"relevance":number,"rationale":string}]}
relevance is between 0 and 1. Use 0 for a multiple you do not know. Never invent a company.`

// ClaudeConfig configures ClaudeSource.
type ClaudeConfig struct {
	Model             string
	MaxTokens         int64
	RequestsPerMinute int
	Retry             resilience.RetryPolicy
	Breaker           resilience.BreakerConfig
	// Pricing prices logged usage. Nil uses anthropic.DefaultPricing.
	Pricing anthropic.Pricing
}

// ClaudeSource asks the Anthropic Messages API for comparable candidates.
// Calls are rate limited, retried on transient failures, and guarded by a
// circuit breaker.
type ClaudeSource struct {
	client  anthropic.Client
	cfg     ClaudeConfig
	limiter *rate.Limiter
	breaker *resilience.Breaker
}

// NewClaudeSource builds a ClaudeSource. RequestsPerMinute <= 0 disables
// rate limiting.
func NewClaudeSource(client anthropic.Client, cfg ClaudeConfig) *ClaudeSource {
	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 2048
	}
	if cfg.Pricing == nil {
		cfg.Pricing = anthropic.DefaultPricing()
	}
	cfg.Retry.ShouldRetry = resilience.IsTransient
	if cfg.Retry.OnRetry == nil {
		cfg.Retry.OnRetry = resilience.RetryLogger("anthropic", "comparables")
	}
	cfg.Breaker.ShouldTrip = resilience.IsTransient
	if cfg.Breaker.OnStateChange == nil {
		cfg.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
			zap.L().Warn("comparables: circuit state change",
				zap.Stringer("from", from),
				zap.Stringer("to", to),
			)
		}
	}
	return &ClaudeSource{
		client:  client,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: resilience.NewBreaker(cfg.Breaker),
	}
}

// Candidates implements valuation.CandidateSource.
func (s *ClaudeSource) Candidates(ctx context.Context, req valuation.CandidateRequest) ([]valuation.Comparable, error) {
	if req.Limit <= 0 {
		req.Limit = DefaultLimit
	}
	prompt, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}

	msgReq := anthropic.MessageRequest{
		Model:     s.cfg.Model,
		MaxTokens: s.cfg.MaxTokens,
		System:    systemPrompt,
		CacheTTL:  "1h",
		Prompt:    prompt,
	}

	resp, err := resilience.Call(ctx, s.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.DoVal(ctx, s.cfg.Retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			if err := s.limiter.Wait(ctx); err != nil {
				return nil, eris.Wrap(err, "comparables: rate limit wait")
			}
			return classify(s.client.CreateMessage(ctx, msgReq))
		})
	})
	if err != nil {
		return nil, eris.Wrap(err, "comparables: request candidates")
	}
	s.cfg.Pricing.Log("comparables", s.cfg.Model, resp.Usage)
	if resp.Truncated() {
		zap.L().Warn("comparables: response hit the token limit",
			zap.String("company", req.CompanyName),
			zap.Int64("max_tokens", s.cfg.MaxTokens),
		)
	}

	comps, err := parseCandidates(resp.Text)
	if err != nil {
		zap.L().Warn("comparables: unparseable response",
			zap.String("company", req.CompanyName),
			zap.Error(err),
		)
		return nil, err
	}
	if len(comps) > req.Limit {
		comps = comps[:req.Limit]
	}
	return comps, nil
}

// classify marks retryable API failures as transient.
func classify(resp *anthropic.MessageResponse, err error) (*anthropic.MessageResponse, error) {
	if err == nil {
		return resp, nil
	}
	var statusErr *anthropic.StatusError
	if errors.As(err, &statusErr) && resilience.IsTransientHTTPStatus(statusErr.StatusCode) {
		return nil, resilience.NewTransientError(err, statusErr.StatusCode)
	}
	return nil, err
}

func buildPrompt(req valuation.CandidateRequest) (string, error) {
	subject, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return "", eris.Wrap(err, "comparables: marshal request")
	}
	return fmt.Sprintf("Find up to %d comparables for this company:\n%s", req.Limit, subject), nil
}

type candidateResponse struct {
	Comparables []valuation.Comparable `json:"comparables"`
}

func parseCandidates(text string) ([]valuation.Comparable, error) {
	var out candidateResponse
	if err := json.Unmarshal([]byte(cleanJSON(text)), &out); err != nil {
		return nil, eris.Wrap(err, "comparables: parse response json")
	}
	comps := out.Comparables[:0]
	for _, c := range out.Comparables {
		c.Name = strings.TrimSpace(c.Name)
		if c.Name == "" {
			continue
		}
		comps = append(comps, c)
	}
	return comps, nil
}

// cleanJSON extracts a JSON object from text that may carry markdown code
// fences or surrounding prose.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)
	if rest, ok := strings.CutPrefix(text, "```json"); ok {
		text = rest
	} else if rest, ok := strings.CutPrefix(text, "```"); ok {
		text = rest
	}
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
