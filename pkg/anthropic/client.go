// Package anthropic is a narrow view of the Anthropic Messages API: one
// single-turn completion with an optionally cached system prompt. Callers
// depend on Client so they can be tested without the network.
package anthropic

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"
)

// Client creates single-turn completions.
type Client interface {
	CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error)
}

// MessageRequest is one user prompt plus an optional system prompt.
type MessageRequest struct {
	Model     string
	MaxTokens int64
	System    string
	// CacheTTL places a cache breakpoint on System ("5m" or "1h"). Empty
	// sends the system prompt uncached.
	CacheTTL    string
	Prompt      string
	Temperature *float64
}

// MessageResponse is the joined text of a completion and its usage.
type MessageResponse struct {
	ID         string
	Model      string
	Text       string
	StopReason string
	Usage      TokenUsage
}

// Truncated reports whether the model stopped on the token limit, in which
// case Text is likely incomplete.
func (r *MessageResponse) Truncated() bool {
	return r.StopReason == string(sdk.StopReasonMaxTokens)
}

// StatusError carries the HTTP status of a failed API call.
type StatusError struct {
	StatusCode int
	Err        error
}

func (e *StatusError) Error() string { return e.Err.Error() }

func (e *StatusError) Unwrap() error { return e.Err }

type sdkClient struct {
	client sdk.Client
}

// NewClient returns a Client backed by anthropic-sdk-go. SDK retries are
// off; callers wrap the client in their own retry policy.
func NewClient(apiKey string, opts ...option.RequestOption) Client {
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &sdkClient{client: sdk.NewClient(opts...)}
}

func (c *sdkClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	params, err := newParams(req)
	if err != nil {
		return nil, err
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		wrapped := eris.Wrap(err, "anthropic: create message")
		var apiErr *sdk.Error
		if errors.As(err, &apiErr) {
			return nil, &StatusError{StatusCode: apiErr.StatusCode, Err: wrapped}
		}
		return nil, wrapped
	}
	return newResponse(msg), nil
}

func newParams(req MessageRequest) (sdk.MessageNewParams, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return sdk.MessageNewParams{}, eris.New("anthropic: empty prompt")
	}
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages:  []sdk.MessageParam{sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt))},
	}
	if req.System != "" {
		block := sdk.TextBlockParam{Text: req.System}
		if req.CacheTTL != "" {
			cc := sdk.NewCacheControlEphemeralParam()
			cc.TTL = sdk.CacheControlEphemeralTTL(req.CacheTTL)
			block.CacheControl = cc
		}
		params.System = []sdk.TextBlockParam{block}
	}
	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}
	return params, nil
}

func newResponse(msg *sdk.Message) *MessageResponse {
	var text strings.Builder
	for _, b := range msg.Content {
		if b.Type == "text" {
			text.WriteString(b.Text)
		}
	}
	return &MessageResponse{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       text.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:              msg.Usage.InputTokens,
			OutputTokens:             msg.Usage.OutputTokens,
			CacheCreationInputTokens: msg.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     msg.Usage.CacheReadInputTokens,
		},
	}
}
