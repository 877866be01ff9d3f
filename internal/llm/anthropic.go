package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"

	"github.com/studyhub/backend/internal/logger"
)

// ── AnthropicClient ────────────────────────────────────

type AnthropicClient struct {
	client     *anthropic.Client
	model      string
	maxRetries int
	log        *logger.Logger
}

func NewAnthropicClient(apiKey, model string, maxRetries int, log *logger.Logger) *AnthropicClient {
	client := anthropic.NewClient(
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	)
	return &AnthropicClient{
		client:     &client,
		model:      model,
		maxRetries: maxRetries,
		log:        log.With("component", "anthropic"),
	}
}

func (c *AnthropicClient) Complete(ctx context.Context, req Request) (*Response, error) {
	content := make([]anthropic.ContentBlockParamUnion, 0, len(req.Images)+1)
	content = append(content, anthropic.NewTextBlock(req.Prompt))
	for _, img := range req.Images {
		content = append(content, anthropic.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: param.NewOpt(req.Temperature),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(content...),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	message, err := c.callWithRetry(ctx, params)
	if err != nil {
		return nil, err
	}

	var responseText string
	for _, block := range message.Content {
		if block.Type == "text" {
			responseText = block.Text
			break
		}
	}
	if responseText == "" {
		return nil, fmt.Errorf("no text content in API response")
	}

	return &Response{
		Content:      responseText,
		PromptTokens: int(message.Usage.InputTokens),
		OutputTokens: int(message.Usage.OutputTokens),
	}, nil
}

func (c *AnthropicClient) callWithRetry(ctx context.Context, params anthropic.MessageNewParams) (*anthropic.Message, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			sleepDuration := time.Duration(1<<uint(attempt)) * time.Second
			c.log.Info("retrying anthropic call", "in", sleepDuration, "attempt", attempt+1)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(sleepDuration):
			}
		}

		message, err := c.client.Messages.New(ctx, params)
		if err == nil {
			return message, nil
		}
		lastErr = err
		c.log.Warn("anthropic attempt failed", "attempt", attempt+1, "error", err)
		if !retryable(err) {
			break
		}
	}
	return nil, fmt.Errorf("anthropic API failed: %w", lastErr)
}

// retryable is false for client errors other than rate limiting, which
// would fail the same way again.
func retryable(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == http.StatusTooManyRequests || apiErr.StatusCode >= 500
	}
	return true
}
