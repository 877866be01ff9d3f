// Package llm is the completion collaborator used by generation and judging.
package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/studyhub/backend/internal/config"
	"github.com/studyhub/backend/internal/logger"
	"github.com/studyhub/backend/internal/metrics"
)

type Purpose string

const (
	PurposeGenerate Purpose = "generate"
	PurposeJudge    Purpose = "judge"
)

type Image struct {
	MediaType string
	Data      []byte
}

type Request struct {
	Purpose     Purpose
	System      string
	Prompt      string
	Images      []Image
	Temperature float64
	MaxTokens   int
}

type Response struct {
	Content      string
	PromptTokens int
	OutputTokens int
}

// Client is the interface every provider satisfies.
type Client interface {
	Complete(ctx context.Context, req Request) (*Response, error)
}

// New builds the configured provider wrapped with rate limiting and
// instrumentation. It returns a nil Client when AI is not active; callers
// treat that as "do nothing".
func New(cfg config.AIConfig, log *logger.Logger, m *metrics.Metrics) (Client, error) {
	if !cfg.Active() {
		log.Info("completion client disabled")
		return nil, nil
	}

	var c Client
	switch cfg.Provider {
	case "anthropic":
		c = NewAnthropicClient(cfg.APIKey, cfg.Model, cfg.MaxRetries, log)
	case "command":
		c = NewCommandClient(cfg.CommandPath)
	case "mock":
		c = NewMockClient()
	default:
		return nil, fmt.Errorf("unknown ai provider %q", cfg.Provider)
	}
	log.Info("completion client ready", "provider", cfg.Provider, "model", cfg.Model)

	if cfg.RequestsPerMinute > 0 {
		c = NewRateLimited(c, cfg.RequestsPerMinute)
	}
	return NewInstrumented(c, log, m), nil
}

// ── Rate limiting ───────────────────────────────────────

// RateLimited shares one token bucket across every worker.
type RateLimited struct {
	next    Client
	limiter *rate.Limiter
}

func NewRateLimited(next Client, perMinute int) *RateLimited {
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), 1),
	}
}

func (r *RateLimited) Complete(ctx context.Context, req Request) (*Response, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limit wait: %w", err)
	}
	return r.next.Complete(ctx, req)
}

// ── Instrumentation ─────────────────────────────────────

type Instrumented struct {
	next    Client
	log     *logger.Logger
	metrics *metrics.Metrics
}

func NewInstrumented(next Client, log *logger.Logger, m *metrics.Metrics) *Instrumented {
	return &Instrumented{next: next, log: log.With("component", "llm"), metrics: m}
}

func (i *Instrumented) Complete(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()
	resp, err := i.next.Complete(ctx, req)
	if err != nil {
		i.metrics.LLMCall(string(req.Purpose), "error", 0, 0)
		i.log.Warn("completion failed", "purpose", req.Purpose, "duration", time.Since(start), "error", err)
		return nil, err
	}
	i.metrics.LLMCall(string(req.Purpose), "ok", resp.PromptTokens, resp.OutputTokens)
	i.log.Debug("completion done",
		"purpose", req.Purpose,
		"images", len(req.Images),
		"prompt_tokens", resp.PromptTokens,
		"output_tokens", resp.OutputTokens,
		"duration", time.Since(start),
	)
	return resp, nil
}
