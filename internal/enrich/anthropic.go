package enrich

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/comerito/cezar/internal/resilience"
	"github.com/comerito/cezar/pkg/anthropic"
)

// AnthropicConfig configures AnthropicEngine.
type AnthropicConfig struct {
	Model     string
	MaxTokens int64
	Retry     resilience.Policy
	Breaker   resilience.BreakerConfig
}

// AnthropicEngine answers prompts with the Anthropic Messages API. Calls
// are retried on transient failures and go through a circuit breaker so a
// dead API fails every remaining chunk fast.
type AnthropicEngine struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.Policy
	breaker   *resilience.Breaker
}

// NewAnthropicEngine wraps client.
func NewAnthropicEngine(client anthropic.Client, cfg AnthropicConfig) *AnthropicEngine {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 4096
	}
	if cfg.Breaker.Name == "" {
		cfg.Breaker.Name = "anthropic"
	}
	return &AnthropicEngine{
		client:    client,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		retry:     cfg.Retry,
		breaker:   resilience.NewBreaker(cfg.Breaker),
	}
}

func (e *AnthropicEngine) Complete(ctx context.Context, p Prompt) (string, error) {
	temp := 0.0
	req := anthropic.MessageRequest{
		Model:       e.model,
		MaxTokens:   e.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: p.User}},
		Temperature: &temp,
	}
	switch {
	case p.System != "" && p.CacheSystem:
		req.System = anthropic.CachedSystem(p.System)
	case p.System != "":
		req.System = []anthropic.SystemBlock{{Text: p.System}}
	}

	policy := e.retry
	policy.OnRetry = resilience.LogRetries(p.Kind)

	resp, err := resilience.Do(ctx, policy, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		return resilience.Call(ctx, e.breaker, func(ctx context.Context) (*anthropic.MessageResponse, error) {
			resp, err := e.client.CreateMessage(ctx, req)
			if err != nil {
				if code := anthropic.StatusCode(err); resilience.TransientStatus(code) {
					return nil, resilience.MarkTransient(err, code)
				}
				return nil, err
			}
			return resp, nil
		})
	})
	if err != nil {
		return "", eris.Wrapf(err, "enrich: %s: engine call", p.Kind)
	}

	resp.Usage.LogCost(e.model, p.Kind)
	return resp.Text(), nil
}
