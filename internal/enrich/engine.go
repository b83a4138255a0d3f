package enrich

import (
	"context"
	"encoding/json"
	"strings"

	"go.uber.org/zap"
)

// Prompt is one request to the enrichment engine.
type Prompt struct {
	// Kind names the analysis kind, for logs and cost attribution.
	Kind   string
	System string
	// CacheSystem marks System as reusable across chunks of the same run.
	CacheSystem bool
	User        string
}

// Engine produces a free-text answer for a prompt. Transport failures are
// errors; a useless answer is not.
type Engine interface {
	Complete(ctx context.Context, p Prompt) (string, error)
}

// Invoke asks the engine and decodes its answer into T.
//
// It returns (nil, nil) when the answer cannot be used: no JSON object in
// it, JSON that does not decode into T, or a value that validate rejects.
// Only an engine error is returned as an error.
func Invoke[T any](ctx context.Context, e Engine, p Prompt, validate func(*T) error) (*T, error) {
	text, err := e.Complete(ctx, p)
	if err != nil {
		return nil, err
	}

	cleaned := cleanJSON(text)
	if !strings.HasPrefix(cleaned, "{") {
		zap.L().Warn("enrich: engine answer has no JSON object",
			zap.String("kind", p.Kind),
			zap.Int("answer_len", len(text)),
		)
		return nil, nil
	}

	var v T
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		zap.L().Warn("enrich: engine answer does not match expected shape",
			zap.String("kind", p.Kind),
			zap.Error(err),
		)
		return nil, nil
	}
	if validate != nil {
		if err := validate(&v); err != nil {
			zap.L().Warn("enrich: engine answer rejected",
				zap.String("kind", p.Kind),
				zap.Error(err),
			)
			return nil, nil
		}
	}
	return &v, nil
}

// cleanJSON strips markdown code fences and keeps the outermost object.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start >= 0 && end > start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}
