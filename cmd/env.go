package main

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/analysis"
	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/resilience"
	"github.com/comerito/cezar/internal/store"
	"github.com/comerito/cezar/internal/tracker"
	anthropicpkg "github.com/comerito/cezar/pkg/anthropic"
)

// openStore loads the configured snapshot. Callers should defer Close.
func openStore(ctx context.Context) (*store.Store, error) {
	st, err := store.Load(ctx, cfg.Store.Location)
	if err != nil {
		if eris.Is(err, store.ErrNoSnapshot) {
			return nil, eris.Wrapf(err, "no store at %s; run `cezar init` first", cfg.Store.Location)
		}
		return nil, err
	}
	return st, nil
}

// newEngine builds the Anthropic-backed enrichment engine.
func newEngine() enrich.Engine {
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return enrich.NewAnthropicEngine(client, enrich.AnthropicConfig{
		Model:     cfg.Anthropic.Model,
		MaxTokens: int64(cfg.Anthropic.MaxTokens),
		Retry:     resilience.PolicyFrom(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
		Breaker:   resilience.BreakerFrom("anthropic", cfg.Circuit.FailureThreshold, cfg.Circuit.ResetTimeoutSecs),
	})
}

func analysisDeps(engine enrich.Engine) analysis.Deps {
	return analysis.Deps{
		Engine:                 engine,
		ChunkSize:              cfg.Analysis.ChunkSize,
		ChunkSizes:             cfg.Analysis.ChunkSizes,
		DuplicateMinConfidence: cfg.Analysis.DuplicateMinConfidence,
		StaleAfter:             time.Duration(cfg.Analysis.StaleAfterDays) * 24 * time.Hour,
	}
}

// newSyncer builds a syncer over the GitHub client.
func newSyncer(ctx context.Context, st *store.Store) (*tracker.Syncer, error) {
	gh, err := tracker.NewGitHubClient(ctx, tracker.GitHubConfig{
		Token:             cfg.GitHub.Token,
		BaseURL:           cfg.GitHub.BaseURL,
		RequestsPerSecond: cfg.GitHub.RequestsPerSecond,
		Retry:             resilience.PolicyFrom(cfg.Retry.MaxAttempts, cfg.Retry.InitialBackoffMs, cfg.Retry.MaxBackoffMs),
	})
	if err != nil {
		return nil, err
	}
	return tracker.NewSyncer(gh, st, cfg.GitHub.CommentWorkers), nil
}

// openRunLog opens the run history database, or returns nil when it is
// disabled.
func openRunLog(ctx context.Context) (*store.SQLiteRunLog, error) {
	if cfg.RunLog.Path == "" {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.RunLog.Path), 0o755); err != nil {
		return nil, eris.Wrap(err, "create run log dir")
	}
	l, err := store.NewSQLiteRunLog(cfg.RunLog.Path)
	if err != nil {
		return nil, err
	}
	if err := l.Migrate(ctx); err != nil {
		l.Close() //nolint:errcheck
		return nil, err
	}
	return l, nil
}

func closeQuietly(name string, fn func() error) {
	if err := fn(); err != nil {
		zap.L().Warn("close failed", zap.String("resource", name), zap.Error(err))
	}
}
