// Package pipeline runs the analysis kinds in two phases: detection kinds
// first, then enrichment kinds with every close-recommended issue excluded.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/analysis"
	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

// State is the orchestrator's position in a run.
type State int

const (
	NotStarted State = iota
	Phase1Running
	ExclusionComputed
	Phase2Running
	Complete
)

func (s State) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Phase1Running:
		return "phase1_running"
	case ExclusionComputed:
		return "exclusion_computed"
	case Phase2Running:
		return "phase2_running"
	case Complete:
		return "complete"
	}
	return "unknown"
}

// MarshalYAML renders the state by name.
func (s State) MarshalYAML() (any, error) {
	return s.String(), nil
}

// Recorder persists run history. *store.SQLiteRunLog satisfies it.
type Recorder interface {
	CreateRun(ctx context.Context, repository string, dryRun, recheck bool) (*model.Run, error)
	FinishRun(ctx context.Context, runID string, status model.RunStatus, summary string) error
	CreatePhase(ctx context.Context, runID string, name string) (*model.RunPhase, error)
	CompletePhase(ctx context.Context, phaseID string, result *model.PhaseResult) error
}

// Options control one pipeline run.
type Options struct {
	Recheck bool
	DryRun  bool
	// Repository labels the run in the run log.
	Repository string
}

// Skip is a kind that did not run.
type Skip struct {
	Kind   string `yaml:"kind"`
	Reason string `yaml:"reason"`
}

// Failure is a kind that returned an error or panicked.
type Failure struct {
	Kind  string `yaml:"kind"`
	Phase string `yaml:"phase"`
	Error string `yaml:"error"`
}

// Summary reports what a run did.
type Summary struct {
	RunID         string            `yaml:"run_id,omitempty"`
	State         State             `yaml:"state"`
	Digest        []string          `yaml:"digest,omitempty"`
	Phase1        []string          `yaml:"phase1"`
	Phase2        []string          `yaml:"phase2"`
	Skipped       []Skip            `yaml:"skipped,omitempty"`
	ExclusionSize int               `yaml:"exclusion_size"`
	Exclusions    []int             `yaml:"exclusions,omitempty"`
	Failures      []Failure         `yaml:"failures,omitempty"`
	Reports       []analysis.Report `yaml:"reports,omitempty"`
	Stopped       bool              `yaml:"stopped,omitempty"`
	DurationMs    int64             `yaml:"duration_ms"`
}

// Orchestrator runs a fixed list of kinds.
type Orchestrator struct {
	kinds    []analysis.Kind
	recorder Recorder
	onState  func(State)
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRecorder records every run and kind in r.
func WithRecorder(r Recorder) Option {
	return func(o *Orchestrator) { o.recorder = r }
}

// WithStateHook calls fn on every state transition.
func WithStateHook(fn func(State)) Option {
	return func(o *Orchestrator) { o.onState = fn }
}

// New creates an Orchestrator over kinds, which run in the order given
// within each phase. It panics on a kind without a known phase.
func New(kinds []analysis.Kind, opts ...Option) *Orchestrator {
	for _, k := range kinds {
		switch k.Phase {
		case analysis.DigestPhase, analysis.DetectionPhase, analysis.EnrichmentPhase:
		default:
			panic(fmt.Sprintf("pipeline: kind %q has unknown phase %d", k.Name, int(k.Phase)))
		}
	}
	o := &Orchestrator{kinds: kinds}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Run executes the digest kinds, then both phases. A failing kind never
// halts the run; it is recorded in the summary and the next kind proceeds.
// Cancelling ctx stops the kind in flight, and every kind after it is
// skipped.
func (o *Orchestrator) Run(ctx context.Context, s analysis.Store, opts Options) (*Summary, error) {
	if s == nil {
		return nil, eris.New("pipeline: nil store")
	}
	log := zap.L().With(zap.String("repository", opts.Repository), zap.Bool("dry_run", opts.DryRun))
	start := time.Now()

	sum := &Summary{State: NotStarted, Phase1: []string{}, Phase2: []string{}}
	o.startRun(ctx, sum, opts)

	var digest, detection, enrichment []analysis.Kind
	for _, k := range o.kinds {
		switch k.Phase {
		case analysis.DigestPhase:
			digest = append(digest, k)
		case analysis.DetectionPhase:
			detection = append(detection, k)
		default:
			enrichment = append(enrichment, k)
		}
	}

	// Detection reads digests, so new and changed issues are digested first.
	for _, k := range digest {
		if o.runKind(ctx, s, k, analysis.Options{Recheck: opts.Recheck, DryRun: opts.DryRun}, sum) {
			sum.Digest = append(sum.Digest, k.Name)
		}
	}

	o.transition(sum, Phase1Running)
	log.Info("pipeline: phase 1 starting", zap.Int("kinds", len(detection)))
	for _, k := range detection {
		if o.runKind(ctx, s, k, analysis.Options{Recheck: opts.Recheck, DryRun: opts.DryRun}, sum) {
			sum.Phase1 = append(sum.Phase1, k.Name)
		}
	}

	excluded := exclusions(s, detection)
	sum.ExclusionSize = len(excluded)
	sum.Exclusions = slices.Sorted(maps.Keys(excluded))
	o.transition(sum, ExclusionComputed)
	log.Info("pipeline: exclusion set computed", zap.Int("size", len(excluded)))

	o.transition(sum, Phase2Running)
	log.Info("pipeline: phase 2 starting", zap.Int("kinds", len(enrichment)))
	for _, k := range enrichment {
		kopts := analysis.Options{
			Recheck:    opts.Recheck,
			DryRun:     opts.DryRun,
			ExcludeIDs: maps.Clone(excluded),
		}
		if o.runKind(ctx, s, k, kopts, sum) {
			sum.Phase2 = append(sum.Phase2, k.Name)
		}
	}

	sum.DurationMs = time.Since(start).Milliseconds()
	o.transition(sum, Complete)
	o.finishRun(ctx, sum)

	log.Info("pipeline: run complete",
		zap.Strings("phase1", sum.Phase1),
		zap.Strings("phase2", sum.Phase2),
		zap.Int("skipped", len(sum.Skipped)),
		zap.Int("failures", len(sum.Failures)),
		zap.Int64("duration_ms", sum.DurationMs),
	)
	return sum, nil
}

// runKind runs one kind in isolation and reports whether it executed.
func (o *Orchestrator) runKind(ctx context.Context, s analysis.Store, k analysis.Kind, opts analysis.Options, sum *Summary) bool {
	log := zap.L().With(zap.String("kind", k.Name), zap.Stringer("phase", k.Phase))

	if sum.Stopped || ctx.Err() != nil {
		sum.Stopped = true
		sum.Skipped = append(sum.Skipped, Skip{Kind: k.Name, Reason: "run stopped"})
		o.recordSkip(ctx, sum.RunID, k.Name, "run stopped")
		return false
	}

	// A kind without an Available check is always available.
	if k.Available != nil {
		if ok, reason := k.Available(s); !ok {
			log.Info("pipeline: kind skipped", zap.String("reason", reason))
			sum.Skipped = append(sum.Skipped, Skip{Kind: k.Name, Reason: reason})
			o.recordSkip(ctx, sum.RunID, k.Name, reason)
			return false
		}
	}

	phase := o.createPhase(ctx, sum.RunID, k.Name)
	log.Info("pipeline: kind starting")
	start := time.Now()

	rep, err := safeRun(ctx, s, k, opts)
	duration := time.Since(start).Milliseconds()

	result := &model.PhaseResult{
		Name:       k.Name,
		Duration:   duration,
		Candidates: rep.Candidates,
		Produced:   rep.Produced,
		Metadata: map[string]any{
			"phase":     k.Phase.String(),
			"fallbacks": rep.Fallbacks,
			"excluded":  rep.Excluded,
			"chunks":    rep.Chunks,
		},
	}
	if rep.Kind == "" {
		rep.Kind = k.Name
	}
	sum.Reports = append(sum.Reports, rep)

	if err != nil {
		if errors.Is(err, enrich.ErrStopped) || ctx.Err() != nil {
			sum.Stopped = true
		}
		sum.Failures = append(sum.Failures, Failure{Kind: k.Name, Phase: k.Phase.String(), Error: err.Error()})
		result.Status = model.PhaseStatusFailed
		result.Error = err.Error()
		log.Error("pipeline: kind failed", zap.Int64("duration_ms", duration), zap.Error(err))
	} else {
		result.Status = model.PhaseStatusComplete
		log.Info("pipeline: kind complete",
			zap.String("report", rep.String()),
			zap.Int64("duration_ms", duration),
		)
	}
	o.completePhase(ctx, phase, result)
	return true
}

// safeRun converts a panic inside a kind into an error.
func safeRun(ctx context.Context, s analysis.Store, k analysis.Kind, opts analysis.Options) (rep analysis.Report, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("pipeline: %s panicked: %v", k.Name, r)
		}
	}()
	return k.Run(ctx, s, opts)
}

// exclusions collects open issues any detection kind recommends closing.
func exclusions(s analysis.Store, detection []analysis.Kind) map[int]struct{} {
	out := map[int]struct{}{}
	for _, is := range s.Query(store.Filter{State: store.FilterOpen}) {
		for _, k := range detection {
			if k.RecommendsClose != nil && k.RecommendsClose(is) {
				out[is.Number] = struct{}{}
				break
			}
		}
	}
	return out
}

func (o *Orchestrator) transition(sum *Summary, next State) {
	if next != sum.State+1 {
		panic(fmt.Sprintf("pipeline: illegal transition %s -> %s", sum.State, next))
	}
	sum.State = next
	if o.onState != nil {
		o.onState(next)
	}
}

// Run log writes. The run log is history only, so failures are logged and
// the pipeline carries on.

func (o *Orchestrator) startRun(ctx context.Context, sum *Summary, opts Options) {
	if o.recorder == nil {
		return
	}
	run, err := o.recorder.CreateRun(ctx, opts.Repository, opts.DryRun, opts.Recheck)
	if err != nil {
		zap.L().Warn("pipeline: failed to create run", zap.Error(err))
		return
	}
	sum.RunID = run.ID
}

func (o *Orchestrator) finishRun(ctx context.Context, sum *Summary) {
	if o.recorder == nil || sum.RunID == "" {
		return
	}
	status := model.RunStatusComplete
	if len(sum.Failures) > 0 {
		status = model.RunStatusFailed
	}
	text := fmt.Sprintf("phase1=%d phase2=%d skipped=%d excluded=%d failures=%d",
		len(sum.Phase1), len(sum.Phase2), len(sum.Skipped), sum.ExclusionSize, len(sum.Failures))
	if err := o.recorder.FinishRun(context.WithoutCancel(ctx), sum.RunID, status, text); err != nil {
		zap.L().Warn("pipeline: failed to finish run", zap.String("run_id", sum.RunID), zap.Error(err))
	}
}

func (o *Orchestrator) createPhase(ctx context.Context, runID, name string) *model.RunPhase {
	if o.recorder == nil || runID == "" {
		return nil
	}
	phase, err := o.recorder.CreatePhase(ctx, runID, name)
	if err != nil {
		zap.L().Warn("pipeline: failed to create phase", zap.String("phase", name), zap.Error(err))
		return nil
	}
	return phase
}

func (o *Orchestrator) completePhase(ctx context.Context, phase *model.RunPhase, result *model.PhaseResult) {
	if phase == nil {
		return
	}
	if err := o.recorder.CompletePhase(context.WithoutCancel(ctx), phase.ID, result); err != nil {
		zap.L().Warn("pipeline: failed to complete phase", zap.String("phase", result.Name), zap.Error(err))
	}
}

func (o *Orchestrator) recordSkip(ctx context.Context, runID, name, reason string) {
	phase := o.createPhase(context.WithoutCancel(ctx), runID, name)
	o.completePhase(ctx, phase, &model.PhaseResult{
		Name:     name,
		Status:   model.PhaseStatusSkipped,
		Metadata: map[string]any{"reason": reason},
	})
}
