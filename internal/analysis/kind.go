// Package analysis defines the analysis kinds the pipeline runs. Every kind
// is a descriptor built from an explicit Deps value; there is no global
// registry.
package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/comerito/cezar/internal/candidate"
	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

// Phase says when the pipeline runs a kind.
type Phase int

const (
	// DigestPhase kinds prepare the digests detection and enrichment read.
	DigestPhase Phase = iota + 1
	// DetectionPhase kinds flag issues that should be closed.
	DetectionPhase
	// EnrichmentPhase kinds run after the exclusion set is fixed.
	EnrichmentPhase
)

func (p Phase) String() string {
	switch p {
	case DigestPhase:
		return "digest"
	case DetectionPhase:
		return "detection"
	case EnrichmentPhase:
		return "enrichment"
	}
	return "unknown"
}

// Store is the store surface analysis kinds need. *store.Store satisfies it.
type Store interface {
	Query(f store.Filter) []*model.Issue
	Get(number int) (*model.Issue, error)
	SetFacet(number int, patches ...model.FacetPatch) error
	SetDigest(number int, d model.Digest) error
	Save(ctx context.Context) error
}

// Options are passed to every kind run.
type Options struct {
	Recheck bool
	DryRun  bool
	// ExcludeIDs is removed from the candidate list before the runner sees
	// it. Only phase-2 kinds receive a non-empty set.
	ExcludeIDs map[int]struct{}
}

// Report summarizes one kind run.
type Report struct {
	Kind       string `yaml:"kind"`
	Empty      bool   `yaml:"empty,omitempty"`
	Message    string `yaml:"message,omitempty"`
	Candidates int    `yaml:"candidates"`
	Excluded   int    `yaml:"excluded,omitempty"`
	Produced   int    `yaml:"produced"`
	Fallbacks  int    `yaml:"fallbacks"`
	Unresolved int    `yaml:"unresolved,omitempty"`
	Chunks     int    `yaml:"chunks"`
	Reset      int    `yaml:"reset,omitempty"`
}

// Kind is the descriptor the orchestrator runs.
type Kind struct {
	Name  string
	Phase Phase
	// Available reports whether the kind can run; the string says why not.
	Available func(s Store) (bool, string)
	Run       func(ctx context.Context, s Store, opts Options) (Report, error)
	// RecommendsClose is set on detection kinds.
	RecommendsClose func(is *model.Issue) bool
}

// Deps are the collaborators and tuning every kind is built from.
type Deps struct {
	Engine enrich.Engine
	Now    func() time.Time

	ChunkSize  int
	ChunkSizes map[string]int

	DuplicateMinConfidence float64
	StaleAfter             time.Duration
}

var defaultChunkSizes = map[string]int{
	KindDigest:                    10,
	string(model.FacetDuplicates): 10,
}

func (d Deps) chunkSize(kind string) int {
	if n := d.ChunkSizes[kind]; n > 0 {
		return n
	}
	if n := defaultChunkSizes[kind]; n > 0 && d.ChunkSize <= 0 {
		return n
	}
	if d.ChunkSize > 0 {
		return d.ChunkSize
	}
	return enrich.DefaultChunkSize
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now().UTC()
}

func (d Deps) runner(s Store, opts Options) enrich.Runner {
	return enrich.Runner{Saver: s, DryRun: opts.DryRun, Now: d.now}
}

// Kinds returns the detection and enrichment kinds, in run order.
func Kinds(d Deps) []Kind {
	return []Kind{
		duplicatesKind(d),
		doneKind(d),
		priorityKind(d),
		securityKind(d),
		staleKind(d),
		qualityKind(d),
		labelsKind(d),
	}
}

// item is one entry of an engine answer.
type item interface {
	num() int
}

// answer is the shape every kind asks the engine for.
type answer[T item] struct {
	Results []T `json:"results"`
}

const noResultReason = "no result returned"

// facetKind holds what differs between facet-producing kinds; build turns
// it into a Kind that runs through the shared batch runner.
type facetKind[T item] struct {
	name        model.FacetName
	phase       Phase
	needsDigest bool
	eligible    func(is *model.Issue) bool
	prompt      func(s Store, chunk []*model.Issue) enrich.Prompt
	// update converts one answer item; false drops it, so the issue gets
	// the fallback.
	update func(it T) (enrich.FacetUpdate, bool)
	// settle, when set, sees every accepted update of a chunk at once.
	settle   func(out map[int]enrich.FacetUpdate, chunk []*model.Issue)
	fallback any
	closes   func(is *model.Issue) bool
}

func (fk facetKind[T]) build(d Deps) Kind {
	name := string(fk.name)
	eligible := candidate.Open
	if fk.needsDigest {
		eligible = candidate.OpenWithDigest
	}
	eligible = candidate.All(eligible, fk.eligible)

	return Kind{
		Name:            name,
		Phase:           fk.phase,
		RecommendsClose: fk.closes,
		Available: func(s Store) (bool, string) {
			return available(s, fk.needsDigest)
		},
		Run: func(ctx context.Context, s Store, opts Options) (Report, error) {
			all := s.Query(store.Filter{State: store.FilterAll})
			cands := candidate.Select(all, candidate.FacetStamp(fk.name), candidate.Options{
				Recheck:  opts.Recheck,
				Eligible: eligible,
			})
			selected := len(cands)
			cands = candidate.Without(cands, opts.ExcludeIDs)

			job := enrich.Job[answer[T], enrich.FacetUpdate]{
				Name:      name,
				ChunkSize: d.chunkSize(name),
				Invoke: func(ctx context.Context, chunk []*model.Issue) (*answer[T], error) {
					return enrich.Invoke[answer[T]](ctx, d.Engine, fk.prompt(s, chunk), nil)
				},
				Merge: func(a *answer[T], chunk []*model.Issue) map[int]enrich.FacetUpdate {
					out := mergeItems(a, chunk, fk.update)
					if fk.settle != nil {
						fk.settle(out, chunk)
					}
					return out
				},
				Fallback: func(*model.Issue) (enrich.FacetUpdate, bool) {
					return enrich.FacetUpdate{Value: fk.fallback, Reason: noResultReason}, true
				},
				Sink: enrich.FacetSink(s, fk.name),
			}

			res, err := enrich.Run(ctx, d.runner(s, opts), job, cands)
			return reportFrom(res, selected-len(cands)), err
		},
	}
}

// mergeItems keys valid answer items by number, keeping only chunk members.
// The first valid item for a number wins.
func mergeItems[T item, U any](a *answer[T], chunk []*model.Issue, update func(T) (U, bool)) map[int]U {
	members := make(map[int]struct{}, len(chunk))
	for _, is := range chunk {
		members[is.Number] = struct{}{}
	}
	out := make(map[int]U, len(a.Results))
	for _, it := range a.Results {
		n := it.num()
		if _, ok := members[n]; !ok {
			continue
		}
		if _, dup := out[n]; dup {
			continue
		}
		if u, ok := update(it); ok {
			out[n] = u
		}
	}
	return out
}

func available(s Store, needsDigest bool) (bool, string) {
	f := store.Filter{State: store.FilterOpen}
	if needsDigest {
		yes := true
		f.HasDigest = &yes
	}
	if len(s.Query(f)) > 0 {
		return true, ""
	}
	if needsDigest {
		return false, "no digested open issues; run digest first"
	}
	return false, "no open issues"
}

func reportFrom[U any](res *enrich.Result[U], excluded int) Report {
	if res == nil {
		return Report{}
	}
	return Report{
		Kind:       res.Kind,
		Empty:      res.Empty,
		Message:    res.Message,
		Candidates: res.Candidates,
		Excluded:   excluded,
		Produced:   len(res.Outcomes),
		Fallbacks:  res.Fallbacks,
		Unresolved: res.Unresolved,
		Chunks:     res.Chunks,
		Reset:      res.Reset,
	}
}

func (r Report) String() string {
	if r.Empty {
		return r.Message
	}
	return fmt.Sprintf("%s: %d candidates, %d produced, %d fallbacks in %d chunks",
		r.Kind, r.Candidates, r.Produced, r.Fallbacks, r.Chunks)
}
