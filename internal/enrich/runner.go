// Package enrich runs analysis kinds over candidate issues in fixed-size
// chunks and writes every outcome back to the store.
package enrich

import (
	"context"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/model"
)

// ErrStopped is returned when the run was stopped before every candidate
// reached a terminal outcome.
var ErrStopped = eris.New("enrichment stopped")

// DefaultChunkSize is used when a job does not set one.
const DefaultChunkSize = 20

// Sink receives outcomes for one analysis kind.
type Sink[U any] interface {
	// Write records an outcome and stamps it with at.
	Write(number int, u U, at time.Time) error
	// Reset nulls the "last computed at" stamp so the issue is offered
	// again on the next run.
	Reset(number int) error
}

// Job describes one analysis kind to the runner.
type Job[R, U any] struct {
	Name      string
	ChunkSize int
	// Invoke asks the engine about a chunk. A nil result means the engine
	// produced nothing usable and is not an error.
	Invoke func(ctx context.Context, chunk []*model.Issue) (*R, error)
	// Merge maps the parsed result onto the chunk, keyed by issue number.
	// Numbers outside the chunk are ignored.
	Merge func(r *R, chunk []*model.Issue) map[int]U
	// Fallback is the outcome written for chunk members missing from the
	// result. Returning false (or a nil Fallback) leaves the issue
	// untouched.
	Fallback func(is *model.Issue) (U, bool)
	Sink     Sink[U]
}

// Saver persists the store.
type Saver interface {
	Save(ctx context.Context) error
}

// Runner holds the settings shared by every job of a run.
type Runner struct {
	Saver  Saver
	DryRun bool
	Now    func() time.Time
}

// Outcome is a result actually produced by the engine.
type Outcome[U any] struct {
	Number int
	Value  U
}

// Result aggregates one job run.
type Result[U any] struct {
	Kind       string
	Empty      bool
	Message    string
	Candidates int
	Chunks     int
	// Outcomes excludes fallbacks.
	Outcomes   []Outcome[U]
	Fallbacks  int
	Unresolved int
	Reset      int
}

// Run processes candidates chunk by chunk, in order.
//
// Every chunk member leaves its chunk with either the engine's outcome or
// the job's fallback, stamped with the current time, and the store is
// saved after every chunk unless the runner is in dry-run mode. An Invoke
// error aborts the run; chunks already saved stay saved. Cancelling ctx
// stops the run: every candidate that has not reached an outcome is Reset,
// the store is saved, and ErrStopped is returned.
func Run[R, U any](ctx context.Context, r Runner, job Job[R, U], candidates []*model.Issue) (*Result[U], error) {
	res := &Result[U]{Kind: job.Name, Candidates: len(candidates)}
	if len(candidates) == 0 {
		res.Empty = true
		res.Message = fmt.Sprintf("%s: nothing to analyze, every eligible issue is up to date", job.Name)
		return res, nil
	}

	now := r.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	size := job.ChunkSize
	if size <= 0 {
		size = DefaultChunkSize
	}

	chunks := split(candidates, size)
	pending := make(map[int]struct{}, len(candidates))
	for _, is := range candidates {
		pending[is.Number] = struct{}{}
	}

	for i, chunk := range chunks {
		if ctx.Err() != nil {
			return res, stop(ctx, r, job, res, candidates, pending)
		}

		start := time.Now()
		parsed, err := job.Invoke(ctx, chunk)
		if err != nil {
			if ctx.Err() != nil {
				return res, stop(ctx, r, job, res, candidates, pending)
			}
			zap.L().Error("enrich: chunk failed",
				zap.String("kind", job.Name),
				zap.Int("chunk", i+1),
				zap.Int("chunks", len(chunks)),
				zap.Error(err),
			)
			return res, eris.Wrapf(err, "enrich: %s: chunk %d/%d", job.Name, i+1, len(chunks))
		}

		var updates map[int]U
		if parsed != nil && job.Merge != nil {
			updates = job.Merge(parsed, chunk)
		}

		at := now()
		produced, fallbacks := 0, 0
		for _, is := range chunk {
			if u, ok := updates[is.Number]; ok {
				if err := job.Sink.Write(is.Number, u, at); err != nil {
					return res, eris.Wrapf(err, "enrich: %s: write #%d", job.Name, is.Number)
				}
				res.Outcomes = append(res.Outcomes, Outcome[U]{Number: is.Number, Value: u})
				produced++
			} else if fb, ok := fallback(job, is); ok {
				if err := job.Sink.Write(is.Number, fb, at); err != nil {
					return res, eris.Wrapf(err, "enrich: %s: write fallback #%d", job.Name, is.Number)
				}
				fallbacks++
			} else {
				res.Unresolved++
			}
			delete(pending, is.Number)
		}
		res.Fallbacks += fallbacks
		res.Chunks++

		if err := r.persist(ctx); err != nil {
			return res, eris.Wrapf(err, "enrich: %s: save after chunk %d", job.Name, i+1)
		}

		zap.L().Info("enrich: chunk complete",
			zap.String("kind", job.Name),
			zap.Int("chunk", i+1),
			zap.Int("chunks", len(chunks)),
			zap.Int("size", len(chunk)),
			zap.Int("produced", produced),
			zap.Int("fallbacks", fallbacks),
			zap.Bool("null_result", parsed == nil),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
	return res, nil
}

// stop resets every pending candidate and saves what has been done.
func stop[R, U any](ctx context.Context, r Runner, job Job[R, U], res *Result[U], candidates []*model.Issue, pending map[int]struct{}) error {
	for _, is := range candidates {
		if _, ok := pending[is.Number]; !ok {
			continue
		}
		if err := job.Sink.Reset(is.Number); err != nil {
			return eris.Wrapf(err, "enrich: %s: reset #%d", job.Name, is.Number)
		}
		res.Reset++
	}
	if err := r.persist(ctx); err != nil {
		return eris.Wrapf(err, "enrich: %s: save after stop", job.Name)
	}
	zap.L().Warn("enrich: stopped early",
		zap.String("kind", job.Name),
		zap.Int("completed_chunks", res.Chunks),
		zap.Int("reset", res.Reset),
	)
	return eris.Wrapf(ErrStopped, "enrich: %s", job.Name)
}

// persist saves unless in dry-run mode. The save itself is not cancelled
// with ctx: finished chunks must reach storage even when a stop arrives.
func (r Runner) persist(ctx context.Context) error {
	if r.DryRun || r.Saver == nil {
		return nil
	}
	return r.Saver.Save(context.WithoutCancel(ctx))
}

func fallback[R, U any](job Job[R, U], is *model.Issue) (U, bool) {
	if job.Fallback == nil {
		var zero U
		return zero, false
	}
	return job.Fallback(is)
}

func split(issues []*model.Issue, size int) [][]*model.Issue {
	chunks := make([][]*model.Issue, 0, (len(issues)+size-1)/size)
	for start := 0; start < len(issues); start += size {
		end := min(start+size, len(issues))
		chunks = append(chunks, issues[start:end])
	}
	return chunks
}
