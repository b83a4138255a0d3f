// Package candidate decides which issues need (re)computation of a given
// analysis result.
package candidate

import (
	"time"

	"github.com/comerito/cezar/internal/model"
)

// Stamp returns when a result was last computed for an issue, or nil if it
// never was.
type Stamp func(*model.Issue) *time.Time

// Options parameterize Select.
type Options struct {
	// Recheck offers every eligible issue regardless of prior computation.
	Recheck bool
	// Eligible is the kind-specific precondition (open, has digest, ...).
	// A nil predicate admits every issue.
	Eligible func(*model.Issue) bool
	// IgnoreComments disables the comment-freshness rule for results that
	// never read comments.
	IgnoreComments bool
}

// FacetStamp returns the AnalyzedAt stamp of the named facet.
func FacetStamp(name model.FacetName) Stamp {
	return func(is *model.Issue) *time.Time {
		return is.Facet(name).AnalyzedAt
	}
}

// DigestStamp returns the DigestedAt stamp of the digest, or nil without one.
func DigestStamp(is *model.Issue) *time.Time {
	if is.Digest == nil || is.Digest.DigestedAt.IsZero() {
		return nil
	}
	t := is.Digest.DigestedAt
	return &t
}

// Select returns the issues that are candidates, preserving input order.
//
// An eligible issue is a candidate when its stamp is nil, or when comments
// were fetched after the stamp. The comment check compares the single
// per-issue CommentsFetchedAt against every facet, so any comment fetch
// re-offers all comment-sensitive results.
func Select(issues []*model.Issue, stamp Stamp, opts Options) []*model.Issue {
	out := make([]*model.Issue, 0, len(issues))
	for _, is := range issues {
		if opts.Eligible != nil && !opts.Eligible(is) {
			continue
		}
		if opts.Recheck || stale(is, stamp(is), opts.IgnoreComments) {
			out = append(out, is)
		}
	}
	return out
}

func stale(is *model.Issue, at *time.Time, ignoreComments bool) bool {
	if at == nil {
		return true
	}
	if ignoreComments || is.CommentsFetchedAt == nil {
		return false
	}
	return is.CommentsFetchedAt.After(*at)
}

// Without drops issues whose number is in exclude.
func Without(issues []*model.Issue, exclude map[int]struct{}) []*model.Issue {
	if len(exclude) == 0 {
		return issues
	}
	out := make([]*model.Issue, 0, len(issues))
	for _, is := range issues {
		if _, skip := exclude[is.Number]; skip {
			continue
		}
		out = append(out, is)
	}
	return out
}

// Open admits open issues.
func Open(is *model.Issue) bool {
	return is.IsOpen()
}

// OpenWithDigest admits open issues that have a digest.
func OpenWithDigest(is *model.Issue) bool {
	return is.IsOpen() && is.Digest != nil
}

// All combines predicates; every one must admit the issue.
func All(preds ...func(*model.Issue) bool) func(*model.Issue) bool {
	return func(is *model.Issue) bool {
		for _, p := range preds {
			if p != nil && !p(is) {
				return false
			}
		}
		return true
	}
}
