package analysis

import (
	"context"
	"slices"
	"strings"

	"github.com/comerito/cezar/internal/candidate"
	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

// KindDigest names the digest job in logs, reports and chunk sizes.
const KindDigest = "digest"

var digestCategories = []string{"bug", "feature", "question", "docs", "chore", "other"}

type digestItem struct {
	Number   int      `json:"number"`
	Category string   `json:"category"`
	Summary  string   `json:"summary"`
	Keywords []string `json:"keywords"`
	Area     string   `json:"area"`
}

func (i digestItem) num() int { return i.Number }

// toDigest normalizes an answer item. An item without a summary is dropped.
func (i digestItem) toDigest() (model.Digest, bool) {
	summary := strings.TrimSpace(i.Summary)
	if summary == "" {
		return model.Digest{}, false
	}
	category := strings.ToLower(strings.TrimSpace(i.Category))
	if !slices.Contains(digestCategories, category) {
		category = "other"
	}
	keywords := make([]string, 0, len(i.Keywords))
	for _, k := range i.Keywords {
		k = strings.ToLower(strings.TrimSpace(k))
		if k != "" && !slices.Contains(keywords, k) {
			keywords = append(keywords, k)
		}
	}
	if len(keywords) > 5 {
		keywords = keywords[:5]
	}
	return model.Digest{
		Category: category,
		Summary:  summary,
		Keywords: keywords,
		Area:     strings.TrimSpace(i.Area),
	}, true
}

// DigestAvailable reports whether any issue exists to digest.
func DigestAvailable(s Store) (bool, string) {
	if len(s.Query(store.Filter{State: store.FilterAll})) == 0 {
		return false, "store is empty; run sync first"
	}
	return true, ""
}

// DigestKind wraps RunDigest as a kind so the pipeline can run it ahead of
// detection.
func DigestKind(d Deps) Kind {
	return Kind{
		Name:      KindDigest,
		Phase:     DigestPhase,
		Available: DigestAvailable,
		Run: func(ctx context.Context, s Store, opts Options) (Report, error) {
			return RunDigest(ctx, d, s, opts)
		},
	}
}

// RunDigest digests every issue without a digest, or every issue under
// recheck. Closed issues are digested too: they form the catalogue that
// duplicate detection links against.
//
// Digests do not read comments, so a comment fetch does not re-offer them.
// There is no fallback: an issue the engine skipped stays undigested and is
// offered again on the next run.
func RunDigest(ctx context.Context, d Deps, s Store, opts Options) (Report, error) {
	cands := candidate.Select(s.Query(store.Filter{State: store.FilterAll}), candidate.DigestStamp, candidate.Options{
		Recheck:        opts.Recheck,
		IgnoreComments: true,
	})

	job := enrich.Job[answer[digestItem], model.Digest]{
		Name:      KindDigest,
		ChunkSize: d.chunkSize(KindDigest),
		Invoke: func(ctx context.Context, chunk []*model.Issue) (*answer[digestItem], error) {
			return enrich.Invoke[answer[digestItem]](ctx, d.Engine, enrich.Prompt{
				Kind:        KindDigest,
				System:      digestSystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, false),
			}, nil)
		},
		Merge: func(a *answer[digestItem], chunk []*model.Issue) map[int]model.Digest {
			return mergeItems(a, chunk, digestItem.toDigest)
		},
		Sink: enrich.DigestSink(s),
	}

	res, err := enrich.Run(ctx, d.runner(s, opts), job, cands)
	return reportFrom(res, 0), err
}
