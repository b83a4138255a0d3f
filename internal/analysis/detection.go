package analysis

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"go.uber.org/zap"

	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

const defaultDuplicateMinConfidence = 0.8

type duplicateItem struct {
	Number      int     `json:"number"`
	DuplicateOf *int    `json:"duplicateOf"`
	Confidence  float64 `json:"confidence"`
	Reason      string  `json:"reason"`
}

func (i duplicateItem) num() int { return i.Number }

// duplicatesKind links open digested issues to the issue they duplicate.
// The catalogue of every digested issue is sent as a cached system prompt
// and rebuilt per chunk so links can target anything already stored.
func duplicatesKind(d Deps) Kind {
	threshold := d.DuplicateMinConfidence
	if threshold <= 0 {
		threshold = defaultDuplicateMinConfidence
	}

	// Numbers the catalogue offered for the chunk in flight, and the links
	// already stored on them.
	var offered map[int]struct{}
	var stored map[int]int

	fk := facetKind[duplicateItem]{
		name:        model.FacetDuplicates,
		phase:       DetectionPhase,
		needsDigest: true,
		prompt: func(s Store, chunk []*model.Issue) enrich.Prompt {
			yes := true
			catalogue := s.Query(store.Filter{State: store.FilterAll, HasDigest: &yes})
			offered = make(map[int]struct{}, len(catalogue))
			stored = make(map[int]int)
			var b strings.Builder
			for _, is := range catalogue {
				offered[is.Number] = struct{}{}
				if v, err := model.DecodeFacet[model.DuplicateValue](is, model.FacetDuplicates); err == nil && v != nil && v.DuplicateOf != nil {
					stored[is.Number] = *v.DuplicateOf
				}
				renderDigest(&b, is)
			}
			return enrich.Prompt{
				Kind:        string(model.FacetDuplicates),
				System:      fmt.Sprintf(duplicatesSystemPrompt, b.String()),
				CacheSystem: true,
				User:        digestPrompt(chunk),
			}
		},
		update: func(it duplicateItem) (enrich.FacetUpdate, bool) {
			v := model.DuplicateValue{Confidence: clamp01(it.Confidence)}
			if it.DuplicateOf != nil {
				target := *it.DuplicateOf
				if _, ok := offered[target]; !ok || target == it.Number {
					zap.L().Debug("analysis: duplicate link to unknown issue dropped",
						zap.Int("issue", it.Number),
						zap.Int("duplicate_of", target),
					)
					return enrich.FacetUpdate{}, false
				}
				v.DuplicateOf = &target
			}
			return enrich.FacetUpdate{Value: v, Reason: it.Reason}, true
		},
		settle: func(out map[int]enrich.FacetUpdate, chunk []*model.Issue) {
			dropMutualLinks(out, chunk, stored)
		},
		fallback: model.DuplicateValue{},
		closes: func(is *model.Issue) bool {
			v, err := model.DecodeFacet[model.DuplicateValue](is, model.FacetDuplicates)
			return err == nil && v != nil && v.DuplicateOf != nil && v.Confidence >= threshold
		},
	}
	return fk.build(d)
}

type doneItem struct {
	Number   int    `json:"number"`
	Done     bool   `json:"done"`
	Evidence string `json:"evidence"`
	Reason   string `json:"reason"`
}

func (i doneItem) num() int { return i.Number }

// doneKind flags open issues that comments show are already resolved.
func doneKind(d Deps) Kind {
	fk := facetKind[doneItem]{
		name:        model.FacetDone,
		phase:       DetectionPhase,
		needsDigest: true,
		prompt: func(_ Store, chunk []*model.Issue) enrich.Prompt {
			return enrich.Prompt{
				Kind:        string(model.FacetDone),
				System:      doneSystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, true),
			}
		},
		update: func(it doneItem) (enrich.FacetUpdate, bool) {
			v := model.DoneValue{Done: it.Done}
			if it.Done {
				v.Evidence = clip(strings.TrimSpace(it.Evidence), maxCommentRunes)
			}
			return enrich.FacetUpdate{Value: v, Reason: it.Reason}, true
		},
		fallback: model.DoneValue{},
		closes: func(is *model.Issue) bool {
			v, err := model.DecodeFacet[model.DoneValue](is, model.FacetDone)
			return err == nil && v != nil && v.Done
		},
	}
	return fk.build(d)
}

// dropMutualLinks keeps a pair of issues from each being the duplicate of
// the other, which would recommend closing both. Within a chunk the link
// survives on the higher number, so the earlier issue stays canonical.
// A link back to an issue outside the chunk that already points here loses
// to the stored link.
func dropMutualLinks(out map[int]enrich.FacetUpdate, chunk []*model.Issue, stored map[int]int) {
	inChunk := make(map[int]struct{}, len(chunk))
	for _, is := range chunk {
		inChunk[is.Number] = struct{}{}
	}
	for _, n := range slices.Sorted(maps.Keys(out)) {
		target, ok := duplicateTarget(out[n])
		if !ok {
			continue
		}
		var mutual bool
		if _, ok := inChunk[target]; ok {
			back, linked := duplicateTarget(out[target])
			mutual = linked && back == n && n < target
		} else {
			back, linked := stored[target]
			mutual = linked && back == n
		}
		if !mutual {
			continue
		}
		zap.L().Debug("analysis: mutual duplicate link dropped",
			zap.Int("issue", n),
			zap.Int("duplicate_of", target),
		)
		out[n] = enrich.FacetUpdate{
			Value:  model.DuplicateValue{},
			Reason: fmt.Sprintf("#%d is recorded as a duplicate of this issue", target),
		}
	}
}

func duplicateTarget(u enrich.FacetUpdate) (int, bool) {
	v, ok := u.Value.(model.DuplicateValue)
	if !ok || v.DuplicateOf == nil {
		return 0, false
	}
	return *v.DuplicateOf, true
}

func clamp01(f float64) float64 {
	return min(max(f, 0), 1)
}
