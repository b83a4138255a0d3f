package analysis

import (
	"fmt"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/comerito/cezar/internal/enrich"
	"github.com/comerito/cezar/internal/model"
	"github.com/comerito/cezar/internal/store"
)

const defaultStaleAfter = 90 * 24 * time.Hour

var priorityLevels = []string{"critical", "high", "medium", "low"}

type priorityItem struct {
	Number int    `json:"number"`
	Level  string `json:"level"`
	Score  int    `json:"score"`
	Reason string `json:"reason"`
}

func (i priorityItem) num() int { return i.Number }

func priorityKind(d Deps) Kind {
	fk := facetKind[priorityItem]{
		name:        model.FacetPriority,
		phase:       EnrichmentPhase,
		needsDigest: true,
		prompt: func(_ Store, chunk []*model.Issue) enrich.Prompt {
			return enrich.Prompt{
				Kind:        string(model.FacetPriority),
				System:      prioritySystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, false),
			}
		},
		update: func(it priorityItem) (enrich.FacetUpdate, bool) {
			level := strings.ToLower(strings.TrimSpace(it.Level))
			if !slices.Contains(priorityLevels, level) {
				return enrich.FacetUpdate{}, false
			}
			return enrich.FacetUpdate{
				Value:  model.PriorityValue{Level: level, Score: min(max(it.Score, 1), 5)},
				Reason: it.Reason,
			}, true
		},
		fallback: model.PriorityValue{Level: "none"},
	}
	return fk.build(d)
}

type securityItem struct {
	Number    int    `json:"number"`
	Sensitive bool   `json:"sensitive"`
	Severity  string `json:"severity"`
	Reason    string `json:"reason"`
}

func (i securityItem) num() int { return i.Number }

func securityKind(d Deps) Kind {
	fk := facetKind[securityItem]{
		name:  model.FacetSecurity,
		phase: EnrichmentPhase,
		prompt: func(_ Store, chunk []*model.Issue) enrich.Prompt {
			return enrich.Prompt{
				Kind:        string(model.FacetSecurity),
				System:      securitySystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, false),
			}
		},
		update: func(it securityItem) (enrich.FacetUpdate, bool) {
			v := model.SecurityValue{Sensitive: it.Sensitive}
			if it.Sensitive {
				v.Severity = strings.ToLower(strings.TrimSpace(it.Severity))
			}
			return enrich.FacetUpdate{Value: v, Reason: it.Reason}, true
		},
		fallback: model.SecurityValue{},
	}
	return fk.build(d)
}

var staleVerdicts = []string{"active", "stale", "close"}

type staleItem struct {
	Number  int    `json:"number"`
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

func (i staleItem) num() int { return i.Number }

// staleKind reviews open issues with no update for StaleAfter.
func staleKind(d Deps) Kind {
	after := d.StaleAfter
	if after <= 0 {
		after = defaultStaleAfter
	}

	fk := facetKind[staleItem]{
		name:  model.FacetStale,
		phase: EnrichmentPhase,
		eligible: func(is *model.Issue) bool {
			return is.UpdatedAt.Before(d.now().Add(-after))
		},
		prompt: func(_ Store, chunk []*model.Issue) enrich.Prompt {
			return enrich.Prompt{
				Kind:        string(model.FacetStale),
				System:      staleSystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, true),
			}
		},
		update: func(it staleItem) (enrich.FacetUpdate, bool) {
			verdict := strings.ToLower(strings.TrimSpace(it.Verdict))
			if !slices.Contains(staleVerdicts, verdict) {
				return enrich.FacetUpdate{}, false
			}
			return enrich.FacetUpdate{Value: model.StaleValue{Verdict: verdict}, Reason: it.Reason}, true
		},
		fallback: model.StaleValue{Verdict: "active"},
	}
	k := fk.build(d)
	k.Available = func(s Store) (bool, string) {
		for _, is := range s.Query(store.Filter{State: store.FilterOpen}) {
			if fk.eligible(is) {
				return true, ""
			}
		}
		return false, fmt.Sprintf("no open issues inactive for %d days", int(after.Hours()/24))
	}
	return k
}

type qualityItem struct {
	Number  int      `json:"number"`
	Flag    string   `json:"flag"`
	Missing []string `json:"missing"`
	Reason  string   `json:"reason"`
}

func (i qualityItem) num() int { return i.Number }

func qualityKind(d Deps) Kind {
	fk := facetKind[qualityItem]{
		name:  model.FacetQuality,
		phase: EnrichmentPhase,
		prompt: func(_ Store, chunk []*model.Issue) enrich.Prompt {
			return enrich.Prompt{
				Kind:        string(model.FacetQuality),
				System:      qualitySystemPrompt,
				CacheSystem: true,
				User:        userPrompt(chunk, true),
			}
		},
		update: func(it qualityItem) (enrich.FacetUpdate, bool) {
			switch flag := strings.ToLower(strings.TrimSpace(it.Flag)); flag {
			case "ok":
				return enrich.FacetUpdate{Value: model.QualityValue{Flag: flag}, Reason: it.Reason}, true
			case "needs-info":
				return enrich.FacetUpdate{Value: model.QualityValue{Flag: flag, Missing: it.Missing}, Reason: it.Reason}, true
			}
			return enrich.FacetUpdate{}, false
		},
		fallback: model.QualityValue{Flag: "ok"},
	}
	return fk.build(d)
}

type labelsItem struct {
	Number    int      `json:"number"`
	Suggested []string `json:"suggested"`
	Reason    string   `json:"reason"`
}

func (i labelsItem) num() int { return i.Number }

const maxSuggestedLabels = 3

// labelsKind suggests labels, steering the engine toward the labels the
// repository already uses.
func labelsKind(d Deps) Kind {
	// Labels already on each issue of the chunk in flight.
	current := map[int][]string{}

	fk := facetKind[labelsItem]{
		name:        model.FacetLabels,
		phase:       EnrichmentPhase,
		needsDigest: true,
		prompt: func(s Store, chunk []*model.Issue) enrich.Prompt {
			current = make(map[int][]string, len(chunk))
			for _, is := range chunk {
				current[is.Number] = is.Labels
			}
			return enrich.Prompt{
				Kind:        string(model.FacetLabels),
				System:      fmt.Sprintf(labelsSystemPrompt, strings.Join(knownLabels(s), ", ")),
				CacheSystem: true,
				User:        userPrompt(chunk, false),
			}
		},
		update: func(it labelsItem) (enrich.FacetUpdate, bool) {
			has := current[it.Number]
			suggested := make([]string, 0, len(it.Suggested))
			for _, l := range it.Suggested {
				l = strings.TrimSpace(l)
				if l == "" || slices.Contains(has, l) || slices.Contains(suggested, l) {
					continue
				}
				suggested = append(suggested, l)
				if len(suggested) == maxSuggestedLabels {
					break
				}
			}
			return enrich.FacetUpdate{Value: model.LabelsValue{Suggested: suggested}, Reason: it.Reason}, true
		},
		fallback: model.LabelsValue{Suggested: []string{}},
	}
	return fk.build(d)
}

// knownLabels returns every label in use, sorted.
func knownLabels(s Store) []string {
	seen := map[string]struct{}{}
	for _, is := range s.Query(store.Filter{State: store.FilterAll}) {
		for _, l := range is.Labels {
			seen[l] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for l := range seen {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
