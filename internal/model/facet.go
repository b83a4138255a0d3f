package model

import (
	"bytes"
	"encoding/json"
	"slices"
	"time"

	"github.com/rotisserie/eris"
)

// FacetName identifies one independently computed analysis on an issue.
type FacetName string

const (
	FacetDuplicates FacetName = "duplicates"
	FacetDone       FacetName = "done"
	FacetPriority   FacetName = "priority"
	FacetSecurity   FacetName = "security"
	FacetStale      FacetName = "stale"
	FacetQuality    FacetName = "quality"
	FacetLabels     FacetName = "labels"
)

// AllFacets returns every facet known to this version of the store.
func AllFacets() []FacetName {
	return []FacetName{
		FacetDuplicates,
		FacetDone,
		FacetPriority,
		FacetSecurity,
		FacetStale,
		FacetQuality,
		FacetLabels,
	}
}

// Facet holds one analysis result. All three fields are nullable; a facet
// that was never computed has all of them nil.
type Facet struct {
	Value      json.RawMessage `json:"value"`
	Reason     *string         `json:"reason"`
	AnalyzedAt *time.Time      `json:"analyzedAt"`
}

// HasValue reports whether the facet carries a non-null result.
func (f Facet) HasValue() bool {
	return len(f.Value) > 0 && !bytes.Equal(bytes.TrimSpace(f.Value), []byte("null"))
}

// IsZero reports whether every field of the facet is null.
func (f Facet) IsZero() bool {
	return !f.HasValue() && f.Reason == nil && f.AnalyzedAt == nil
}

func (f Facet) clone() Facet {
	c := Facet{Value: slices.Clone(f.Value), AnalyzedAt: cloneTime(f.AnalyzedAt)}
	if f.Reason != nil {
		r := *f.Reason
		c.Reason = &r
	}
	return c
}

// FacetPatch is a shallow, per-facet update. Only the fields that are set
// are written; everything else on the facet is left as it was.
type FacetPatch struct {
	Facet      FacetName
	Value      json.RawMessage
	Reason     *string
	AnalyzedAt *time.Time

	// ClearAnalyzedAt nulls the timestamp so the record is offered again
	// on the next run. It wins over AnalyzedAt.
	ClearAnalyzedAt bool
}

// Apply merges the patch into f and returns the result.
func (p FacetPatch) Apply(f Facet) Facet {
	if p.Value != nil {
		if bytes.Equal(bytes.TrimSpace(p.Value), []byte("null")) {
			f.Value = nil
		} else {
			f.Value = slices.Clone(p.Value)
		}
	}
	if p.Reason != nil {
		r := *p.Reason
		f.Reason = &r
	}
	if p.AnalyzedAt != nil {
		f.AnalyzedAt = cloneTime(p.AnalyzedAt)
	}
	if p.ClearAnalyzedAt {
		f.AnalyzedAt = nil
	}
	return f
}

// EncodeValue marshals a typed facet value for storage.
func EncodeValue(v any) (json.RawMessage, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, eris.Wrap(err, "model: encode facet value")
	}
	return b, nil
}

// DecodeFacet decodes the typed value of the named facet. It returns
// (nil, nil) when the facet has no value.
func DecodeFacet[T any](is *Issue, name FacetName) (*T, error) {
	f := is.Facet(name)
	if !f.HasValue() {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(f.Value, &v); err != nil {
		return nil, eris.Wrapf(err, "model: decode facet %s on #%d", name, is.Number)
	}
	return &v, nil
}

// DuplicateValue links an issue to the earlier issue it duplicates.
type DuplicateValue struct {
	DuplicateOf *int    `json:"duplicateOf"`
	Confidence  float64 `json:"confidence"`
}

// DoneValue records whether the issue appears already resolved elsewhere.
type DoneValue struct {
	Done     bool   `json:"done"`
	Evidence string `json:"evidence,omitempty"`
}

// PriorityValue is a triage priority.
type PriorityValue struct {
	Level string `json:"level"`
	Score int    `json:"score"`
}

// SecurityValue flags security-sensitive reports.
type SecurityValue struct {
	Sensitive bool   `json:"sensitive"`
	Severity  string `json:"severity,omitempty"`
}

// StaleValue is the staleness verdict for an inactive issue.
type StaleValue struct {
	Verdict string `json:"verdict"`
}

// QualityValue flags reports that lack the information needed to act.
type QualityValue struct {
	Flag    string   `json:"flag"`
	Missing []string `json:"missing,omitempty"`
}

// LabelsValue carries suggested labels.
type LabelsValue struct {
	Suggested []string `json:"suggested"`
}
