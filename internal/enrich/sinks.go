package enrich

import (
	"time"

	"github.com/comerito/cezar/internal/model"
)

// FacetStore is the store surface facet sinks write through.
type FacetStore interface {
	SetFacet(number int, patches ...model.FacetPatch) error
}

// DigestStore is the store surface the digest sink writes through.
type DigestStore interface {
	Get(number int) (*model.Issue, error)
	SetDigest(number int, d model.Digest) error
}

// FacetUpdate is the outcome of a facet-producing kind.
type FacetUpdate struct {
	Value  any
	Reason string
}

type facetSink struct {
	store FacetStore
	name  model.FacetName
}

// FacetSink writes outcomes to the named facet. Value, reason and stamp are
// written in a single patch.
func FacetSink(s FacetStore, name model.FacetName) Sink[FacetUpdate] {
	return facetSink{store: s, name: name}
}

func (f facetSink) Write(number int, u FacetUpdate, at time.Time) error {
	raw, err := model.EncodeValue(u.Value)
	if err != nil {
		return err
	}
	reason := u.Reason
	return f.store.SetFacet(number, model.FacetPatch{
		Facet:      f.name,
		Value:      raw,
		Reason:     &reason,
		AnalyzedAt: &at,
	})
}

func (f facetSink) Reset(number int) error {
	return f.store.SetFacet(number, model.FacetPatch{Facet: f.name, ClearAnalyzedAt: true})
}

type digestSink struct {
	store DigestStore
}

// DigestSink writes digests, stamping DigestedAt.
func DigestSink(s DigestStore) Sink[model.Digest] {
	return digestSink{store: s}
}

func (d digestSink) Write(number int, dg model.Digest, at time.Time) error {
	dg.DigestedAt = at
	return d.store.SetDigest(number, dg)
}

// Reset keeps an existing digest but zeroes its stamp, which selection
// treats as never digested.
func (d digestSink) Reset(number int) error {
	is, err := d.store.Get(number)
	if err != nil {
		return err
	}
	if is.Digest == nil {
		return nil
	}
	dg := *is.Digest
	dg.DigestedAt = time.Time{}
	return d.store.SetDigest(number, dg)
}
