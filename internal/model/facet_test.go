package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFacetPatch_Apply(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	reason := "looks urgent"

	t.Run("only present fields are written", func(t *testing.T) {
		t.Parallel()
		orig := Facet{Value: json.RawMessage(`{"level":"low"}`), Reason: &reason}

		got := FacetPatch{Facet: FacetPriority, AnalyzedAt: &at}.Apply(orig)
		assert.JSONEq(t, `{"level":"low"}`, string(got.Value))
		require.NotNil(t, got.Reason)
		assert.Equal(t, "looks urgent", *got.Reason)
		require.NotNil(t, got.AnalyzedAt)
		assert.True(t, at.Equal(*got.AnalyzedAt))
	})

	t.Run("null value clears", func(t *testing.T) {
		t.Parallel()
		orig := Facet{Value: json.RawMessage(`{"level":"low"}`)}
		got := FacetPatch{Value: json.RawMessage("null")}.Apply(orig)
		assert.False(t, got.HasValue())
	})

	t.Run("clear analyzed at wins", func(t *testing.T) {
		t.Parallel()
		orig := Facet{AnalyzedAt: &at}
		got := FacetPatch{AnalyzedAt: &at, ClearAnalyzedAt: true}.Apply(orig)
		assert.Nil(t, got.AnalyzedAt)
	})

	t.Run("patch does not alias caller memory", func(t *testing.T) {
		t.Parallel()
		val := json.RawMessage(`{"level":"high"}`)
		got := FacetPatch{Value: val}.Apply(Facet{})
		val[2] = 'X'
		assert.JSONEq(t, `{"level":"high"}`, string(got.Value))
	})
}

func TestFacet_IsZero(t *testing.T) {
	t.Parallel()

	assert.True(t, Facet{}.IsZero())
	assert.True(t, Facet{Value: json.RawMessage("null")}.IsZero())
	assert.False(t, Facet{Value: json.RawMessage(`true`)}.IsZero())
}

func TestDecodeFacet(t *testing.T) {
	t.Parallel()

	raw, err := EncodeValue(DuplicateValue{DuplicateOf: intPtr(7), Confidence: 0.9})
	require.NoError(t, err)

	is := &Issue{
		RawIssue: RawIssue{Number: 12},
		Analysis: map[FacetName]Facet{FacetDuplicates: {Value: raw}},
	}

	v, err := DecodeFacet[DuplicateValue](is, FacetDuplicates)
	require.NoError(t, err)
	require.NotNil(t, v)
	require.NotNil(t, v.DuplicateOf)
	assert.Equal(t, 7, *v.DuplicateOf)
	assert.InDelta(t, 0.9, v.Confidence, 0.0001)

	missing, err := DecodeFacet[PriorityValue](is, FacetPriority)
	require.NoError(t, err)
	assert.Nil(t, missing)

	is.Analysis[FacetPriority] = Facet{Value: json.RawMessage(`"not an object"`)}
	_, err = DecodeFacet[PriorityValue](is, FacetPriority)
	assert.Error(t, err)
}

func TestIssue_Clone(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	orig := &Issue{
		RawIssue: RawIssue{Number: 1, Labels: []string{"bug"}},
		Digest:   &Digest{Category: "bug", Keywords: []string{"crash"}},
		Analysis: map[FacetName]Facet{FacetStale: {Value: json.RawMessage(`{"verdict":"active"}`), AnalyzedAt: &at}},
	}

	c := orig.Clone()
	c.Labels[0] = "feature"
	c.Digest.Keywords[0] = "hang"
	c.Analysis[FacetStale] = Facet{}

	assert.Equal(t, "bug", orig.Labels[0])
	assert.Equal(t, "crash", orig.Digest.Keywords[0])
	assert.True(t, orig.Analysis[FacetStale].HasValue())
}

func intPtr(v int) *int { return &v }
