package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/comerito/cezar/internal/model"
)

func TestFormatRunsList(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 30, 0, 0, time.UTC)
	done := now.Add(2 * time.Minute)
	runs := []model.Run{
		{
			ID:         "abc12345-6789-0000-0000-000000000000",
			Repository: "comerito/cezar",
			Status:     model.RunStatusComplete,
			Recheck:    true,
			CreatedAt:  now,
			FinishedAt: &done,
		},
		{
			ID:         "def12345-6789-0000-0000-000000000000",
			Repository: "comerito/cezar",
			Status:     model.RunStatusRunning,
			DryRun:     true,
			CreatedAt:  now.Add(-time.Hour),
		},
	}

	var buf bytes.Buffer
	formatRunsList(&buf, runs)

	output := buf.String()
	assert.Contains(t, output, "REPOSITORY")
	assert.Contains(t, output, "comerito/cezar")
	assert.Contains(t, output, "complete")
	assert.Contains(t, output, "running")
	assert.Contains(t, output, "recheck")
	assert.Contains(t, output, "dry-run")
	assert.Contains(t, output, "2026-03-02 10:30")
	assert.Contains(t, output, "2m0s")
	assert.Contains(t, output, "abc12345")
	assert.NotContains(t, output, "abc12345-6789")
}

func TestFormatPhases(t *testing.T) {
	phases := []model.RunPhase{
		{Name: "duplicates", Status: model.PhaseStatusComplete, Result: &model.PhaseResult{
			Status: model.PhaseStatusComplete, Duration: 1500, Candidates: 12, Produced: 11,
		}},
		{Name: "stale", Status: model.PhaseStatusSkipped, Result: &model.PhaseResult{
			Status: model.PhaseStatusSkipped, Metadata: map[string]any{"reason": "no open issues inactive for 90 days"},
		}},
		{Name: "labels", Status: model.PhaseStatusFailed, Result: &model.PhaseResult{
			Status: model.PhaseStatusFailed, Error: "engine: circuit breaker is open",
		}},
		{Name: "quality", Status: model.PhaseStatusRunning},
	}

	var buf bytes.Buffer
	formatPhases(&buf, phases)

	output := buf.String()
	assert.Contains(t, output, "duplicates")
	assert.Contains(t, output, "1.5s")
	assert.Contains(t, output, "no open issues inactive")
	assert.Contains(t, output, "circuit breaker is open")
	assert.Contains(t, output, "quality")
}

func TestRunsStats(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	d1 := now.Add(10 * time.Second)
	d2 := now.Add(30 * time.Second)

	runs := []model.Run{
		{ID: "1", Status: model.RunStatusComplete, CreatedAt: now, FinishedAt: &d1},
		{ID: "2", Status: model.RunStatusFailed, DryRun: true, CreatedAt: now, FinishedAt: &d2},
		{ID: "3", Status: model.RunStatusRunning, CreatedAt: now},
	}

	s := computeRunStats(runs)
	assert.Equal(t, 3, s.Total)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Running)
	assert.Equal(t, 1, s.DryRuns)
	assert.InDelta(t, 20.0, s.AvgDurSecs, 0.01)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.Contains(t, buf.String(), "Total runs:")
	assert.Contains(t, buf.String(), "20.0s")
}

func TestRunsStats_Empty(t *testing.T) {
	s := computeRunStats(nil)
	assert.Equal(t, 0, s.Total)
	assert.Zero(t, s.AvgDurSecs)

	var buf bytes.Buffer
	formatRunStats(&buf, s)
	assert.NotContains(t, buf.String(), "Avg duration")
}

func TestTruncateID(t *testing.T) {
	assert.Equal(t, "abc12345", truncateID("abc12345-6789-0000-0000-000000000000"))
	assert.Equal(t, "short", truncateID("short"))
}
