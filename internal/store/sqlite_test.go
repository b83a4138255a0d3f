package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/comerito/cezar/internal/model"
)

func newTestSQLiteBackend(t *testing.T) *SQLiteBackend {
	t.Helper()
	b, err := NewSQLiteBackend(context.Background(), filepath.Join(t.TempDir(), "cezar.db"))
	require.NoError(t, err)
	t.Cleanup(func() { b.Close() }) //nolint:errcheck
	return b
}

func TestSQLiteBackend_ReadWrite(t *testing.T) {
	b := newTestSQLiteBackend(t)
	ctx := context.Background()

	_, err := b.Read(ctx)
	assert.True(t, errors.Is(err, ErrNoSnapshot))

	require.NoError(t, b.Write(ctx, []byte(`{"v":1}`)))
	require.NoError(t, b.Write(ctx, []byte(`{"v":2}`)))

	data, err := b.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, `{"v":2}`, string(data))
}

func TestSQLiteBackend_StoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	loc := "sqlite://" + filepath.Join(t.TempDir(), "cezar.db")

	s, err := Init(ctx, loc, testRepo, false)
	require.NoError(t, err)
	_, err = s.Upsert(rawIssue(1, "t", "b"))
	require.NoError(t, err)
	require.NoError(t, s.SetDigest(1, model.Digest{Category: "docs"}))
	require.NoError(t, s.Save(ctx))
	require.NoError(t, s.Close())

	loaded, err := Load(ctx, loc)
	require.NoError(t, err)
	t.Cleanup(func() { loaded.Close() }) //nolint:errcheck

	is, err := loaded.Get(1)
	require.NoError(t, err)
	require.NotNil(t, is.Digest)
	assert.Equal(t, "docs", is.Digest.Category)
}

func newTestRunLog(t *testing.T) *SQLiteRunLog {
	t.Helper()
	l, err := NewSQLiteRunLog(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() }) //nolint:errcheck
	require.NoError(t, l.Migrate(context.Background()))
	return l
}

func TestSQLiteRunLog_Lifecycle(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	run, err := l.CreateRun(ctx, "comerito/cezar", true, false)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusRunning, run.Status)

	phase, err := l.CreatePhase(ctx, run.ID, "duplicates")
	require.NoError(t, err)
	require.NoError(t, l.CompletePhase(ctx, phase.ID, &model.PhaseResult{
		Name:       "duplicates",
		Status:     model.PhaseStatusComplete,
		Candidates: 3,
		Produced:   1,
	}))
	require.NoError(t, l.FinishRun(ctx, run.ID, model.RunStatusComplete, "phase1=1 phase2=0"))

	runs, err := l.ListRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, model.RunStatusComplete, runs[0].Status)
	assert.True(t, runs[0].DryRun)
	assert.Equal(t, "phase1=1 phase2=0", runs[0].Summary)
	assert.NotNil(t, runs[0].FinishedAt)

	phases, err := l.ListPhases(ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, phases, 1)
	assert.Equal(t, model.PhaseStatusComplete, phases[0].Status)
	require.NotNil(t, phases[0].Result)
	assert.Equal(t, 3, phases[0].Result.Candidates)
}

func TestSQLiteRunLog_UnknownIDs(t *testing.T) {
	l := newTestRunLog(t)
	ctx := context.Background()

	err := l.FinishRun(ctx, "missing", model.RunStatusFailed, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "run not found")

	err = l.CompletePhase(ctx, "missing", &model.PhaseResult{Status: model.PhaseStatusFailed})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "phase not found")
}
