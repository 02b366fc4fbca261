package recon

import (
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.NotEqual(t, a, b)
	_, err := uuid.Parse(a)
	assert.NoError(t, err)
}

func TestLedger_RunLifecycle(t *testing.T) {
	l := openTestLedger(t)
	runID := NewRunID()

	require.NoError(t, l.StartRun(runID, DefaultConfig(), 9, 20))
	run, err := l.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, "running", run.Status)
	assert.Equal(t, 9, run.Cameras)
	assert.Equal(t, 20, run.InputPoints)
	assert.True(t, run.FinishedAt.IsZero())

	stats := &DensityStats{Input: 20, Kept: 16, Suppressed: 4, Edges: 90, Rounds: 12}
	require.NoError(t, l.RecordIteration(IterationSnapshot{
		RunID: runID, Iteration: 1, Alpha: 1, Points: 20, Vertices: 20, Faces: 30, Pairs: 3,
		Bundles: []CameraBundle{{Main: 4, Sides: []int{5, 1}}, {Main: 0, Sides: []int{8}}},
	}))
	require.NoError(t, l.RecordIteration(IterationSnapshot{
		RunID: runID, Iteration: 2, Alpha: 0.5, Points: 16, Vertices: 40, Faces: 70, Pairs: 0,
		Density: stats,
	}))
	require.NoError(t, l.FinishRun(runID, "done"))

	run, err = l.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, "done", run.Status)
	assert.Equal(t, 2, run.Iterations)
	assert.False(t, run.FinishedAt.IsZero())

	iters, err := l.Iterations(runID)
	require.NoError(t, err)
	require.Len(t, iters, 2)
	assert.Equal(t, IterationRecord{Iteration: 1, Alpha: 1, Points: 20, Vertices: 20, Faces: 30, Pairs: 3}, iters[0])
	assert.Equal(t, 0.5, iters[1].Alpha)
	assert.Equal(t, stats, iters[1].Density)

	pairs, err := l.Pairs(runID, 1)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 8}, {4, 1}, {4, 5}}, pairs)
}

func TestLedger_Errors(t *testing.T) {
	l := openTestLedger(t)

	assert.Error(t, l.FinishRun("nope", "done"))
	_, err := l.Run("nope")
	assert.Error(t, err)

	runID := NewRunID()
	require.NoError(t, l.StartRun(runID, DefaultConfig(), 2, 3))
	assert.Error(t, l.StartRun(runID, DefaultConfig(), 2, 3), "duplicate run id")

	snap := IterationSnapshot{RunID: runID, Iteration: 1, Bundles: []CameraBundle{{Main: 0, Sides: []int{1}}}}
	require.NoError(t, l.RecordIteration(snap))
	assert.Error(t, l.RecordIteration(snap), "duplicate iteration")

	// the failed insert rolled back without touching the first one
	pairs, err := l.Pairs(runID, 1)
	require.NoError(t, err)
	assert.Equal(t, [][2]int{{0, 1}}, pairs)

	assert.Error(t, l.RecordIteration(IterationSnapshot{RunID: "unknown", Iteration: 1}), "foreign key")
}

func TestLedger_Reopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	l, err := OpenLedger(path)
	require.NoError(t, err)
	runID := NewRunID()
	require.NoError(t, l.StartRun(runID, DefaultConfig(), 1, 1))
	require.NoError(t, l.Close())

	l, err = OpenLedger(path)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	run, err := l.Run(runID)
	require.NoError(t, err)
	assert.Equal(t, runID, run.RunID)
}

// ---- helpers ----

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}
