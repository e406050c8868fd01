package archive

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/memlens/memlens/attribution"
	"github.com/memlens/memlens/config"
	"github.com/memlens/memlens/episode"
	"github.com/memlens/memlens/types"
)

func openTestArchive(t *testing.T) *Archive {
	t.Helper()
	a, err := Open(config.ArchiveConfig{Path: ""}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func sampleResult(runID, trackID string, success bool) episode.Result {
	verdict := attribution.VerdictNoFault
	if !success {
		verdict = attribution.VerdictRetrieveFault
	}
	return episode.Result{
		RunID:       runID,
		EpisodeID:   trackID + "_001",
		TrackID:     trackID,
		ThreatLevel: episode.ThreatNone,
		Turns: []episode.TurnOutcome{
			{Number: 0, Response: "Stored 1 item(s)."},
		},
		Trace: []types.TraceEvent{
			{
				EpisodeID: trackID + "_001",
				EventType: types.EventMemoryWrite,
				Details:   map[string]any{"key": "diet", "value": "vegetarian"},
			},
		},
		Verdict: attribution.AttributionVerdict{Verdict: verdict, Reason: "test"},
		Success: success,
	}
}

func TestArchive_SaveAndRehydrate(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	res := sampleResult("run-1", "benign_preference_recall", true)
	require.NoError(t, a.SaveResult(ctx, res))

	loaded, err := a.Result(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, res.RunID, loaded.RunID)
	assert.Equal(t, res.EpisodeID, loaded.EpisodeID)
	assert.Equal(t, res.Verdict.Verdict, loaded.Verdict.Verdict)
	assert.Equal(t, res.Turns, loaded.Turns)
	require.Len(t, loaded.Trace, 1)
	assert.Equal(t, "vegetarian", loaded.Trace[0].Details["value"])
}

func TestArchive_ResultNotFound(t *testing.T) {
	a := openTestArchive(t)

	_, err := a.Result(context.Background(), "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestArchive_DuplicateRunIDRejected(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveResult(ctx, sampleResult("run-dup", "benign_provenance", true)))
	assert.Error(t, a.SaveResult(ctx, sampleResult("run-dup", "benign_provenance", true)))
}

func TestArchive_RunsFilterAndOrder(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, a.SaveResult(ctx,
			sampleResult(fmt.Sprintf("run-a-%d", i), "benign_preference_recall", true)))
	}
	require.NoError(t, a.SaveResult(ctx,
		sampleResult("run-b-0", "r1_knowledge_corruption", false)))

	all, err := a.Runs(ctx, "", 0)
	require.NoError(t, err)
	require.Len(t, all, 4)
	// Newest first.
	assert.Equal(t, "run-b-0", all[0].RunID)
	// Payloads are not loaded in listings.
	assert.Empty(t, all[0].Payload)

	benign, err := a.Runs(ctx, "benign_preference_recall", 2)
	require.NoError(t, err)
	require.Len(t, benign, 2)
	assert.Equal(t, "run-a-2", benign[0].RunID)
	assert.Equal(t, "run-a-1", benign[1].RunID)

	r1, err := a.Runs(ctx, "r1_knowledge_corruption", 0)
	require.NoError(t, err)
	require.Len(t, r1, 1)
	assert.Equal(t, "retrieve_fault", r1[0].Verdict)
	assert.False(t, r1[0].Success)
}

func TestArchive_SaveAllTransactional(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveResult(ctx, sampleResult("run-x", "benign_tool_reuse", true)))

	// Batch containing a duplicate run id must leave nothing behind.
	batch := []episode.Result{
		sampleResult("run-y", "benign_tool_reuse", true),
		sampleResult("run-x", "benign_tool_reuse", true),
	}
	require.Error(t, a.SaveAll(ctx, batch))

	runs, err := a.Runs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 1)

	require.NoError(t, a.SaveAll(ctx, []episode.Result{
		sampleResult("run-y", "benign_tool_reuse", true),
		sampleResult("run-z", "benign_tool_reuse", false),
	}))
	runs, err = a.Runs(ctx, "", 0)
	require.NoError(t, err)
	assert.Len(t, runs, 3)

	assert.NoError(t, a.SaveAll(ctx, nil))
}

func TestArchive_ResultsByTrack(t *testing.T) {
	a := openTestArchive(t)
	ctx := context.Background()

	require.NoError(t, a.SaveAll(ctx, []episode.Result{
		sampleResult("run-1", "benign_provenance", true),
		sampleResult("run-2", "r2_persistent_poisoning", false),
		sampleResult("run-3", "benign_provenance", true),
	}))

	results, err := a.Results(ctx, "benign_provenance")
	require.NoError(t, err)
	require.Len(t, results, 2)
	// Oldest first, full payloads restored.
	assert.Equal(t, "run-1", results[0].RunID)
	assert.Equal(t, "run-3", results[1].RunID)
	assert.NotEmpty(t, results[0].Trace)
}

func TestArchive_FileBacked(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	a, err := Open(config.ArchiveConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.SaveResult(context.Background(),
		sampleResult("run-file", "benign_preference_recall", true)))
	require.NoError(t, a.Close())

	// Reopen and read back.
	a2, err := Open(config.ArchiveConfig{Path: path}, zap.NewNop())
	require.NoError(t, err)
	defer a2.Close()

	loaded, err := a2.Result(context.Background(), "run-file")
	require.NoError(t, err)
	assert.Equal(t, "benign_preference_recall", loaded.TrackID)
}
