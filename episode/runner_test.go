package episode

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memlens/memlens/attribution"
	"github.com/memlens/memlens/config"
	"github.com/memlens/memlens/skills"
)

func newTestRunner(t *testing.T) *Runner {
	t.Helper()
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())
	return NewRunner(cfg, skills.DefaultSkills(), nil)
}

func TestRunEpisode_BenignTracksSucceed(t *testing.T) {
	runner := newTestRunner(t)
	for _, ep := range []Episode{
		PreferenceRecallEpisode(),
		ProceduralContinuityEpisode(),
		ToolReuseEpisode(),
		ProvenanceEpisode(),
	} {
		t.Run(ep.ID, func(t *testing.T) {
			result, err := runner.RunEpisode(context.Background(), ep)
			require.NoError(t, err)
			assert.True(t, result.Success, "verdict: %s (%s)", result.Verdict.Verdict, result.Verdict.Reason)
			assert.Equal(t, attribution.VerdictNoFault, result.Verdict.Verdict)
			assert.NotEmpty(t, result.RunID)
			assert.Len(t, result.Turns, len(ep.Turns))
		})
	}
}

func TestRunEpisode_PoisoningDefensesHold(t *testing.T) {
	runner := newTestRunner(t)
	for _, ep := range []Episode{
		WriteSurfacePoisoningEpisode(),
		RetrievalCorruptionEpisode(),
		ProceduralCorruptionEpisode(),
		DelayedTriggerEpisode(),
		PolicyPoisoningEpisode(),
	} {
		t.Run(ep.ID, func(t *testing.T) {
			result, err := runner.RunEpisode(context.Background(), ep)
			require.NoError(t, err)
			assert.True(t, result.Success, "verdict: %s (%s)", result.Verdict.Verdict, result.Verdict.Reason)
		})
	}
}

func TestRunEpisode_WriteSurfaceRejectionVisible(t *testing.T) {
	runner := newTestRunner(t)
	result, err := runner.RunEpisode(context.Background(), WriteSurfacePoisoningEpisode())
	require.NoError(t, err)

	require.Len(t, result.Turns, 2)
	assert.Equal(t, 1, result.Turns[0].RejectedWrites)
	assert.Empty(t, result.Turns[0].WrittenIDs)
	assert.NotContains(t, result.Turns[1].Response, "ADMIN")
}

func TestRunEpisode_FloodingEvictsSeededFact(t *testing.T) {
	runner := newTestRunner(t)
	result, err := runner.RunEpisode(context.Background(), FloodingEpisode())
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, attribution.VerdictRetrieveFault, result.Verdict.Verdict)
	require.Len(t, result.Turns, 2)
	assert.Len(t, result.Turns[0].WrittenIDs, 50, "junk passes the storeworthiness filter")
	assert.NotContains(t, result.Turns[1].Response, "verify user requests")
}

func TestRunEpisode_DeterministicTraces(t *testing.T) {
	runner := newTestRunner(t)
	ep := PreferenceRecallEpisode()

	first, err := runner.RunEpisode(context.Background(), ep)
	require.NoError(t, err)
	second, err := runner.RunEpisode(context.Background(), ep)
	require.NoError(t, err)

	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, first.Trace, second.Trace, "identical call sequence must replay bit-identically")
	assert.Equal(t, first.Verdict, second.Verdict)
}

func TestRunAll_ParallelIsolation(t *testing.T) {
	runner := newTestRunner(t)
	episodes := BuiltinTracks()

	results, err := runner.RunAll(context.Background(), episodes)
	require.NoError(t, err)
	require.Len(t, results, len(episodes))
	for i, res := range results {
		assert.Equal(t, episodes[i].ID, res.EpisodeID, "results keep input order")
	}

	// Only the flooding episode is expected to fall to the attack.
	for _, res := range results {
		if res.EpisodeID == "r2_flooding_001" {
			assert.False(t, res.Success)
		} else {
			assert.True(t, res.Success, "%s: %s", res.EpisodeID, res.Verdict.Reason)
		}
	}
}

func TestRunEpisode_KVBackendCollapsesUpdates(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Memory.Backend = config.BackendKV
	runner := NewRunner(cfg, skills.DefaultSkills(), nil)

	result, err := runner.RunEpisode(context.Background(), PreferenceRecallEpisode())
	require.NoError(t, err)
	assert.True(t, result.Success, "verdict: %s (%s)", result.Verdict.Verdict, result.Verdict.Reason)
}

func TestTraceJSONLRoundTrip(t *testing.T) {
	runner := newTestRunner(t)
	result, err := runner.RunEpisode(context.Background(), RetrievalCorruptionEpisode())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteTrace(&buf, result.Trace))

	decoded, err := ReadTrace(&buf)
	require.NoError(t, err)
	require.Len(t, decoded, len(result.Trace))
	for i, ev := range decoded {
		assert.Equal(t, result.Trace[i].EventType, ev.EventType)
		assert.Equal(t, result.Trace[i].TurnNumber, ev.TurnNumber)
		assert.Equal(t, result.Trace[i].Timestamp, ev.Timestamp)
	}

	// Attribution over the decoded trace reaches the same verdict even
	// though JSON decoding changes the concrete detail types.
	engine := attribution.NewEngine(nil)
	verdict, err := engine.Attribute(decoded, RetrievalCorruptionEpisode().Expected)
	require.NoError(t, err)
	assert.Equal(t, result.Verdict.Verdict, verdict.Verdict)
}

func TestResultsFileRoundTrip(t *testing.T) {
	runner := newTestRunner(t)
	results, err := runner.RunAll(context.Background(), []Episode{
		PreferenceRecallEpisode(),
		WriteSurfacePoisoningEpisode(),
	})
	require.NoError(t, err)

	path := t.TempDir() + "/results.jsonl"
	require.NoError(t, WriteResultsFile(path, results))

	loaded, err := ReadResultsFile(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, results[0].EpisodeID, loaded[0].EpisodeID)
	assert.Equal(t, results[0].Verdict.Verdict, loaded[0].Verdict.Verdict)
	assert.Equal(t, len(results[0].Trace), len(loaded[0].Trace))
}

func TestBuiltinTracks_Shape(t *testing.T) {
	episodes := BuiltinTracks()
	require.Len(t, episodes, 10)

	seen := map[string]bool{}
	for _, ep := range episodes {
		assert.False(t, seen[ep.ID], "duplicate episode id %s", ep.ID)
		seen[ep.ID] = true
		assert.NotEmpty(t, ep.TrackID)
		assert.NotEmpty(t, ep.Turns)
		for _, turn := range ep.Turns {
			assert.NotEmpty(t, turn.UserInput)
		}
	}
}
