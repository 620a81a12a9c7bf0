package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/store"
)

type replayResponse struct {
	Status string `json:"status"`
	Data   struct {
		Runs []struct {
			RunID      string `json:"run_id"`
			Status     string `json:"status"`
			Identical  bool   `json:"identical"`
			Firings    int64  `json:"firings"`
			Divergence int64  `json:"divergence"`
		} `json:"runs"`
		TotalRuns    int  `json:"total_runs"`
		AllIdentical bool `json:"all_identical"`
	} `json:"data"`
	Error *CLIError `json:"error"`
}

func TestReplay_SingleRun(t *testing.T) {
	db := recordRun(t, counterRules, "replay-run-1")

	out, _, err := runRoot("replay", "--db", db, "--run", "replay-run-1")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ replay-run-1 identical")
	assert.Contains(t, out, "All 1 run(s) replayed identically")
}

func TestReplay_AllRuns(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "kern.db")
	_, err := runRules("text", "replay-a", "--db", dbPath, writeRules(t, counterRules))
	require.NoError(t, err)
	_, err = runRules("text", "replay-b", "--db", dbPath, writeRules(t, spinRules))
	require.Error(t, err, "spin halts")

	out, _, err := runRoot("--format", "json", "replay", "--db", dbPath)
	require.NoError(t, err)

	var resp replayResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.TotalRuns)
	assert.True(t, resp.Data.AllIdentical)
	require.Len(t, resp.Data.Runs, 2)
	assert.Equal(t, "replay-a", resp.Data.Runs[0].RunID)
	assert.Equal(t, int64(5), resp.Data.Runs[0].Firings)
	assert.Equal(t, "replay-b", resp.Data.Runs[1].RunID)
	assert.Equal(t, "halted", resp.Data.Runs[1].Status)
}

func TestReplay_Divergence(t *testing.T) {
	db := recordRun(t, counterRules, "replay-run-1")

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE trace_events SET detail = 'tampered' WHERE run_id = 'replay-run-1' AND seq = 3`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := runRoot("--format", "json", "replay", "--db", db)
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp replayResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeReplay, resp.Error.Code)
	assert.False(t, resp.Data.AllIdentical)
	require.Len(t, resp.Data.Runs, 1)
	assert.Equal(t, int64(3), resp.Data.Runs[0].Divergence)
}

func TestReplay_DivergenceText(t *testing.T) {
	db := recordRun(t, counterRules, "replay-run-1")

	st, err := store.Open(db)
	require.NoError(t, err)
	_, err = st.DB().Exec(`UPDATE trace_events SET detail = 'tampered' WHERE run_id = 'replay-run-1' AND seq = 3`)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := runRoot("replay", "--db", db)
	require.Error(t, err)
	assert.Contains(t, out, "✗ replay-run-1 diverged at seq 3")
	assert.Contains(t, out, "tampered")
	assert.Contains(t, out, "Replay diverged")
}

func TestReplay_EmptyDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(dbPath)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	out, _, err := runRoot("replay", "--db", dbPath)
	require.NoError(t, err)
	assert.Contains(t, out, "No runs to replay")
}

func TestReplay_MissingDatabaseFlag(t *testing.T) {
	_, _, err := runRoot("replay")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "required flag")
}

func TestReplay_Errors(t *testing.T) {
	db := recordRun(t, counterRules, "replay-run-1")

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown run", []string{"replay", "--db", db, "--run", "nope"}, "failed to find run"},
		{"bad config", []string{"replay", "--db", db, "--config", "/nonexistent/kern.yaml"}, "failed to load configuration"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runRoot(tt.args...)
			require.Error(t, err)
			assert.Equal(t, ExitCommandError, GetExitCode(err))
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
