package cli

import (
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/kern/internal/store"
)

const overrideRules = `
rule: low: {
	id:       1
	priority: "Normal"
	when:     "y == 0"
	then:     "LOAD_NUM R0, 2\nSET_SYMBOL y, R0"
	writes:   ["y"]
}
rule: high: {
	id:       2
	priority: "High"
	when:     "y == 0"
	then:     "LOAD_NUM R0, 1\nSET_SYMBOL y, R0"
	writes:   ["y"]
}
strategies: "*": "override"
variables: y: 0
`

type traceEventJSON struct {
	Seq    int64  `json:"seq"`
	Cycle  int64  `json:"cycle"`
	Kind   string `json:"kind"`
	RuleID uint32 `json:"rule_id"`
}

type traceResponse struct {
	Status string `json:"status"`
	RunID  string `json:"run_id"`
	Data   struct {
		Run     RunSummaryOutput `json:"run"`
		Events  []traceEventJSON `json:"events"`
		History []struct {
			Kind     string `json:"kind"`
			Strategy string `json:"strategy"`
			Winner   uint32 `json:"winner"`
		} `json:"history"`
	} `json:"data"`
}

// recordRun runs src into a fresh database and returns its path.
func recordRun(t *testing.T, src, runID string) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "kern.db")
	_, err := runRules("text", runID, "--db", dbPath, writeRules(t, src))
	require.NoError(t, err)
	return dbPath
}

func queryTrace(t *testing.T, args ...string) traceResponse {
	t.Helper()
	out, _, err := runRoot(append([]string{"--format", "json", "trace"}, args...)...)
	require.NoError(t, err)

	var resp traceResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	return resp
}

func TestTrace_LatestRun(t *testing.T) {
	db := recordRun(t, counterRules, "trace-run-1")

	resp := queryTrace(t, "--db", db)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "trace-run-1", resp.RunID)
	assert.Equal(t, "fixpoint", resp.Data.Run.Status)
	require.NotEmpty(t, resp.Data.Events)

	for i := 1; i < len(resp.Data.Events); i++ {
		assert.Greater(t, resp.Data.Events[i].Seq, resp.Data.Events[i-1].Seq, "events in seq order")
	}
	assert.Equal(t, "cycle_start", resp.Data.Events[0].Kind)
	assert.Equal(t, "fixpoint", resp.Data.Events[len(resp.Data.Events)-1].Kind)
}

func TestTrace_Filters(t *testing.T) {
	db := recordRun(t, counterRules, "trace-run-1")

	t.Run("kind", func(t *testing.T) {
		resp := queryTrace(t, "--db", db, "--run", "trace-run-1", "--kind", "fired")
		require.Len(t, resp.Data.Events, 5)
		for _, ev := range resp.Data.Events {
			assert.Equal(t, "fired", ev.Kind)
			assert.Equal(t, uint32(1), ev.RuleID)
		}
	})

	t.Run("rule name", func(t *testing.T) {
		resp := queryTrace(t, "--db", db, "--rule-name", "count", "--kind", "fired")
		assert.Len(t, resp.Data.Events, 5)

		resp = queryTrace(t, "--db", db, "--rule-name", "missing")
		assert.Empty(t, resp.Data.Events)
	})

	t.Run("cycle", func(t *testing.T) {
		resp := queryTrace(t, "--db", db, "--cycle", "2")
		require.NotEmpty(t, resp.Data.Events)
		for _, ev := range resp.Data.Events {
			assert.Equal(t, int64(2), ev.Cycle)
		}
	})

	t.Run("seq range and limit", func(t *testing.T) {
		resp := queryTrace(t, "--db", db, "--from", "3", "--to", "6")
		require.Len(t, resp.Data.Events, 4)
		assert.Equal(t, int64(3), resp.Data.Events[0].Seq)

		resp = queryTrace(t, "--db", db, "--limit", "2")
		assert.Len(t, resp.Data.Events, 2)
	})
}

func TestTrace_History(t *testing.T) {
	db := recordRun(t, overrideRules, "trace-run-2")

	resp := queryTrace(t, "--db", db, "--history")
	require.NotEmpty(t, resp.Data.History)
	assert.Equal(t, "resolved", resp.Data.History[0].Kind)
	assert.Equal(t, "override", resp.Data.History[0].Strategy)
	assert.Equal(t, uint32(2), resp.Data.History[0].Winner)
}

func TestTrace_Text(t *testing.T) {
	db := recordRun(t, counterRules, "trace-run-1")

	out, _, err := runRoot("trace", "--db", db, "--kind", "fired")
	require.NoError(t, err)
	assert.Contains(t, out, "Run trace-run-1 (fixpoint")
	assert.Contains(t, out, "fired")
	assert.Contains(t, out, "rule=1")
}

func TestTrace_Errors(t *testing.T) {
	db := recordRun(t, counterRules, "trace-run-1")

	emptyDB := filepath.Join(t.TempDir(), "empty.db")
	st, err := store.Open(emptyDB)
	require.NoError(t, err)
	require.NoError(t, st.Close())

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"missing db flag", []string{"trace"}, "required flag"},
		{"unknown kind", []string{"trace", "--db", db, "--kind", "bogus"}, "invalid --kind"},
		{"negative limit", []string{"trace", "--db", db, "--limit", "-1"}, "invalid --limit"},
		{"unknown run", []string{"trace", "--db", db, "--run", "nope"}, "failed to find run"},
		{"empty database", []string{"trace", "--db", emptyDB}, "database has no runs"},
		{"bad database", []string{"trace", "--db", "/nonexistent/dir/kern.db"}, "failed to open database"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := runRoot(tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
