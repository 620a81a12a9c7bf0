package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// counterRules counts n up to 5 and then reaches fixpoint.
const counterRules = `
rule: count: {
	id:     1
	when:   "n < 5"
	then:   "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
	writes: ["n"]
}
variables: n: 0
`

// spinRules never reaches fixpoint; the recursion guard halts it.
const spinRules = `
rule: spin: {
	id:              1
	when:            "true"
	then:            "GET_SYMBOL R0, n\nLOAD_NUM R1, 1\nADD R0, R1, R0\nSET_SYMBOL n, R0"
	writes:          ["n"]
	recursion_limit: 3
}
variables: n: 0
`

// writeRules writes src as a CUE package into a fresh directory.
func writeRules(t *testing.T, src string) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "rules")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rules.cue"), []byte("package rules\n"+src), 0o644))
	return dir
}

// writeFile writes content to name in a fresh directory.
func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// runCmd executes cmd with args and returns stdout and stderr.
func runCmd(cmd *cobra.Command, args ...string) (string, string, error) {
	out := &bytes.Buffer{}
	errOut := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

// runRoot executes the root command with args.
func runRoot(args ...string) (string, string, error) {
	return runCmd(NewRootCommand(), args...)
}
