package harness

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindScenarios(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("testdata", "scenarios", "counter.yaml"),
		filepath.Join("testdata", "scenarios", "override.yaml"),
		filepath.Join("testdata", "scenarios", "recursion.yaml"),
	}, paths)
}

func TestFindScenarios_Filter(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios", "over*")
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join("testdata", "scenarios", "override.yaml")}, paths)

	_, err = FindScenarios("testdata/scenarios", "[")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid filter pattern")
}

func TestFindScenarios_SingleFile(t *testing.T) {
	path := filepath.Join("testdata", "scenarios", "counter.yaml")
	paths, err := FindScenarios(path, "ignored*")
	require.NoError(t, err)
	assert.Equal(t, []string{path}, paths)
}

func TestFindScenarios_Missing(t *testing.T) {
	_, err := FindScenarios(filepath.Join(t.TempDir(), "nope"), "")
	require.Error(t, err)

	var notFound *ScenarioNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Contains(t, err.Error(), "does not exist")
}

func TestFindScenarios_SkipsOtherFiles(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	for _, name := range []string{"a.yaml", "b.yml", "notes.txt", "nested/c.yaml"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0644))
	}

	paths, err := FindScenarios(dir, "")
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "a.yaml"),
		filepath.Join(dir, "b.yml"),
		filepath.Join(dir, "nested", "c.yaml"),
	}, paths)
}

func TestRunSuite(t *testing.T) {
	paths, err := FindScenarios("testdata/scenarios", "")
	require.NoError(t, err)

	broken := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("name: broken\n"), 0644))
	paths = append(paths, broken)

	suite := RunSuite(context.Background(), paths)
	assert.Equal(t, 4, suite.Total)
	assert.Equal(t, 3, suite.Passed)
	assert.Equal(t, 1, suite.Failed)
	require.Len(t, suite.Scenarios, 4)

	assert.Equal(t, "counter_reaches_limit", suite.Scenarios[0].Name)
	assert.True(t, suite.Scenarios[0].Pass)
	assert.NotNil(t, suite.Scenarios[0].Result)

	last := suite.Scenarios[3]
	assert.Equal(t, "broken.yaml", last.Name)
	assert.False(t, last.Pass)
	assert.Nil(t, last.Scenario)
	require.Len(t, last.Errors, 1)
	assert.Contains(t, last.Errors[0], "failed to load scenario")
}
