package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework/ldtest"
)

func TestHostParamsValidate(t *testing.T) {
	assert.NoError(t, (&hostParams{}).validate(nil))
	assert.NoError(t, (&hostParams{spawn: true}).validate([]string{"./host", "host"}))
	assert.NoError(t, (&hostParams{connect: "localhost:9000"}).validate(nil))

	assert.Error(t, (&hostParams{spawn: true}).validate(nil))
	assert.Error(t, (&hostParams{}).validate([]string{"stray"}))
	assert.Error(t, (&hostParams{connect: "a:1", listen: ":2"}).validate(nil))
}

func TestLoadSuppressions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "skip.txt")
	require.NoError(t, os.WriteFile(path, []byte("suite/a(1)\n\n  \nsuite/b\n"), 0600))

	s := selectionParams{skipFile: path}
	require.NoError(t, s.loadSuppressions())
	require.Len(t, s.filters.MustNotMatch, 2)

	name := ldtest.TestName{}.Plus("suite").Plus("a(1)")
	assert.False(t, s.filters.Match(name))
	assert.True(t, s.filters.Match(ldtest.TestName{}.Plus("suite").Plus("c")))

	missing := selectionParams{skipFile: filepath.Join(t.TempDir(), "missing.txt")}
	assert.Error(t, missing.loadSuppressions())
}

func TestDescribeFilters(t *testing.T) {
	var s selectionParams
	assert.Empty(t, s.activeFilters())
	assert.Equal(t, "", describeFilters(s.activeFilters()))

	require.NoError(t, s.filters.MustMatch.Set("a/.*"))
	require.NoError(t, s.globs.Exclude.Set("**/slow"))
	assert.Len(t, s.activeFilters(), 2)
	assert.Equal(t, "run a/.*; exclude **/slow", describeFilters(s.activeFilters()))
}

func TestRecordFailures(t *testing.T) {
	root := ldtest.NewTestResult(ldtest.TestName{})
	failed := ldtest.NewTestResult(ldtest.TestName{}.Plus("suite").Plus("bad"))
	require.NoError(t, failed.AddError(assert.AnError))
	passed := ldtest.NewTestResult(ldtest.TestName{}.Plus("suite").Plus("good"))
	require.NoError(t, passed.SetStatus(ldtest.StatusSuccess))
	require.NoError(t, root.AddChild(failed))
	require.NoError(t, root.AddChild(passed))

	path := filepath.Join(t.TempDir(), "failures.txt")
	require.NoError(t, recordFailures(path, root))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "suite/bad\n", string(data))
}
