package ldtest

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/launchdarkly/go-test-helpers/v2/jsonhelpers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework"
)

func makeSampleResultTree(t *testing.T) *TestResult {
	root := NewTestResult(nil)
	suite := NewTestResult(NewTestName("suite"))

	passed := NewTestResult(NewTestName("suite", "passed"))
	require.NoError(t, passed.SetStatus(StatusSuccess))
	require.NoError(t, passed.SetDuration(1500*time.Millisecond))

	failed := NewTestResult(NewTestName("suite", "failed").PlusParameter("x", "1"))
	require.NoError(t, failed.AddError(errors.New("expected 1")))

	skipped := NewTestResult(NewTestName("suite", "skipped"))
	require.NoError(t, skipped.SetStatus(StatusIgnored))
	require.NoError(t, skipped.AddMessage("excluded by category"))

	for _, r := range []*TestResult{passed, failed, skipped} {
		require.NoError(t, suite.AddChild(r))
	}
	require.NoError(t, root.AddChild(suite))
	return root
}

func TestJUnitTestLoggerWritesOneSuitePerTopLevelResult(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "junit.xml")
	logger := NewJUnitTestLogger(path, map[string]string{"host": "local", "a": "b"})
	root := makeSampleResultTree(t)
	logger.TestFinished(NewTestName("suite", "passed"), nil,
		framework.CapturedOutput{{Time: time.Now(), Message: "some output"}})

	require.NoError(t, MultiTestLogger{Loggers: []TestLogger{logger, NullTestLogger()}}.EndLog(root))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var doc jUnitXMLDocument
	require.NoError(t, xml.Unmarshal(data, &doc))
	require.Len(t, doc.Suites, 1)
	suite := doc.Suites[0]
	assert.Equal(t, "suite", suite.Name)
	assert.Equal(t, 3, suite.Tests)
	assert.Equal(t, 1, suite.Failures)
	assert.Equal(t, 1, suite.Skipped)
	assert.Equal(t, []jUnitXMLProperty{{Name: "a", Value: "b"}, {Name: "host", Value: "local"}}, suite.Properties)

	require.Len(t, suite.TestCases, 3)
	assert.Equal(t, "suite/passed", suite.TestCases[0].Name)
	assert.Equal(t, "1.500", suite.TestCases[0].Time)
	assert.Contains(t, suite.TestCases[0].SystemOut, "some output")
	require.NotNil(t, suite.TestCases[1].Failure)
	assert.Equal(t, "suite/failed/x(1)", suite.TestCases[1].Name)
	assert.Equal(t, "expected 1", suite.TestCases[1].Failure.Message)
	require.NotNil(t, suite.TestCases[2].SkipMessage)
	assert.Equal(t, "excluded by category", suite.TestCases[2].SkipMessage.Message)
}

func TestResultJSON(t *testing.T) {
	root := makeSampleResultTree(t)
	data := ResultJSON(root)

	suiteJSON := jsonhelpers.ToJSON(map[string]interface{}{
		"name":       "suite/skipped",
		"path":       []interface{}{map[string]interface{}{"label": "suite"}, map[string]interface{}{"label": "skipped"}},
		"status":     "ignored",
		"messages":   []string{"excluded by category"},
		"durationMs": 0,
	})
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &parsed))
	children := parsed["children"].([]interface{})[0].(map[string]interface{})["children"].([]interface{})
	assert.JSONEq(t, string(suiteJSON), string(jsonhelpers.ToJSON(children[2])))

	snapshot, err := ParseResultJSON(data)
	require.NoError(t, err)
	assert.Equal(t, root.Snapshot(), snapshot)
}

func TestParseResultJSONRejectsBadStatus(t *testing.T) {
	_, err := ParseResultJSON([]byte(`{"status":"sideways"}`))
	assert.Error(t, err)
}

func TestPrintResults(t *testing.T) {
	var out, errOut bytes.Buffer
	printResults(&out, &errOut, makeSampleResultTree(t))
	assert.Equal(t, "", out.String())
	assert.Contains(t, errOut.String(), "FAILED TESTS (1):")
	assert.Contains(t, errOut.String(), "suite/failed/x(1) (error)")

	ok := NewTestResult(nil)
	passed := NewTestResult(NewTestName("a"))
	require.NoError(t, passed.SetStatus(StatusSuccess))
	require.NoError(t, ok.AddChild(passed))
	out.Reset()
	printResults(&out, &errOut, ok)
	assert.Contains(t, out.String(), "All tests passed (1 passed, 0 skipped, 0 with warnings)")
	assert.NotContains(t, out.String(), "RUN NOTES")

	require.NoError(t, ok.AddMessage("warning: a: slow"))
	out.Reset()
	printResults(&out, &errOut, ok)
	assert.Contains(t, out.String(), "RUN NOTES (1):\n  * warning: a: slow\n")
}
