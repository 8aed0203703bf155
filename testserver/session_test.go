package testserver

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/helpers"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/settings"
)

func TestSessionRunBeforeLoad(t *testing.T) {
	s := NewTestSession(sampleRegistry(nil), SessionConfig{})
	_, err := s.Run(context.Background(), RunRequest{}, nil)
	assert.ErrorIs(t, err, ErrNoSuiteLoaded)
	_, err = s.ListTests(context.Background())
	assert.ErrorIs(t, err, ErrNoSuiteLoaded)
}

func TestSessionLoadRunAndResult(t *testing.T) {
	var greeting string
	shared := settings.NewShared(settings.New(map[string]string{"greeting": "hi"}))
	s := NewTestSession(sampleRegistry(&greeting), SessionConfig{Settings: shared})
	requireLoaded(t, s, LoadRequest{})

	names, err := s.ListTests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sample/passes", "sample/fails", "sample/settings"}, namesOf(names))

	last, err := s.Result(context.Background())
	require.NoError(t, err)
	assert.Nil(t, last)

	logger := &recordingTestLogger{}
	result, err := s.Run(context.Background(), RunRequest{}, logger)
	require.NoError(t, err)
	assert.Equal(t, ldtest.StatusError, result.Status())
	assert.Equal(t, ldtest.StatusSuccess, result.Find("sample/passes").Status())
	assert.Equal(t, ldtest.StatusError, result.Find("sample/fails").Status())
	assert.Equal(t, "hi", greeting)
	assert.Contains(t, logger.Events(), "finished sample/passes success")

	last, err = s.Result(context.Background())
	require.NoError(t, err)
	assert.Same(t, result, last)
}

func TestSessionFilter(t *testing.T) {
	s := NewTestSession(sampleRegistry(nil), SessionConfig{})
	requireLoaded(t, s, LoadRequest{})

	filter, err := parseRegexFilters([]string{"sample/pass.*"}, nil)
	require.NoError(t, err)
	result, err := s.Run(context.Background(), RunRequest{Filter: filter}, nil)
	require.NoError(t, err)
	assert.False(t, result.Failed())
	assert.Equal(t, ldtest.StatusSuccess, result.Find("sample/passes").Status())
	assert.Equal(t, ldtest.StatusIgnored, result.Find("sample/fails").Status())
}

func TestSessionGlobFilter(t *testing.T) {
	s := NewTestSession(sampleRegistry(nil), SessionConfig{})
	requireLoaded(t, s, LoadRequest{})

	globs, err := parseGlobFilters(nil, []string{"**/fails"})
	require.NoError(t, err)
	regex, err := parseRegexFilters(nil, []string{"sample/settings"})
	require.NoError(t, err)
	result, err := s.Run(context.Background(), RunRequest{Filter: regex, Globs: globs}, nil)
	require.NoError(t, err)
	assert.Equal(t, ldtest.StatusSuccess, result.Find("sample/passes").Status())
	assert.Equal(t, ldtest.StatusIgnored, result.Find("sample/fails").Status())
	assert.Equal(t, ldtest.StatusIgnored, result.Find("sample/settings").Status())

	_, err = parseGlobFilters([]string{"a/["}, nil)
	assert.Error(t, err)
}

func TestSessionConfigurationError(t *testing.T) {
	registry := builder.NewRegistry()
	builder.Test(registry.Suite("s"), "c", func(*ldtest.T) {}, builder.Params(builder.Value("missing", nil)))
	s := NewTestSession(registry, SessionConfig{})

	err := s.LoadTestSuite(context.Background(), LoadRequest{})
	var configErr *builder.ConfigurationError
	require.ErrorAs(t, err, &configErr)
	assert.Equal(t, "s/c", configErr.Path)
}

func TestSessionStopCancelsRun(t *testing.T) {
	b := newBlocker()
	var ranAfter bool
	registry := builder.NewRegistry()
	suite := registry.Suite("s")
	builder.Test(suite, "wait", b.body)
	builder.Test(suite, "after", func(*ldtest.T) { ranAfter = true })

	s := NewTestSession(registry, SessionConfig{})
	requireLoaded(t, s, LoadRequest{})

	results := make(chan *ldtest.TestResult, 1)
	go func() {
		result, _ := s.Run(context.Background(), RunRequest{RunID: "r1"}, nil)
		results <- result
	}()
	helpers.RequireValue(t, b.started, time.Second*5)
	assert.Equal(t, "r1", s.RunningID())

	_, err := s.Run(context.Background(), RunRequest{}, nil)
	assert.ErrorIs(t, err, ErrRunInProgress)
	assert.ErrorIs(t, s.Stop(context.Background(), "other"), ErrNoSuchRun)

	require.NoError(t, s.Stop(context.Background(), "r1"))
	result := helpers.RequireValue(t, results, time.Second*5)
	assert.Equal(t, ldtest.StatusCanceled, result.Status())
	assert.False(t, ranAfter)
	assert.Equal(t, "", s.RunningID())
	assert.ErrorIs(t, s.Stop(context.Background(), ""), ErrNoSuchRun)
}

func TestSessionRunListsErrorsAndWarningsOnTheRoot(t *testing.T) {
	registry := builder.NewRegistry()
	suite := registry.Suite("s")
	builder.Test(suite, "warns", func(t *ldtest.T) { t.Warn("slow response") })
	fixture := builder.Fixture(suite, "F", builder.FixtureFuncs[int]{
		SetUp:    func(context.Context, *ldtest.TestContext) (int, error) { return 1, nil },
		TearDown: func(context.Context, int) error { return errors.New("could not close") },
	})
	builder.Case(fixture, "c", func(*ldtest.T, int) {})

	s := NewTestSession(registry, SessionConfig{})
	requireLoaded(t, s, LoadRequest{})
	result, err := s.Run(context.Background(), RunRequest{}, nil)
	require.NoError(t, err)

	notes := result.Messages()
	require.Len(t, notes, 2)
	assert.Contains(t, notes[0], "error: ")
	assert.Contains(t, notes[0], "could not close")
	assert.Equal(t, "warning: s/warns: slow response", notes[1])
	assert.Equal(t, ldtest.StatusWarning, result.Find("s/warns").Status())

	again, err := s.Run(context.Background(), RunRequest{}, nil)
	require.NoError(t, err)
	assert.Len(t, again.Messages(), 2)
}

func namesOf(names []ldtest.TestName) []string {
	ret := make([]string, 0, len(names))
	for _, n := range names {
		ret = append(ret, n.String())
	}
	return ret
}
