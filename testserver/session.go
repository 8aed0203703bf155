package testserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/engine"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/settings"
)

var (
	// ErrNoSuiteLoaded means Run or ListTests was called before LoadTestSuite.
	ErrNoSuiteLoaded = errors.New("no test suite has been loaded")

	// ErrRunInProgress means a run was requested while another run was still going.
	ErrRunInProgress = errors.New("a test run is already in progress")

	// ErrNoSuchRun means Stop named a run that is not in progress.
	ErrNoSuchRun = errors.New("no such test run")
)

// LoadRequest selects what LoadTestSuite resolves.
type LoadRequest struct {
	Suites            []string
	IncludeCategories []string
	ExcludeCategories []string
}

// RunRequest describes one run of the loaded suite.
type RunRequest struct {
	// RunID identifies the run for Stop. If empty, one is generated.
	RunID string

	Filter     ldtest.RegexFilters
	Globs      ldtest.GlobFilters
	DebugLevel ldlog.LogLevel
}

// Session is the set of operations a front end performs on a test host, whether the host is in
// this process or on the other end of a connection.
type Session interface {
	LoadTestSuite(ctx context.Context, req LoadRequest) error
	Run(ctx context.Context, req RunRequest, logger ldtest.TestLogger) (*ldtest.TestResult, error)
	Stop(ctx context.Context, runID string) error
	Result(ctx context.Context) (*ldtest.TestResult, error)
	ListTests(ctx context.Context) ([]ldtest.TestName, error)
}

// SessionConfig holds what a TestSession needs besides its registry.
type SessionConfig struct {
	// Capabilities are reported to tests through T.Capabilities.
	Capabilities framework.Capabilities

	// Settings is shared with tests through TestContext.Value. If nil, an empty bag is used.
	Settings *settings.Shared

	// DebugLogger receives engine diagnostics.
	DebugLogger framework.Logger
}

// TestSession holds the resolved tree of a registry and runs it in this process. Only one run
// can be in progress at a time.
type TestSession struct {
	registry   *builder.Registry
	config     SessionConfig
	root       *builder.TestBuilder
	invoker    *engine.TestInvoker
	last       *ldtest.TestResult
	runID      string
	cancel     context.CancelFunc
	tc         *ldtest.TestContext
	debugLevel ldlog.LogLevel
	runCount   int
	lock       sync.Mutex
}

func NewTestSession(registry *builder.Registry, config SessionConfig) *TestSession {
	if config.Settings == nil {
		config.Settings = settings.NewShared(settings.Settings{})
	}
	if config.DebugLogger == nil {
		config.DebugLogger = framework.NullLogger()
	}
	return &TestSession{registry: registry, config: config}
}

// Settings returns the bag that tests in this session can see.
func (s *TestSession) Settings() *settings.Shared { return s.config.Settings }

// SetDebugLevel changes the default debug level for later runs.
func (s *TestSession) SetDebugLevel(level ldlog.LogLevel) {
	s.lock.Lock()
	s.debugLevel = level
	s.lock.Unlock()
}

// LoadTestSuite resolves the registry with the requested options, replacing any tree that was
// loaded before. Configuration errors are returned as *builder.ConfigurationError.
func (s *TestSession) LoadTestSuite(_ context.Context, req LoadRequest) error {
	root := builder.Build(s.registry, builder.Options{
		Suites:            req.Suites,
		IncludeCategories: req.IncludeCategories,
		ExcludeCategories: req.ExcludeCategories,
	})
	invoker, err := root.Resolve()
	if err != nil {
		return err
	}
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel != nil {
		return ErrRunInProgress
	}
	s.root, s.invoker, s.last = root, invoker, nil
	return nil
}

// Run runs the loaded tree and returns its result. Test events go to logger as they happen.
func (s *TestSession) Run(ctx context.Context, req RunRequest, logger ldtest.TestLogger) (*ldtest.TestResult, error) {
	s.lock.Lock()
	if s.invoker == nil {
		s.lock.Unlock()
		return nil, ErrNoSuiteLoaded
	}
	if s.cancel != nil {
		s.lock.Unlock()
		return nil, ErrRunInProgress
	}
	s.runCount++
	if req.RunID == "" {
		req.RunID = fmt.Sprintf("run-%d", s.runCount)
	}
	if req.DebugLevel == 0 {
		req.DebugLevel = s.debugLevel
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.runID, s.cancel = req.RunID, cancel
	invoker := s.invoker
	s.lock.Unlock()

	defer func() {
		cancel()
		s.lock.Lock()
		s.runID, s.cancel, s.tc = "", nil, nil
		s.lock.Unlock()
	}()

	var filter ldtest.Filter
	switch {
	case req.Filter.IsDefined() && req.Globs.IsDefined():
		filter = ldtest.AllFilters{req.Filter, req.Globs}
	case req.Filter.IsDefined():
		filter = req.Filter
	case req.Globs.IsDefined():
		filter = req.Globs
	}
	tc := ldtest.NewTestContext(ldtest.TestConfiguration{
		Filter:       filter,
		TestLogger:   logger,
		DebugLogger:  s.config.DebugLogger,
		DebugLevel:   req.DebugLevel,
		Context:      s.config.Settings,
		Capabilities: s.config.Capabilities,
	})
	s.lock.Lock()
	s.tc = tc
	s.lock.Unlock()
	tc.Loggers().Debugf("Starting run %s", req.RunID)
	result := engine.Run(runCtx, invoker, tc)
	tc.Loggers().Debugf("Finished run %s: %s", req.RunID, result.Status())
	addRunNotes(tc, result)

	s.lock.Lock()
	s.last = result
	s.lock.Unlock()
	return result, nil
}

// addRunNotes copies the errors and warnings collected by the run onto the root result, where
// they travel with it and are listed by ldtest.PrintResults. Each one is also on its own node.
func addRunNotes(tc *ldtest.TestContext, root *ldtest.TestResult) {
	for _, err := range tc.Errors() {
		tc.Loggers().Errorf("Error outside of a test body: %s", err)
		_ = root.AddMessage("error: " + err.Error())
	}
	for _, w := range tc.Warnings() {
		_ = root.AddMessage("warning: " + w)
	}
}

// Stop cancels a run in progress. Tests that have not started are reported as canceled, and
// fixtures that were set up are still torn down.
func (s *TestSession) Stop(_ context.Context, runID string) error {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.cancel == nil || (runID != "" && runID != s.runID) {
		return fmt.Errorf("%w: %q", ErrNoSuchRun, runID)
	}
	if s.tc != nil {
		if current := s.tc.CurrentTest(); current != nil {
			s.tc.Loggers().Infof("Canceling run %s during %s", s.runID, current)
		}
	}
	s.cancel()
	return nil
}

// Result returns the result of the most recent completed run, or nil if there is none.
func (s *TestSession) Result(context.Context) (*ldtest.TestResult, error) {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.last, nil
}

// ListTests returns the browsable test names of the loaded tree.
func (s *TestSession) ListTests(context.Context) ([]ldtest.TestName, error) {
	s.lock.Lock()
	root := s.root
	s.lock.Unlock()
	if root == nil {
		return nil, ErrNoSuiteLoaded
	}
	return root.Names()
}

// RunningID returns the ID of the run in progress, or "" if there is none.
func (s *TestSession) RunningID() string {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.runID
}
