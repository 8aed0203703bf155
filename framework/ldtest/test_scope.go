package ldtest

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/test-engine/framework"
)

// Scope describes where a test body runs: its name, the values supplied by enclosing hosts, and
// the result node that receives its outcome.
type Scope struct {
	Context     context.Context
	TestContext *TestContext
	Name        TestName
	Params      Parameters
	Fixture     interface{}

	// Result receives the outcome. If nil, a new result is created.
	Result *TestResult

	// ParentLogger, if set, fans out its further output to this test; see T.DebugLogger.
	ParentLogger *framework.CapturingLogger
}

// T represents a test scope. It is very similar to Go's testing.T type.
type T struct {
	scope       Scope
	result      *TestResult
	debugLogger framework.CapturingLogger
	failed      bool
	skipped     bool
	skipReason  string
	cleanups    []func()
	errors      []error
	warnings    []string
	children    []*TestResult
	helperFns   []string
}

// Run starts a top-level test scope with its own TestContext. It is mostly useful for running a
// test body outside of a resolved test tree.
func Run(config TestConfiguration, action func(*T)) *TestResult {
	return RunScope(Scope{TestContext: NewTestContext(config)}, action)
}

// RunScope runs a test body and returns its result, which is the Scope's Result if one was given.
// Events are reported to the TestContext's logger.
func RunScope(scope Scope, action func(*T)) *TestResult {
	if scope.Context == nil {
		scope.Context = context.Background()
	}
	if scope.TestContext == nil {
		scope.TestContext = NewTestContext(TestConfiguration{})
	}
	t := &T{scope: scope, result: scope.Result}
	if t.result == nil {
		t.result = NewTestResult(scope.Name)
	}
	tc := scope.TestContext
	if scope.ParentLogger != nil {
		scope.ParentLogger.AddChildLogger(&t.debugLogger) // see comments on t.DebugLogger()
		defer scope.ParentLogger.RemoveChildLogger(&t.debugLogger)
	}

	tc.TestStarted(scope.Name)
	startTime := time.Now()
	t.run(action)
	t.finish(time.Since(startTime))
	if t.skipped {
		tc.TestSkipped(scope.Name, t.skipReason)
	} else {
		tc.TestFinished(scope.Name, t.result, t.debugLogger.Output())
	}
	return t.result
}

func (t *T) run(action func(*T)) {
	defer func() {
		if r := recover(); r != nil {
			if t.skipped {
				return
			}
			t.failed = true
			var addError error
			if _, ok := r.(*T); ok {
				if len(t.errors) == 0 {
					addError = errors.New("test failed with no failure message")
				}
			} else {
				addError = fmt.Errorf("unexpected panic in test: %+v\n%s", r, string(debug.Stack()))
			}
			if addError != nil {
				t.errors = append(t.errors, addError)
				t.scope.TestContext.TestError(t.scope.Name, addError)
			}
		}
	}()
	defer func() {
		for i := len(t.cleanups) - 1; i >= 0; i-- {
			t.cleanups[i]()
		}
	}()

	action(t)
}

func (t *T) finish(duration time.Duration) {
	r := t.result
	ctxErr := t.scope.Context.Err()
	if errors.Is(ctxErr, context.DeadlineExceeded) && !t.skipped {
		t.failed = true
		t.errors = append(t.errors, errors.New("test timed out"))
	}
	for _, c := range t.children {
		_ = r.AddChild(c)
	}
	for _, w := range t.warnings {
		_ = r.AddWarning(w)
	}
	for _, e := range t.errors {
		_ = r.AddError(e)
	}
	switch {
	case t.skipped:
		_ = r.MergeStatus(StatusIgnored)
		if t.skipReason != "" {
			_ = r.AddMessage(t.skipReason)
		}
	case t.failed && errors.Is(ctxErr, context.Canceled):
		_ = r.SetStatus(StatusCanceled)
	case t.failed:
		_ = r.MergeStatus(StatusError)
	default:
		_ = r.MergeStatus(StatusSuccess)
	}
	_ = r.SetDuration(duration)
}

// Name returns the full name of the current test.
func (t *T) Name() TestName {
	return t.scope.Name
}

// Run runs a subtest in its own scope. Its result becomes a child of this test's result.
//
// This is equivalent to Go's testing.T.Run.
func (t *T) Run(name string, action func(*T)) {
	sub := t.scope
	sub.Name = t.scope.Name.Plus(name)
	sub.Result = nil
	sub.ParentLogger = &t.debugLogger
	if f := t.scope.TestContext.Filter(); f != nil && !f.Match(sub.Name) {
		skipped := NewTestResult(sub.Name)
		_ = skipped.SetStatus(StatusIgnored)
		_ = skipped.AddMessage(excludedByFilter)
		t.children = append(t.children, skipped)
		t.scope.TestContext.TestSkipped(sub.Name, excludedByFilter)
		return
	}
	t.children = append(t.children, RunScope(sub, action))
}

const excludedByFilter = "excluded by filter parameters"

// Errorf reports a test failure. It is equivalent to Go's testing.T.Errorf. It does not cause the test
// to terminate, but adds the failure message to the output and marks the test as failed.
//
// You will rarely use this method directly; it is part of this type's implementation of the base
// interfaces testing.T and assert.TestingT, allowing it to be called from assertion helpers.
func (t *T) Errorf(format string, args ...interface{}) {
	t.failed = true
	err := fmt.Errorf(format, args...)

	err = newFailure(err, callStack(1, false, t.helperFns))

	t.errors = append(t.errors, err)
	t.scope.TestContext.TestError(t.scope.Name, err)
}

// FailNow causes the test to immediately terminate and be marked as failed.
//
// You will rarely use this method directly; it is part of this type's implementation of the base
// interfaces testing.T and assert.TestingT, allowing it to be called from assertion helpers.
func (t *T) FailNow() {
	panic(t)
}

// Skip causes the test to immediately terminate and be marked as ignored.
func (t *T) Skip() {
	t.skipped = true
	panic(t)
}

// SkipWithReason is equivalent to Skip but provides a message.
func (t *T) SkipWithReason(reason string) {
	t.skipReason = reason
	t.Skip()
}

// Warn adds a message and marks the test as passing with a warning, unless it fails anyway.
func (t *T) Warn(message string, args ...interface{}) {
	text := fmt.Sprintf(message, args...)
	t.warnings = append(t.warnings, text)
	t.scope.TestContext.AddWarning(fmt.Sprintf("%s: %s", t.scope.Name, text))
}

// Debug writes a message to the output for this test scope.
func (t *T) Debug(message string, args ...interface{}) {
	t.debugLogger.Printf(message, args...)
}

// DebugLogger returns a Logger instance for writing output for this test scope.
//
// The output that is captured for a test will be passed to TestLogger.TestFinished at the end of
// the test. The test runner can choose whether to display this or not based on command-line options.
//
// When a test has subtests (created with t.Run), the logger for a subtest starts out with a copy of
// any output that was already logged for the parent test. During the lifetime of the subtest, any
// further output that is sent to the parent test's logger will go to the child test's logger
// instead. This is useful when the parent test scope manages an object such as a fixture that
// is reused by many subtests.
func (t *T) DebugLogger() framework.Logger {
	return &t.debugLogger
}

// Defer schedules a cleanup function which is guaranteed to be called when this test scope
// exits for any reason. Unlike a Go defer statement, Defer can be used from within helper
// functions.
func (t *T) Defer(cleanupFn func()) {
	t.cleanups = append(t.cleanups, cleanupFn)
}

// Context returns the cancellation context of the run. Test bodies that do I/O should pass it
// along so that a canceled run or a timeout stops them.
func (t *T) Context() context.Context {
	return t.scope.Context
}

// TestContext returns the ambient state of the run.
func (t *T) TestContext() *TestContext {
	return t.scope.TestContext
}

// Param returns the value of the named parameter, or a null value if no enclosing host supplies
// it.
func (t *T) Param(name string) ldvalue.Value {
	value, _ := t.scope.Params.Get(name)
	return value
}

func (t *T) Params() Parameters {
	return append(Parameters(nil), t.scope.Params...)
}

// Fixture returns the fixture value of the enclosing fixture host, if any.
func (t *T) Fixture() interface{} {
	return t.scope.Fixture
}

// Capabilities returns the capabilities that were configured for the run.
func (t *T) Capabilities() framework.Capabilities {
	return t.scope.TestContext.Capabilities()
}

// RequireCapability causes the test to be skipped if the run does not have the capability.
func (t *T) RequireCapability(name string) {
	if !t.Capabilities().Has(name) {
		t.SkipWithReason(fmt.Sprintf("test host does not have capability %q", name))
	}
}

// Helper marks the function that calls it as a test helper that shouldn't appear in stacktraces.
// Equivalent to Go's testing.T.Helper().
func (t *T) Helper() {
	pc, _, _, ok := runtime.Caller(1) // 0 is Helper() itself, 1 is who called it
	if !ok {
		return
	}
	f := runtime.FuncForPC(pc)
	if f == nil {
		return
	}
	t.helperFns = append(t.helperFns, f.Name())
}
