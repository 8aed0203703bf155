package ldtest

import (
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/test-engine/framework"
)

// TestConfiguration contains options for an entire test run.
type TestConfiguration struct {
	// Filter is an optional filter for determining which test cases to run based on their names.
	Filter Filter

	// TestLogger receives status information about each test.
	TestLogger TestLogger

	// DebugLogger receives engine diagnostics. It is separate from the per-test debug output
	// that is captured by T.DebugLogger.
	DebugLogger framework.Logger

	// DebugLevel is the initial minimum level for engine diagnostics.
	DebugLevel ldlog.LogLevel

	// Context is an optional value of any type defined by the application which can be accessed from tests.
	Context interface{}

	// Capabilities is a list of strings which are used by T.HasCapability and T.RequireCapability.
	Capabilities framework.Capabilities
}

// Statistics counts test case outcomes as they are reported.
type Statistics struct {
	Started  int
	Passed   int
	Failed   int
	Ignored  int
	Warnings int
	Canceled int
}

// TestContext is the ambient state of one test run. It is shared by every node of the run, so all
// access goes through its lock.
type TestContext struct {
	config     TestConfiguration
	debugLevel ldlog.LogLevel
	errors     []error
	warnings   []string
	stats      Statistics
	current    TestName
	lock       sync.Mutex
}

func NewTestContext(config TestConfiguration) *TestContext {
	if config.TestLogger == nil {
		config.TestLogger = nullTestLogger{}
	}
	if config.DebugLogger == nil {
		config.DebugLogger = framework.NullLogger()
	}
	level := config.DebugLevel
	if level == 0 {
		level = ldlog.Info
	}
	return &TestContext{config: config, debugLevel: level}
}

func (c *TestContext) Filter() Filter { return c.config.Filter }

func (c *TestContext) TestLogger() TestLogger { return c.config.TestLogger }

// Value returns the application-defined context value, if any.
func (c *TestContext) Value() interface{} { return c.config.Context }

func (c *TestContext) Capabilities() framework.Capabilities {
	return append(framework.Capabilities(nil), c.config.Capabilities...)
}

func (c *TestContext) DebugLevel() ldlog.LogLevel {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.debugLevel
}

func (c *TestContext) SetDebugLevel(level ldlog.LogLevel) {
	c.lock.Lock()
	c.debugLevel = level
	c.lock.Unlock()
}

// DebugLogger returns the logger for engine diagnostics, without level filtering.
func (c *TestContext) DebugLogger() framework.Logger { return c.config.DebugLogger }

// Loggers returns leveled loggers for engine diagnostics at the current debug level.
func (c *TestContext) Loggers() ldlog.Loggers {
	return framework.NewLoggers(c.config.DebugLogger, c.DebugLevel(), "")
}

// AddError records an error that happened outside of a test body, such as a fixture that could not
// be set up or torn down. The error is also reported on the node it belongs to.
func (c *TestContext) AddError(err error) {
	c.lock.Lock()
	c.errors = append(c.errors, err)
	c.lock.Unlock()
}

func (c *TestContext) Errors() []error {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]error(nil), c.errors...)
}

// AddWarning records a warning from any test of the run. T.Warn calls it.
func (c *TestContext) AddWarning(message string) {
	c.lock.Lock()
	c.warnings = append(c.warnings, message)
	c.lock.Unlock()
}

func (c *TestContext) Warnings() []string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return append([]string(nil), c.warnings...)
}

func (c *TestContext) Statistics() Statistics {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.stats
}

// CurrentTest is the name of the test case that is running, if any.
func (c *TestContext) CurrentTest() TestName {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.current
}

// TestStarted updates the statistics and notifies the TestLogger.
func (c *TestContext) TestStarted(name TestName) {
	c.lock.Lock()
	c.stats.Started++
	c.current = name
	c.lock.Unlock()
	c.config.TestLogger.TestStarted(name)
}

func (c *TestContext) TestError(name TestName, err error) {
	c.config.TestLogger.TestError(name, err)
}

func (c *TestContext) TestFinished(name TestName, result *TestResult, debugOutput framework.CapturedOutput) {
	c.lock.Lock()
	switch result.Status() {
	case StatusSuccess:
		c.stats.Passed++
	case StatusWarning:
		c.stats.Passed++
		c.stats.Warnings++
	case StatusError:
		c.stats.Failed++
	case StatusCanceled:
		c.stats.Canceled++
	default:
		c.stats.Ignored++
	}
	c.current = nil
	c.lock.Unlock()
	c.config.TestLogger.TestFinished(name, result, debugOutput)
}

func (c *TestContext) TestSkipped(name TestName, reason string) {
	c.lock.Lock()
	c.stats.Ignored++
	c.lock.Unlock()
	c.config.TestLogger.TestSkipped(name, reason)
}
