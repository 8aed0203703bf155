package ldtest

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/hashicorp/go-multierror"

	"github.com/launchdarkly/test-engine/framework"
)

var consoleTestErrorColor = color.New(color.FgYellow)              //nolint:gochecknoglobals
var consoleTestFailedColor = color.New(color.FgRed)                //nolint:gochecknoglobals
var consoleTestSkippedColor = color.New(color.Faint, color.FgBlue) //nolint:gochecknoglobals
var consoleTestWarningColor = color.New(color.FgMagenta)           //nolint:gochecknoglobals
var consoleDebugOutputColor = color.New(color.Faint)               //nolint:gochecknoglobals
var allTestsPassedColor = color.New(color.FgGreen)                 //nolint:gochecknoglobals

// TestLogger receives events about test cases as they run.
type TestLogger interface {
	TestStarted(name TestName)
	TestError(name TestName, err error)
	TestFinished(name TestName, result *TestResult, debugOutput framework.CapturedOutput)
	TestSkipped(name TestName, reason string)
}

// ReportWriter is implemented by TestLoggers that produce a report once the whole run is done.
type ReportWriter interface {
	EndLog(root *TestResult) error
}

type nullTestLogger struct{}

func (n nullTestLogger) TestStarted(TestName)                                         {}
func (n nullTestLogger) TestError(TestName, error)                                    {}
func (n nullTestLogger) TestFinished(TestName, *TestResult, framework.CapturedOutput) {}
func (n nullTestLogger) TestSkipped(TestName, string)                                 {}

// NullTestLogger returns a TestLogger that ignores all events.
func NullTestLogger() TestLogger { return nullTestLogger{} }

type ConsoleTestLogger struct {
	DebugOutputOnFailure bool
	DebugOutputOnSuccess bool
}

func (c ConsoleTestLogger) TestStarted(name TestName) {
	fmt.Printf("[%s]\n", name)
}

func (c ConsoleTestLogger) TestError(name TestName, err error) {
	for _, line := range strings.Split(err.Error(), "\n") {
		_, _ = consoleTestErrorColor.Printf("  %s\n", line)
	}
}

func (c ConsoleTestLogger) TestFinished(name TestName, result *TestResult, debugOutput framework.CapturedOutput) {
	status := result.Status()
	failed := status.Failed()
	switch status {
	case StatusError:
		_, _ = consoleTestFailedColor.Printf("  FAILED: %s\n", name)
	case StatusCanceled:
		_, _ = consoleTestFailedColor.Printf("  CANCELED: %s\n", name)
	case StatusWarning:
		for _, m := range result.Messages() {
			_, _ = consoleTestWarningColor.Printf("  WARNING: %s\n", m)
		}
	}
	if len(debugOutput) > 0 &&
		((failed && c.DebugOutputOnFailure) || (!failed && c.DebugOutputOnSuccess)) {
		_, _ = consoleDebugOutputColor.Println(debugOutput.ToString("    DEBUG "))
	}
}

func (c ConsoleTestLogger) TestSkipped(name TestName, reason string) {
	if reason == "" {
		_, _ = consoleTestSkippedColor.Printf("  SKIPPED: %s\n", name)
	} else {
		_, _ = consoleTestSkippedColor.Printf("  SKIPPED: %s (%s)\n", name, reason)
	}
}

// MultiTestLogger sends every event to each of its loggers in order.
type MultiTestLogger struct {
	Loggers []TestLogger
}

func (m MultiTestLogger) TestStarted(name TestName) {
	for _, l := range m.Loggers {
		l.TestStarted(name)
	}
}

func (m MultiTestLogger) TestError(name TestName, err error) {
	for _, l := range m.Loggers {
		l.TestError(name, err)
	}
}

func (m MultiTestLogger) TestFinished(name TestName, result *TestResult, debugOutput framework.CapturedOutput) {
	for _, l := range m.Loggers {
		l.TestFinished(name, result, debugOutput)
	}
}

func (m MultiTestLogger) TestSkipped(name TestName, reason string) {
	for _, l := range m.Loggers {
		l.TestSkipped(name, reason)
	}
}

// EndLog calls EndLog on every logger that is a ReportWriter. All of them are called even if
// one fails.
func (m MultiTestLogger) EndLog(root *TestResult) error {
	var result error
	for _, l := range m.Loggers {
		if w, ok := l.(ReportWriter); ok {
			if err := w.EndLog(root); err != nil {
				result = multierror.Append(result, err)
			}
		}
	}
	return result
}

// PrintResults writes a summary of a finished run to standard output, or to standard error if
// there were failures. Messages on the root itself are notes about the whole run, and are listed
// first.
func PrintResults(root *TestResult) {
	printResults(os.Stdout, os.Stderr, root)
}

func printResults(out, errOut io.Writer, root *TestResult) {
	summary := root.Summary()
	if notes := root.Messages(); len(notes) > 0 {
		w := out
		if !summary.OK() {
			w = errOut
		}
		_, _ = consoleTestWarningColor.Fprintf(w, "RUN NOTES (%d):\n", len(notes))
		for _, n := range notes {
			_, _ = consoleTestWarningColor.Fprintf(w, "  * %s\n", n)
		}
	}
	if summary.OK() {
		_, _ = allTestsPassedColor.Fprintf(out, "All tests passed (%d passed, %d skipped, %d with warnings)\n",
			summary.Passed, summary.Ignored, summary.Warnings)
		return
	}
	_, _ = consoleTestFailedColor.Fprintf(errOut, "FAILED TESTS (%d):\n", summary.Failed+summary.Canceled)
	for _, leaf := range root.Leaves() {
		if leaf.Failed() {
			_, _ = consoleTestFailedColor.Fprintf(errOut, "  * %s (%s)\n", leaf.Name(), leaf.Status())
		}
	}
}
