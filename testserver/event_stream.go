package testserver

import (
	"fmt"
	"net/http"

	"github.com/launchdarkly/eventsource"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

const eventsChannel = "events"

type eventSourceDebugLogger struct {
	logger framework.Logger
}

func (l eventSourceDebugLogger) Println(args ...interface{}) {
	l.logger.Printf("%s", fmt.Sprintln(args...))
}

func (l eventSourceDebugLogger) Printf(format string, args ...interface{}) {
	l.logger.Printf(format, args...)
}

type streamEvent struct {
	name string
	data ldvalue.Value
}

func (e streamEvent) Event() string { return e.name }
func (e streamEvent) Id() string    { return "" } //nolint:stylecheck
func (e streamEvent) Data() string  { return e.data.JSONString() }

// EventStream is a TestLogger that publishes every event to server-sent event subscribers. Each
// event's data is a JSON object with at least a "test" property.
type EventStream struct {
	server *eventsource.Server
}

func NewEventStream(debugLogger framework.Logger) *EventStream {
	if debugLogger == nil {
		debugLogger = framework.NullLogger()
	}
	server := eventsource.NewServer()
	server.Logger = eventSourceDebugLogger{debugLogger}
	return &EventStream{server: server}
}

// Handler serves the stream.
func (s *EventStream) Handler() http.HandlerFunc {
	return s.server.Handler(eventsChannel)
}

func (s *EventStream) Close() {
	s.server.Close()
}

func (s *EventStream) publish(name string, data ldvalue.Value) {
	s.server.Publish([]string{eventsChannel}, streamEvent{name: name, data: data})
}

func (s *EventStream) TestStarted(name ldtest.TestName) {
	s.publish("started", ldvalue.ObjectBuild().SetString("test", name.String()).Build())
}

func (s *EventStream) TestError(name ldtest.TestName, err error) {
	s.publish("error", ldvalue.ObjectBuild().
		SetString("test", name.String()).
		SetString("error", err.Error()).
		Build())
}

func (s *EventStream) TestFinished(name ldtest.TestName, result *ldtest.TestResult, _ framework.CapturedOutput) {
	s.publish("finished", ldvalue.ObjectBuild().
		SetString("test", name.String()).
		SetString("status", result.Status().String()).
		SetInt("errors", result.ErrorCount()).
		Build())
}

func (s *EventStream) TestSkipped(name ldtest.TestName, reason string) {
	s.publish("skipped", ldvalue.ObjectBuild().
		SetString("test", name.String()).
		SetString("reason", reason).
		Build())
}

// RunCompleted publishes the summary of a finished run.
func (s *EventStream) RunCompleted(runID string, root *ldtest.TestResult) {
	summary := root.Summary()
	s.publish("completed", ldvalue.ObjectBuild().
		SetString("test", "").
		SetString("run", runID).
		SetString("status", root.Status().String()).
		SetInt("total", summary.Total).
		SetInt("passed", summary.Passed).
		SetInt("failed", summary.Failed).
		SetInt("ignored", summary.Ignored).
		SetInt("canceled", summary.Canceled).
		Build())
}
