package testserver

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/harness"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/servicedef"
)

// remoteTestLogger forwards test logger events to an event sink on the peer. After each finished
// or skipped test it also sends the running statistics.
type remoteTestLogger struct {
	conn   *harness.Connection
	sink   servicedef.ObjectID
	stats  ldtest.Statistics
	events int
	lock   sync.Mutex
}

func newRemoteTestLogger(conn *harness.Connection, sink servicedef.ObjectID) *remoteTestLogger {
	return &remoteTestLogger{conn: conn, sink: sink}
}

func (r *remoteTestLogger) TestStarted(name ldtest.TestName) {
	r.lock.Lock()
	r.stats.Started++
	r.lock.Unlock()
	r.send(&servicedef.LogEvent{Event: servicedef.EventTestStarted, Test: servicedef.NameElement(name)})
}

func (r *remoteTestLogger) TestError(name ldtest.TestName, err error) {
	r.send(&servicedef.LogEvent{
		Event:   servicedef.EventTestError,
		Test:    servicedef.NameElement(name),
		Message: servicedef.Text(err.Error()),
	})
}

func (r *remoteTestLogger) TestFinished(
	name ldtest.TestName,
	result *ldtest.TestResult,
	debugOutput framework.CapturedOutput,
) {
	element := servicedef.ResultElementFromSnapshot(result.Snapshot())
	r.send(&servicedef.LogEvent{
		Event:  servicedef.EventTestFinished,
		Test:   servicedef.NameElement(name),
		Result: &element,
		Output: servicedef.OutputLines(debugOutput),
	})
	r.lock.Lock()
	switch result.Status() {
	case ldtest.StatusSuccess:
		r.stats.Passed++
	case ldtest.StatusWarning:
		r.stats.Passed++
		r.stats.Warnings++
	case ldtest.StatusError:
		r.stats.Failed++
	case ldtest.StatusCanceled:
		r.stats.Canceled++
	default:
		r.stats.Ignored++
	}
	r.lock.Unlock()
	r.sendStatistics()
}

func (r *remoteTestLogger) TestSkipped(name ldtest.TestName, reason string) {
	r.send(&servicedef.LogEvent{
		Event:   servicedef.EventTestSkipped,
		Test:    servicedef.NameElement(name),
		Message: servicedef.Text(reason),
	})
	r.lock.Lock()
	r.stats.Ignored++
	r.lock.Unlock()
	r.sendStatistics()
}

func (r *remoteTestLogger) sendStatistics() {
	r.lock.Lock()
	stats := servicedef.StatisticsFrom(r.sink, r.stats)
	r.lock.Unlock()
	_ = r.conn.Send(&stats)
}

func (r *remoteTestLogger) send(event *servicedef.LogEvent) {
	event.Sink = r.sink
	if r.conn.Send(event) == nil {
		r.lock.Lock()
		r.events++
		r.lock.Unlock()
	}
}

// sent is the number of LogEvents queued so far.
func (r *remoteTestLogger) sent() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.events
}

// eventSink is the servant that receives a host's test logger events and passes them to the
// logger of the run in progress.
type eventSink struct {
	logger   ldtest.TestLogger
	stats    ldtest.Statistics
	received int
	changed  chan struct{}
	lock     sync.Mutex
}

func newEventSink() *eventSink {
	return &eventSink{logger: ldtest.NullTestLogger(), changed: make(chan struct{})}
}

// begin starts delivering events to logger and resets the counts for a new run.
func (e *eventSink) begin(logger ldtest.TestLogger) {
	e.lock.Lock()
	e.logger = logger
	e.stats = ldtest.Statistics{}
	e.received = 0
	e.lock.Unlock()
}

// end stops delivering events. The last statistics are kept.
func (e *eventSink) end() {
	e.lock.Lock()
	e.logger = ldtest.NullTestLogger()
	e.lock.Unlock()
}

// waitForEvents blocks until count LogEvents have been delivered since begin.
func (e *eventSink) waitForEvents(ctx context.Context, count int) error {
	for {
		e.lock.Lock()
		received, changed := e.received, e.changed
		e.lock.Unlock()
		if received >= count {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Statistics returns the latest counts reported by the host.
func (e *eventSink) Statistics() ldtest.Statistics {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.stats
}

func (e *eventSink) HandleCall(_ context.Context, method string, _ string) (string, error) {
	return "", fmt.Errorf("%w: %s", harness.ErrUnknownMethod, method)
}

func (e *eventSink) ReceiveEvent(_ context.Context, cmd servicedef.Command) error {
	e.lock.Lock()
	logger := e.logger
	e.lock.Unlock()

	var err error
	switch cmd := cmd.(type) {
	case *servicedef.Statistics:
		e.lock.Lock()
		e.stats = cmd.Statistics()
		e.lock.Unlock()
	case *servicedef.LogEvent:
		name := cmd.Test.TestName()
		switch cmd.Event {
		case servicedef.EventTestStarted:
			logger.TestStarted(name)
		case servicedef.EventTestError:
			logger.TestError(name, errors.New(string(cmd.Message)))
		case servicedef.EventTestFinished:
			result := ldtest.NewTestResult(name)
			if cmd.Result != nil {
				result = ldtest.FromSnapshot(cmd.Result.Snapshot())
			}
			logger.TestFinished(name, result, servicedef.CapturedOutput(cmd.Output))
		case servicedef.EventTestSkipped:
			logger.TestSkipped(name, string(cmd.Message))
		default:
			err = fmt.Errorf("unknown test event %q", cmd.Event)
		}
		e.lock.Lock()
		e.received++
		close(e.changed)
		e.changed = make(chan struct{})
		e.lock.Unlock()
	}
	return err
}
