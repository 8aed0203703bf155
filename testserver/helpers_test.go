package testserver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/settings"
)

type recordingTestLogger struct {
	events []string
	lock   sync.Mutex
}

func (r *recordingTestLogger) add(s string) {
	r.lock.Lock()
	r.events = append(r.events, s)
	r.lock.Unlock()
}

func (r *recordingTestLogger) TestStarted(name ldtest.TestName) { r.add("started " + name.String()) }
func (r *recordingTestLogger) TestError(name ldtest.TestName, err error) {
	r.add("error " + name.String() + ": " + err.Error())
}
func (r *recordingTestLogger) TestFinished(name ldtest.TestName, result *ldtest.TestResult, _ framework.CapturedOutput) {
	r.add("finished " + name.String() + " " + result.Status().String())
}
func (r *recordingTestLogger) TestSkipped(name ldtest.TestName, reason string) {
	r.add("skipped " + name.String() + ": " + reason)
}

func (r *recordingTestLogger) Events() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.events...)
}

// blocker is a test body that signals when it starts and then waits for the run to be canceled.
type blocker struct {
	started chan struct{}
}

func newBlocker() *blocker { return &blocker{started: make(chan struct{}, 1)} }

func (b *blocker) body(t *ldtest.T) {
	b.started <- struct{}{}
	<-t.Context().Done()
}

// sampleRegistry has one suite with a passing case, a failing case, and a case that reports the
// "greeting" setting.
func sampleRegistry(seenGreeting *string) *builder.Registry {
	registry := builder.NewRegistry()
	suite := registry.Suite("sample")
	builder.Test(suite, "passes", func(t *ldtest.T) {})
	builder.Test(suite, "fails", func(t *ldtest.T) {
		t.Errorf("expected failure")
	})
	builder.Test(suite, "settings", func(t *ldtest.T) {
		shared, ok := t.TestContext().Value().(*settings.Shared)
		if !ok {
			t.Errorf("no settings")
			return
		}
		if seenGreeting != nil {
			*seenGreeting, _ = shared.Get("greeting")
		}
	})
	return registry
}

func requireLoaded(t *testing.T, s Session, req LoadRequest) {
	require.NoError(t, s.LoadTestSuite(context.Background(), req))
}
