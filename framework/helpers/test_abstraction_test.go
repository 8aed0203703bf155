package helpers

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/launchdarkly/test-engine/framework/ldtest"
)

// testRecorder is a TestContext that records failures, and panics with itself in FailNow.
type testRecorder struct {
	errors []string
}

func (r *testRecorder) Errorf(msgFormat string, msgArgs ...interface{}) {
	r.errors = append(r.errors, fmt.Sprintf(msgFormat, msgArgs...))
}

func (r *testRecorder) FailNow() { panic(r) }

func (r *testRecorder) Helper() {}

func TestEngineTestsAreTestContexts(t *testing.T) {
	var _ TestContext = (*testing.T)(nil)
	var _ TestContext = (*ldtest.T)(nil)

	result := ldtest.Run(ldtest.TestConfiguration{}, func(ldt *ldtest.T) {
		RequireValue(ldt, make(chan int), time.Millisecond)
	})
	assert.Equal(t, ldtest.StatusError, result.Status())
	assert.Contains(t, result.Err().Error(), "waiting for value of type int")
}
