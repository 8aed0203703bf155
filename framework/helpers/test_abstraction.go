package helpers

// TestContext is the part of *testing.T and *ldtest.T that the helpers in this package use, so
// that they work within both kinds of test.
type TestContext interface {
	Errorf(msgFormat string, msgArgs ...interface{})
	FailNow()
	Helper()
}
