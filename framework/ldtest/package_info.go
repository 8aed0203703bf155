// Package ldtest contains the node model of the test engine: hierarchical test names, test
// results and their aggregation rules, the ambient TestContext of a run, and T, the scope that a
// test body runs in. T is similar to Go's testing.T, but is run as regular application code, so
// the same test bodies work in-process or inside a remote test host.
//
// Test loggers receive events as test cases run; the console, JUnit and JSON loggers can be
// combined with MultiTestLogger.
package ldtest
