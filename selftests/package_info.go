// Package selftests contains test suites that exercise the engine itself: fixture lifecycles,
// parameter sources loaded from manifests, settings, and a loopback run over a connection. The
// "run" command includes them when no other suites are registered, and they double as a smoke
// test for a host build.
package selftests
