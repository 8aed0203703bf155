// Package builder is where test code declares suites, fixtures, and cases, and where those
// declarations are turned into an engine tree.
//
// Declarations go into a Registry. Build takes a snapshot of the registry and produces a tree of
// TestBuilder nodes, applying suite and category selection; Resolve then turns each node into an
// engine.TestInvoker, reporting problems such as a parameter with no source as a
// *ConfigurationError before anything runs.
package builder
