// Package engine contains the runtime model of a resolved test tree.
//
// A TestHost describes one runtime behavior (a named scope, a fixture, a parameter source, a
// repeat count). For each run, hosts create TestInstances in an InstanceArena; instances refer
// to each other by ID and are destroyed when their subtree finishes. A TestInvoker is one
// executable node; the invokers built by TestHost.Wrap are composites that set up an instance,
// iterate, run their inner invoker, and tear the instance down even after a failure.
//
// Trees are normally built by the builder package, but can also be composed by hand.
package engine
