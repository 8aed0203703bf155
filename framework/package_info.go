// Package framework contains the low-level implementation of the test engine infrastructure.
// The base package contains shared types such as Logger and Capabilities; other components are
// in the subpackages.
//
// The general model is:
//
// 1. Test code is registered in a builder.Registry: suites contain fixtures, fixtures contain
// cases, and any level can declare parameter sources.
//
// 2. The builder resolves the registrations once into a tree of engine.TestHost and
// engine.TestInvoker values. Invoking the root invoker runs the whole subtree and produces an
// ldtest.TestResult tree.
//
// 3. The same tree can be run in-process, or inside another process that is reached through a
// harness.Connection: a length-framed duplex command channel with request/response correlation
// and remote object proxies.
//
// Domain-specific orchestration (how the remote process is launched, how results are shown) lives
// in the testserver package and the command-line tool.
package framework
