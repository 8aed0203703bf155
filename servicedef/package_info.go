// Package servicedef defines the closed set of commands that two processes exchange over a
// harness.Connection, and the XML envelope they are encoded in.
//
// Each frame body is one XML document whose root element names the command kind, for instance
// <RunTestSuite ResponseID="4" Session="1" RunID="...">. Commands that expect a reply carry a
// ResponseID attribute, and the reply is a <Response> element with the same ResponseID.
//
// Payloads that travel inside a Response or an ObjectCall, such as result trees and test lists,
// are themselves XML documents, carried as escaped text.
package servicedef
