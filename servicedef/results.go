package servicedef

import (
	"time"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/framework/opt"
)

// TestNamePartElement is one part of a TestNameElement.
type TestNamePartElement struct {
	Label     string            `xml:"Label,attr"`
	Parameter opt.Maybe[string] `xml:"Parameter,attr"`
	Hidden    bool              `xml:"Hidden,attr,omitempty"`
}

// TestNameElement is the wire form of an ldtest.TestName.
type TestNameElement struct {
	Parts []TestNamePartElement `xml:"Part"`
}

// ResultElement is the wire form of an ldtest.TestResult tree.
type ResultElement struct {
	Name     TestNameElement `xml:"Name"`
	Status   ldtest.Status   `xml:"Status,attr"`
	Duration time.Duration   `xml:"Duration,attr,omitempty"`
	Errors   []Text          `xml:"Error"`
	Messages []Text          `xml:"Message"`
	Children []ResultElement `xml:"Result"`
}

// RunReply is the payload of the Response to RunTestSuite. Events is the number of LogEvents
// that were sent for the run ahead of the Response.
type RunReply struct {
	Events int           `xml:"Events,attr"`
	Result ResultElement `xml:"Result"`
}

// TestList is the payload of the Response to LoadTestSuite.
type TestList struct {
	Tests []TestNameElement `xml:"Test"`
}

func NameElement(name ldtest.TestName) TestNameElement {
	var ret TestNameElement
	for _, p := range name {
		ret.Parts = append(ret.Parts, TestNamePartElement{Label: p.Label, Parameter: p.Parameter, Hidden: p.Hidden})
	}
	return ret
}

func (e TestNameElement) TestName() ldtest.TestName {
	if len(e.Parts) == 0 {
		return nil
	}
	ret := make(ldtest.TestName, 0, len(e.Parts))
	for _, p := range e.Parts {
		ret = append(ret, ldtest.TestNamePart{Label: p.Label, Parameter: p.Parameter, Hidden: p.Hidden})
	}
	return ret
}

func ResultElementFromSnapshot(s ldtest.ResultSnapshot) ResultElement {
	ret := ResultElement{
		Name:     NameElement(s.Name),
		Status:   s.Status,
		Duration: s.Duration,
		Errors:   toTexts(s.Errors),
		Messages: toTexts(s.Messages),
	}
	for _, c := range s.Children {
		ret.Children = append(ret.Children, ResultElementFromSnapshot(c))
	}
	return ret
}

func (e ResultElement) Snapshot() ldtest.ResultSnapshot {
	ret := ldtest.ResultSnapshot{
		Name:     e.Name.TestName(),
		Status:   e.Status,
		Duration: e.Duration,
		Errors:   fromTexts(e.Errors),
		Messages: fromTexts(e.Messages),
	}
	for _, c := range e.Children {
		ret.Children = append(ret.Children, c.Snapshot())
	}
	return ret
}

func TestListFromNames(names []ldtest.TestName) TestList {
	var ret TestList
	for _, n := range names {
		ret.Tests = append(ret.Tests, NameElement(n))
	}
	return ret
}

func (l TestList) Names() []ldtest.TestName {
	ret := make([]ldtest.TestName, 0, len(l.Tests))
	for _, t := range l.Tests {
		ret = append(ret, t.TestName())
	}
	return ret
}

func OutputLines(output framework.CapturedOutput) []OutputLine {
	var ret []OutputLine
	for _, m := range output {
		ret = append(ret, OutputLine{TimeMillis: m.Time.UnixMilli(), Text: Text(m.Message)})
	}
	return ret
}

func CapturedOutput(lines []OutputLine) framework.CapturedOutput {
	var ret framework.CapturedOutput
	for _, l := range lines {
		ret = append(ret, framework.CapturedMessage{Time: time.UnixMilli(l.TimeMillis), Message: string(l.Text)})
	}
	return ret
}

func StatisticsFrom(sink ObjectID, s ldtest.Statistics) Statistics {
	return Statistics{
		Sink:     sink,
		Started:  s.Started,
		Passed:   s.Passed,
		Failed:   s.Failed,
		Ignored:  s.Ignored,
		Warnings: s.Warnings,
		Canceled: s.Canceled,
	}
}

func (s Statistics) Statistics() ldtest.Statistics {
	return ldtest.Statistics{
		Started:  s.Started,
		Passed:   s.Passed,
		Failed:   s.Failed,
		Ignored:  s.Ignored,
		Warnings: s.Warnings,
		Canceled: s.Canceled,
	}
}
