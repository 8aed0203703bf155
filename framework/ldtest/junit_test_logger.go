package ldtest

import (
	"encoding/xml"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/launchdarkly/test-engine/framework"
)

// JUnitTestLogger writes a JUnit XML report at the end of the run. Each top-level suite becomes
// a <testsuite> and each leaf result a <testcase>.
type JUnitTestLogger struct {
	filePath   string
	properties map[string]string
	outputs    map[string]string
	lock       sync.Mutex
}

// Struct definitions for the JUnit XML schema - see https://github.com/jstemmer/go-junit-report

type jUnitXMLDocument struct {
	XMLName xml.Name            `xml:"testsuites"`
	Suites  []jUnitXMLTestSuite `xml:"testsuite"`
}

type jUnitXMLTestSuite struct {
	XMLName    xml.Name           `xml:"testsuite"`
	Tests      int                `xml:"tests,attr"`
	Failures   int                `xml:"failures,attr"`
	Skipped    int                `xml:"skipped,attr"`
	Time       string             `xml:"time,attr"`
	Name       string             `xml:"name,attr"`
	Properties []jUnitXMLProperty `xml:"properties>property,omitempty"`
	TestCases  []jUnitXMLTestCase `xml:"testcase"`
}

type jUnitXMLTestCase struct {
	XMLName     xml.Name             `xml:"testcase"`
	Classname   string               `xml:"classname,attr"`
	Name        string               `xml:"name,attr"`
	Time        string               `xml:"time,attr"`
	SkipMessage *jUnitXMLSkipMessage `xml:"skipped,omitempty"`
	Failure     *jUnitXMLFailure     `xml:"failure,omitempty"`
	SystemOut   string               `xml:"system-out,omitempty"`
}

type jUnitXMLSkipMessage struct {
	Message string `xml:"message,attr"`
}

type jUnitXMLProperty struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

type jUnitXMLFailure struct {
	Message  string `xml:"message,attr"`
	Type     string `xml:"type,attr"`
	Contents string `xml:",chardata"`
}

// NewJUnitTestLogger creates a logger that writes to filePath. The properties are copied into
// every <testsuite>, for instance to record the host name and the active filters.
func NewJUnitTestLogger(filePath string, properties map[string]string) *JUnitTestLogger {
	return &JUnitTestLogger{
		filePath:   filePath,
		properties: properties,
		outputs:    make(map[string]string),
	}
}

func (j *JUnitTestLogger) TestStarted(TestName)         {}
func (j *JUnitTestLogger) TestError(TestName, error)    {}
func (j *JUnitTestLogger) TestSkipped(TestName, string) {}

func (j *JUnitTestLogger) TestFinished(name TestName, _ *TestResult, debugOutput framework.CapturedOutput) {
	if len(debugOutput) == 0 {
		return
	}
	j.lock.Lock()
	j.outputs[name.String()] = debugOutput.ToString("")
	j.lock.Unlock()
}

func (j *JUnitTestLogger) EndLog(root *TestResult) error {
	fmt.Printf("Writing JUnit data to %s\n", j.filePath)
	data, err := j.render(root)
	if err != nil {
		return err
	}
	return os.WriteFile(j.filePath, data, 0644) //nolint:gosec
}

func (j *JUnitTestLogger) render(root *TestResult) ([]byte, error) {
	j.lock.Lock()
	defer j.lock.Unlock()

	var properties []jUnitXMLProperty
	for _, name := range sortedKeys(j.properties) {
		properties = append(properties, jUnitXMLProperty{Name: name, Value: j.properties[name]})
	}

	suites := root.Children()
	if len(suites) == 0 {
		suites = []*TestResult{root}
	}
	var doc jUnitXMLDocument
	for _, s := range suites {
		suite := jUnitXMLTestSuite{
			Name:       s.Name().String(),
			Properties: properties,
		}
		suiteTotalDuration := time.Duration(0)
		for _, leaf := range s.Leaves() {
			suite.Tests++
			suiteTotalDuration += leaf.Duration()
			name := leaf.Name().String()
			testCase := jUnitXMLTestCase{
				Classname: s.Name().String(),
				Name:      name,
				Time:      jUnitDurationString(leaf.Duration()),
				SystemOut: j.outputs[name],
			}
			switch leaf.Status() {
			case StatusError, StatusCanceled:
				suite.Failures++
				testCase.Failure = &jUnitXMLFailure{
					Message:  failureMessage(leaf),
					Type:     leaf.Status().String(),
					Contents: j.outputs[name],
				}
			case StatusIgnored, StatusNone:
				suite.Skipped++
				testCase.SkipMessage = &jUnitXMLSkipMessage{Message: strings.Join(leaf.Messages(), "; ")}
			}
			suite.TestCases = append(suite.TestCases, testCase)
		}
		suite.Time = jUnitDurationString(suiteTotalDuration)
		doc.Suites = append(doc.Suites, suite)
	}

	bytes, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(bytes, '\n'), nil
}

func failureMessage(r *TestResult) string {
	var messages []string
	for _, e := range r.Errors() {
		message := e.Error()
		var failure Failure
		if errors.As(e, &failure) {
			message += "\n  Stacktrace:"
			for _, s := range failure.Frames {
				message += "\n    " + s.String()
			}
		}
		messages = append(messages, message)
	}
	if len(messages) == 0 {
		return r.Status().String()
	}
	return strings.Join(messages, "\n")
}

func jUnitDurationString(d time.Duration) string {
	return fmt.Sprintf("%.3f", d.Seconds())
}
