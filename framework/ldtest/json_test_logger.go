package ldtest

import (
	"fmt"
	"os"
	"time"

	"github.com/launchdarkly/go-jsonstream/v3/jreader"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/opt"
)

// JSONTestLogger writes the whole result tree as a JSON document at the end of the run.
type JSONTestLogger struct {
	filePath string
}

func NewJSONTestLogger(filePath string) *JSONTestLogger {
	return &JSONTestLogger{filePath: filePath}
}

func (j *JSONTestLogger) TestStarted(TestName)                                         {}
func (j *JSONTestLogger) TestError(TestName, error)                                    {}
func (j *JSONTestLogger) TestFinished(TestName, *TestResult, framework.CapturedOutput) {}
func (j *JSONTestLogger) TestSkipped(TestName, string)                                 {}

func (j *JSONTestLogger) EndLog(root *TestResult) error {
	fmt.Printf("Writing JSON results to %s\n", j.filePath)
	return os.WriteFile(j.filePath, ResultJSON(root), 0644) //nolint:gosec
}

// ResultJSON serializes a result tree. ParseResultJSON reads it back as a snapshot.
func ResultJSON(root *TestResult) []byte {
	w := jwriter.NewWriter()
	writeResultJSON(&w, root.Snapshot())
	return w.Bytes()
}

func writeResultJSON(w *jwriter.Writer, s ResultSnapshot) {
	obj := w.Object()
	obj.Name("name").String(s.Name.String())
	parts := obj.Name("path").Array()
	for _, p := range s.Name {
		partObj := w.Object()
		partObj.Name("label").String(p.Label)
		if p.Parameter.IsDefined() {
			partObj.Name("parameter").String(p.Parameter.Value())
		}
		partObj.Maybe("hidden", p.Hidden).Bool(true)
		partObj.End()
	}
	parts.End()
	obj.Name("status").String(s.Status.String())
	if len(s.Errors) > 0 {
		arr := obj.Name("errors").Array()
		for _, e := range s.Errors {
			w.String(e)
		}
		arr.End()
	}
	if len(s.Messages) > 0 {
		arr := obj.Name("messages").Array()
		for _, m := range s.Messages {
			w.String(m)
		}
		arr.End()
	}
	obj.Name("durationMs").Float64(float64(s.Duration) / float64(time.Millisecond))
	if len(s.Children) > 0 {
		arr := obj.Name("children").Array()
		for _, c := range s.Children {
			writeResultJSON(w, c)
		}
		arr.End()
	}
	obj.End()
}

func ParseResultJSON(data []byte) (ResultSnapshot, error) {
	r := jreader.NewReader(data)
	s := readResultJSON(&r)
	if err := r.Error(); err != nil {
		return ResultSnapshot{}, err
	}
	return s, nil
}

func readResultJSON(r *jreader.Reader) ResultSnapshot {
	var s ResultSnapshot
	for obj := r.Object(); obj.Next(); {
		switch string(obj.Name()) {
		case "path":
			for arr := r.Array(); arr.Next(); {
				var p TestNamePart
				for partObj := r.Object(); partObj.Next(); {
					switch string(partObj.Name()) {
					case "label":
						p.Label = r.String()
					case "parameter":
						p.Parameter = opt.Some(r.String())
					case "hidden":
						p.Hidden = r.Bool()
					default:
						r.SkipValue()
					}
				}
				s.Name = append(s.Name, p)
			}
		case "status":
			status, err := ParseStatus(r.String())
			if err != nil {
				r.AddError(err)
			}
			s.Status = status
		case "errors":
			for arr := r.Array(); arr.Next(); {
				s.Errors = append(s.Errors, r.String())
			}
		case "messages":
			for arr := r.Array(); arr.Next(); {
				s.Messages = append(s.Messages, r.String())
			}
		case "durationMs":
			s.Duration = time.Duration(r.Float64() * float64(time.Millisecond))
		case "children":
			for arr := r.Array(); arr.Next(); {
				s.Children = append(s.Children, readResultJSON(r))
			}
		default:
			r.SkipValue()
		}
	}
	return s
}

func sortedKeys[V any](m map[string]V) []string {
	keys := maps.Keys(m)
	slices.Sort(keys)
	return keys
}
