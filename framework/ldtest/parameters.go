package ldtest

import (
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// Parameter is one named value supplied to a test body by a parameter host.
type Parameter struct {
	Name  string
	Value ldvalue.Value
}

// Parameters is the ordered list of values visible to a test body, outermost first. If the same
// name appears more than once, the innermost value wins.
type Parameters []Parameter

func (ps Parameters) Get(name string) (ldvalue.Value, bool) {
	for i := len(ps) - 1; i >= 0; i-- {
		if ps[i].Name == name {
			return ps[i].Value, true
		}
	}
	return ldvalue.Null(), false
}

func (ps Parameters) With(name string, value ldvalue.Value) Parameters {
	return append(append(make(Parameters, 0, len(ps)+1), ps...), Parameter{Name: name, Value: value})
}

// ParameterLabel renders a value the way it appears in a test name: strings without quotes,
// everything else as JSON.
func ParameterLabel(value ldvalue.Value) string {
	if value.Type() == ldvalue.StringType {
		return value.StringValue()
	}
	return value.JSONString()
}
