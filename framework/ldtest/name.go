package ldtest

import (
	"strings"

	"github.com/launchdarkly/test-engine/framework/opt"
)

// TestNamePart is one level of a TestName. A part with a parameter value renders as
// "label(value)". Hidden parts are kept for identification but left out of the rendered path.
type TestNamePart struct {
	Label     string
	Parameter opt.Maybe[string]
	Hidden    bool
}

func (p TestNamePart) String() string {
	if p.Parameter.IsDefined() {
		return p.Label + "(" + p.Parameter.Value() + ")"
	}
	return p.Label
}

// TestName is the full hierarchical name of a test node. Values of this type are never modified
// in place; Plus and the related methods return copies.
type TestName []TestNamePart

// NewTestName builds a name out of plain labels.
func NewTestName(labels ...string) TestName {
	ret := make(TestName, 0, len(labels))
	for _, l := range labels {
		ret = append(ret, TestNamePart{Label: l})
	}
	return ret
}

func (n TestName) String() string {
	return strings.Join(n.Components(), "/")
}

// Components returns the rendered visible parts. Filters match against these.
func (n TestName) Components() []string {
	ret := make([]string, 0, len(n))
	for _, p := range n {
		if !p.Hidden {
			ret = append(ret, p.String())
		}
	}
	return ret
}

func (n TestName) Plus(label string) TestName {
	return n.PlusPart(TestNamePart{Label: label})
}

func (n TestName) PlusParameter(label, value string) TestName {
	return n.PlusPart(TestNamePart{Label: label, Parameter: opt.Some(value)})
}

func (n TestName) PlusHidden(label string) TestName {
	return n.PlusPart(TestNamePart{Label: label, Hidden: true})
}

func (n TestName) PlusPart(part TestNamePart) TestName {
	return append(append(make(TestName, 0, len(n)+1), n...), part)
}

// Last returns the innermost part, or an empty part for an empty name.
func (n TestName) Last() TestNamePart {
	if len(n) == 0 {
		return TestNamePart{}
	}
	return n[len(n)-1]
}

// Parent returns the name without its innermost part.
func (n TestName) Parent() TestName {
	if len(n) == 0 {
		return nil
	}
	return append(TestName(nil), n[:len(n)-1]...)
}

// Equal compares names part by part, including hidden parts.
func (n TestName) Equal(other TestName) bool {
	if len(n) != len(other) {
		return false
	}
	for i := range n {
		if n[i] != other[i] {
			return false
		}
	}
	return true
}

// HasPrefix returns true if every part of prefix matches the corresponding leading part of n.
func (n TestName) HasPrefix(prefix TestName) bool {
	return len(prefix) <= len(n) && n[:len(prefix)].Equal(prefix)
}
