package ldtest

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Filter determines whether to run a specific test case.
type Filter interface {
	Match(name TestName) bool
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(TestName) bool

func (f FilterFunc) Match(name TestName) bool { return f(name) }

// AllFilters is a Filter that matches only if every non-nil filter matches.
type AllFilters []Filter

func (fs AllFilters) Match(name TestName) bool {
	for _, f := range fs {
		if f != nil && !f.Match(name) {
			return false
		}
	}
	return true
}

// RegexFilters selects tests with slash-separated lists of regular expressions, one per name
// component.
type RegexFilters struct {
	MustMatch    TestNamePatternList
	MustNotMatch TestNamePatternList
}

func (r RegexFilters) Match(name TestName) bool {
	components := name.Components()
	return (!r.MustMatch.IsDefined() || r.MustMatch.AnyMatch(components, true)) &&
		!r.MustNotMatch.AnyMatch(components, false)
}

func (r RegexFilters) IsDefined() bool {
	return r.MustMatch.IsDefined() || r.MustNotMatch.IsDefined()
}

type TestNamePattern []*regexp.Regexp

func (p TestNamePattern) Match(components []string, includeParents bool) bool {
	min := len(p)
	if min > len(components) {
		if !includeParents {
			return false
		}
		min = len(components)
	}
	for i := 0; i < min; i++ {
		if !p[i].MatchString(components[i]) {
			return false
		}
	}
	return true
}

func (p TestNamePattern) String() string {
	ss := make([]string, 0, len(p))
	for _, c := range p {
		ss = append(ss, c.String())
	}
	return strings.Join(ss, "/")
}

func ParseTestNamePattern(s string) (TestNamePattern, error) {
	parts := strings.Split(s, "/")
	ret := make(TestNamePattern, 0, len(parts))
	for _, part := range parts {
		rx, err := regexp.Compile(part)
		if err != nil {
			return nil, fmt.Errorf("invalid regex: %w", err)
		}
		ret = append(ret, rx)
	}
	return ret, nil
}

type TestNamePatternList []TestNamePattern

func (l TestNamePatternList) String() string {
	ss := make([]string, 0, len(l))
	for _, p := range l {
		ss = append(ss, `"`+p.String()+`"`)
	}
	return strings.Join(ss, " or ")
}

// Set is called by the command line parser
func (l *TestNamePatternList) Set(value string) error {
	p, err := ParseTestNamePattern(value)
	if err != nil {
		return err
	}
	*l = append(*l, p)
	return nil
}

// Type is called by the command line parser
func (l *TestNamePatternList) Type() string { return "regex" }

func (l TestNamePatternList) IsDefined() bool {
	return len(l) != 0
}

func (l TestNamePatternList) AnyMatch(components []string, includeParents bool) bool {
	for _, p := range l {
		if p.Match(components, includeParents) {
			return true
		}
	}
	return false
}

// GlobFilters selects tests with doublestar glob patterns applied to the rendered name, so
// "suite/**" selects everything in a suite and "**/*(null)" selects every case run with a null
// parameter.
type GlobFilters struct {
	Include GlobPatternList
	Exclude GlobPatternList
}

func (g GlobFilters) Match(name TestName) bool {
	components := name.Components()
	return (!g.Include.IsDefined() || g.Include.anyMatch(components, true)) &&
		!g.Exclude.anyMatch(components, false)
}

func (g GlobFilters) IsDefined() bool {
	return g.Include.IsDefined() || g.Exclude.IsDefined()
}

type GlobPatternList []string

func (l GlobPatternList) String() string {
	return strings.Join(l, ",")
}

// Set is called by the command line parser
func (l *GlobPatternList) Set(value string) error {
	if !doublestar.ValidatePattern(value) {
		return fmt.Errorf("invalid glob pattern %q", value)
	}
	*l = append(*l, value)
	return nil
}

// Type is called by the command line parser
func (l *GlobPatternList) Type() string { return "glob" }

func (l GlobPatternList) IsDefined() bool { return len(l) != 0 }

func (l GlobPatternList) anyMatch(components []string, includeParents bool) bool {
	path := strings.Join(components, "/")
	for _, pattern := range l {
		if ok, _ := doublestar.Match(pattern, path); ok {
			return true
		}
		if includeParents && globMatchesDescendantOf(pattern, components) {
			return true
		}
	}
	return false
}

// globMatchesDescendantOf is true if the leading segments of the pattern match every component,
// meaning that some test below this name could match the whole pattern.
func globMatchesDescendantOf(pattern string, components []string) bool {
	segments := strings.Split(pattern, "/")
	for i, c := range components {
		if i >= len(segments) {
			return false
		}
		if segments[i] == "**" {
			return true
		}
		if ok, _ := doublestar.Match(segments[i], c); !ok {
			return false
		}
	}
	return len(components) < len(segments)
}

// PrintFilterDescription describes the active filters and any capabilities that tests may need
// but the host does not have.
func PrintFilterDescription(filters []Filter, allCapabilities []string, supportedCapabilities []string) {
	var descriptions []string
	for _, f := range filters {
		switch ff := f.(type) {
		case RegexFilters:
			if ff.MustMatch.IsDefined() {
				descriptions = append(descriptions, fmt.Sprintf("skip any not matching %s", ff.MustMatch))
			}
			if ff.MustNotMatch.IsDefined() {
				descriptions = append(descriptions, fmt.Sprintf("skip any matching %s", ff.MustNotMatch))
			}
		case GlobFilters:
			if ff.Include.IsDefined() {
				descriptions = append(descriptions, fmt.Sprintf("skip any not matching glob %s", ff.Include))
			}
			if ff.Exclude.IsDefined() {
				descriptions = append(descriptions, fmt.Sprintf("skip any matching glob %s", ff.Exclude))
			}
		}
	}
	if len(descriptions) > 0 {
		fmt.Println("Some tests will be skipped based on the filter criteria for this test run:")
		for _, d := range descriptions {
			fmt.Printf("  %s\n", d)
		}
		fmt.Println()
	}

	if len(supportedCapabilities) != 0 {
		supported := make(map[string]bool)
		for _, c := range supportedCapabilities {
			supported[c] = true
		}
		var missingCapabilities []string
		for _, c := range allCapabilities {
			if !supported[c] {
				missingCapabilities = append(missingCapabilities, c)
			}
		}
		if len(missingCapabilities) > 0 {
			fmt.Println("Some tests may be skipped because the test host does not support the following capabilities:")
			fmt.Printf("  %s\n", strings.Join(missingCapabilities, ", "))
			fmt.Println()
		}
	}
}
