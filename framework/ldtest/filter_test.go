package ldtest

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type regexFilterTestParams struct {
	run         []string
	skip        []string
	name        TestName
	shouldMatch bool
}

func TestRegexFilters(t *testing.T) {
	allParams := []regexFilterTestParams{
		// matches everything by default
		{nil, nil, TestName(nil), true},
		{nil, nil, NewTestName("a"), true},
		{nil, nil, NewTestName("a", "b"), true},

		// --run with single component
		{[]string{"a"}, nil, TestName(nil), true},
		{[]string{"a"}, nil, NewTestName("a"), true},
		{[]string{"a"}, nil, NewTestName("b"), false},
		{[]string{"a"}, nil, NewTestName("xax"), true},
		{[]string{"a"}, nil, NewTestName("a", "b"), true},

		// --run with multiple components
		{[]string{"a/b"}, nil, TestName(nil), true},
		{[]string{"a/b"}, nil, NewTestName("a"), true},
		{[]string{"a/b"}, nil, NewTestName("b"), false},
		{[]string{"a/b"}, nil, NewTestName("a", "b"), true},
		{[]string{"a/b"}, nil, NewTestName("xax", "xbx"), true},

		// --run with multiple patterns
		{[]string{"a", "b"}, nil, TestName(nil), true},
		{[]string{"a", "b"}, nil, NewTestName("a"), true},
		{[]string{"a", "b"}, nil, NewTestName("b"), true},
		{[]string{"a", "b"}, nil, NewTestName("c"), false},
		{[]string{"a", "b"}, nil, NewTestName("a", "c"), true},
		{[]string{"a", "b"}, nil, NewTestName("b", "c"), true},
		{[]string{"a", "b"}, nil, NewTestName("xax", "xbx"), true},

		// --skip with single component
		{nil, []string{"a"}, TestName(nil), true},
		{nil, []string{"a"}, NewTestName("a"), false},
		{nil, []string{"a"}, NewTestName("b"), true},
		{nil, []string{"a"}, NewTestName("xax"), false},
		{nil, []string{"a"}, NewTestName("a", "b"), false},

		// --skip with multiple components
		{nil, []string{"a/b"}, TestName(nil), true},
		{nil, []string{"a/b"}, NewTestName("a"), true},
		{nil, []string{"a/b"}, NewTestName("b"), true},
		{nil, []string{"a/b"}, NewTestName("a", "b"), false},
		{nil, []string{"a/b"}, NewTestName("a", "b", "c"), false},
		{nil, []string{"a/b"}, NewTestName("a", "c"), true},
		{nil, []string{"a/b"}, NewTestName("xax", "xbx"), false},

		// --skip with multiple patterns
		{nil, []string{"a", "b"}, TestName(nil), true},
		{nil, []string{"a", "b"}, NewTestName("a"), false},
		{nil, []string{"a", "b"}, NewTestName("b"), false},
		{nil, []string{"a", "b"}, NewTestName("c"), true},
		{nil, []string{"a", "b"}, NewTestName("a", "c"), false},
		{nil, []string{"a", "b"}, NewTestName("b", "c"), false},
		{nil, []string{"a", "b"}, NewTestName("xax", "c"), false},
		{nil, []string{"a", "b"}, NewTestName("c", "a"), true},

		// --skip overrides --run
		{[]string{"y"}, []string{"n"}, NewTestName("y"), true},
		{[]string{"y"}, []string{"n"}, NewTestName("yn"), false},
	}
	for _, params := range allParams {
		var r RegexFilters
		for _, s := range params.run {
			r.MustMatch.Set(s)
		}
		for _, s := range params.skip {
			r.MustNotMatch.Set(s)
		}
		t.Run(fmt.Sprintf("run=%s, skip=%s, name=%s", r.MustMatch, r.MustNotMatch, params.name), func(t *testing.T) {
			assert.Equal(t, params.shouldMatch, r.Match(params.name))
		})
	}
}

func TestRegexFiltersUseRenderedParameters(t *testing.T) {
	var r RegexFilters
	require.NoError(t, r.MustMatch.Set(`s/case/x\(1\)`))
	assert.True(t, r.Match(NewTestName("s", "case").PlusParameter("x", "1")))
	assert.False(t, r.Match(NewTestName("s", "case").PlusParameter("x", "2")))
	assert.True(t, r.Match(NewTestName("s").PlusHidden("group").Plus("case").PlusParameter("x", "1")))
}

func TestGlobFilters(t *testing.T) {
	var g GlobFilters
	require.NoError(t, g.Include.Set("suite/**"))
	require.NoError(t, g.Exclude.Set("**/*(null)"))

	assert.True(t, g.Match(TestName(nil)))
	assert.True(t, g.Match(NewTestName("suite")))
	assert.True(t, g.Match(NewTestName("suite", "fixture", "case")))
	assert.False(t, g.Match(NewTestName("other", "case")))
	assert.False(t, g.Match(NewTestName("suite", "case").PlusParameter("x", "null")))

	var parentsOnly GlobFilters
	require.NoError(t, parentsOnly.Include.Set("a/b/c"))
	assert.True(t, parentsOnly.Match(NewTestName("a")))
	assert.True(t, parentsOnly.Match(NewTestName("a", "b")))
	assert.True(t, parentsOnly.Match(NewTestName("a", "b", "c")))
	assert.False(t, parentsOnly.Match(NewTestName("a", "x")))

	var invalid GlobPatternList
	assert.Error(t, invalid.Set("a/[b"))
}

func TestAllFilters(t *testing.T) {
	var g GlobFilters
	require.NoError(t, g.Include.Set("a/**"))
	var r RegexFilters
	require.NoError(t, r.MustNotMatch.Set("a/skip"))
	all := AllFilters{g, r, nil}
	assert.True(t, all.Match(NewTestName("a", "run")))
	assert.False(t, all.Match(NewTestName("a", "skip")))
	assert.False(t, all.Match(NewTestName("b")))
}
