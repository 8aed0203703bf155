package data

import (
	"testing"

	m "github.com/launchdarkly/go-test-helpers/v2/matchers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decodeTarget struct {
	Name  string   `json:"name"`
	Tags  []string `json:"tags"`
	Count int      `json:"count"`
}

func TestDecode(t *testing.T) {
	for _, p := range []struct {
		desc  string
		input string
	}{
		{"JSON", `{"name": "x", "tags": ["a", "b"], "count": 2}`},
		{"YAML block", "---\nname: x\ntags:\n  - a\n  - b\ncount: 2\n"},
		{"YAML flow", `{name: x, tags: [a, b], count: 2}`},
	} {
		t.Run(p.desc, func(t *testing.T) {
			var out decodeTarget
			require.NoError(t, Decode([]byte(p.input), &out))
			assert.Equal(t, decodeTarget{Name: "x", Tags: []string{"a", "b"}, Count: 2}, out)
		})
	}
}

func TestDecodeResolvesYAMLMergeKeys(t *testing.T) {
	input := `---
constants:
  defaults: &defaults
    timeout: 5
    retries: 2

values:
  fast:
    <<: *defaults
    timeout: 1
`
	var s testExpandStruct
	require.NoError(t, Decode([]byte(input), &s))
	m.In(t).Assert(s.Values, m.JSONStrEqual(`{"fast": {"timeout": 1, "retries": 2}}`))
}

func TestDecodeErrors(t *testing.T) {
	t.Run("JSON type mismatch is not retried as YAML", func(t *testing.T) {
		var out decodeTarget
		err := Decode([]byte(`{"count": "many"}`), &out)
		require.Error(t, err)
		assert.NotContains(t, err.Error(), "YAML")
	})

	t.Run("invalid document", func(t *testing.T) {
		var out decodeTarget
		err := Decode([]byte("name: [unclosed"), &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid JSON or YAML")
	})

	t.Run("non-string key", func(t *testing.T) {
		var out map[string]any
		err := Decode([]byte("outer:\n  list:\n    - 1: one\n"), &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), ".outer.list[0]")
		assert.Contains(t, err.Error(), "int")
	})
}
