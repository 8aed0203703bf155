package data

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/engine"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

func TestParseManifestWithValues(t *testing.T) {
	m, err := ParseManifest("manifests/sizes.yaml", []byte(`---
values: [1, 2, "three"]
categories: [fast]
`))
	require.NoError(t, err)
	assert.Equal(t, "sizes", m.Name)
	assert.Equal(t, []ldvalue.Value{ldvalue.Int(1), ldvalue.Int(2), ldvalue.String("three")}, m.Values)
	assert.Equal(t, []string{"fast"}, m.Categories)
}

func TestParseManifestWithParameters(t *testing.T) {
	m, err := ParseManifest("x.json", []byte(`{
  "name": "greetings",
  "constants": { "WHO": "world" },
  "parameters": [ { "WORD": "hello" }, { "WORD": "goodbye" } ],
  "value": "<WORD>, <WHO>"
}`))
	require.NoError(t, err)
	assert.Equal(t, "greetings", m.Name)
	assert.Equal(t, []ldvalue.Value{ldvalue.String("hello, world"), ldvalue.String("goodbye, world")}, m.Values)
}

func TestParseManifestError(t *testing.T) {
	_, err := ParseManifest("bad.yaml", []byte("values: [1, 2"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad.yaml")
}

func TestLoadManifests(t *testing.T) {
	fsys := fstest.MapFS{
		"manifests/a.yaml":        {Data: []byte("values: [1]")},
		"manifests/nested/b.json": {Data: []byte(`{"values": [2]}`)},
		"manifests/README.md":     {Data: []byte("not a manifest")},
	}
	manifests, err := LoadManifests(fsys, "manifests/**/*.{yaml,json}")
	require.NoError(t, err)
	require.Len(t, manifests, 2)
	assert.Equal(t, "a", manifests[0].Name)
	assert.Equal(t, "b", manifests[1].Name)

	_, err = LoadManifest(fsys, "manifests/missing.yaml")
	assert.Error(t, err)
	_, err = LoadManifests(fsys, "manifests/[")
	assert.Error(t, err)
}

func TestApplyManifests(t *testing.T) {
	registry := builder.NewRegistry()
	ApplyAll(registry, []Manifest{
		{Name: "global", Values: []ldvalue.Value{ldvalue.String("g")}},
		{Name: "scoped", Suite: "suite", Categories: []string{"slow"}, Values: []ldvalue.Value{ldvalue.Int(1), ldvalue.Int(2)}},
	})
	var seen []string
	builder.Test(registry.Suite("suite"), "case", func(t *ldtest.T) {
		seen = append(seen, t.Param("global").StringValue()+t.Param("scoped").JSONString())
	}, builder.Params(builder.Value("global", nil), builder.Value("scoped", nil)))

	assert.Equal(t, []string{"global"}, registry.SourceNames())
	inv, err := builder.Build(registry, builder.Options{}).Resolve()
	require.NoError(t, err)
	result := engine.Run(context.Background(), inv, nil)
	assert.Equal(t, ldtest.StatusSuccess, result.Status())
	assert.Equal(t, []string{"g1", "g2"}, seen)

	inv, err = builder.Build(registry, builder.Options{ExcludeCategories: []string{"slow"}}).Resolve()
	require.NoError(t, err)
	result = engine.Run(context.Background(), inv, nil)
	assert.Equal(t, ldtest.StatusIgnored, result.Find("suite").Status())
}

func TestFreshManifestSource(t *testing.T) {
	m := Manifest{Name: "x", Fresh: true, Values: []ldvalue.Value{ldvalue.Bool(true)}}
	assert.False(t, engine.IsReusable(m.Source()))
	assert.True(t, engine.IsReusable(Manifest{Name: "y"}.Source()))
}
