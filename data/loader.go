package data

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/engine"
)

// Manifest is a parameter source defined in a JSON or YAML file with these properties:
//
//	name: source name; defaults to the file name without its extension
//	suite: if set, the source is only visible to this suite
//	categories: categories added to that suite
//	fresh: if true, the source is re-read for every iteration
//	value, values: the parameter values
//
// A file may also use "constants" and "parameters" substitutions, in which case each expansion of
// the file adds its values to the same source, in order.
type Manifest struct {
	FilePath   string
	Name       string
	Suite      string
	Categories []string
	Fresh      bool
	Values     []ldvalue.Value
}

type manifestDocument struct {
	Name       string          `json:"name"`
	Suite      string          `json:"suite"`
	Categories []string        `json:"categories"`
	Fresh      bool            `json:"fresh"`
	Value      ldvalue.Value   `json:"value"`
	Values     []ldvalue.Value `json:"values"`
}

// ParseManifest reads a manifest from file content. The path is used for the default source
// name, which is the file's base name without its extension.
func ParseManifest(filePath string, data []byte) (Manifest, error) {
	ret := Manifest{FilePath: filePath}
	docs, err := expand(data)
	if err != nil {
		return ret, fmt.Errorf("error reading %q: %w", filePath, err)
	}
	for i, d := range docs {
		var doc manifestDocument
		if err := Decode(d.Data, &doc); err != nil {
			return ret, fmt.Errorf("error parsing %q %s: %w", filePath, d.Params, err)
		}
		if i == 0 {
			ret.Name = doc.Name
			ret.Suite = doc.Suite
			ret.Categories = doc.Categories
			ret.Fresh = doc.Fresh
		}
		if !doc.Value.IsNull() {
			ret.Values = append(ret.Values, doc.Value)
		}
		ret.Values = append(ret.Values, doc.Values...)
	}
	if ret.Name == "" {
		base := path.Base(filePath)
		ret.Name = strings.TrimSuffix(base, path.Ext(base))
	}
	return ret, nil
}

// LoadManifest reads one manifest file from a filesystem.
func LoadManifest(fsys fs.FS, filePath string) (Manifest, error) {
	data, err := fs.ReadFile(fsys, filePath)
	if err != nil {
		return Manifest{}, fmt.Errorf("failed to read %q: %w", filePath, err)
	}
	return ParseManifest(filePath, data)
}

// LoadManifests reads every file in a filesystem that matches a doublestar pattern, such as
// "manifests/**/*.yaml", in lexical order.
func LoadManifests(fsys fs.FS, pattern string) ([]Manifest, error) {
	paths, err := doublestar.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("bad manifest pattern %q: %w", pattern, err)
	}
	ret := make([]Manifest, 0, len(paths))
	for _, p := range paths {
		m, err := LoadManifest(fsys, p)
		if err != nil {
			return nil, err
		}
		ret = append(ret, m)
	}
	return ret, nil
}

// Source returns the manifest's values as a parameter source.
func (m Manifest) Source() engine.ParameterSource {
	source := engine.Values(m.Values...)
	if m.Fresh {
		return engine.FreshSource(source)
	}
	return source
}

// Apply defines the manifest's source in a registry. If the manifest names a suite, the source
// is only visible to that suite, and the manifest's categories are added to it.
func (m Manifest) Apply(registry *builder.Registry) {
	if m.Suite == "" {
		registry.DefineSource(m.Name, m.Source())
		return
	}
	opts := []builder.Option{builder.SourceFor(m.Name, m.Source())}
	if len(m.Categories) != 0 {
		opts = append(opts, builder.Categories(m.Categories...))
	}
	registry.Suite(m.Suite, opts...)
}

// ApplyAll applies each manifest in order.
func ApplyAll(registry *builder.Registry, manifests []Manifest) {
	for _, m := range manifests {
		m.Apply(registry)
	}
}
