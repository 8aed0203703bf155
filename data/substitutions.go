package data

import (
	"errors"
	"strings"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// variables maps placeholder names, written as <NAME> in a manifest, to their values.
type variables map[string]ldvalue.Value

// expansion is one rendering of a manifest file. A file without parameters has exactly one.
type expansion struct {
	Params variables
	Data   []byte
}

var errBadParameters = errors.New("parameters must be an array of objects or an array of arrays of objects")

// expand renders a manifest once per parameter set, substituting constants and parameters. A
// parameter value may itself refer to constants.
func expand(original []byte) ([]expansion, error) {
	var header struct {
		Constants  variables     `json:"constants"`
		Parameters ldvalue.Value `json:"parameters"`
	}
	if err := Decode(original, &header); err != nil {
		return nil, err
	}
	sets, err := parameterSets(header.Parameters)
	if err != nil {
		return nil, err
	}
	if len(sets) == 0 {
		if len(header.Constants) == 0 {
			return []expansion{{Data: original}}, nil
		}
		sets = []variables{nil}
	}
	ret := make([]expansion, 0, len(sets))
	for _, set := range sets {
		data := substitute(original, header.Constants)
		data = substitute(data, set)
		data = substitute(data, header.Constants)
		ret = append(ret, expansion{Params: set, Data: data})
	}
	return ret, nil
}

// parameterSets accepts either a list of sets, or a list of lists whose product is taken with
// the first list varying fastest.
func parameterSets(params ldvalue.Value) ([]variables, error) {
	if params.IsNull() {
		return nil, nil
	}
	if params.Type() != ldvalue.ArrayType {
		return nil, errBadParameters
	}
	if params.Count() == 0 {
		return nil, nil
	}
	if params.GetByIndex(0).Type() == ldvalue.ObjectType {
		return variablesList(params)
	}
	product := []variables{{}}
	for i := 0; i < params.Count(); i++ {
		group := params.GetByIndex(i)
		if group.Type() != ldvalue.ArrayType {
			return nil, errBadParameters
		}
		choices, err := variablesList(group)
		if err != nil {
			return nil, err
		}
		next := make([]variables, 0, len(product)*len(choices))
		for _, choice := range choices {
			for _, partial := range product {
				merged := maps.Clone(partial)
				maps.Copy(merged, choice)
				next = append(next, merged)
			}
		}
		product = next
	}
	return product, nil
}

func variablesList(list ldvalue.Value) ([]variables, error) {
	ret := make([]variables, 0, list.Count())
	for i := 0; i < list.Count(); i++ {
		item := list.GetByIndex(i)
		if item.Type() != ldvalue.ObjectType {
			return nil, errBadParameters
		}
		set := make(variables, item.Count())
		for _, key := range item.Keys(nil) {
			set[key] = item.GetByKey(key)
		}
		ret = append(ret, set)
	}
	return ret, nil
}

// substitute replaces "<NAME>" including its quotes with the value as JSON, so that a quoted
// placeholder can stand for a number or an object, and any other <NAME> with the value as text.
func substitute(data []byte, vars variables) []byte {
	text := strings.NewReplacer(`\u003c`, "<", `\u003e`, ">").Replace(string(data))
	if len(vars) == 0 {
		return []byte(text)
	}
	pairs := make([]string, 0, len(vars)*4)
	for name, value := range vars {
		asJSON := value.JSONString()
		asText := asJSON
		if value.IsString() {
			asText = value.StringValue()
		}
		pairs = append(pairs, `"<`+name+`>"`, asJSON, "<"+name+">", asText)
	}
	return []byte(strings.NewReplacer(pairs...).Replace(text))
}

func (v variables) String() string {
	if len(v) == 0 {
		return ""
	}
	names := maps.Keys(v)
	slices.Sort(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+"="+v[name].String())
	}
	return "(" + strings.Join(parts, ",") + ")"
}
