package opt

import (
	"encoding/json"
	"encoding/xml"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type paramStruct struct {
	Prop string `json:"prop"`
}

func TestNone(t *testing.T) {
	assert.False(t, None[string]().IsDefined())

	assert.Equal(t, 0, None[int]().Value())
	assert.Equal(t, "", None[string]().Value())
	assert.Nil(t, None[*string]().Value())
	assert.Equal(t, paramStruct{}, None[paramStruct]().Value())
}

func TestSome(t *testing.T) {
	assert.True(t, Some("").IsDefined())

	assert.Equal(t, 1, Some(1).Value())
	assert.Equal(t, "x", Some("x").Value())
}

func TestOrElse(t *testing.T) {
	assert.Equal(t, 3, None[int]().OrElse(3))
	assert.Equal(t, 4, Some(4).OrElse(3))
}

func TestMarshalUnmarshal(t *testing.T) {
	testMarshalUnmarshal(t, None[int](), "null")
	testMarshalUnmarshal(t, Some(3), "3")
	testMarshalUnmarshal(t, Some(paramStruct{Prop: "x"}), `{"prop": "x"}`)

	var ms Maybe[paramStruct]
	assert.Error(t, ms.UnmarshalJSON([]byte(`malformed json`)))
	assert.Error(t, ms.UnmarshalJSON([]byte(`{"prop": true}`)))
}

func testMarshalUnmarshal[V any](t *testing.T, expected Maybe[V], expectedJSON string) {
	data, err := json.Marshal(expected)
	require.NoError(t, err)
	assert.JSONEq(t, expectedJSON, string(data))

	var actual Maybe[V]
	require.NoError(t, json.Unmarshal([]byte(expectedJSON), &actual))
	assert.Equal(t, expected, actual)
}

type xmlAttrHolder struct {
	XMLName xml.Name      `xml:"Holder"`
	Name    Maybe[string] `xml:"Name,attr"`
	Count   Maybe[int]    `xml:"Count,attr"`
	Flag    Maybe[bool]   `xml:"Flag,attr"`
}

func TestXMLAttributes(t *testing.T) {
	t.Run("undefined values are omitted", func(t *testing.T) {
		data, err := xml.Marshal(xmlAttrHolder{})
		require.NoError(t, err)
		assert.Equal(t, `<Holder></Holder>`, string(data))

		var h xmlAttrHolder
		require.NoError(t, xml.Unmarshal(data, &h))
		assert.False(t, h.Name.IsDefined())
		assert.False(t, h.Count.IsDefined())
		assert.False(t, h.Flag.IsDefined())
	})

	t.Run("defined values round-trip", func(t *testing.T) {
		original := xmlAttrHolder{Name: Some(""), Count: Some(7), Flag: Some(true)}
		data, err := xml.Marshal(original)
		require.NoError(t, err)

		var h xmlAttrHolder
		require.NoError(t, xml.Unmarshal(data, &h))
		assert.Equal(t, original.Name, h.Name)
		assert.Equal(t, original.Count, h.Count)
		assert.Equal(t, original.Flag, h.Flag)
	})

	t.Run("malformed number", func(t *testing.T) {
		var h xmlAttrHolder
		assert.Error(t, xml.Unmarshal([]byte(`<Holder Count="x"></Holder>`), &h))
	})
}
