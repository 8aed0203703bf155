package opt

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
)

// Maybe is an optional value. It is used for parts of test names and wire attributes that may be
// absent, where the zero value of V is meaningful.
type Maybe[V any] struct {
	defined bool
	value   V
}

// Some returns a Maybe that has a defined value.
func Some[V any](value V) Maybe[V] {
	return Maybe[V]{defined: true, value: value}
}

// None returns a Maybe with no value.
func None[V any]() Maybe[V] { return Maybe[V]{} }

// IsDefined returns true if the Maybe has a value.
func (m Maybe[V]) IsDefined() bool { return m.defined }

// Value returns the value if a value is defined, or the zero value for the type otherwise.
func (m Maybe[V]) Value() V { return m.value }

// OrElse returns the value of the Maybe if any, or the valueIfUndefined otherwise.
func (m Maybe[V]) OrElse(valueIfUndefined V) V {
	if m.defined {
		return m.value
	}
	return valueIfUndefined
}

// String returns a string representation of the value, or "[none]" if undefined.
func (m Maybe[V]) String() string {
	if m.defined {
		var v interface{} = m.value
		if s, ok := v.(fmt.Stringer); ok {
			return s.String()
		}
		return fmt.Sprintf("%v", m.value)
	}
	return "[none]"
}

// MarshalJSON produces whatever JSON representation would normally be produced for the value if
// a value is defined, or a JSON null otherwise.
func (m Maybe[V]) MarshalJSON() ([]byte, error) {
	if m.defined {
		return json.Marshal(m.value)
	}
	return []byte("null"), nil
}

// UnmarshalJSON sets the Maybe to None[V] if the data is a JSON null, or else unmarshals a value
// of type V as usual and sets the Maybe to Some(value).
func (m *Maybe[V]) UnmarshalJSON(data []byte) error {
	var temp interface{}
	if err := json.Unmarshal(data, &temp); err != nil {
		return err
	}
	if temp == nil {
		*m = None[V]()
		return nil
	}
	var value V
	if err := json.Unmarshal(data, &value); err != nil {
		return err
	}
	*m = Some(value)
	return nil
}

// MarshalXMLAttr omits the attribute entirely if there is no value. Only string, bool and int
// values can be represented as attributes.
func (m Maybe[V]) MarshalXMLAttr(name xml.Name) (xml.Attr, error) {
	if !m.defined {
		return xml.Attr{}, nil
	}
	var v interface{} = m.value
	switch value := v.(type) {
	case string:
		return xml.Attr{Name: name, Value: value}, nil
	case bool:
		return xml.Attr{Name: name, Value: strconv.FormatBool(value)}, nil
	case int:
		return xml.Attr{Name: name, Value: strconv.Itoa(value)}, nil
	default:
		return xml.Attr{}, fmt.Errorf("cannot represent %T as an XML attribute", m.value)
	}
}

// UnmarshalXMLAttr is only called when the attribute is present, so the result is always Some.
func (m *Maybe[V]) UnmarshalXMLAttr(attr xml.Attr) error {
	var value V
	var target interface{} = &value
	switch p := target.(type) {
	case *string:
		*p = attr.Value
	case *bool:
		b, err := strconv.ParseBool(attr.Value)
		if err != nil {
			return err
		}
		*p = b
	case *int:
		n, err := strconv.Atoi(attr.Value)
		if err != nil {
			return err
		}
		*p = n
	default:
		return fmt.Errorf("cannot read %T from an XML attribute", value)
	}
	*m = Some(value)
	return nil
}
