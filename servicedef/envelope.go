package servicedef

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
)

// Marshal encodes a command as an XML envelope whose root element is the command kind.
func Marshal(cmd Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := encodeElement(&buf, string(cmd.Kind()), cmd); err != nil {
		return nil, fmt.Errorf("encoding %s: %w", cmd.Kind(), err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an XML envelope into a pointer to the command it names.
func Unmarshal(data []byte) (Command, error) {
	decoder := xml.NewDecoder(bytes.NewReader(data))
	for {
		token, err := decoder.Token()
		if err == io.EOF {
			return nil, ErrEmptyEnvelope
		}
		if err != nil {
			return nil, err
		}
		start, ok := token.(xml.StartElement)
		if !ok {
			continue
		}
		cmd := NewCommand(CommandKind(start.Name.Local))
		if cmd == nil {
			return nil, fmt.Errorf("%w: %q", ErrUnknownCommand, start.Name.Local)
		}
		if err := decoder.DecodeElement(cmd, &start); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", start.Name.Local, err)
		}
		return cmd, nil
	}
}

// EncodePayload encodes a value as an XML document with the given root element name, for use
// as the Payload of a Response or ObjectCall.
func EncodePayload(name string, value interface{}) (string, error) {
	var buf bytes.Buffer
	if err := encodeElement(&buf, name, value); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// DecodePayload decodes a payload produced by EncodePayload. The root element name is not
// checked.
func DecodePayload(payload string, value interface{}) error {
	if payload == "" {
		return ErrEmptyEnvelope
	}
	return xml.Unmarshal([]byte(payload), value)
}

func encodeElement(w io.Writer, name string, value interface{}) error {
	encoder := xml.NewEncoder(w)
	if err := encoder.EncodeElement(value, xml.StartElement{Name: xml.Name{Local: name}}); err != nil {
		return err
	}
	return encoder.Flush()
}
