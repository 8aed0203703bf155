package settings

import (
	"encoding/xml"
	"fmt"
	"io"
	"os"

	"github.com/launchdarkly/test-engine/servicedef"
)

const documentElement = "Settings"

type document struct {
	Entries []servicedef.SettingEntry `xml:"Entry"`
}

// Load reads a bag in the form <Settings><Entry Key="..." Value="..."/></Settings>.
func Load(r io.Reader) (Settings, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Settings{}, err
	}
	var doc document
	if err := servicedef.DecodePayload(string(data), &doc); err != nil {
		return Settings{}, fmt.Errorf("invalid settings document: %w", err)
	}
	return FromEntries(doc.Entries), nil
}

// Write writes a bag in the form that Load reads, with the entries sorted by key.
func Write(w io.Writer, s Settings) error {
	payload, err := servicedef.EncodePayload(documentElement, document{Entries: s.Entries()})
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, xml.Header+payload+"\n"); err != nil {
		return err
	}
	return nil
}

// LoadFile is a shortcut for Load on the contents of a file.
func LoadFile(path string) (Settings, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the command line
	if err != nil {
		return Settings{}, err
	}
	defer f.Close()
	return Load(f)
}
