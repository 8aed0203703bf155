// Package settings contains the flat key/value settings bag that a front end keeps for a test
// host, and the stores it can be persisted in.
package settings

import (
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/launchdarkly/test-engine/servicedef"
)

// Settings is a flat key/value bag. The zero value is an empty bag that is ready to use.
type Settings struct {
	values map[string]string
}

// New creates a bag with the given entries.
func New(entries map[string]string) Settings {
	var s Settings
	for k, v := range entries {
		s.Set(k, v)
	}
	return s
}

// FromEntries creates a bag from wire entries. A later entry replaces an earlier one with the same key.
func FromEntries(entries []servicedef.SettingEntry) Settings {
	var s Settings
	for _, e := range entries {
		s.Set(e.Key, e.Value)
	}
	return s
}

func (s Settings) Get(key string) (string, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetOrElse returns the value for key, or defaultValue if there is none.
func (s Settings) GetOrElse(key, defaultValue string) string {
	if v, ok := s.values[key]; ok {
		return v
	}
	return defaultValue
}

func (s *Settings) Set(key, value string) {
	if s.values == nil {
		s.values = make(map[string]string)
	}
	s.values[key] = value
}

func (s *Settings) Delete(key string) {
	delete(s.values, key)
}

func (s Settings) Len() int { return len(s.values) }

// Keys returns the keys in sorted order.
func (s Settings) Keys() []string {
	keys := maps.Keys(s.values)
	slices.Sort(keys)
	return keys
}

// Map returns a copy of the bag's contents.
func (s Settings) Map() map[string]string {
	ret := make(map[string]string, len(s.values))
	maps.Copy(ret, s.values)
	return ret
}

// Entries returns the bag as wire entries, sorted by key.
func (s Settings) Entries() []servicedef.SettingEntry {
	ret := make([]servicedef.SettingEntry, 0, len(s.values))
	for _, k := range s.Keys() {
		ret = append(ret, servicedef.SettingEntry{Key: k, Value: s.values[k]})
	}
	return ret
}

// Merge returns a new bag containing this bag's entries overlaid with other's.
func (s Settings) Merge(other Settings) Settings {
	ret := Settings{values: s.Map()}
	for k, v := range other.values {
		ret.Set(k, v)
	}
	return ret
}

func (s Settings) Equal(other Settings) bool {
	return maps.Equal(s.values, other.values)
}
