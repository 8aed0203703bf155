package harness

import (
	"bytes"
	"io"
	"regexp"
)

// FilteredWriter passes writes through to another writer, except for lines that match one of
// the exclusion patterns. The launcher uses it for a spawned host's console output. A line that
// is split across two writes is matched as two lines.
type FilteredWriter struct {
	writer       io.Writer
	excludeRegex []*regexp.Regexp
}

func NewFilteredWriter(writer io.Writer, excludeRegex ...*regexp.Regexp) *FilteredWriter {
	return &FilteredWriter{writer, excludeRegex}
}

func (f *FilteredWriter) Write(data []byte) (int, error) {
	if len(f.excludeRegex) == 0 {
		return f.writer.Write(data)
	}
	var kept []byte
	for _, line := range bytes.SplitAfter(data, []byte("\n")) {
		if len(line) != 0 && !f.excluded(line) {
			kept = append(kept, line...)
		}
	}
	if len(kept) != 0 {
		if _, err := f.writer.Write(kept); err != nil {
			return 0, err
		}
	}
	return len(data), nil
}

func (f *FilteredWriter) excluded(line []byte) bool {
	for _, r := range f.excludeRegex {
		if r.Match(line) {
			return true
		}
	}
	return false
}
