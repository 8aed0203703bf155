package framework

import (
	"testing"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCapturingLoggerChildren(t *testing.T) {
	var parent CapturingLogger
	parent.Printf("before %d", 1)

	var child CapturingLogger
	parent.AddChildLogger(&child)
	parent.Println("during")
	parent.RemoveChildLogger(&child)
	parent.Println("after")

	assert.Equal(t, []string{"before 1", "during"}, child.Output().Messages())
	assert.Equal(t, []string{"before 1", "after"}, parent.Output().Messages())
}

func TestCapturingLoggerListenerIsInherited(t *testing.T) {
	var seen []string
	var parent, child CapturingLogger
	parent.SetListener(func(m CapturedMessage) { seen = append(seen, m.Message) })
	parent.AddChildLogger(&child)
	child.Printf("from %s", "child")
	parent.Println("via parent")

	assert.Equal(t, []string{"from child", "via parent"}, seen)
}

func TestCapturedOutputToString(t *testing.T) {
	var l CapturingLogger
	l.Println("a")
	l.Println("b")
	lines := l.Output().ToString("> ")
	assert.Regexp(t, `^> \[\d{4}-\d\d-\d\d \d\d:\d\d:\d\d\.\d{3}\] a\n> \[.*\] b$`, lines)
}

func TestNewLoggers(t *testing.T) {
	var lines []string
	base := FuncLogger(func(line string) { lines = append(lines, line) })

	loggers := NewLoggers(base, ldlog.Info, "[x] ")
	loggers.Debug("hidden")
	loggers.Infof("shown %d", 2)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "[x] ")
	assert.Contains(t, lines[0], "shown 2")

	lines = nil
	NewLoggers(nil, ldlog.Debug, "").Error("nowhere")
	assert.Empty(t, lines)
}

func TestLoggerWithPrefix(t *testing.T) {
	var lines []string
	logger := LoggerWithPrefix(FuncLogger(func(line string) { lines = append(lines, line) }), "[host] ")
	logger.Printf("n=%d", 3)
	logger.Println("done")
	assert.Equal(t, []string{"[host] n=3", "[host] done"}, lines)

	LoggerWithPrefix(nil, "x").Println("ignored")
}

func TestCapabilities(t *testing.T) {
	caps := Capabilities{CapabilitySettings, CapabilityCancel}
	assert.True(t, caps.Has(CapabilityCancel))
	assert.False(t, caps.Has(CapabilityEventSink))
	assert.True(t, caps.HasAll(CapabilitySettings, CapabilityCancel))
	assert.Equal(t, []string{CapabilityEventSink}, caps.Missing(CapabilityCancel, CapabilityEventSink))
}
