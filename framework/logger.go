package framework

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
)

const timestampFormat = "2006-01-02 15:04:05.000"

// Logger is the minimal logging interface used throughout the engine. It is intentionally the same
// shape as ldlog.BaseLogger and *log.Logger, so either can be used wherever a Logger is expected.
type Logger interface {
	Println(args ...interface{})
	Printf(message string, args ...interface{})
}

type nullLogger struct{}

func (n nullLogger) Println(args ...interface{})                {}
func (n nullLogger) Printf(message string, args ...interface{}) {}

func NullLogger() Logger { return nullLogger{} }

// NewLoggers creates an ldlog.Loggers instance that writes to the specified Logger, suppressing
// anything below minLevel. Components that have a notion of severity (the connection layer, the
// orchestration layer) use this; components that only capture test output use Logger directly.
func NewLoggers(base Logger, minLevel ldlog.LogLevel, prefix string) ldlog.Loggers {
	if base == nil {
		return ldlog.NewDisabledLoggers()
	}
	loggers := ldlog.NewDefaultLoggers()
	loggers.SetBaseLogger(base)
	loggers.SetMinLevel(minLevel)
	if prefix != "" {
		loggers.SetPrefix(prefix)
	}
	return loggers
}

type CapturedMessage struct {
	Time    time.Time
	Message string
}

type CapturedOutput []CapturedMessage

// CapturingLogger records all debug output from a test scope. See comments on
// ldtest.(*T).DebugLogger() for the rules of logging in parent/child scopes.
//
// A CapturingLogger may also have a listener, which sees every message as it is captured. The
// remote test host uses this to forward debug output over the connection as it happens.
type CapturingLogger struct {
	output   []CapturedMessage
	children []*CapturingLogger
	listener func(CapturedMessage)
	lock     sync.Mutex
}

func (l *CapturingLogger) Println(args ...interface{}) {
	m := strings.TrimRight(fmt.Sprintln(args...), "\r\n") // Sprintln appends a newline
	l.append(CapturedMessage{Time: time.Now(), Message: m})
}

func (l *CapturingLogger) Printf(message string, args ...interface{}) {
	l.append(CapturedMessage{Time: time.Now(), Message: fmt.Sprintf(message, args...)})
}

func (l *CapturingLogger) append(m CapturedMessage) {
	var children []*CapturingLogger
	l.lock.Lock()
	if len(l.children) == 0 {
		l.output = append(l.output, m)
	} else {
		children = append([]*CapturingLogger(nil), l.children...)
	}
	listener := l.listener
	l.lock.Unlock()
	if listener != nil && len(children) == 0 {
		listener(m)
	}
	for _, c := range children {
		c.append(m)
	}
}

// SetListener installs a callback that receives each message captured directly by this logger.
func (l *CapturingLogger) SetListener(listener func(CapturedMessage)) {
	l.lock.Lock()
	l.listener = listener
	l.lock.Unlock()
}

func (l *CapturingLogger) Output() CapturedOutput {
	l.lock.Lock()
	ret := append([]CapturedMessage(nil), l.output...)
	l.lock.Unlock()
	return ret
}

// AddChildLogger redirects further output to the child, which also inherits everything captured
// so far. The listener, if any, is inherited too.
func (l *CapturingLogger) AddChildLogger(child *CapturingLogger) {
	l.lock.Lock()
	l.children = append(l.children, child)
	output := append([]CapturedMessage(nil), l.output...)
	listener := l.listener
	l.lock.Unlock()
	child.lock.Lock()
	child.output = append(output, child.output...)
	if child.listener == nil {
		child.listener = listener
	}
	child.lock.Unlock()
}

func (l *CapturingLogger) RemoveChildLogger(child *CapturingLogger) {
	l.lock.Lock()
	for i, c := range l.children {
		if c == child {
			l.children = append(l.children[0:i], l.children[i+1:]...)
			break
		}
	}
	l.lock.Unlock()
}

func (output CapturedOutput) ToString(prefix string) string {
	lines := make([]string, 0, len(output))
	for _, m := range output {
		lines = append(lines, fmt.Sprintf("%s[%s] %s",
			prefix,
			m.Time.Format(timestampFormat),
			m.Message,
		))
	}
	return strings.Join(lines, "\n")
}

// Messages returns just the message text, without timestamps.
func (output CapturedOutput) Messages() []string {
	ret := make([]string, 0, len(output))
	for _, m := range output {
		ret = append(ret, m.Message)
	}
	return ret
}

type prefixedLogger struct {
	base   Logger
	prefix string
}

func LoggerWithPrefix(baseLogger Logger, prefix string) Logger {
	if baseLogger == nil {
		return NullLogger()
	}
	return prefixedLogger{baseLogger, prefix}
}

func (p prefixedLogger) Println(args ...interface{}) {
	p.base.Println(append([]interface{}{p.prefix}, args...)...)
}

func (p prefixedLogger) Printf(message string, args ...interface{}) {
	p.base.Printf(p.prefix+message, args...)
}

// FuncLogger adapts a function that receives a fully formatted line into a Logger.
type FuncLogger func(line string)

func (f FuncLogger) Println(args ...interface{}) {
	f(strings.TrimRight(fmt.Sprintln(args...), "\r\n"))
}

func (f FuncLogger) Printf(message string, args ...interface{}) {
	f(fmt.Sprintf(message, args...))
}
