package ldtest

import (
	"errors"
	"fmt"
	"path"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"sync"
)

// Failure is a test error together with the call stack of the assertion that reported it.
type Failure struct {
	Message string
	Frames  []Frame
}

// Frame is one entry in the call stack of a Failure.
type Frame struct {
	File     string
	Package  string
	Function string
	Line     int
}

func (f Failure) Error() string { return f.Message }

func (f Frame) String() string {
	return fmt.Sprintf("%s.%s (%s:%d)", strings.TrimPrefix(f.Package, packages().module+"/"), f.Function, f.File, f.Line)
}

// Every test body is called from this method; frames below it belong to the engine.
const bodyRoot = "(*T).run"

const maxFrames = 64

var testifyTraceHeader = regexp.MustCompile(`^(?s:\s*Error Trace:.*\sError:\s*)`)

type packageNames struct {
	ldtest    string
	framework string
	module    string
}

//nolint:gochecknoglobals
var packages = sync.OnceValue(func() packageNames {
	pc, _, _, _ := runtime.Caller(0)
	self, _ := splitFunctionName(runtime.FuncForPC(pc).Name())
	framework := path.Dir(self)
	return packageNames{ldtest: self, framework: framework, module: path.Dir(framework)}
})

// newFailure replaces the location header that testify puts into assertion messages with our own
// call stack.
func newFailure(err error, frames []Frame) error {
	message := err.Error()
	if strings.Contains(message, "Error Trace:") {
		message = strings.TrimSpace(testifyTraceHeader.ReplaceAllLiteralString(message, ""))
	}
	if len(frames) == 0 {
		return errors.New(message)
	}
	return Failure{Message: message, Frames: frames}
}

// callStack returns the stack of the calling goroutine down to the test body's root. Unless
// withEngine is set, frames in the framework packages are left out; frames of functions that
// called T.Helper always are.
func callStack(skip int, withEngine bool, helperFns []string) []Frame {
	pcs := make([]uintptr, maxFrames)
	n := runtime.Callers(skip+2, pcs)
	names := packages()

	var ret []Frame
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		pkg, fn := splitFunctionName(f.Function)
		frame := Frame{File: path.Base(f.File), Package: pkg, Function: fn, Line: f.Line}
		if pkg == names.ldtest && fn == bodyRoot {
			if withEngine {
				ret = append(ret, frame)
			}
			break
		}
		inFramework := pkg == names.framework || strings.HasPrefix(pkg, names.framework+"/")
		if (withEngine || !inFramework) && !slices.Contains(helperFns, f.Function) {
			ret = append(ret, frame)
		}
		if !more {
			break
		}
	}
	return ret
}

// splitFunctionName separates "example.com/a/b.(*T).Method" into "example.com/a/b" and
// "(*T).Method".
func splitFunctionName(fullName string) (string, string) {
	lastSlash := strings.LastIndex(fullName, "/")
	dot := strings.Index(fullName[lastSlash+1:], ".")
	if dot < 0 {
		return fullName, ""
	}
	cut := lastSlash + 1 + dot
	return fullName[:cut], fullName[cut+1:]
}
