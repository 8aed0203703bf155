package builder

import (
	"errors"
	"fmt"
)

// ErrNoSource means a value parameter was declared but nothing supplies its values.
var ErrNoSource = errors.New("no source for parameter")

// ErrDuplicateName means two declarations at the same level have the same name.
var ErrDuplicateName = errors.New("duplicate test name")

// ConfigurationError is a problem with the test declarations themselves. It is reported when
// the tree is resolved, before anything runs, and never as a test outcome.
type ConfigurationError struct {
	// Path is the identifier of the declaration, such as "suite/fixture/case".
	Path string
	// Parameter is the parameter name, if the problem concerns a parameter.
	Parameter string
	Err       error
}

func (e *ConfigurationError) Error() string {
	if e.Parameter != "" {
		return fmt.Sprintf("configuration error in %q, parameter %q: %s", e.Path, e.Parameter, e.Err)
	}
	return fmt.Sprintf("configuration error in %q: %s", e.Path, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }
