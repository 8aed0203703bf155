package builder

import (
	"errors"
	"fmt"
	"time"

	"github.com/launchdarkly/test-engine/framework/engine"
	"github.com/launchdarkly/test-engine/framework/helpers"
)

// ParamKind distinguishes value parameters, which need a source, from ambient ones that the
// engine always supplies.
type ParamKind int

const (
	// ParamValue is a parameter whose values come from a ParameterSource.
	ParamValue ParamKind = iota
	// ParamTestContext is the run's *ldtest.TestContext, available as T.TestContext().
	ParamTestContext
	// ParamCancellation is the run's cancellation context, available as T.Context().
	ParamCancellation
)

// ParamDecl declares one parameter of a suite, fixture, or case.
type ParamDecl struct {
	Name   string
	Kind   ParamKind
	Source engine.ParameterSource
	Flags  engine.HostFlags
}

// Ambient declares a parameter that needs no source.
func Ambient(name string, kind ParamKind) ParamDecl {
	return ParamDecl{Name: name, Kind: kind}
}

// Value declares a value parameter. If source is nil, it is looked up by name when the tree is
// resolved.
func Value(name string, source engine.ParameterSource) ParamDecl {
	return ParamDecl{Name: name, Kind: ParamValue, Source: source, Flags: engine.ContinueOnError}
}

type declOptions struct {
	params             []ParamDecl
	sources            map[string]engine.ParameterSource
	categories         []string
	flags              engine.HostFlags
	continueOnErrorSet bool
	repeat             int
	reusable           bool
	timeout            time.Duration
}

// Option is a configuration option for a suite, fixture, or case declaration.
type Option = helpers.ConfigOption[declOptions]

type optionFunc = helpers.ConfigOptionFunc[declOptions]

// Param declares a value parameter. The last declared parameter is the innermost: it varies
// fastest, and is closest to the test body.
func Param(name string, source engine.ParameterSource) Option {
	return Params(Value(name, source))
}

// Params declares any number of parameters.
func Params(decls ...ParamDecl) Option {
	return optionFunc(func(o *declOptions) error {
		for _, d := range decls {
			if d.Name == "" {
				return errors.New("parameter name must not be empty")
			}
			o.params = append(o.params, d)
		}
		return nil
	})
}

// SourceFor supplies the values of a named parameter to everything below this declaration that
// declares it without a source of its own.
func SourceFor(name string, source engine.ParameterSource) Option {
	return optionFunc(func(o *declOptions) error {
		if source == nil {
			return fmt.Errorf("source for %q must not be nil", name)
		}
		if o.sources == nil {
			o.sources = make(map[string]engine.ParameterSource)
		}
		o.sources[name] = source
		return nil
	})
}

// Categories tags the declaration, and everything below it, for category filtering.
func Categories(categories ...string) Option {
	return optionFunc(func(o *declOptions) error {
		o.categories = append(o.categories, categories...)
		return nil
	})
}

// ContinueOnError sets whether a failure stops the remaining children or iterations. The default
// is true.
func ContinueOnError(continueOnError bool) Option {
	return optionFunc(func(o *declOptions) error {
		o.continueOnErrorSet = true
		if continueOnError {
			o.flags |= engine.ContinueOnError
		} else {
			o.flags &^= engine.ContinueOnError
		}
		return nil
	})
}

// Repeat runs a case the given number of times, reporting each run as "#1", "#2", and so on.
func Repeat(count int) Option {
	return optionFunc(func(o *declOptions) error {
		if count < 1 {
			return fmt.Errorf("repeat count must be at least 1, was %d", count)
		}
		o.repeat = count
		return nil
	})
}

// Reusable lets a fixture be set up once per case and shared by all of that case's parameter
// iterations and repeats.
func Reusable() Option {
	return optionFunc(func(o *declOptions) error {
		o.reusable = true
		return nil
	})
}

// Hidden leaves the declaration out of result nesting, paths, and test listings.
func Hidden() Option { return flagOption(engine.Hidden) }

// Flatten attaches the results below the declaration directly to the enclosing result.
func Flatten() Option { return flagOption(engine.FlattenHierarchy) }

// PathHidden keeps the declaration's result node but leaves its name out of paths.
func PathHidden() Option { return flagOption(engine.PathHidden) }

func flagOption(flag engine.HostFlags) Option {
	return optionFunc(func(o *declOptions) error {
		o.flags |= flag
		return nil
	})
}

// Timeout limits how long each run of a case body may take. The body sees the limit through
// T.Context().
func Timeout(d time.Duration) Option {
	return optionFunc(func(o *declOptions) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, was %s", d)
		}
		o.timeout = d
		return nil
	})
}
