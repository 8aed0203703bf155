package builder

import (
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"

	"github.com/launchdarkly/test-engine/framework/engine"
	"github.com/launchdarkly/test-engine/framework/helpers"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

// NodeKind says what a TestBuilder node was declared as.
type NodeKind int

const (
	NodeRoot NodeKind = iota
	NodeSuite
	NodeFixture
	NodeCase
)

const excludedByCategory = "excluded by category"

// Options control how a registry is turned into a test tree.
type Options struct {
	// Suites limits the tree to the named suites. If empty, every suite is included.
	Suites []string

	// IncludeCategories, if not empty, excludes every case that does not have one of these
	// categories itself or through an enclosing declaration.
	IncludeCategories []string

	// ExcludeCategories excludes every declaration that has one of these categories itself or
	// through an enclosing declaration.
	ExcludeCategories []string

	// ChildFactory, if set, produces the invoker for each child node instead of child.Resolve.
	ChildFactory func(child *TestBuilder) (*engine.TestInvoker, error)

	// ParameterHostFactory, if set, produces the host for each value parameter instead of
	// engine.ParameterHost.
	ParameterHostFactory func(param ParamDecl, source engine.ParameterSource) *engine.TestHost
}

// TestBuilder is the static, resolved-on-demand description of one declaration. A tree of
// TestBuilders is immutable once built; Resolve turns a node into its invoker exactly once.
type TestBuilder struct {
	ID         string
	Name       string
	Kind       NodeKind
	Params     []ParamDecl
	Categories []string
	Flags      engine.HostFlags
	Children   []*TestBuilder

	excluded   bool
	timeout    time.Duration
	repeat     int
	body       func(*ldtest.T)
	fixture    *engine.TestHost
	sources    []map[string]engine.ParameterSource
	optionsErr error
	options    *Options

	once    sync.Once
	invoker *engine.TestInvoker
	err     error
}

// Build creates the tree of TestBuilders for a registry. Problems with individual declarations
// are not reported until Resolve.
func Build(registry *Registry, options Options) *TestBuilder {
	suites, registrySources := registry.snapshot()
	root := &TestBuilder{Kind: NodeRoot, Flags: engine.ContinueOnError, options: &options}
	rootSources := []map[string]engine.ParameterSource{registrySources}
	for _, s := range suites {
		if len(options.Suites) != 0 && !helpers.SliceContains(s.name, options.Suites) {
			continue
		}
		root.Children = append(root.Children, buildNode(registry, s, "", nil, rootSources, nil, &options))
	}
	return root
}

func buildNode(
	registry *Registry,
	d *decl,
	parentID string,
	parentCategories []string,
	parentSources []map[string]engine.ParameterSource,
	fixture *engine.TestHost,
	options *Options,
) *TestBuilder {
	var o declOptions
	optionsErr := helpers.ApplyOptions(&o, d.opts...)
	flags := o.flags
	if !o.continueOnErrorSet {
		flags |= engine.ContinueOnError
	}
	b := &TestBuilder{
		ID:         joinID(parentID, d.name),
		Name:       d.name,
		Params:     o.params,
		Categories: append(helpers.CopyOf(parentCategories), o.categories...),
		Flags:      flags,
		timeout:    o.timeout,
		repeat:     o.repeat,
		body:       d.body,
		fixture:    fixture,
		sources:    append([]map[string]engine.ParameterSource{o.sources}, parentSources...),
		optionsErr: optionsErr,
		options:    options,
	}
	switch d.kind {
	case kindSuite:
		b.Kind = NodeSuite
	case kindFixture:
		b.Kind = NodeFixture
		fixture = engine.FixtureHost(d.name, d.fixture, o.reusable)
	case kindCase:
		b.Kind = NodeCase
		b.Flags |= engine.Browsable
	}
	b.excluded = isExcluded(b, options)
	if b.excluded {
		b.Flags |= engine.Browsable
		return b
	}
	for _, c := range registry.childrenOf(d) {
		b.Children = append(b.Children, buildNode(registry, c, b.ID, b.Categories, b.sources, fixture, options))
	}
	return b
}

func joinID(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}

func isExcluded(b *TestBuilder, options *Options) bool {
	for _, c := range b.Categories {
		if helpers.SliceContains(c, options.ExcludeCategories) {
			return true
		}
	}
	if b.Kind != NodeCase || len(options.IncludeCategories) == 0 {
		return false
	}
	for _, c := range b.Categories {
		if helpers.SliceContains(c, options.IncludeCategories) {
			return false
		}
	}
	return true
}

// Excluded is true if category filtering removed this node. It still resolves, to an invoker
// that reports it as ignored.
func (b *TestBuilder) Excluded() bool { return b.excluded }

// Find returns the node with the given ID in this subtree.
func (b *TestBuilder) Find(id string) *TestBuilder {
	if b.ID == id {
		return b
	}
	for _, c := range b.Children {
		if found := c.Find(id); found != nil {
			return found
		}
	}
	return nil
}

// Resolve returns the invoker for this node, building it on the first call. Every later call
// returns the same invoker, or the same error. Configuration errors anywhere in the subtree are
// collected, and each one is a *ConfigurationError.
func (b *TestBuilder) Resolve() (*engine.TestInvoker, error) {
	b.once.Do(func() {
		b.invoker, b.err = b.resolve()
	})
	return b.invoker, b.err
}

func (b *TestBuilder) resolve() (*engine.TestInvoker, error) {
	if b.optionsErr != nil {
		return nil, &ConfigurationError{Path: b.ID, Err: b.optionsErr}
	}
	if b.excluded {
		return b.group(engine.Excluded(excludedByCategory)), nil
	}

	var errs *multierror.Error
	var children []*engine.TestInvoker
	seen := make(map[string]bool)
	for _, c := range b.Children {
		if seen[c.Name] {
			errs = multierror.Append(errs, &ConfigurationError{Path: c.ID, Err: ErrDuplicateName})
			continue
		}
		seen[c.Name] = true
		inv, err := b.resolveChild(c)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		children = append(children, inv)
	}

	var inner *engine.TestInvoker
	if b.Kind == NodeCase {
		inner = engine.Case(b.body, b.timeout)
		if b.fixture != nil {
			inner = b.fixture.Wrap(inner)
		}
	} else {
		inner = engine.Collection(b.Flags, children...)
	}

	// wrap parameter hosts from the last declared outward, so the last one is innermost
	for i := len(b.Params) - 1; i >= 0; i-- {
		p := b.Params[i]
		if p.Kind != ParamValue {
			continue
		}
		source, err := b.findSource(p)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		inner = b.parameterHost(p, source).Wrap(inner)
	}
	if b.repeat > 1 {
		inner = engine.RepeatHost(b.repeat, "", b.Flags&engine.ContinueOnError).Wrap(inner)
	}

	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	if b.Kind == NodeRoot {
		return inner, nil
	}
	return b.group(inner), nil
}

func (b *TestBuilder) group(inner *engine.TestInvoker) *engine.TestInvoker {
	named := engine.NamedHost(b.Name, b.Flags)
	return engine.ResultGroup(ldtest.TestNamePart{
		Label:  b.Name,
		Hidden: b.Flags.Has(engine.Hidden) || b.Flags.Has(engine.PathHidden),
	}, b.Flags, named.Wrap(inner))
}

func (b *TestBuilder) resolveChild(c *TestBuilder) (*engine.TestInvoker, error) {
	if b.options.ChildFactory != nil {
		return b.options.ChildFactory(c)
	}
	return c.Resolve()
}

func (b *TestBuilder) parameterHost(p ParamDecl, source engine.ParameterSource) *engine.TestHost {
	if b.options.ParameterHostFactory != nil {
		return b.options.ParameterHostFactory(p, source)
	}
	return engine.ParameterHost(p.Name, source, p.Flags)
}

// findSource looks for a parameter's values: the declaration itself, then SourceFor on this node
// and each enclosing node, then the registry.
func (b *TestBuilder) findSource(p ParamDecl) (engine.ParameterSource, error) {
	if p.Source != nil {
		return p.Source, nil
	}
	for _, sources := range b.sources {
		if s, ok := sources[p.Name]; ok {
			return s, nil
		}
	}
	return nil, &ConfigurationError{Path: b.ID, Parameter: p.Name, Err: ErrNoSource}
}

// Names lists the browsable tests of the subtree, as resolved. The subtree must resolve without
// errors.
func (b *TestBuilder) Names() ([]ldtest.TestName, error) {
	inv, err := b.Resolve()
	if err != nil {
		return nil, err
	}
	return engine.ListTests(inv), nil
}
