package builder

import (
	"context"
	"sync"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/launchdarkly/test-engine/framework/engine"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

type declKind int

const (
	kindSuite declKind = iota
	kindFixture
	kindCase
)

// decl is a registration with its fixture type erased.
type decl struct {
	kind     declKind
	name     string
	opts     []Option
	fixture  engine.FixtureFuncs
	body     func(*ldtest.T)
	children []*decl
}

// Registry is the table of test declarations that a test tree is built from. Test code
// registers suites, fixtures, and cases at startup; nothing is discovered implicitly.
type Registry struct {
	suites  []*decl
	sources map[string]engine.ParameterSource
	lock    sync.Mutex
}

func NewRegistry() *Registry {
	return &Registry{sources: make(map[string]engine.ParameterSource)}
}

// SuiteDecl is a registered suite.
type SuiteDecl struct {
	registry *Registry
	decl     *decl
}

// FixtureDecl is a registered fixture whose value has type F.
type FixtureDecl[F any] struct {
	registry *Registry
	decl     *decl
}

// FixtureFuncs sets up and tears down a fixture of type F. TearDown may be nil.
type FixtureFuncs[F any] struct {
	SetUp    func(ctx context.Context, tc *ldtest.TestContext) (F, error)
	TearDown func(ctx context.Context, fixture F) error
}

// Suite returns the suite with this name, registering it if necessary. Options from every call
// are combined.
func (r *Registry) Suite(name string, opts ...Option) *SuiteDecl {
	r.lock.Lock()
	defer r.lock.Unlock()
	for _, s := range r.suites {
		if s.name == name {
			s.opts = append(s.opts, opts...)
			return &SuiteDecl{registry: r, decl: s}
		}
	}
	d := &decl{kind: kindSuite, name: name, opts: opts}
	r.suites = append(r.suites, d)
	return &SuiteDecl{registry: r, decl: d}
}

// SuiteNames returns the registered suite names in registration order.
func (r *Registry) SuiteNames() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	ret := make([]string, 0, len(r.suites))
	for _, s := range r.suites {
		ret = append(ret, s.name)
	}
	return ret
}

// DefineSource makes a parameter source available by name to every declaration in the registry.
// It is the last place that parameter resolution looks.
func (r *Registry) DefineSource(name string, source engine.ParameterSource) {
	r.lock.Lock()
	r.sources[name] = source
	r.lock.Unlock()
}

// SourceNames returns the names given to DefineSource, sorted.
func (r *Registry) SourceNames() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	names := maps.Keys(r.sources)
	slices.Sort(names)
	return names
}

func (r *Registry) snapshot() ([]*decl, map[string]engine.ParameterSource) {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*decl(nil), r.suites...), maps.Clone(r.sources)
}

func (r *Registry) childrenOf(d *decl) []*decl {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*decl(nil), d.children...)
}

func (r *Registry) add(parent *decl, child *decl) {
	r.lock.Lock()
	parent.children = append(parent.children, child)
	r.lock.Unlock()
}

// Fixture registers a fixture in a suite. Each case of the fixture gets its own fixture value,
// unless the Reusable option is used.
func Fixture[F any](suite *SuiteDecl, name string, funcs FixtureFuncs[F], opts ...Option) *FixtureDecl[F] {
	erased := engine.FixtureFuncs{}
	if funcs.SetUp != nil {
		erased.SetUp = func(ctx context.Context, tc *ldtest.TestContext) (interface{}, error) {
			return funcs.SetUp(ctx, tc)
		}
	}
	if funcs.TearDown != nil {
		erased.TearDown = func(ctx context.Context, fixture interface{}) error {
			f, _ := fixture.(F)
			return funcs.TearDown(ctx, f)
		}
	}
	d := &decl{kind: kindFixture, name: name, opts: opts, fixture: erased}
	suite.registry.add(suite.decl, d)
	return &FixtureDecl[F]{registry: suite.registry, decl: d}
}

// Case registers a test case that receives the fixture value.
func Case[F any](fixture *FixtureDecl[F], name string, body func(*ldtest.T, F), opts ...Option) {
	erased := func(t *ldtest.T) {
		f, _ := t.Fixture().(F)
		body(t, f)
	}
	fixture.registry.add(fixture.decl, &decl{kind: kindCase, name: name, opts: opts, body: erased})
}

// Test registers a test case directly in a suite, without a fixture.
func Test(suite *SuiteDecl, name string, body func(*ldtest.T), opts ...Option) {
	suite.registry.add(suite.decl, &decl{kind: kindCase, name: name, opts: opts, body: body})
}
