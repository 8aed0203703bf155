package engine

import (
	"context"
	"fmt"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/test-engine/framework/ldtest"
)

// HostKind identifies the runtime behavior of a TestHost.
type HostKind int

const (
	// HostNamed is a scope that exists only for naming and grouping. It is also where reusable
	// fixtures are retained.
	HostNamed HostKind = iota
	// HostFixture sets up a fixture value before its subtree runs and tears it down afterward.
	HostFixture
	// HostParameter runs its subtree once per value of a ParameterSource.
	HostParameter
	// HostRepeat runs its subtree a fixed number of times.
	HostRepeat
)

func (k HostKind) String() string {
	switch k {
	case HostNamed:
		return "named"
	case HostFixture:
		return "fixture"
	case HostParameter:
		return "parameter"
	case HostRepeat:
		return "repeat"
	default:
		return fmt.Sprintf("HostKind(%d)", int(k))
	}
}

// HostFlags modify how a host or invoker runs and reports.
type HostFlags uint

const (
	// ContinueOnError means that a failed iteration or child does not stop the following ones.
	ContinueOnError HostFlags = 1 << iota
	// Browsable marks a node that is a test in its own right: it is listed, and filters apply
	// to it.
	Browsable
	// Hidden means the node does not report its own result and its label is left out of paths.
	Hidden
	// PathHidden means the node reports a result but its label is left out of paths.
	PathHidden
	// FlattenHierarchy means the node does not report its own result, so the results of its
	// subtree attach to the enclosing result. Its label is still part of paths.
	FlattenHierarchy
)

func (f HostFlags) Has(flag HostFlags) bool { return f&flag != 0 }

// Nesting says where the results of a node's subtree attach.
type Nesting int

const (
	NestNewChild Nesting = iota
	NestIntoParent
)

// ResultNesting is the one place where flags decide result nesting. Hidden and FlattenHierarchy
// suppress the node's own result; no other flag, including ContinueOnError, has any effect.
func ResultNesting(flags HostFlags) Nesting {
	if flags.Has(Hidden) || flags.Has(FlattenHierarchy) {
		return NestIntoParent
	}
	return NestNewChild
}

// namePart is how a label appears in the TestName of a node with these flags.
func namePart(label string, flags HostFlags) ldtest.TestNamePart {
	return ldtest.TestNamePart{Label: label, Hidden: flags.Has(Hidden) || flags.Has(PathHidden)}
}

// FixtureFuncs sets up and tears down a fixture value. Either may be nil.
type FixtureFuncs struct {
	SetUp    func(ctx context.Context, tc *ldtest.TestContext) (interface{}, error)
	TearDown func(ctx context.Context, fixture interface{}) error
}

// TestHost is the static description of one runtime behavior in the test tree. It creates the
// per-run TestInstance for its node and wraps an inner invoker into the matching composite
// invoker.
type TestHost struct {
	Kind  HostKind
	Label string
	Flags HostFlags

	// Fixture is used by HostFixture.
	Fixture FixtureFuncs
	// Reusable means a HostFixture keeps one fixture per enclosing named scope, instead of one
	// per invocation.
	Reusable bool

	// ParamName and Source are used by HostParameter.
	ParamName string
	Source    ParameterSource

	// Count is used by HostRepeat. If Count is 1 and Label is set, the subtree is reported under
	// Label instead of its own name.
	Count int
}

func NamedHost(label string, flags HostFlags) *TestHost {
	return &TestHost{Kind: HostNamed, Label: label, Flags: flags}
}

func FixtureHost(label string, funcs FixtureFuncs, reusable bool) *TestHost {
	return &TestHost{Kind: HostFixture, Label: label, Fixture: funcs, Reusable: reusable}
}

func ParameterHost(name string, source ParameterSource, flags HostFlags) *TestHost {
	return &TestHost{Kind: HostParameter, Label: name, ParamName: name, Source: source, Flags: flags}
}

func RepeatHost(count int, rename string, flags HostFlags) *TestHost {
	return &TestHost{Kind: HostRepeat, Label: rename, Count: count, Flags: flags}
}

// CreateInstance adds an unattached instance for this host to the arena.
func (h *TestHost) CreateInstance(arena *InstanceArena, parent InstanceID) *TestInstance {
	return arena.Create(h, parent)
}

// Initialize prepares a created instance: it sets up the fixture or reads the parameter values.
// A failure here means the subtree must not run.
func (h *TestHost) Initialize(ctx context.Context, tc *ldtest.TestContext, inst *TestInstance) error {
	return safely(func() error {
		switch h.Kind {
		case HostFixture:
			if h.Fixture.SetUp == nil {
				inst.setFixture(nil)
				return nil
			}
			fixture, err := h.Fixture.SetUp(ctx, tc)
			if err != nil {
				return err
			}
			inst.setFixture(fixture)
		case HostParameter:
			if h.Source == nil {
				return fmt.Errorf("no source for parameter %q", h.ParamName)
			}
			values, err := h.Source.Values(ctx, tc)
			if err != nil {
				return err
			}
			inst.setValues(values)
		case HostRepeat:
			count := h.Count
			if count < 1 {
				count = 1
			}
			values := make([]ldvalue.Value, 0, count)
			for i := 1; i <= count; i++ {
				values = append(values, ldvalue.Int(i))
			}
			inst.setValues(values)
		}
		return nil
	})
}

// CanReuseInstance is true if one instance can move through every parameter value, instead of
// being re-created for each one.
func (h *TestHost) CanReuseInstance() bool {
	switch h.Kind {
	case HostParameter:
		return IsReusable(h.Source)
	case HostFixture:
		return h.Reusable
	default:
		return true
	}
}

// Wrap returns the composite invoker for this host around inner.
func (h *TestHost) Wrap(inner *TestInvoker) *TestInvoker {
	kind := InvokeNamed
	switch h.Kind {
	case HostFixture:
		kind = InvokeFixture
	case HostParameter:
		kind = InvokeParameterized
	case HostRepeat:
		kind = InvokeProxy
	}
	return &TestInvoker{Kind: kind, Host: h, Flags: h.Flags, Inner: inner}
}

func safely(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unexpected panic: %+v", r)
		}
	}()
	return fn()
}
