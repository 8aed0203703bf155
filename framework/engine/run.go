package engine

import (
	"context"

	"github.com/launchdarkly/test-engine/framework/ldtest"
)

// Run executes a resolved test tree and returns the root of its results. The root result has an
// empty name; suites are its children.
//
// Execution is strictly sequential. If ctx is canceled, no further node starts, the nodes that
// were skipped are reported through a Canceled status, and fixtures that were already set up are
// still torn down.
func Run(ctx context.Context, root *TestInvoker, tc *ldtest.TestContext) *ldtest.TestResult {
	return RunInArena(ctx, root, tc, NewInstanceArena())
}

// RunInArena is the same as Run, but uses an arena supplied by the caller so that the caller
// can inspect it afterward.
func RunInArena(
	ctx context.Context,
	root *TestInvoker,
	tc *ldtest.TestContext,
	arena *InstanceArena,
) *ldtest.TestResult {
	if tc == nil {
		tc = ldtest.NewTestContext(ldtest.TestConfiguration{})
	}
	result := ldtest.NewTestResult(nil)
	root.invoke(invocation{ctx: ctx, tc: tc, arena: arena}, result)
	return result
}

// ListTests returns the names of the browsable nodes of a resolved tree, in execution order.
// Parameter values are not known until run time, so parameterized nodes appear once.
func ListTests(root *TestInvoker) []ldtest.TestName {
	var ret []ldtest.TestName
	listTests(root, nil, &ret)
	return ret
}

func listTests(v *TestInvoker, name ldtest.TestName, out *[]ldtest.TestName) {
	if v == nil {
		return
	}
	switch v.Kind {
	case InvokeResultGroup:
		if v.Flags.Has(Browsable) && !v.Flags.Has(Hidden) {
			*out = append(*out, name.PlusPart(v.Part))
		}
	case InvokeNamed:
		name = name.PlusPart(namePart(v.Host.Label, v.Host.Flags))
	}
	for _, c := range v.Children {
		listTests(c, name, out)
	}
	listTests(v.Inner, name, out)
}
