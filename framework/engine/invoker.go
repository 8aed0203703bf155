package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/framework/opt"
)

// InvokerKind identifies the behavior of a TestInvoker.
type InvokerKind int

const (
	// InvokeCollection runs its children in order, sharing the current instance.
	InvokeCollection InvokerKind = iota
	// InvokeNamed creates a named scope instance around its inner invoker.
	InvokeNamed
	// InvokeFixture sets up a fixture, runs its inner invoker, and tears the fixture down.
	InvokeFixture
	// InvokeParameterized runs its inner invoker once per parameter value.
	InvokeParameterized
	// InvokeResultGroup reports its subtree as a single child result.
	InvokeResultGroup
	// InvokeProxy runs an inner invoker under a different reported name, possibly repeatedly.
	InvokeProxy
	// InvokeCase runs a test body.
	InvokeCase
	// InvokeExcluded reports an ignored test without running anything.
	InvokeExcluded
)

func (k InvokerKind) String() string {
	switch k {
	case InvokeCollection:
		return "collection"
	case InvokeNamed:
		return "named"
	case InvokeFixture:
		return "fixture"
	case InvokeParameterized:
		return "parameterized"
	case InvokeResultGroup:
		return "result-group"
	case InvokeProxy:
		return "proxy"
	case InvokeCase:
		return "case"
	case InvokeExcluded:
		return "excluded"
	default:
		return fmt.Sprintf("InvokerKind(%d)", int(k))
	}
}

// TestInvoker is one executable node of a resolved test tree. Invokers are built once and can
// be run any number of times; all per-run state lives in TestInstances.
type TestInvoker struct {
	Kind InvokerKind

	// Host is set for the kinds that are created by TestHost.Wrap.
	Host *TestHost

	// Flags apply to collections and result groups; host-based invokers copy the host's flags.
	Flags HostFlags

	// Part is the name under which a result group reports.
	Part ldtest.TestNamePart

	Children []*TestInvoker
	Inner    *TestInvoker

	// Body and Timeout are used by InvokeCase.
	Body    func(*ldtest.T)
	Timeout time.Duration

	// Reason is used by InvokeExcluded.
	Reason string
}

func Collection(flags HostFlags, children ...*TestInvoker) *TestInvoker {
	return &TestInvoker{Kind: InvokeCollection, Flags: flags, Children: children}
}

func ResultGroup(part ldtest.TestNamePart, flags HostFlags, inner *TestInvoker) *TestInvoker {
	return &TestInvoker{Kind: InvokeResultGroup, Part: part, Flags: flags, Inner: inner}
}

func Case(body func(*ldtest.T), timeout time.Duration) *TestInvoker {
	return &TestInvoker{Kind: InvokeCase, Body: body, Timeout: timeout}
}

func Excluded(reason string) *TestInvoker {
	return &TestInvoker{Kind: InvokeExcluded, Reason: reason}
}

// invocation is the state threaded through one run of a subtree.
type invocation struct {
	ctx   context.Context
	tc    *ldtest.TestContext
	arena *InstanceArena
	name  ldtest.TestName
	chain []InstanceID
}

func (inv invocation) with(name ldtest.TestName, inst InstanceID) invocation {
	ret := inv
	ret.name = name
	if inst != NoInstance {
		ret.chain = append(append(make([]InstanceID, 0, len(inv.chain)+1), inv.chain...), inst)
	}
	return ret
}

func (inv invocation) parent() InstanceID {
	if len(inv.chain) == 0 {
		return NoInstance
	}
	return inv.chain[len(inv.chain)-1]
}

// scope is the innermost named scope instance, which retains reusable fixtures.
func (inv invocation) scope() InstanceID {
	for i := len(inv.chain) - 1; i >= 0; i-- {
		if inst := inv.arena.Get(inv.chain[i]); inst != nil && inst.Host.Kind == HostNamed {
			return inst.ID
		}
	}
	return NoInstance
}

// values collects the parameter values and the innermost fixture visible at this point.
func (inv invocation) values() (ldtest.Parameters, interface{}) {
	var params ldtest.Parameters
	var fixture interface{}
	for _, id := range inv.chain {
		inst := inv.arena.Get(id)
		if inst == nil {
			continue
		}
		switch inst.Host.Kind {
		case HostParameter:
			params = params.With(inst.Host.ParamName, inst.Current())
		case HostFixture:
			if f, ok := inst.Fixture(); ok {
				fixture = f
			}
		}
	}
	return params, fixture
}

// invoke runs the subtree and records its outcome in target, which must not be attached yet.
// The returned status is the combined outcome of what this invoker contributed.
func (v *TestInvoker) invoke(inv invocation, target *ldtest.TestResult) ldtest.Status {
	switch v.Kind {
	case InvokeCollection:
		return v.invokeCollection(inv, target)
	case InvokeNamed:
		return v.invokeNamed(inv, target)
	case InvokeFixture:
		return v.invokeFixture(inv, target)
	case InvokeParameterized:
		return v.invokeParameterized(inv, target)
	case InvokeResultGroup:
		return v.invokeResultGroup(inv, target)
	case InvokeProxy:
		return v.invokeProxy(inv, target)
	case InvokeCase:
		return v.invokeCase(inv, target)
	case InvokeExcluded:
		return v.invokeExcluded(inv, target)
	default:
		_ = target.AddError(fmt.Errorf("unknown invoker kind %s", v.Kind))
		return ldtest.StatusError
	}
}

func canceled(inv invocation, target *ldtest.TestResult, outcome ldtest.Status) (ldtest.Status, bool) {
	if inv.ctx.Err() == nil {
		return outcome, false
	}
	_ = target.MergeStatus(ldtest.StatusCanceled)
	return ldtest.MergeStatus(outcome, ldtest.StatusCanceled), true
}

func (v *TestInvoker) invokeCollection(inv invocation, target *ldtest.TestResult) ldtest.Status {
	outcome := ldtest.StatusNone
	for _, child := range v.Children {
		var stop bool
		if outcome, stop = canceled(inv, target, outcome); stop {
			break
		}
		s := child.invoke(inv, target)
		outcome = ldtest.MergeStatus(outcome, s)
		if s.Failed() && !v.Flags.Has(ContinueOnError) {
			break
		}
	}
	return outcome
}

func (v *TestInvoker) invokeNamed(inv invocation, target *ldtest.TestResult) ldtest.Status {
	inst := v.Host.CreateInstance(inv.arena, inv.parent())
	outcome := v.Inner.invoke(inv.with(inv.name.PlusPart(namePart(v.Host.Label, v.Host.Flags)), inst.ID), target)
	if err := inv.arena.Destroy(inv.ctx, inst.ID); err != nil {
		outcome = foldTearDownError(inv, target, outcome, err)
	}
	return outcome
}

func (v *TestInvoker) invokeFixture(inv invocation, target *ldtest.TestResult) ldtest.Status {
	host := v.Host
	loggers := inv.tc.Loggers()
	var inst *TestInstance
	scope := NoInstance
	if host.CanReuseInstance() {
		scope = inv.scope()
		inst = inv.arena.Retained(scope, host)
	}
	if inst == nil {
		inst = host.CreateInstance(inv.arena, inv.parent())
		loggers.Debugf("Setting up fixture %q for %s", host.Label, inv.name)
		if err := host.Initialize(inv.ctx, inv.tc, inst); err != nil {
			_ = inv.arena.Destroy(inv.ctx, inst.ID)
			return setUpFailed(inv, target, fmt.Errorf("setting up fixture %q: %w", host.Label, err))
		}
		if scope != NoInstance {
			inv.arena.Retain(scope, inst)
		}
	}
	outcome := v.Inner.invoke(inv.with(inv.name, inst.ID), target)
	if scope == NoInstance {
		loggers.Debugf("Tearing down fixture %q for %s", host.Label, inv.name)
		if err := inv.arena.Destroy(inv.ctx, inst.ID); err != nil {
			outcome = foldTearDownError(inv, target, outcome, err)
		}
	}
	return outcome
}

func (v *TestInvoker) invokeParameterized(inv invocation, target *ldtest.TestResult) ldtest.Status {
	host := v.Host
	inst, err := v.createIterating(inv)
	if err != nil {
		return setUpFailed(inv, target, err)
	}
	if inst.Len() == 0 {
		_ = inv.arena.Destroy(inv.ctx, inst.ID)
		_ = target.AddMessage(fmt.Sprintf("parameter %q has no values", host.ParamName))
		_ = target.MergeStatus(ldtest.StatusIgnored)
		return ldtest.StatusIgnored
	}

	outcome := ldtest.StatusNone
	for i := 0; ; i++ {
		var stop bool
		if outcome, stop = canceled(inv, target, outcome); stop {
			break
		}
		if i > 0 && !host.CanReuseInstance() {
			// re-create the instance and read the source again
			if err := inv.arena.Destroy(inv.ctx, inst.ID); err != nil {
				outcome = foldTearDownError(inv, target, outcome, err)
			}
			if inst, err = v.createIterating(inv); err != nil {
				return ldtest.MergeStatus(outcome, setUpFailed(inv, target, err))
			}
			if !inst.SeekTo(i) {
				break
			}
		} else if !inst.MoveNext() {
			break
		}

		part := namePart(host.ParamName, host.Flags)
		part.Parameter = opt.Some(ldtest.ParameterLabel(inst.Current()))
		s := v.invokeIteration(inv.with(inv.name.PlusPart(part), inst.ID), target)
		outcome = ldtest.MergeStatus(outcome, s)
		if s.Failed() && !host.Flags.Has(ContinueOnError) {
			break
		}
		if !inst.HasNext() {
			break
		}
	}
	if err := inv.arena.Destroy(inv.ctx, inst.ID); err != nil {
		outcome = foldTearDownError(inv, target, outcome, err)
	}
	return outcome
}

func (v *TestInvoker) createIterating(inv invocation) (*TestInstance, error) {
	inst := v.Host.CreateInstance(inv.arena, inv.parent())
	if err := v.Host.Initialize(inv.ctx, inv.tc, inst); err != nil {
		_ = inv.arena.Destroy(inv.ctx, inst.ID)
		return nil, fmt.Errorf("reading values for %s %q: %w", v.Host.Kind, v.Host.Label, err)
	}
	return inst, nil
}

// invokeIteration runs the inner invoker for one iteration, in a new result node unless the
// host's flags say otherwise.
func (v *TestInvoker) invokeIteration(inv invocation, target *ldtest.TestResult) ldtest.Status {
	if ResultNesting(v.Flags) == NestIntoParent {
		return v.Inner.invoke(inv, target)
	}
	node := ldtest.NewTestResult(inv.name)
	startTime := time.Now()
	v.Inner.invoke(inv, node)
	if node.Duration() == 0 {
		_ = node.SetDuration(time.Since(startTime))
	}
	_ = target.AddChild(node)
	return node.Status()
}

func (v *TestInvoker) invokeResultGroup(inv invocation, target *ldtest.TestResult) ldtest.Status {
	name := inv.name.PlusPart(v.Part)
	if v.Flags.Has(Browsable) {
		if f := inv.tc.Filter(); f != nil && !f.Match(name) {
			if ResultNesting(v.Flags) == NestIntoParent {
				return ldtest.StatusNone
			}
			node := ldtest.NewTestResult(name)
			_ = node.SetStatus(ldtest.StatusIgnored)
			_ = node.AddMessage(excludedByFilter)
			inv.tc.TestSkipped(name, excludedByFilter)
			_ = target.AddChild(node)
			return ldtest.StatusIgnored
		}
	}
	if ResultNesting(v.Flags) == NestIntoParent {
		return v.Inner.invoke(inv, target)
	}
	node := ldtest.NewTestResult(name)
	startTime := time.Now()
	v.Inner.invoke(inv, node)
	_ = node.SetDuration(time.Since(startTime))
	_ = target.AddChild(node)
	return node.Status()
}

const excludedByFilter = "excluded by filter parameters"

func (v *TestInvoker) invokeProxy(inv invocation, target *ldtest.TestResult) ldtest.Status {
	host := v.Host
	if host.Count <= 1 {
		name := inv.name
		if host.Label != "" && len(name) > 0 {
			last := name.Last()
			last.Label = host.Label
			name = name.Parent().PlusPart(last)
		}
		return v.Inner.invoke(inv.with(name, NoInstance), target)
	}
	inst, err := v.createIterating(inv)
	if err != nil {
		_ = target.AddError(err)
		return ldtest.StatusError
	}
	outcome := ldtest.StatusNone
	for inst.MoveNext() {
		var stop bool
		if outcome, stop = canceled(inv, target, outcome); stop {
			break
		}
		label := fmt.Sprintf("#%d", inst.Current().IntValue())
		s := v.invokeIteration(inv.with(inv.name.PlusPart(namePart(label, host.Flags)), inst.ID), target)
		outcome = ldtest.MergeStatus(outcome, s)
		if s.Failed() && !host.Flags.Has(ContinueOnError) {
			break
		}
	}
	if err := inv.arena.Destroy(inv.ctx, inst.ID); err != nil {
		outcome = foldTearDownError(inv, target, outcome, err)
	}
	return outcome
}

func (v *TestInvoker) invokeCase(inv invocation, target *ldtest.TestResult) ldtest.Status {
	if s, stop := canceled(inv, target, ldtest.StatusNone); stop {
		return s
	}
	ctx := inv.ctx
	if v.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, v.Timeout)
		defer cancel()
	}
	params, fixture := inv.values()
	ldtest.RunScope(ldtest.Scope{
		Context:     ctx,
		TestContext: inv.tc,
		Name:        inv.name,
		Params:      params,
		Fixture:     fixture,
		Result:      target,
	}, v.Body)
	return target.Status()
}

func (v *TestInvoker) invokeExcluded(inv invocation, target *ldtest.TestResult) ldtest.Status {
	_ = target.MergeStatus(ldtest.StatusIgnored)
	_ = target.AddMessage(v.Reason)
	inv.tc.TestSkipped(inv.name, v.Reason)
	return ldtest.StatusIgnored
}

// setUpFailed and foldTearDownError report an error from outside of a test body on the node that
// owns it, and also record it for the run.
func setUpFailed(inv invocation, target *ldtest.TestResult, err error) ldtest.Status {
	inv.tc.AddError(fmt.Errorf("%s: %w", inv.name, err))
	inv.tc.TestError(inv.name, err)
	_ = target.AddError(err)
	return ldtest.StatusError
}

func foldTearDownError(inv invocation, target *ldtest.TestResult, outcome ldtest.Status, err error) ldtest.Status {
	inv.tc.AddError(fmt.Errorf("%s: %w", inv.name, err))
	inv.tc.TestError(inv.name, err)
	_ = target.AddError(err)
	return ldtest.MergeStatus(outcome, target.Status())
}
