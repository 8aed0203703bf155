package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"
	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
)

// InstanceID addresses a TestInstance within its arena. The zero value means no instance.
type InstanceID int

const NoInstance InstanceID = 0

// TestInstance is the per-run state of one host: the current parameter value or the fixture
// value, plus any reusable fixtures retained by a named scope. Instances live in an
// InstanceArena and refer to their parent by ID.
type TestInstance struct {
	ID     InstanceID
	Parent InstanceID
	Host   *TestHost

	values     []ldvalue.Value
	index      int
	fixture    interface{}
	hasFixture bool
	retained   []InstanceID
	destroyed  bool
}

func (i *TestInstance) setValues(values []ldvalue.Value) {
	i.values = values
	i.index = -1
}

func (i *TestInstance) setFixture(fixture interface{}) {
	i.fixture = fixture
	i.hasFixture = true
}

// HasNext is true if MoveNext would succeed.
func (i *TestInstance) HasNext() bool { return i.index+1 < len(i.values) }

// MoveNext advances to the next parameter value.
func (i *TestInstance) MoveNext() bool {
	if !i.HasNext() {
		return false
	}
	i.index++
	return true
}

// SeekTo moves directly to a value index. It is used when an instance has been re-created.
func (i *TestInstance) SeekTo(index int) bool {
	if index < 0 || index >= len(i.values) {
		return false
	}
	i.index = index
	return true
}

// Current is the current parameter value, or null before the first MoveNext.
func (i *TestInstance) Current() ldvalue.Value {
	if i.index < 0 || i.index >= len(i.values) {
		return ldvalue.Null()
	}
	return i.values[i.index]
}

// Index is the position of the current value.
func (i *TestInstance) Index() int { return i.index }

// Len is the number of parameter values.
func (i *TestInstance) Len() int { return len(i.values) }

func (i *TestInstance) Fixture() (interface{}, bool) { return i.fixture, i.hasFixture }

// InstanceArena owns every TestInstance of one run.
type InstanceArena struct {
	instances []*TestInstance
	lock      sync.Mutex
}

func NewInstanceArena() *InstanceArena {
	return &InstanceArena{}
}

// Create adds a new instance. Its ID is never reused within the arena.
func (a *InstanceArena) Create(host *TestHost, parent InstanceID) *TestInstance {
	a.lock.Lock()
	defer a.lock.Unlock()
	inst := &TestInstance{ID: InstanceID(len(a.instances) + 1), Parent: parent, Host: host, index: -1}
	a.instances = append(a.instances, inst)
	return inst
}

// Get returns the instance, or nil if it does not exist or has been destroyed.
func (a *InstanceArena) Get(id InstanceID) *TestInstance {
	a.lock.Lock()
	defer a.lock.Unlock()
	return a.get(id)
}

func (a *InstanceArena) get(id InstanceID) *TestInstance {
	if id <= 0 || int(id) > len(a.instances) {
		return nil
	}
	inst := a.instances[id-1]
	if inst.destroyed {
		return nil
	}
	return inst
}

// Retain makes a scope instance responsible for destroying the child instance.
func (a *InstanceArena) Retain(scope InstanceID, child *TestInstance) {
	a.lock.Lock()
	defer a.lock.Unlock()
	if s := a.get(scope); s != nil {
		s.retained = append(s.retained, child.ID)
		child.Parent = scope
	}
}

// Retained finds an instance of the host that the scope is keeping alive.
func (a *InstanceArena) Retained(scope InstanceID, host *TestHost) *TestInstance {
	a.lock.Lock()
	defer a.lock.Unlock()
	s := a.get(scope)
	if s == nil {
		return nil
	}
	for _, id := range s.retained {
		if c := a.get(id); c != nil && c.Host == host {
			return c
		}
	}
	return nil
}

// Live counts the instances that have not been destroyed.
func (a *InstanceArena) Live() int {
	a.lock.Lock()
	defer a.lock.Unlock()
	n := 0
	for _, inst := range a.instances {
		if !inst.destroyed {
			n++
		}
	}
	return n
}

// Destroy tears down the instance and everything it retains, newest first, and unlinks it from
// its parent. Teardown runs even if ctx is already canceled. Every teardown is attempted; the
// errors are combined.
func (a *InstanceArena) Destroy(ctx context.Context, id InstanceID) error {
	a.lock.Lock()
	inst := a.get(id)
	if inst == nil {
		a.lock.Unlock()
		return nil
	}
	inst.destroyed = true
	retained := inst.retained
	inst.retained = nil
	if parent := a.get(inst.Parent); parent != nil {
		for i, r := range parent.retained {
			if r == id {
				parent.retained = append(parent.retained[:i:i], parent.retained[i+1:]...)
				break
			}
		}
	}
	a.lock.Unlock()

	var errs *multierror.Error
	for i := len(retained) - 1; i >= 0; i-- {
		if err := a.Destroy(ctx, retained[i]); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	if inst.Host.Kind == HostFixture && inst.hasFixture && inst.Host.Fixture.TearDown != nil {
		fixture := inst.fixture
		err := safely(func() error {
			return inst.Host.Fixture.TearDown(context.WithoutCancel(ctx), fixture)
		})
		if err != nil {
			errs = multierror.Append(errs, fmt.Errorf("tearing down fixture %q: %w", inst.Host.Label, err))
		}
	}
	inst.fixture = nil
	return singleOrMulti(errs)
}

func singleOrMulti(errs *multierror.Error) error {
	switch {
	case errs == nil || len(errs.Errors) == 0:
		return nil
	case len(errs.Errors) == 1:
		return errs.Errors[0]
	default:
		return errs
	}
}
