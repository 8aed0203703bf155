package ldtest

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
)

// ErrResultFrozen is returned by TestResult mutators once the result has been attached to a parent.
var ErrResultFrozen = errors.New("test result is attached to a parent and can no longer be modified")

// TestResult is one node of the hierarchical outcome of a test run.
//
// A result can be modified freely until it is passed to AddChild on another result. After that
// it is frozen: every mutator returns ErrResultFrozen, and only the parent's status reflects it.
type TestResult struct {
	name      TestName
	status    Status
	err       error
	aggregate bool
	children  []*TestResult
	messages  []string
	duration  time.Duration
	attached  bool
	lock      sync.Mutex
}

func NewTestResult(name TestName) *TestResult {
	return &TestResult{name: name}
}

func (r *TestResult) Name() TestName { return r.name }

func (r *TestResult) Status() Status {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.status
}

// Failed is true if the status is Error or Canceled.
func (r *TestResult) Failed() bool { return r.Status().Failed() }

// Err returns the error for this node, if any. After more than one AddError call this is a
// *multierror.Error.
func (r *TestResult) Err() error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.err
}

// ErrorCount is the number of AddError calls that contributed to Err.
func (r *TestResult) ErrorCount() int {
	r.lock.Lock()
	defer r.lock.Unlock()
	switch {
	case r.err == nil:
		return 0
	case r.aggregate:
		return len(r.err.(*multierror.Error).Errors) //nolint:errorlint
	default:
		return 1
	}
}

// Errors returns the individual errors, in the order they were added.
func (r *TestResult) Errors() []error {
	r.lock.Lock()
	defer r.lock.Unlock()
	switch {
	case r.err == nil:
		return nil
	case r.aggregate:
		return append([]error(nil), r.err.(*multierror.Error).Errors...) //nolint:errorlint
	default:
		return []error{r.err}
	}
}

func (r *TestResult) Children() []*TestResult {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]*TestResult(nil), r.children...)
}

func (r *TestResult) Messages() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.messages...)
}

func (r *TestResult) Duration() time.Duration {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.duration
}

// IsAttached is true once the result has been added to a parent.
func (r *TestResult) IsAttached() bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.attached
}

// SetStatus replaces the status.
func (r *TestResult) SetStatus(status Status) error {
	return r.mutate(func() { r.status = status })
}

// MergeStatus combines the current status with another one using the same rule as AddChild.
func (r *TestResult) MergeStatus(status Status) error {
	return r.mutate(func() { r.status = MergeStatus(r.status, status) })
}

// AddError records a failure and forces the status to Error, unless the node was already
// canceled. The first call sets the sole error; each later call adds to an aggregate.
func (r *TestResult) AddError(err error) error {
	if err == nil {
		return nil
	}
	return r.mutate(func() {
		switch {
		case r.err == nil:
			r.err = err
		case r.aggregate:
			agg := r.err.(*multierror.Error) //nolint:errorlint
			agg.Errors = append(agg.Errors, err)
		default:
			r.err = &multierror.Error{Errors: []error{r.err, err}}
			r.aggregate = true
		}
		if r.status != StatusCanceled {
			r.status = StatusError
		}
	})
}

// AddWarning records a message and raises the status to Warning if it was not already worse.
func (r *TestResult) AddWarning(message string) error {
	return r.mutate(func() {
		r.messages = append(r.messages, message)
		r.status = MergeStatus(r.status, StatusWarning)
	})
}

func (r *TestResult) AddMessage(message string) error {
	return r.mutate(func() { r.messages = append(r.messages, message) })
}

func (r *TestResult) SetDuration(d time.Duration) error {
	return r.mutate(func() { r.duration = d })
}

// AddChild appends the child, freezes it, and merges its status into this result.
func (r *TestResult) AddChild(child *TestResult) error {
	if child == r {
		return errors.New("a test result cannot be its own child")
	}
	child.lock.Lock()
	if child.attached {
		child.lock.Unlock()
		return fmt.Errorf("test result %q: %w", child.name, ErrResultFrozen)
	}
	child.attached = true
	childStatus := child.status
	child.lock.Unlock()
	return r.mutate(func() {
		r.children = append(r.children, child)
		r.status = MergeStatus(r.status, childStatus)
	})
}

// Clear resets the error, status and messages of an unattached result.
func (r *TestResult) Clear() error {
	return r.mutate(func() {
		r.err = nil
		r.aggregate = false
		r.status = StatusNone
		r.messages = nil
	})
}

func (r *TestResult) mutate(fn func()) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	if r.attached {
		return ErrResultFrozen
	}
	fn()
	return nil
}

// Walk visits this result and its descendants depth-first, parents before children.
func (r *TestResult) Walk(fn func(result *TestResult, depth int)) {
	r.walk(fn, 0)
}

func (r *TestResult) walk(fn func(*TestResult, int), depth int) {
	fn(r, depth)
	for _, c := range r.Children() {
		c.walk(fn, depth+1)
	}
}

// Leaves returns the results that have no children, in execution order. These are the individual
// test cases.
func (r *TestResult) Leaves() []*TestResult {
	var ret []*TestResult
	r.Walk(func(result *TestResult, _ int) {
		if len(result.Children()) == 0 {
			ret = append(ret, result)
		}
	})
	return ret
}

// Find returns the descendant (or this result) whose rendered name equals path.
func (r *TestResult) Find(path string) *TestResult {
	var found *TestResult
	r.Walk(func(result *TestResult, _ int) {
		if found == nil && result.name.String() == path {
			found = result
		}
	})
	return found
}

// Summary counts leaf results by status.
type Summary struct {
	Total    int
	Passed   int
	Failed   int
	Ignored  int
	Warnings int
	Canceled int
}

func (s Summary) OK() bool { return s.Failed == 0 && s.Canceled == 0 }

func (r *TestResult) Summary() Summary {
	var s Summary
	for _, leaf := range r.Leaves() {
		s.Total++
		switch leaf.Status() {
		case StatusSuccess:
			s.Passed++
		case StatusWarning:
			s.Passed++
			s.Warnings++
		case StatusError:
			s.Failed++
		case StatusCanceled:
			s.Canceled++
		default:
			s.Ignored++
		}
	}
	return s
}

// ResultSnapshot is a plain copy of a result tree, used for serialization.
type ResultSnapshot struct {
	Name     TestName
	Status   Status
	Errors   []string
	Messages []string
	Duration time.Duration
	Children []ResultSnapshot
}

func (r *TestResult) Snapshot() ResultSnapshot {
	s := ResultSnapshot{
		Name:     r.name,
		Status:   r.Status(),
		Messages: r.Messages(),
		Duration: r.Duration(),
	}
	for _, e := range r.Errors() {
		s.Errors = append(s.Errors, e.Error())
	}
	for _, c := range r.Children() {
		s.Children = append(s.Children, c.Snapshot())
	}
	return s
}

// FromSnapshot rebuilds a result tree, for instance one received from a remote host. The status
// is taken from the snapshot as is rather than recomputed. The returned root is not attached.
func FromSnapshot(s ResultSnapshot) *TestResult {
	r := NewTestResult(s.Name)
	for _, e := range s.Errors {
		_ = r.AddError(errors.New(e))
	}
	r.messages = append([]string(nil), s.Messages...)
	for _, c := range s.Children {
		_ = r.AddChild(FromSnapshot(c))
	}
	r.status = s.Status
	r.duration = s.Duration
	return r
}
