package ldtest

import (
	"errors"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTestNameString(t *testing.T) {
	assert.Equal(t, "", TestName{}.String())
	assert.Equal(t, "parent test", NewTestName("parent test").String())
	assert.Equal(t, "parent test/subtest", NewTestName("parent test", "subtest").String())
	assert.Equal(t, "suite/case/x(1)", NewTestName("suite", "case").PlusParameter("x", "1").String())
	assert.Equal(t, "suite/case", NewTestName("suite").PlusHidden("group").Plus("case").String())
}

func TestTestNamePlus(t *testing.T) {
	assert.Equal(t, NewTestName("name 1"), TestName{}.Plus("name 1"))
	assert.Equal(t, NewTestName("name 1", "name 2"), TestName{}.Plus("name 1").Plus("name 2"))

	// Calling Plus does not modify the original value
	n1 := NewTestName("name 1")
	n2a := n1.Plus("name 2a")
	n2b := n1.Plus("name 2b")
	assert.Equal(t, NewTestName("name 1"), n1)
	assert.Equal(t, NewTestName("name 1", "name 2a"), n2a)
	assert.Equal(t, NewTestName("name 1", "name 2b"), n2b)

	assert.True(t, n2a.HasPrefix(n1))
	assert.False(t, n2a.HasPrefix(n2b))
	assert.Equal(t, n1, n2a.Parent())
}

func TestMergeStatus(t *testing.T) {
	all := []Status{StatusNone, StatusIgnored, StatusSuccess, StatusWarning, StatusError, StatusCanceled}
	for _, parent := range all {
		for _, child := range all {
			merged := MergeStatus(parent, child)
			if child.Failed() || parent.Failed() {
				assert.True(t, merged.Failed(), "parent=%s child=%s", parent, child)
				assert.NotEqual(t, StatusSuccess, merged)
			}
		}
	}
	assert.Equal(t, StatusSuccess, MergeStatus(StatusNone, StatusSuccess))
	assert.Equal(t, StatusSuccess, MergeStatus(StatusSuccess, StatusIgnored))
	assert.Equal(t, StatusWarning, MergeStatus(StatusSuccess, StatusWarning))
	assert.Equal(t, StatusCanceled, MergeStatus(StatusSuccess, StatusCanceled))
	assert.Equal(t, StatusError, MergeStatus(StatusError, StatusCanceled))
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{StatusNone, StatusIgnored, StatusSuccess, StatusWarning, StatusError, StatusCanceled} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var parsed Status
		require.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, s, parsed)
	}
	_, err := ParseStatus("bogus")
	assert.Error(t, err)
}

func TestResultStatusIsNeverSuccessWithFailedChild(t *testing.T) {
	for _, childStatus := range []Status{StatusError, StatusCanceled} {
		parent := NewTestResult(NewTestName("parent"))
		ok := NewTestResult(NewTestName("parent", "a"))
		require.NoError(t, ok.SetStatus(StatusSuccess))
		bad := NewTestResult(NewTestName("parent", "b"))
		require.NoError(t, bad.SetStatus(childStatus))
		later := NewTestResult(NewTestName("parent", "c"))
		require.NoError(t, later.SetStatus(StatusSuccess))

		require.NoError(t, parent.AddChild(ok))
		require.NoError(t, parent.AddChild(bad))
		require.NoError(t, parent.AddChild(later))
		assert.Equal(t, childStatus, parent.Status())
	}
}

func TestAttachedResultRejectsMutation(t *testing.T) {
	parent := NewTestResult(NewTestName("parent"))
	child := NewTestResult(NewTestName("parent", "child"))
	require.NoError(t, parent.AddChild(child))
	assert.True(t, child.IsAttached())

	assert.Equal(t, ErrResultFrozen, child.SetStatus(StatusError))
	assert.Equal(t, ErrResultFrozen, child.AddError(errors.New("x")))
	assert.Equal(t, ErrResultFrozen, child.AddMessage("x"))
	assert.Equal(t, ErrResultFrozen, child.AddWarning("x"))
	assert.Equal(t, ErrResultFrozen, child.SetDuration(time.Second))
	assert.Equal(t, ErrResultFrozen, child.Clear())
	assert.ErrorIs(t, NewTestResult(nil).AddChild(child), ErrResultFrozen)
	assert.Equal(t, StatusNone, child.Status())
	assert.Len(t, parent.Children(), 1)
}

func TestAddErrorAggregates(t *testing.T) {
	r := NewTestResult(NewTestName("x"))
	err1, err2, err3 := errors.New("one"), errors.New("two"), errors.New("three")

	require.NoError(t, r.AddError(err1))
	assert.Equal(t, err1, r.Err())
	assert.Equal(t, 1, r.ErrorCount())
	assert.Equal(t, StatusError, r.Status())

	require.NoError(t, r.AddError(err2))
	var agg *multierror.Error
	require.True(t, errors.As(r.Err(), &agg))
	assert.Len(t, agg.Errors, 2)
	assert.Equal(t, 2, r.ErrorCount())

	require.NoError(t, r.AddError(err3))
	assert.Equal(t, 3, r.ErrorCount())
	assert.Equal(t, []error{err1, err2, err3}, r.Errors())
}

func TestAddErrorDoesNotOverrideCanceled(t *testing.T) {
	r := NewTestResult(NewTestName("x"))
	require.NoError(t, r.SetStatus(StatusCanceled))
	require.NoError(t, r.AddError(errors.New("teardown failed")))
	assert.Equal(t, StatusCanceled, r.Status())
}

func TestClearResetsUnattachedResult(t *testing.T) {
	r := NewTestResult(NewTestName("x"))
	require.NoError(t, r.AddError(errors.New("a")))
	require.NoError(t, r.AddMessage("b"))
	require.NoError(t, r.Clear())
	assert.Nil(t, r.Err())
	assert.Equal(t, StatusNone, r.Status())
	assert.Len(t, r.Messages(), 0)
}

func TestSummaryCountsLeaves(t *testing.T) {
	root := NewTestResult(nil)
	suite := NewTestResult(NewTestName("s"))
	for i, status := range []Status{StatusSuccess, StatusWarning, StatusError, StatusIgnored, StatusCanceled} {
		leaf := NewTestResult(NewTestName("s", string(rune('a'+i))))
		require.NoError(t, leaf.SetStatus(status))
		require.NoError(t, suite.AddChild(leaf))
	}
	require.NoError(t, root.AddChild(suite))

	assert.Equal(t, Summary{Total: 5, Passed: 2, Warnings: 1, Failed: 1, Ignored: 1, Canceled: 1}, root.Summary())
	assert.False(t, root.Summary().OK())
	assert.Equal(t, "s/c", root.Find("s/c").Name().String())
	assert.Nil(t, root.Find("nope"))
}

func TestSnapshotRoundTrip(t *testing.T) {
	root := NewTestResult(nil)
	child := NewTestResult(NewTestName("s").PlusParameter("x", "1"))
	require.NoError(t, child.AddError(errors.New("bad")))
	require.NoError(t, child.AddError(errors.New("worse")))
	require.NoError(t, child.SetDuration(time.Millisecond))
	require.NoError(t, root.AddChild(child))

	rebuilt := FromSnapshot(root.Snapshot())
	assert.Equal(t, root.Snapshot(), rebuilt.Snapshot())
	assert.Equal(t, 2, rebuilt.Children()[0].ErrorCount())
	assert.False(t, rebuilt.IsAttached())
	assert.True(t, rebuilt.Children()[0].IsAttached())
}
