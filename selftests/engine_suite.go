package selftests

import (
	"context"
	"errors"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

type counter struct {
	count    int
	tornDown bool
}

type sizeRecord struct {
	seen []ldvalue.Value
}

func registerEngineSuite(suite *builder.SuiteDecl) {
	counters := builder.Fixture(suite, "counter", builder.FixtureFuncs[*counter]{
		SetUp: func(context.Context, *ldtest.TestContext) (*counter, error) {
			return &counter{}, nil
		},
		TearDown: func(_ context.Context, c *counter) error {
			if c.tornDown {
				return errors.New("counter was torn down twice")
			}
			c.tornDown = true
			return nil
		},
	})
	builder.Case(counters, "starts at zero", func(t *ldtest.T, c *counter) {
		require.NotNil(t, c)
		assert.Equal(t, 0, c.count)
		c.count++
	})
	builder.Case(counters, "is not shared between cases", func(t *ldtest.T, c *counter) {
		require.NotNil(t, c)
		assert.Equal(t, 0, c.count)
		assert.False(t, c.tornDown)
		c.count++
	})

	// "size" comes from manifests/sizes.yaml, which is scoped to this suite.
	sizes := builder.Fixture(suite, "sizes", builder.FixtureFuncs[*sizeRecord]{
		SetUp: func(context.Context, *ldtest.TestContext) (*sizeRecord, error) {
			return &sizeRecord{}, nil
		},
	}, builder.Reusable())
	builder.Case(sizes, "each size once", func(t *ldtest.T, r *sizeRecord) {
		size := t.Param("size")
		require.True(t, size.IsInt(), "size should be an integer, was %s", size)
		assert.Greater(t, size.IntValue(), 0)
		assert.NotContains(t, r.seen, size)
		r.seen = append(r.seen, size)
	}, builder.Param("size", nil))

	builder.Test(suite, "greeting", func(t *ldtest.T) {
		greeting := t.Param("greetings")
		require.True(t, greeting.IsString())
		assert.Contains(t, greeting.StringValue(), ", world")
	}, builder.Param("greetings", nil))

	builder.Test(suite, "repeats", func(t *ldtest.T) {
		assert.Regexp(t, `^#[1-3]$`, t.Name().Last().Label)
	}, builder.Repeat(3))

	builder.Test(suite, "deadline", func(t *ldtest.T) {
		deadline, ok := t.Context().Deadline()
		require.True(t, ok, "case context should have a deadline")
		assert.True(t, deadline.After(time.Now()))
	}, builder.Timeout(time.Minute))

	builder.Test(suite, "subtests", func(t *ldtest.T) {
		for _, name := range []string{"first", "second"} {
			t.Run(name, func(t *ldtest.T) {
				assert.Equal(t, name, t.Name().Last().Label)
			})
		}
	})
}
