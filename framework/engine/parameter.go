package engine

import (
	"context"

	"github.com/launchdarkly/go-sdk-common/v3/ldvalue"

	"github.com/launchdarkly/test-engine/framework/ldtest"
)

// ParameterSource produces the values of one test parameter.
type ParameterSource interface {
	Values(ctx context.Context, tc *ldtest.TestContext) ([]ldvalue.Value, error)
}

// ValueSource is a fixed list of values.
type ValueSource []ldvalue.Value

func (s ValueSource) Values(context.Context, *ldtest.TestContext) ([]ldvalue.Value, error) {
	return append([]ldvalue.Value(nil), s...), nil
}

// Values is a shortcut for a ValueSource.
func Values(values ...ldvalue.Value) ValueSource { return ValueSource(values) }

// SourceFunc adapts a function to the ParameterSource interface.
type SourceFunc func(ctx context.Context, tc *ldtest.TestContext) ([]ldvalue.Value, error)

func (f SourceFunc) Values(ctx context.Context, tc *ldtest.TestContext) ([]ldvalue.Value, error) {
	return f(ctx, tc)
}

type freshSource struct {
	ParameterSource
}

// FreshSource marks a source whose host instance cannot be reused: the instance is destroyed and
// re-created for every value, and the source is read again each time.
func FreshSource(source ParameterSource) ParameterSource {
	return freshSource{source}
}

// IsReusable is false only for sources wrapped with FreshSource.
func IsReusable(source ParameterSource) bool {
	_, fresh := source.(freshSource)
	return !fresh
}
