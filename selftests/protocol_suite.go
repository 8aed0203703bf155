package selftests

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/settings"
	"github.com/launchdarkly/test-engine/testserver"
)

const loopbackTimeout = time.Second * 10

// loopback is a host and a client session connected by an in-memory pipe.
type loopback struct {
	client *testserver.RemoteSession
	served chan error
}

// loopbackRegistry is what the loopback host serves: one passing and one failing case.
func loopbackRegistry() *builder.Registry {
	registry := builder.NewRegistry()
	suite := registry.Suite("inner")
	builder.Test(suite, "passes", func(*ldtest.T) {})
	builder.Test(suite, "fails", func(t *ldtest.T) {
		t.Errorf("deliberate failure")
	})
	builder.Test(suite, "greeting", func(t *ldtest.T) {
		shared, _ := t.TestContext().Value().(*settings.Shared)
		require.NotNil(t, shared)
		greeting, _ := shared.Get("greeting")
		assert.Equal(t, "hello", greeting)
	})
	return registry
}

func startLoopback(ctx context.Context, tc *ldtest.TestContext) (*loopback, error) {
	hostSide, clientSide := net.Pipe()
	host := testserver.NewHost(hostSide, loopbackRegistry(), testserver.HostConfig{})
	lb := &loopback{served: make(chan error, 1)}
	go func() { lb.served <- host.Serve(context.WithoutCancel(ctx)) }()

	dialCtx, cancel := context.WithTimeout(ctx, loopbackTimeout)
	defer cancel()
	client, err := testserver.Dial(dialCtx, clientSide, testserver.ClientConfig{
		PeerLogger: framework.LoggerWithPrefix(tc.DebugLogger(), "[loopback] "),
		Settings:   settings.New(map[string]string{"greeting": "hello"}),
	})
	if err != nil {
		_ = hostSide.Close()
		return nil, err
	}
	lb.client = client
	return lb, nil
}

func (lb *loopback) close(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, loopbackTimeout)
	defer cancel()
	if err := lb.client.Close(ctx); err != nil {
		return err
	}
	select {
	case err := <-lb.served:
		return err
	case <-ctx.Done():
		return errors.New("loopback host did not stop after shutdown")
	}
}

func registerProtocolSuite(suite *builder.SuiteDecl) {
	loopbacks := builder.Fixture(suite, "loopback", builder.FixtureFuncs[*loopback]{
		SetUp:    startLoopback,
		TearDown: func(ctx context.Context, lb *loopback) error { return lb.close(ctx) },
	})

	builder.Case(loopbacks, "handshake", func(t *ldtest.T, lb *loopback) {
		info := lb.client.PeerInfo()
		assert.NotEmpty(t, info.SessionID)
		assert.True(t, info.Capabilities.HasAll(framework.CapabilityRemoteObjects, framework.CapabilityEventSink),
			"capabilities were %v", info.Capabilities)
	})

	builder.Case(loopbacks, "remote run", func(t *ldtest.T, lb *loopback) {
		require.NoError(t, lb.client.LoadTestSuite(t.Context(), testserver.LoadRequest{}))

		names, err := lb.client.ListTests(t.Context())
		require.NoError(t, err)
		assert.Len(t, names, 3)

		result, err := lb.client.Run(t.Context(), testserver.RunRequest{}, nil)
		require.NoError(t, err)
		assert.Equal(t, ldtest.StatusError, result.Status())
		assert.Equal(t, ldtest.StatusSuccess, result.Find("inner/passes").Status())
		assert.Equal(t, ldtest.StatusError, result.Find("inner/fails").Status())
		assert.Equal(t, ldtest.StatusSuccess, result.Find("inner/greeting").Status())

		stats := lb.client.Statistics()
		assert.Equal(t, 3, stats.Started)
		assert.Equal(t, 1, stats.Failed)
	})

	builder.Case(loopbacks, "filtered run", func(t *ldtest.T, lb *loopback) {
		require.NoError(t, lb.client.LoadTestSuite(t.Context(), testserver.LoadRequest{}))
		var filter ldtest.RegexFilters
		require.NoError(t, filter.MustNotMatch.Set("inner/fails"))

		result, err := lb.client.Run(t.Context(), testserver.RunRequest{Filter: filter}, nil)
		require.NoError(t, err)
		assert.False(t, result.Failed())
		assert.Equal(t, ldtest.StatusIgnored, result.Find("inner/fails").Status())
	})
}
