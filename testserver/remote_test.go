package testserver

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/helpers"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/servicedef"
	"github.com/launchdarkly/test-engine/settings"
)

type remotePair struct {
	host    *Host
	client  *RemoteSession
	served  chan error
	peerLog *framework.CapturingLogger
}

func startRemote(t *testing.T, registry *builder.Registry, hostConfig HostConfig, clientConfig ClientConfig) *remotePair {
	hostSide, clientSide := net.Pipe()
	p := &remotePair{served: make(chan error, 1), peerLog: &framework.CapturingLogger{}}
	p.host = NewHost(hostSide, registry, hostConfig)
	go func() { p.served <- p.host.Serve(context.Background()) }()

	if clientConfig.PeerLogger == nil {
		clientConfig.PeerLogger = p.peerLog
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
	defer cancel()
	client, err := Dial(ctx, clientSide, clientConfig)
	require.NoError(t, err)
	p.client = client
	t.Cleanup(func() {
		_ = client.Close(context.Background())
	})
	return p
}

func TestRemoteHandshakeAndSettings(t *testing.T) {
	var greeting string
	shared := settings.NewShared(settings.Settings{})
	p := startRemote(t, sampleRegistry(&greeting),
		HostConfig{Settings: shared},
		ClientConfig{Settings: settings.New(map[string]string{"greeting": "hello"})})

	assert.Equal(t, "test-engine-host", p.client.PeerInfo().Name)
	assert.True(t, p.client.PeerInfo().Capabilities.HasAll(framework.CapabilityEventSink, framework.CapabilityCancel))
	v, _ := shared.Get("greeting")
	assert.Equal(t, "hello", v)

	require.NoError(t, p.client.SyncSettings(context.Background(), settings.New(map[string]string{"greeting": "bonjour"})))
	requireLoaded(t, p.client, LoadRequest{})
	_, err := p.client.Run(context.Background(), RunRequest{}, nil)
	require.NoError(t, err)
	assert.Equal(t, "bonjour", greeting)
}

func TestRemoteRunForwardsEventsAndResult(t *testing.T) {
	p := startRemote(t, sampleRegistry(nil), HostConfig{}, ClientConfig{})
	requireLoaded(t, p.client, LoadRequest{})

	names, err := p.client.ListTests(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"sample/passes", "sample/fails", "sample/settings"}, namesOf(names))

	logger := &recordingTestLogger{}
	result, err := p.client.Run(context.Background(), RunRequest{}, logger)
	require.NoError(t, err)
	assert.Equal(t, ldtest.StatusError, result.Status())
	assert.Equal(t, ldtest.StatusSuccess, result.Find("sample/passes").Status())
	assert.Equal(t, ldtest.StatusError, result.Find("sample/fails").Status())

	events := logger.Events()
	assert.Contains(t, events, "started sample/passes")
	assert.Contains(t, events, "finished sample/passes success")
	assert.Contains(t, events, "finished sample/fails error")

	assert.Eventually(t, func() bool {
		return p.client.Statistics() == ldtest.Statistics{Started: 3, Passed: 2, Failed: 1}
	}, time.Second*5, time.Millisecond*10)

	last, err := p.client.Result(context.Background())
	require.NoError(t, err)
	require.NotNil(t, last)
	assert.Equal(t, result.Snapshot(), last.Snapshot())
}

func TestRemoteResultBeforeAnyRun(t *testing.T) {
	p := startRemote(t, sampleRegistry(nil), HostConfig{}, ClientConfig{})
	result, err := p.client.Result(context.Background())
	require.NoError(t, err)
	assert.Nil(t, result)

	_, err = p.client.ListTests(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoSuiteLoaded.Error())
}

func TestRemoteConfigurationError(t *testing.T) {
	registry := builder.NewRegistry()
	builder.Test(registry.Suite("s"), "c", func(*ldtest.T) {}, builder.Params(builder.Value("missing", nil)))
	p := startRemote(t, registry, HostConfig{}, ClientConfig{})

	err := p.client.LoadTestSuite(context.Background(), LoadRequest{})
	var remote *servicedef.RemoteError
	require.ErrorAs(t, err, &remote)
	assert.Contains(t, remote.Message, "s/c")
}

func TestRemoteCancelByContext(t *testing.T) {
	b := newBlocker()
	registry := builder.NewRegistry()
	suite := registry.Suite("s")
	builder.Test(suite, "wait", b.body)
	builder.Test(suite, "after", func(*ldtest.T) {})
	p := startRemote(t, registry, HostConfig{}, ClientConfig{})
	requireLoaded(t, p.client, LoadRequest{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	results := make(chan *ldtest.TestResult, 1)
	go func() {
		result, err := p.client.Run(ctx, RunRequest{RunID: "remote-run"}, nil)
		assert.NoError(t, err)
		results <- result
	}()
	helpers.RequireValue(t, b.started, time.Second*5)
	assert.Equal(t, "remote-run", p.host.Session().RunningID())

	cancel()
	result := helpers.RequireValue(t, results, time.Second*5)
	assert.Equal(t, ldtest.StatusCanceled, result.Status())
	assert.Nil(t, result.Find("s/after"))
}

func TestRemoteStopUnknownRun(t *testing.T) {
	p := startRemote(t, sampleRegistry(nil), HostConfig{}, ClientConfig{})
	err := p.client.Stop(context.Background(), "nothing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrNoSuchRun.Error())
}

func TestRemoteHostDebugOutput(t *testing.T) {
	registry := builder.NewRegistry()
	builder.Test(registry.Suite("s"), "c", func(*ldtest.T) {})
	p := startRemote(t, registry, HostConfig{}, ClientConfig{})
	require.NoError(t, p.client.SetDebugLevel(1))
	requireLoaded(t, p.client, LoadRequest{})
	_, err := p.client.Run(context.Background(), RunRequest{DebugLevel: 1}, nil)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		for _, m := range p.peerLog.Output().Messages() {
			if strings.Contains(m, "Starting run ") {
				return true
			}
		}
		return false
	}, time.Second*5, time.Millisecond*10)
}

func TestRemoteShutdownEndsHost(t *testing.T) {
	p := startRemote(t, sampleRegistry(nil), HostConfig{}, ClientConfig{})
	require.NoError(t, p.client.Close(context.Background()))
	err := helpers.RequireValue(t, p.served, time.Second*5)
	assert.NoError(t, err)
	helpers.RequireValue(t, p.client.Done(), time.Second)
}
