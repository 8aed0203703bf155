package testserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/harness"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/servicedef"
	"github.com/launchdarkly/test-engine/serviceinfo"
	"github.com/launchdarkly/test-engine/settings"
)

// ErrNoSession means the peer completed the handshake without offering a test session.
var ErrNoSession = errors.New("peer did not offer a test session")

// Events sent before a RunTestSuite response can still be waiting for delivery when the response
// arrives; this is how long Run waits for them.
const eventDrainTimeout = time.Second * 5

// ClientConfig describes the front-end side of a connection.
type ClientConfig struct {
	Info serviceinfo.HostInfo

	// Logger receives connection diagnostics.
	Logger   framework.Logger
	LogLevel ldlog.LogLevel

	// PeerLogger receives the host's debug output.
	PeerLogger framework.Logger

	// Settings are offered to the host in the handshake.
	Settings settings.Settings
}

// RemoteSession is a Session whose tests run on the other end of a connection.
type RemoteSession struct {
	conn    *harness.Connection
	sink    *eventSink
	session harness.ObjectProxy
	runLock sync.Mutex
}

// Dial performs the handshake over a transport and returns the host's session. The connection
// stays open until Close is called or the host goes away; ctx only bounds the handshake.
func Dial(ctx context.Context, transport io.ReadWriteCloser, config ClientConfig) (*RemoteSession, error) {
	if config.Info.Name == "" {
		config.Info = serviceinfo.NewHostInfo("test-engine", "", framework.CapabilityEventSink)
	}
	conn := harness.NewConnection(transport, harness.Config{
		Info:       config.Info,
		Logger:     config.Logger,
		LogLevel:   config.LogLevel,
		PeerLogger: config.PeerLogger,
	})
	sink := newEventSink()
	sinkID := conn.Objects().Export(sink)
	conn.Start(context.Background())

	reply, err := conn.Open(ctx, servicedef.Hello{
		Info:      config.Info,
		EventSink: sinkID,
		Settings:  config.Settings.Entries(),
	})
	if err != nil {
		conn.Stop()
		return nil, err
	}
	if reply.Session == 0 {
		conn.Stop()
		return nil, ErrNoSession
	}
	return &RemoteSession{conn: conn, sink: sink, session: conn.Proxy(reply.Session)}, nil
}

// PeerInfo returns what the host said about itself in the handshake.
func (r *RemoteSession) PeerInfo() serviceinfo.HostInfo { return r.conn.PeerInfo() }

// Statistics returns the latest counts the host reported for the current or last run.
func (r *RemoteSession) Statistics() ldtest.Statistics { return r.sink.Statistics() }

// Done is closed when the connection to the host has ended.
func (r *RemoteSession) Done() <-chan struct{} { return r.conn.Done() }

func (r *RemoteSession) LoadTestSuite(ctx context.Context, req LoadRequest) error {
	_, err := r.conn.Call(ctx, &servicedef.LoadTestSuite{
		Session:           r.session.Ref.ObjectID,
		Suites:            req.Suites,
		IncludeCategories: req.IncludeCategories,
		ExcludeCategories: req.ExcludeCategories,
	})
	if err != nil {
		return fmt.Errorf("failed to load test suite: %w", err)
	}
	return nil
}

// Run runs the loaded suite on the host. If ctx is canceled, the host is asked to cancel the
// run, and the result it reports is still returned.
func (r *RemoteSession) Run(ctx context.Context, req RunRequest, logger ldtest.TestLogger) (*ldtest.TestResult, error) {
	r.runLock.Lock()
	defer r.runLock.Unlock()
	if req.RunID == "" {
		req.RunID = uuid.NewString()
	}
	if logger == nil {
		logger = ldtest.NullTestLogger()
	}
	r.sink.begin(logger)
	defer r.sink.end()

	stopWatching := context.AfterFunc(ctx, func() {
		_ = r.Stop(context.Background(), req.RunID)
	})
	defer stopWatching()

	resp, err := r.conn.Call(context.WithoutCancel(ctx), &servicedef.RunTestSuite{
		Session:      r.session.Ref.ObjectID,
		RunID:        req.RunID,
		DebugLevel:   int(req.DebugLevel),
		MustMatch:    filterPatterns(req.Filter.MustMatch),
		MustNotMatch: filterPatterns(req.Filter.MustNotMatch),
		Include:      req.Globs.Include,
		Exclude:      req.Globs.Exclude,
	})
	if err != nil {
		return nil, fmt.Errorf("test run failed: %w", err)
	}
	var reply servicedef.RunReply
	if err := servicedef.DecodePayload(resp.Payload, &reply); err != nil {
		return nil, fmt.Errorf("malformed test run reply: %w", err)
	}
	waitCtx, cancel := context.WithTimeout(context.Background(), eventDrainTimeout)
	defer cancel()
	_ = r.sink.waitForEvents(waitCtx, reply.Events)
	return ldtest.FromSnapshot(reply.Result.Snapshot()), nil
}

func (r *RemoteSession) Stop(ctx context.Context, runID string) error {
	_, err := r.conn.Call(ctx, &servicedef.CancelTestRun{Session: r.session.Ref.ObjectID, RunID: runID})
	return err
}

// Result returns the result of the host's most recent completed run, or nil if there is none.
func (r *RemoteSession) Result(ctx context.Context) (*ldtest.TestResult, error) {
	payload, err := r.session.Call(ctx, MethodGetTestResult, "")
	if err != nil || payload == "" {
		return nil, err
	}
	var element servicedef.ResultElement
	if err := servicedef.DecodePayload(payload, &element); err != nil {
		return nil, err
	}
	return ldtest.FromSnapshot(element.Snapshot()), nil
}

func (r *RemoteSession) ListTests(ctx context.Context) ([]ldtest.TestName, error) {
	payload, err := r.session.Call(ctx, MethodListTests, "")
	if err != nil {
		return nil, err
	}
	var list servicedef.TestList
	if err := servicedef.DecodePayload(payload, &list); err != nil {
		return nil, err
	}
	return list.Names(), nil
}

// SyncSettings merges a settings bag into the host's settings.
func (r *RemoteSession) SyncSettings(ctx context.Context, s settings.Settings) error {
	_, err := r.conn.Call(ctx, &servicedef.SyncConfiguration{Entries: s.Entries()})
	return err
}

// SetDebugLevel changes the host's diagnostic level for later runs.
func (r *RemoteSession) SetDebugLevel(level ldlog.LogLevel) error {
	return r.conn.Send(&servicedef.SetDebugLevel{Level: int(level)})
}

// Close shuts the connection down gracefully.
func (r *RemoteSession) Close(ctx context.Context) error {
	return r.conn.Shutdown(ctx)
}
