package testserver

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/harness"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/servicedef"
	"github.com/launchdarkly/test-engine/serviceinfo"
	"github.com/launchdarkly/test-engine/settings"
)

// Servant method names of the exported session object.
const (
	MethodGetTestResult = "GetTestResult"
	MethodListTests     = "ListTests"
)

// HostConfig describes the host side of a connection.
type HostConfig struct {
	Info serviceinfo.HostInfo

	// Logger receives connection diagnostics. If nil, they are sent to the peer as Debug
	// commands.
	Logger   framework.Logger
	LogLevel ldlog.LogLevel

	// Settings is the bag that tests see. Settings offered in the peer's Hello and in
	// SyncConfiguration are merged into it.
	Settings *settings.Shared

	// Store, if set, receives the bag after every merge.
	Store settings.Store
}

// Host serves a TestSession to the peer of a connection. The peer drives it with
// LoadTestSuite, RunTestSuite, and CancelTestRun, and receives test events on the event sink it
// named in its Hello.
type Host struct {
	conn      *harness.Connection
	session   *TestSession
	servant   *sessionServant
	sessionID servicedef.ObjectID
	config    HostConfig
	sink      servicedef.ObjectID
	lock      sync.Mutex
}

// NewHost creates a host over a transport. Call Serve to run it.
func NewHost(transport io.ReadWriteCloser, registry *builder.Registry, config HostConfig) *Host {
	if config.Settings == nil {
		config.Settings = settings.NewShared(settings.Settings{})
	}
	if config.Info.Name == "" {
		config.Info = serviceinfo.NewHostInfo("test-engine-host", "")
	}
	if config.Info.Capabilities == nil {
		config.Info.Capabilities = hostCapabilities
	}
	h := &Host{config: config}

	var remoteLogger framework.Logger
	h.conn = harness.NewConnection(transport, harness.Config{
		Info:     config.Info,
		Logger:   framework.FuncLogger(func(line string) { h.logLine(line, remoteLogger) }),
		LogLevel: config.LogLevel,
		OnHello:  h.onHello,
		OnDebugLevel: func(level ldlog.LogLevel) {
			h.session.SetDebugLevel(level)
		},
	})
	remoteLogger = h.conn.RemoteLogger()

	h.session = NewTestSession(registry, SessionConfig{
		Capabilities: config.Info.Capabilities,
		Settings:     config.Settings,
		DebugLogger:  framework.FuncLogger(func(line string) { h.logLine(line, remoteLogger) }),
	})
	h.servant = &sessionServant{session: h.session}
	h.sessionID = h.conn.Objects().Export(h.servant)

	h.conn.Handle(servicedef.CommandLoadTestSuite, h.handleLoadTestSuite)
	h.conn.Handle(servicedef.CommandRunTestSuite, h.handleRunTestSuite)
	h.conn.Handle(servicedef.CommandCancelTestRun, h.handleCancelTestRun)
	h.conn.Handle(servicedef.CommandSyncConfiguration, h.handleSyncConfiguration)
	return h
}

//nolint:gochecknoglobals
var hostCapabilities = []string{
	framework.CapabilityRemoteObjects,
	framework.CapabilityEventSink,
	framework.CapabilitySettings,
	framework.CapabilityCancel,
}

// Session returns the session that the host serves.
func (h *Host) Session() *TestSession { return h.session }

// Connection returns the underlying connection.
func (h *Host) Connection() *harness.Connection { return h.conn }

// Serve runs the connection until the peer shuts it down, the transport fails, or ctx is
// canceled. It returns the transport error, if any.
func (h *Host) Serve(ctx context.Context) error {
	h.conn.Start(ctx)
	<-h.conn.Done()
	h.conn.Stop()
	return h.conn.Err()
}

func (h *Host) logLine(line string, remote framework.Logger) {
	if h.config.Logger != nil {
		h.config.Logger.Println(line)
		return
	}
	if remote != nil {
		remote.Println(line)
	}
}

func (h *Host) onHello(ctx context.Context, hello *servicedef.Hello) (servicedef.HelloReply, error) {
	h.lock.Lock()
	h.sink = hello.EventSink
	h.lock.Unlock()
	if len(hello.Settings) != 0 {
		if err := h.mergeSettings(ctx, settings.FromEntries(hello.Settings)); err != nil {
			return servicedef.HelloReply{}, err
		}
	}
	return servicedef.HelloReply{Info: h.config.Info, Session: h.sessionID}, nil
}

func (h *Host) mergeSettings(ctx context.Context, update settings.Settings) error {
	merged := h.config.Settings.Merge(update)
	if h.config.Store != nil {
		if err := h.config.Store.Save(ctx, merged); err != nil {
			return fmt.Errorf("failed to save settings: %w", err)
		}
	}
	return nil
}

func (h *Host) checkSession(id servicedef.ObjectID) error {
	if id != h.sessionID {
		return fmt.Errorf("%w: %d", harness.ErrNoSuchObject, id)
	}
	return nil
}

func (h *Host) handleLoadTestSuite(ctx context.Context, cmd servicedef.Command) (string, error) {
	load := cmd.(*servicedef.LoadTestSuite)
	if err := h.checkSession(load.Session); err != nil {
		return "", err
	}
	err := h.session.LoadTestSuite(ctx, LoadRequest{
		Suites:            load.Suites,
		IncludeCategories: load.IncludeCategories,
		ExcludeCategories: load.ExcludeCategories,
	})
	if err != nil {
		return "", err
	}
	names, err := h.session.ListTests(ctx)
	if err != nil {
		return "", err
	}
	return servicedef.EncodePayload("TestList", servicedef.TestListFromNames(names))
}

func (h *Host) handleRunTestSuite(ctx context.Context, cmd servicedef.Command) (string, error) {
	run := cmd.(*servicedef.RunTestSuite)
	if err := h.checkSession(run.Session); err != nil {
		return "", err
	}
	filter, err := parseRegexFilters(run.MustMatch, run.MustNotMatch)
	if err != nil {
		return "", err
	}
	globs, err := parseGlobFilters(run.Include, run.Exclude)
	if err != nil {
		return "", err
	}
	h.lock.Lock()
	sink := h.sink
	h.lock.Unlock()

	var logger ldtest.TestLogger = ldtest.NullTestLogger()
	var remote *remoteTestLogger
	if sink != 0 {
		remote = newRemoteTestLogger(h.conn, sink)
		logger = remote
	}
	result, err := h.session.Run(ctx, RunRequest{
		RunID:      run.RunID,
		Filter:     filter,
		Globs:      globs,
		DebugLevel: ldlog.LogLevel(run.DebugLevel),
	}, logger)
	if err != nil {
		return "", err
	}
	reply := servicedef.RunReply{Result: servicedef.ResultElementFromSnapshot(result.Snapshot())}
	if remote != nil {
		reply.Events = remote.sent()
	}
	return servicedef.EncodePayload("RunReply", reply)
}

func (h *Host) handleCancelTestRun(ctx context.Context, cmd servicedef.Command) (string, error) {
	cancel := cmd.(*servicedef.CancelTestRun)
	if err := h.checkSession(cancel.Session); err != nil {
		return "", err
	}
	return "", h.session.Stop(ctx, cancel.RunID)
}

func (h *Host) handleSyncConfiguration(ctx context.Context, cmd servicedef.Command) (string, error) {
	update := cmd.(*servicedef.SyncConfiguration)
	return "", h.mergeSettings(ctx, settings.FromEntries(update.Entries))
}

// sessionServant answers the object calls that have no command of their own.
type sessionServant struct {
	session *TestSession
}

func (s *sessionServant) HandleCall(ctx context.Context, method string, _ string) (string, error) {
	switch method {
	case MethodGetTestResult:
		result, err := s.session.Result(ctx)
		if err != nil || result == nil {
			return "", err
		}
		return servicedef.EncodePayload("Result", servicedef.ResultElementFromSnapshot(result.Snapshot()))
	case MethodListTests:
		names, err := s.session.ListTests(ctx)
		if err != nil {
			return "", err
		}
		return servicedef.EncodePayload("TestList", servicedef.TestListFromNames(names))
	default:
		return "", fmt.Errorf("%w: %s", harness.ErrUnknownMethod, method)
	}
}

func parseRegexFilters(mustMatch, mustNotMatch []string) (ldtest.RegexFilters, error) {
	var ret ldtest.RegexFilters
	for _, p := range mustMatch {
		if err := ret.MustMatch.Set(p); err != nil {
			return ret, err
		}
	}
	for _, p := range mustNotMatch {
		if err := ret.MustNotMatch.Set(p); err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func parseGlobFilters(include, exclude []string) (ldtest.GlobFilters, error) {
	var ret ldtest.GlobFilters
	for _, p := range include {
		if err := ret.Include.Set(p); err != nil {
			return ret, err
		}
	}
	for _, p := range exclude {
		if err := ret.Exclude.Set(p); err != nil {
			return ret, err
		}
	}
	return ret, nil
}

func filterPatterns(list ldtest.TestNamePatternList) []string {
	ret := make([]string, 0, len(list))
	for _, p := range list {
		ret = append(ret, p.String())
	}
	return ret
}
