package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"net"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/joho/godotenv"

	"github.com/launchdarkly/test-engine/data"
	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/selftests"
	"github.com/launchdarkly/test-engine/serviceinfo"
	"github.com/launchdarkly/test-engine/settings"
	"github.com/launchdarkly/test-engine/testserver"
)

// Environment variables that supply defaults for flags; they can also come from the .env file.
const (
	envSettingsStore = "TEST_ENGINE_SETTINGS"
	envManifestDir   = "TEST_ENGINE_MANIFESTS"
)

// environment is what every command builds from the global flags: the registry of suites, the
// settings that tests see, and where diagnostics go.
type environment struct {
	registry    *builder.Registry
	settings    *settings.Shared
	store       settings.Store
	debugLogger framework.Logger
	global      *globalParams
}

func (g *globalParams) loadEnv() error {
	if g.envFile != "" {
		if err := godotenv.Load(g.envFile); err != nil {
			return fmt.Errorf("cannot load %s: %w", g.envFile, err)
		}
	} else if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("cannot load .env: %w", err)
	}
	if g.settingsStore == "" {
		g.settingsStore = os.Getenv(envSettingsStore)
	}
	if g.manifestDir == "" {
		g.manifestDir = os.Getenv(envManifestDir)
	}
	return nil
}

func (g *globalParams) setup(ctx context.Context) (*environment, error) {
	env := &environment{
		registry:    builder.NewRegistry(),
		settings:    settings.NewShared(settings.Settings{}),
		debugLogger: framework.NullLogger(),
		global:      g,
	}
	// Stdout may be the transport of a host, so diagnostics always go to stderr.
	if g.debugAll {
		env.debugLogger = log.New(os.Stderr, "", log.LstdFlags)
	}

	if err := selftests.Register(env.registry); err != nil {
		return nil, err
	}
	if g.manifestDir != "" {
		manifests, err := data.LoadManifests(os.DirFS(g.manifestDir), g.manifestGlob)
		if err != nil {
			return nil, err
		}
		data.ApplyAll(env.registry, manifests)
	}

	if g.settingsStore != "" {
		store, err := settings.OpenStore(g.settingsStore)
		if err != nil {
			return nil, err
		}
		initial, err := store.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("cannot load settings from %s: %w", g.settingsStore, err)
		}
		env.store = store
		env.settings = settings.NewShared(initial)
	}
	return env, nil
}

func (e *environment) newHost(transport io.ReadWriteCloser) *testserver.Host {
	config := testserver.HostConfig{
		Info:     hostInfo("test-engine-host"),
		LogLevel: e.global.logLevel(),
		Settings: e.settings,
		Store:    e.store,
	}
	if e.global.debugAll {
		config.Logger = e.debugLogger
	}
	return testserver.NewHost(transport, e.registry, config)
}

// openSession is a Session together with a description of where it runs and how to release it.
type openSession struct {
	testserver.Session
	info  serviceinfo.HostInfo
	close func()
}

// open returns a session in this process, or in a host reached according to the host flags.
func (e *environment) open(ctx context.Context, hostFlags *hostParams, args []string) (*openSession, error) {
	switch {
	case hostFlags.spawn:
		return e.spawn(ctx, hostFlags, args)
	case hostFlags.connect != "":
		conn, err := withSpinner(fmt.Sprintf("Connecting to test host at %s", hostFlags.connect), func() (net.Conn, error) {
			return testserver.Connect(ctx, hostFlags.connect, hostFlags.wait, io.Discard)
		})
		if err != nil {
			return nil, err
		}
		return e.dial(ctx, conn, hostFlags.wait, func() {})
	case hostFlags.listen != "":
		conn, err := withSpinner(fmt.Sprintf("Waiting for a test host to connect to %s", hostFlags.listen), func() (net.Conn, error) {
			return acceptOne(ctx, hostFlags.listen, hostFlags.wait)
		})
		if err != nil {
			return nil, err
		}
		return e.dial(ctx, conn, hostFlags.wait, func() {})
	default:
		session := testserver.NewTestSession(e.registry, testserver.SessionConfig{
			Capabilities: []string{framework.CapabilitySettings, framework.CapabilityCancel},
			Settings:     e.settings,
			DebugLogger:  e.debugLogger,
		})
		return &openSession{Session: session, info: hostInfo("local"), close: func() {}}, nil
	}
}

func (e *environment) spawn(ctx context.Context, hostFlags *hostParams, args []string) (*openSession, error) {
	filters, err := hostFlags.stderrFilters()
	if err != nil {
		return nil, err
	}
	// An interrupt cancels the run, which the host reports; it must not kill the host first.
	process, err := testserver.Launcher{
		Command:       args[0],
		Args:          args[1:],
		StderrFilters: filters,
		Logger:        e.debugLogger,
	}.Start(context.WithoutCancel(ctx))
	if err != nil {
		return nil, err
	}
	return e.dial(ctx, process.Transport(), hostFlags.wait, func() {
		waitCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := process.Wait(waitCtx); err != nil {
			e.debugLogger.Printf("Host process: %s", err)
		}
	})
}

// dial performs the handshake with a host. after is called once the connection is closed.
func (e *environment) dial(
	ctx context.Context,
	transport io.ReadWriteCloser,
	timeout time.Duration,
	after func(),
) (*openSession, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	remote, err := testserver.Dial(dialCtx, transport, testserver.ClientConfig{
		Info:       hostInfo("test-engine", frontEndCapabilities...),
		Logger:     e.debugLogger,
		LogLevel:   e.global.logLevel(),
		PeerLogger: framework.LoggerWithPrefix(e.debugLogger, "[host] "),
		Settings:   e.settings.Current(),
	})
	if err != nil {
		_ = transport.Close()
		after()
		return nil, fmt.Errorf("handshake with test host failed: %w", err)
	}
	info := remote.PeerInfo()
	fmt.Printf("Connected to %s %s (session %s)\n", info.Name, info.Version, info.SessionID)
	return &openSession{
		Session: remote,
		info:    info,
		close: func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := remote.Close(closeCtx); err != nil {
				e.debugLogger.Printf("Closing connection: %s", err)
			}
			after()
		},
	}, nil
}

// acceptOne waits for a single host to connect. Later connections are refused.
func acceptOne(ctx context.Context, addr string, wait time.Duration) (net.Conn, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	conns := make(chan net.Conn, 1)
	listenErr := make(chan error, 1)
	go func() {
		listenErr <- testserver.Listen(ctx, addr, nil, func(_ context.Context, conn net.Conn) {
			select {
			case conns <- conn:
				cancel()
			default:
				_ = conn.Close()
			}
		})
	}()
	select {
	case conn := <-conns:
		return conn, nil
	case err := <-listenErr:
		select {
		case conn := <-conns:
			return conn, nil
		default:
		}
		if err == nil {
			err = ctx.Err()
		}
		return nil, fmt.Errorf("no test host connected to %s: %w", addr, err)
	}
}

// withSpinner shows a spinner on stderr while action runs.
func withSpinner[T any](message string, action func() (T, error)) (T, error) {
	spin := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithColor("green"), spinner.WithWriter(os.Stderr))
	spin.Suffix = " " + message
	spin.Start()
	value, err := action()
	spin.Stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "\033[31m✗\033[0m %s - \033[31mFailed\033[0m\n", message)
	} else {
		fmt.Fprintf(os.Stderr, "\033[32m✔\033[0m %s - \033[32mDone\033[0m\n", message)
	}
	return value, err
}
