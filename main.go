package main

import (
	"context"
	_ "embed" // this is required in order for go:embed to work
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/serviceinfo"
	"github.com/launchdarkly/test-engine/testserver"
)

const shutdownTimeout = time.Second * 10

//go:embed VERSION
var versionString string // comes from the VERSION file which we update for each release

// errTestsFailed makes the process exit with a nonzero status without printing anything more.
var errTestsFailed = errors.New("some tests failed")

func version() string { return strings.TrimSpace(versionString) }

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	if err != nil {
		if !errors.Is(err, errTestsFailed) {
			_, _ = color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		}
		stop()
		os.Exit(1) //nolint:gocritic
	}
}

func newRootCommand() *cobra.Command {
	var global globalParams
	root := &cobra.Command{
		Use:           "test-engine",
		Short:         "Runs registered test suites in this process or in a remote test host",
		Version:       version(),
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			return global.loadEnv()
		},
	}
	global.register(root)
	root.AddCommand(
		newRunCommand(&global),
		newHostCommand(&global),
		newServeCommand(&global),
		newListCommand(&global),
	)
	return root
}

func newRunCommand(global *globalParams) *cobra.Command {
	var params runParams
	cmd := &cobra.Command{
		Use:   "run [--spawn -- command args...]",
		Short: "Run tests and report the results",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := params.validate(args); err != nil {
				return err
			}
			return runTests(cmd.Context(), global, &params, args)
		},
	}
	params.register(cmd)
	return cmd
}

func runTests(ctx context.Context, global *globalParams, params *runParams, args []string) error {
	fmt.Printf("test-engine v%s\n", version())
	if err := params.loadSuppressions(); err != nil {
		return err
	}
	env, err := global.setup(ctx)
	if err != nil {
		return err
	}
	session, err := env.open(ctx, &params.hostParams, args)
	if err != nil {
		return err
	}
	defer session.close()

	ldtest.PrintFilterDescription(params.activeFilters(), nil, nil)
	if err := session.LoadTestSuite(ctx, params.loadRequest()); err != nil {
		return err
	}

	loggers := []ldtest.TestLogger{ldtest.ConsoleTestLogger{
		DebugOutputOnFailure: global.debug || global.debugAll,
		DebugOutputOnSuccess: global.debugAll,
	}}
	if params.jUnitFile != "" {
		loggers = append(loggers, ldtest.NewJUnitTestLogger(params.jUnitFile, map[string]string{
			"host":    session.info.Name,
			"version": session.info.Version,
			"filters": describeFilters(params.activeFilters()),
		}))
	}
	if params.jsonFile != "" {
		loggers = append(loggers, ldtest.NewJSONTestLogger(params.jsonFile))
	}
	testLogger := ldtest.MultiTestLogger{Loggers: loggers}

	result, err := session.Run(ctx, testserver.RunRequest{
		RunID:      params.runID,
		Filter:     params.filters,
		Globs:      params.globs,
		DebugLevel: global.logLevel(),
	}, testLogger)
	if err != nil {
		return err
	}

	fmt.Println()
	ldtest.PrintResults(result)
	if err := testLogger.EndLog(result); err != nil {
		return fmt.Errorf("error writing log: %w", err)
	}
	if err := recordFailures(params.recordFailures, result); err != nil {
		return err
	}
	if !result.Summary().OK() {
		return errTestsFailed
	}
	return nil
}

func describeFilters(filters []ldtest.Filter) string {
	parts := make([]string, 0, len(filters))
	for _, f := range filters {
		switch ff := f.(type) {
		case ldtest.RegexFilters:
			if ff.MustMatch.IsDefined() {
				parts = append(parts, "run "+ff.MustMatch.String())
			}
			if ff.MustNotMatch.IsDefined() {
				parts = append(parts, "skip "+ff.MustNotMatch.String())
			}
		case ldtest.GlobFilters:
			if ff.Include.IsDefined() {
				parts = append(parts, "include "+ff.Include.String())
			}
			if ff.Exclude.IsDefined() {
				parts = append(parts, "exclude "+ff.Exclude.String())
			}
		}
	}
	return strings.Join(parts, "; ")
}

func recordFailures(path string, result *ldtest.TestResult) error {
	if path == "" {
		return nil
	}
	f, err := os.Create(path) //nolint:gosec
	if err != nil {
		return fmt.Errorf("cannot create suppression file: %w", err)
	}
	defer func() { _ = f.Close() }()
	for _, leaf := range result.Leaves() {
		if leaf.Failed() {
			fmt.Fprintln(f, leaf.Name())
		}
	}
	return nil
}

func newHostCommand(global *globalParams) *cobra.Command {
	var listen, connect string
	var wait time.Duration
	cmd := &cobra.Command{
		Use:   "host",
		Short: "Serve the registered suites to a front end over stdin/stdout or a socket",
		Long: `Serve the registered suites to a front end. By default the host speaks the protocol on
stdin and stdout, which is how "run --spawn" starts it; all other output goes to stderr.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if listen != "" && connect != "" {
				return errors.New("only one of --listen and --connect can be used")
			}
			env, err := global.setup(cmd.Context())
			if err != nil {
				return err
			}
			return env.serveHost(cmd.Context(), listen, connect, wait)
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "accept front ends on this address")
	cmd.Flags().StringVar(&connect, "connect", "", "connect to a front end that is listening at this address")
	cmd.Flags().DurationVar(&wait, "wait", defaultConnectWait, "how long to keep trying --connect")
	return cmd
}

func (e *environment) serveHost(ctx context.Context, listen, connect string, wait time.Duration) error {
	switch {
	case listen != "":
		return testserver.Listen(ctx, listen,
			func(addr net.Addr) { fmt.Fprintf(os.Stderr, "Test host listening at %s\n", addr) },
			func(ctx context.Context, conn net.Conn) {
				if err := e.newHost(conn).Serve(ctx); err != nil {
					e.debugLogger.Printf("Connection from %s ended: %s", conn.RemoteAddr(), err)
				}
			})
	case connect != "":
		conn, err := testserver.Connect(ctx, connect, wait, os.Stderr)
		if err != nil {
			return err
		}
		return e.newHost(conn).Serve(ctx)
	default:
		return e.newHost(testserver.StdioTransport()).Serve(ctx)
	}
}

func newServeCommand(global *globalParams) *cobra.Command {
	var hostFlags hostParams
	var port int
	cmd := &cobra.Command{
		Use:   "serve [--spawn -- command args...]",
		Short: "Serve an HTTP control surface for running tests",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := hostFlags.validate(args); err != nil {
				return err
			}
			env, err := global.setup(cmd.Context())
			if err != nil {
				return err
			}
			return env.serveControl(cmd.Context(), &hostFlags, args, port)
		},
	}
	hostFlags.register(cmd)
	cmd.Flags().IntVar(&port, "port", defaultControlPort, "port that the control server will listen on")
	return cmd
}

func (e *environment) serveControl(ctx context.Context, hostFlags *hostParams, args []string, port int) error {
	session, err := e.open(ctx, hostFlags, args)
	if err != nil {
		return err
	}
	defer session.close()

	control := testserver.NewControlServer(session, ldtest.ConsoleTestLogger{}, e.debugLogger)
	defer control.Close()
	server, addr, err := control.Start(fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	fmt.Printf("Control server listening at %s (tests run on %s)\n", addr, session.info.Name)

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func newListCommand(global *globalParams) *cobra.Command {
	var selection selectionParams
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tests that a run would include",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := selection.loadSuppressions(); err != nil {
				return err
			}
			env, err := global.setup(cmd.Context())
			if err != nil {
				return err
			}
			session := testserver.NewTestSession(env.registry, testserver.SessionConfig{
				Settings:    env.settings,
				DebugLogger: env.debugLogger,
			})
			if err := session.LoadTestSuite(cmd.Context(), selection.loadRequest()); err != nil {
				return err
			}
			names, err := session.ListTests(cmd.Context())
			if err != nil {
				return err
			}
			filter := ldtest.AllFilters(selection.activeFilters())
			for _, name := range names {
				if filter.Match(name) {
					fmt.Println(name)
				}
			}
			return nil
		},
	}
	selection.register(cmd)
	return cmd
}

func hostInfo(name string, capabilities ...string) serviceinfo.HostInfo {
	return serviceinfo.NewHostInfo(name, version(), capabilities...)
}

//nolint:gochecknoglobals
var frontEndCapabilities = []string{framework.CapabilityEventSink}
