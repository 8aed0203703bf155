package main

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/launchdarkly/go-sdk-common/v3/ldlog"
	"github.com/spf13/cobra"

	"github.com/launchdarkly/test-engine/framework/ldtest"
	"github.com/launchdarkly/test-engine/testserver"
)

const (
	defaultControlPort = 8111
	defaultConnectWait = time.Second * 30
	defaultManifests   = "**/*.{json,yaml,yml}"
)

// globalParams are the flags shared by every command.
type globalParams struct {
	envFile       string
	debug         bool
	debugAll      bool
	settingsStore string
	manifestDir   string
	manifestGlob  string
}

// selectionParams choose which suites are built and which tests run.
type selectionParams struct {
	suites            []string
	categories        []string
	excludeCategories []string
	filters           ldtest.RegexFilters
	globs             ldtest.GlobFilters
	skipFile          string
}

// hostParams say where the tests run. At most one of them may be set; with none, tests run in
// this process.
type hostParams struct {
	spawn   bool
	connect string
	listen  string
	wait    time.Duration
	stderr  []string
}

type runParams struct {
	selectionParams
	hostParams
	runID          string
	jUnitFile      string
	jsonFile       string
	recordFailures string
}

func (g *globalParams) register(cmd *cobra.Command) {
	flags := cmd.PersistentFlags()
	flags.StringVar(&g.envFile, "env-file", "", "load environment variables from this file (default .env, if present)")
	flags.BoolVar(&g.debug, "debug", false, "enable debug logging for failed tests")
	flags.BoolVar(&g.debugAll, "debug-all", false, "enable debug logging for all tests and for the engine")
	flags.StringVar(&g.settingsStore, "settings", "",
		"settings store: a file path, or redis://, consul://, or dynamodb:// URL")
	flags.StringVar(&g.manifestDir, "manifests", "", "directory of parameter source manifests")
	flags.StringVar(&g.manifestGlob, "manifest-pattern", defaultManifests, "glob pattern of manifest files within --manifests")
}

func (g *globalParams) logLevel() ldlog.LogLevel {
	if g.debugAll {
		return ldlog.Debug
	}
	return ldlog.Info
}

func (s *selectionParams) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.StringSliceVar(&s.suites, "suite", nil, "only build these suites")
	flags.StringSliceVar(&s.categories, "category", nil, "only build suites and tests in these categories")
	flags.StringSliceVar(&s.excludeCategories, "exclude-category", nil, "do not build suites and tests in these categories")
	flags.Var(&s.filters.MustMatch, "run", "regex pattern(s) to select tests to run")
	flags.Var(&s.filters.MustNotMatch, "skip", "regex pattern(s) to select tests not to run")
	flags.Var(&s.globs.Include, "include", "glob pattern(s) to select tests to run")
	flags.Var(&s.globs.Exclude, "exclude", "glob pattern(s) to select tests not to run")
	flags.StringVar(&s.skipFile, "skip-from", "", "file of test names not to run, one per line")
}

func (s *selectionParams) loadRequest() testserver.LoadRequest {
	return testserver.LoadRequest{
		Suites:            s.suites,
		IncludeCategories: s.categories,
		ExcludeCategories: s.excludeCategories,
	}
}

// loadSuppressions adds every line of the skip file to the MustNotMatch filters, matched
// literally.
func (s *selectionParams) loadSuppressions() error {
	if s.skipFile == "" {
		return nil
	}
	file, err := os.Open(s.skipFile)
	if err != nil {
		return fmt.Errorf("cannot open provided suppression file: %w", err)
	}
	defer func() { _ = file.Close() }()
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := s.filters.MustNotMatch.Set(regexp.QuoteMeta(line)); err != nil {
			return fmt.Errorf("cannot parse suppression: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("while processing suppression file: %w", err)
	}
	return nil
}

func (s *selectionParams) activeFilters() []ldtest.Filter {
	var ret []ldtest.Filter
	if s.filters.IsDefined() {
		ret = append(ret, s.filters)
	}
	if s.globs.IsDefined() {
		ret = append(ret, s.globs)
	}
	return ret
}

func (h *hostParams) register(cmd *cobra.Command) {
	flags := cmd.Flags()
	flags.BoolVar(&h.spawn, "spawn", false, "run the tests in a host process started with the arguments after --")
	flags.StringVar(&h.connect, "connect", "", "run the tests in a host that is listening at this address")
	flags.StringVar(&h.listen, "listen", "", "run the tests in the first host that connects to this address")
	flags.DurationVar(&h.wait, "wait", defaultConnectWait, "how long to wait for a host to be reachable")
	flags.StringSliceVar(&h.stderr, "filter-stderr", nil, "regex patterns of spawned host output lines to hide")
}

func (h *hostParams) validate(args []string) error {
	modes := 0
	for _, set := range []bool{h.spawn, h.connect != "", h.listen != ""} {
		if set {
			modes++
		}
	}
	if modes > 1 {
		return fmt.Errorf("only one of --spawn, --connect, and --listen can be used")
	}
	if h.spawn && len(args) == 0 {
		return fmt.Errorf("--spawn requires a command after --")
	}
	if !h.spawn && len(args) != 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(args, " "))
	}
	return nil
}

func (h *hostParams) stderrFilters() ([]*regexp.Regexp, error) {
	ret := make([]*regexp.Regexp, 0, len(h.stderr))
	for _, p := range h.stderr {
		rx, err := regexp.Compile(p)
		if err != nil {
			return nil, fmt.Errorf("invalid --filter-stderr pattern %q: %w", p, err)
		}
		ret = append(ret, rx)
	}
	return ret, nil
}

func (r *runParams) register(cmd *cobra.Command) {
	r.selectionParams.register(cmd)
	r.hostParams.register(cmd)
	flags := cmd.Flags()
	flags.StringVar(&r.runID, "run-id", "", "identifier of the run, for a host's logs")
	flags.StringVar(&r.jUnitFile, "junit", "", "write JUnit XML output to the specified path")
	flags.StringVar(&r.jsonFile, "json", "", "write the result tree as JSON to the specified path")
	flags.StringVar(&r.recordFailures, "record-failures", "", "write the names of failed tests to this file, in the format of --skip-from")
}
