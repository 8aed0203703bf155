package testserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/launchdarkly/test-engine/framework"
	"github.com/launchdarkly/test-engine/framework/builder"
	"github.com/launchdarkly/test-engine/framework/ldtest"
)

const httpListenerTimeout = time.Second * 10

type loadParams struct {
	Suites            []string `json:"suites"`
	IncludeCategories []string `json:"includeCategories"`
	ExcludeCategories []string `json:"excludeCategories"`
}

type runParams struct {
	RunID        string   `json:"runId"`
	MustMatch    []string `json:"mustMatch"`
	MustNotMatch []string `json:"mustNotMatch"`
}

type runStatus struct {
	RunID   string `json:"runId"`
	Running bool   `json:"running"`
	Error   string `json:"error,omitempty"`
}

// ControlServer lets a front end drive a Session over HTTP:
//
//	POST /suite    load the suite; body {"suites", "includeCategories", "excludeCategories"}
//	POST /run      start a run in the background; body {"runId", "mustMatch", "mustNotMatch"}
//	POST /stop     cancel the run in progress; ?run=ID selects a run
//	GET  /status   the current or last run
//	GET  /result   the last run's result tree as JSON
//	GET  /tests    the loaded test names
//	GET  /events   test events as server-sent events
type ControlServer struct {
	session Session
	events  *EventStream
	logger  ldtest.TestLogger
	router  *mux.Router
	debug   framework.Logger
	status  runStatus
	ctx     context.Context
	cancel  context.CancelFunc
	runs    sync.WaitGroup
	lock    sync.Mutex
}

// NewControlServer creates the handler. Events of each run go to the event stream and also to
// logger, if it is not nil.
func NewControlServer(session Session, logger ldtest.TestLogger, debugLogger framework.Logger) *ControlServer {
	if debugLogger == nil {
		debugLogger = framework.NullLogger()
	}
	s := &ControlServer{
		session: session,
		events:  NewEventStream(debugLogger),
		logger:  logger,
		debug:   debugLogger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	r := mux.NewRouter()
	r.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) }).Methods("HEAD", "GET")
	r.HandleFunc("/suite", s.postSuite).Methods("POST")
	r.HandleFunc("/run", s.postRun).Methods("POST")
	r.HandleFunc("/stop", s.postStop).Methods("POST")
	r.HandleFunc("/status", s.getStatus).Methods("GET")
	r.HandleFunc("/result", s.getResult).Methods("GET")
	r.HandleFunc("/tests", s.getTests).Methods("GET")
	r.Handle("/events", s.events.Handler()).Methods("GET")
	s.router = r
	return s
}

func (s *ControlServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Close cancels any run in progress, waits for it to finish, and closes the event stream.
func (s *ControlServer) Close() {
	s.cancel()
	s.runs.Wait()
	s.events.Close()
}

// Start listens on addr and returns once the listener is answering requests.
func (s *ControlServer) Start(addr string) (*http.Server, net.Addr, error) {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	server := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.debug.Printf("Control server stopped: %s", err)
		}
	}()

	url := fmt.Sprintf("http://%s", listener.Addr())
	deadline := time.NewTimer(httpListenerTimeout)
	defer deadline.Stop()
	ticker := time.NewTicker(time.Millisecond * 10)
	defer ticker.Stop()
	for {
		select {
		case <-deadline.C:
			_ = server.Close()
			return nil, nil, fmt.Errorf("could not detect own listener at %s", url)
		case <-ticker.C:
			req, _ := http.NewRequest("HEAD", url, nil)
			resp, err := http.DefaultClient.Do(req)
			if err == nil {
				_ = resp.Body.Close()
				return server, listener.Addr(), nil
			}
		}
	}
}

func (s *ControlServer) postSuite(w http.ResponseWriter, r *http.Request) {
	var params loadParams
	if !readJSON(w, r, &params) {
		return
	}
	err := s.session.LoadTestSuite(r.Context(), LoadRequest(params))
	var configErr *builder.ConfigurationError
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.As(err, &configErr):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrRunInProgress):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (s *ControlServer) postRun(w http.ResponseWriter, r *http.Request) {
	var params runParams
	if !readJSON(w, r, &params) {
		return
	}
	filter, err := parseRegexFilters(params.MustMatch, params.MustNotMatch)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.lock.Lock()
	if s.status.Running {
		s.lock.Unlock()
		http.Error(w, ErrRunInProgress.Error(), http.StatusConflict)
		return
	}
	if params.RunID == "" {
		params.RunID = fmt.Sprintf("run-%d", time.Now().UnixNano())
	}
	s.status = runStatus{RunID: params.RunID, Running: true}
	s.runs.Add(1)
	s.lock.Unlock()

	var logger ldtest.TestLogger = s.events
	if s.logger != nil {
		logger = ldtest.MultiTestLogger{Loggers: []ldtest.TestLogger{s.events, s.logger}}
	}
	go func() {
		defer s.runs.Done()
		result, err := s.session.Run(s.ctx, RunRequest{RunID: params.RunID, Filter: filter}, logger)
		s.lock.Lock()
		s.status.Running = false
		if err != nil {
			s.status.Error = err.Error()
		}
		s.lock.Unlock()
		if result != nil {
			s.events.RunCompleted(params.RunID, result)
		}
	}()
	writeJSON(w, http.StatusAccepted, runStatus{RunID: params.RunID, Running: true})
}

func (s *ControlServer) postStop(w http.ResponseWriter, r *http.Request) {
	runID := r.URL.Query().Get("run")
	if err := s.session.Stop(r.Context(), runID); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *ControlServer) getStatus(w http.ResponseWriter, _ *http.Request) {
	s.lock.Lock()
	status := s.status
	s.lock.Unlock()
	writeJSON(w, http.StatusOK, status)
}

func (s *ControlServer) getResult(w http.ResponseWriter, r *http.Request) {
	result, err := s.session.Result(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if result == nil {
		http.Error(w, "no completed run", http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(ldtest.ResultJSON(result))
}

func (s *ControlServer) getTests(w http.ResponseWriter, r *http.Request) {
	names, err := s.session.ListTests(r.Context())
	if errors.Is(err, ErrNoSuiteLoaded) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	ret := make([]string, 0, len(names))
	for _, n := range names {
		ret = append(ret, n.String())
	}
	writeJSON(w, http.StatusOK, ret)
}

func readJSON(w http.ResponseWriter, r *http.Request, target interface{}) bool {
	if r.ContentLength == 0 {
		return true
	}
	if err := json.NewDecoder(r.Body).Decode(target); err != nil {
		http.Error(w, "invalid JSON body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	data, _ := json.Marshal(value)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
