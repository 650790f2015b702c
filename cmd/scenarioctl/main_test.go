package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/signalsfoundry/scenario-composer/internal/remote"
	"github.com/signalsfoundry/scenario-composer/internal/xmlexport"
)

const scenarioYAML = `
name: lab
duration: 2s
precision: MS
nodes:
  - name: n0
    devices: [{name: eth0, type: Csma}]
  - name: n1
    devices: [{name: eth0, type: Csma}]
connections:
  - {name: lan, type: Csma, interfaces: [n0/eth0, n1/eth0, n2/eth0]}
`

func noEnv(string) (string, bool) { return "", false }

func envOf(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	return runContext(context.Background(), t, noEnv, args...)
}

func runContext(ctx context.Context, t *testing.T, lookupEnv func(string) (string, bool), args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	a := newApp(&stdout, &stderr, lookupEnv)
	err := a.execute(ctx, append([]string{"--config", filepath.Join(t.TempDir(), "none.yaml")}, args...))
	return stdout.String(), stderr.String(), err
}

func writeScenario(t *testing.T, doc string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestInitWritesLoadableScenario(t *testing.T) {
	path := filepath.Join(t.TempDir(), "new.yaml")
	if _, _, err := run(t, "init", path, "--name", "fresh"); err != nil {
		t.Fatalf("init error = %v", err)
	}
	out, _, err := run(t, "validate", path)
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.HasPrefix(out, "fresh: ok (0 nodes") {
		t.Fatalf("validate output = %q", out)
	}
	if _, _, err := run(t, "init", path); err == nil {
		t.Fatalf("init over existing file error = nil")
	}
}

func TestValidateReportsDanglingInterfaces(t *testing.T) {
	out, _, err := run(t, "validate", writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(out, "lab: ok (2 nodes, 2 devices, 1 connections, 0 tracers)") {
		t.Fatalf("validate output = %q", out)
	}
	if !strings.Contains(out, "warning: n2/eth0") {
		t.Fatalf("validate output missing dangling warning: %q", out)
	}
}

func TestValidateRejectsInvalidScenario(t *testing.T) {
	doc := "nodes: [{name: a}, {name: a}]\n"
	_, _, err := run(t, "validate", writeScenario(t, doc))
	if err == nil || !strings.Contains(err.Error(), "duplicate node name") {
		t.Fatalf("validate error = %v, want duplicate node name", err)
	}
}

func TestExportToStdoutAndFile(t *testing.T) {
	path := writeScenario(t, scenarioYAML)

	out, _, err := run(t, "export", path, "-o", "-")
	if err != nil {
		t.Fatalf("export error = %v", err)
	}
	if !strings.HasPrefix(out, xmlexport.Header) || !strings.Contains(out, `<model name="lab"`) {
		t.Fatalf("export output = %q", out)
	}

	target := filepath.Join(t.TempDir(), "result")
	if _, _, err := run(t, "export", path, "-o", target); err != nil {
		t.Fatalf("export error = %v", err)
	}
	data, err := os.ReadFile(target + ".xml")
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != out {
		t.Fatalf("file export differs from stdout export")
	}
}

func TestTopologyPrintsDOT(t *testing.T) {
	out, _, err := run(t, "topology", writeScenario(t, scenarioYAML))
	if err != nil {
		t.Fatalf("topology error = %v", err)
	}
	if !strings.HasPrefix(out, "graph topology {") || !strings.Contains(out, `[label="lan", shape=plaintext]`) {
		t.Fatalf("topology output = %q", out)
	}
}

// simulator replays events to every new /events connection. With
// broadcast set it instead publishes events once, from inside /start, to
// the clients subscribed at that moment.
type simulator struct {
	mu        sync.Mutex
	started   []string
	stopped   int
	events    []remote.Event
	broadcast bool
	subs      map[*websocket.Conn]struct{}
}

func (s *simulator) subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

func (s *simulator) publish(ctx context.Context) {
	// A client that subscribes concurrently with /start may register a
	// moment after the request arrives.
	deadline := time.Now().Add(2 * time.Second)
	for s.subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.subs {
		for _, ev := range s.events {
			_ = wsjson.Write(ctx, conn, ev)
		}
	}
}

func (s *simulator) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/start", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		s.mu.Lock()
		s.started = append(s.started, string(body))
		s.mu.Unlock()
		if s.broadcast {
			s.publish(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/stop", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.stopped++
		s.mu.Unlock()
		w.WriteHeader(http.StatusConflict)
		_, _ = io.WriteString(w, `{"error":"no simulation running"}`)
	})
	mux.HandleFunc("/events", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		if s.broadcast {
			s.mu.Lock()
			if s.subs == nil {
				s.subs = map[*websocket.Conn]struct{}{}
			}
			s.subs[conn] = struct{}{}
			s.mu.Unlock()
			defer func() {
				s.mu.Lock()
				delete(s.subs, conn)
				s.mu.Unlock()
			}()
		} else {
			for _, ev := range s.events {
				if err := wsjson.Write(r.Context(), conn, ev); err != nil {
					return
				}
			}
		}
		_, _, _ = conn.Read(r.Context())
	})
	return mux
}

func TestSubmitWatchFollowsUntilUploaded(t *testing.T) {
	sim := &simulator{events: []remote.Event{
		{Status: remote.StatusLog, Msg: "running"},
		{Status: remote.StatusUploaded, Msg: "lab.zip"},
	}}
	srv := httptest.NewServer(sim.handler())
	t.Cleanup(srv.Close)

	out, _, err := run(t, "--remote", srv.URL, "submit", writeScenario(t, scenarioYAML), "--watch")
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	if len(sim.started) != 1 || !strings.HasPrefix(sim.started[0], xmlexport.Header) {
		t.Fatalf("simulator received %v", sim.started)
	}
	for _, want := range []string{"submitted lab", "running\n", "uploaded lab.zip"} {
		if !strings.Contains(out, want) {
			t.Fatalf("submit output %q missing %q", out, want)
		}
	}
}

func TestSubmitWatchSeesEventsPublishedDuringStart(t *testing.T) {
	sim := &simulator{broadcast: true, events: []remote.Event{
		{Status: remote.StatusLog, Msg: "compiled"},
		{Status: remote.StatusUploaded, Msg: "lab.zip"},
	}}
	srv := httptest.NewServer(sim.handler())
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	out, _, err := runContext(ctx, t, noEnv, "--remote", srv.URL, "submit", writeScenario(t, scenarioYAML), "--watch")
	if err != nil {
		t.Fatalf("submit error = %v", err)
	}
	for _, want := range []string{"compiled\n", "uploaded lab.zip"} {
		if !strings.Contains(out, want) {
			t.Fatalf("submit output %q missing %q", out, want)
		}
	}
}

func TestSubmitWatchFailsOnSimulationError(t *testing.T) {
	sim := &simulator{events: []remote.Event{{Status: remote.StatusError, Msg: "bad attribute"}}}
	srv := httptest.NewServer(sim.handler())
	t.Cleanup(srv.Close)

	_, stderr, err := run(t, "--remote", srv.URL, "submit", writeScenario(t, scenarioYAML), "--watch")
	if !errors.Is(err, errSimulation) {
		t.Fatalf("submit error = %v, want errSimulation", err)
	}
	if !strings.Contains(stderr, "ERROR: bad attribute") {
		t.Fatalf("stderr = %q", stderr)
	}
}

func TestStopSurfacesRemoteError(t *testing.T) {
	sim := &simulator{}
	srv := httptest.NewServer(sim.handler())
	t.Cleanup(srv.Close)

	_, _, err := run(t, "--remote", srv.URL, "stop")
	var rerr *remote.RemoteError
	if !errors.As(err, &rerr) || rerr.Message != "no simulation running" {
		t.Fatalf("stop error = %v, want RemoteError", err)
	}
	if sim.stopped != 1 {
		t.Fatalf("stop requests = %d, want 1", sim.stopped)
	}
}

func TestInvalidRemoteFlagFailsSetup(t *testing.T) {
	_, _, err := run(t, "--remote", "localhost:5000", "stop")
	if err == nil || !strings.Contains(err.Error(), "remote_url") {
		t.Fatalf("stop error = %v, want remote_url validation error", err)
	}
}

func TestFailedCommandStillFlushesTraces(t *testing.T) {
	env := envOf(map[string]string{
		"SCENARIOCTL_TRACING_ENABLED":  "true",
		"SCENARIOCTL_TRACING_EXPORTER": "stdout",
	})
	path := writeScenario(t, "name: lab\nduration: 2s\nprecision: MS\nnodes: [{name: n0}, {name: n0}]\n")

	_, stderr, err := runContext(context.Background(), t, env, "validate", path)
	if err == nil {
		t.Fatalf("validate error = nil, want duplicate node error")
	}
	if !strings.Contains(stderr, `"scenario.reset"`) {
		t.Fatalf("stderr missing exported scenario.reset span: %q", stderr)
	}
}

func TestVersion(t *testing.T) {
	out, _, err := run(t, "version")
	if err != nil {
		t.Fatalf("version error = %v", err)
	}
	if out != "scenarioctl dev\n" {
		t.Fatalf("version output = %q", out)
	}
}

func TestXMLPath(t *testing.T) {
	cases := map[string]string{"lab": "lab.xml", "lab.xml": "lab.xml", "out/Lab.XML": "out/Lab.XML"}
	for in, want := range cases {
		if got := xmlPath(in); got != want {
			t.Fatalf("xmlPath(%q) = %q, want %q", in, got, want)
		}
	}
}
