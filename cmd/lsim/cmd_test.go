package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/iotaledger/hive.go/ierrors"

	"github.com/daviddao/levelsim/pkg/engine"
	"github.com/daviddao/levelsim/pkg/store"
)

// execute runs the root command with args against a missing configuration
// file and a clean environment.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	for _, key := range []string{"LEVELSIM_CONFIG", "LEVELSIM_DB", "LEVELSIM_LOG_LEVEL", "LEVELSIM_UNTIL"} {
		t.Setenv(key, "")
	}

	root := newRootCmd()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml")}, args...))

	err := root.Execute()
	return out.String(), errOut.String(), err
}

var demoFlags = []string{"--until", "10", "--walkers", "2", "--stamina", "3", "--spawn-every", "4", "--width", "5", "--log-level", "error"}

// --- envOr tests ---

func TestEnvOr_EnvSet(t *testing.T) {
	t.Setenv("TEST_LSIM_ENV", "hello")
	if got := envOr("TEST_LSIM_ENV", "default"); got != "hello" {
		t.Fatalf("envOr with set env: got %q, want %q", got, "hello")
	}
}

func TestEnvOr_EnvUnset(t *testing.T) {
	if got := envOr("TEST_LSIM_UNSET_KEY_XYZ", "fallback"); got != "fallback" {
		t.Fatalf("envOr with unset env: got %q, want %q", got, "fallback")
	}
}

func TestEnvOr_EmptyEnv(t *testing.T) {
	t.Setenv("TEST_LSIM_EMPTY", "")
	if got := envOr("TEST_LSIM_EMPTY", "default"); got != "default" {
		t.Fatalf("envOr with empty env: got %q, want %q", got, "default")
	}
}

// --- version ---

func TestVersion(t *testing.T) {
	out, _, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if out != "lsim version "+version+"\n" {
		t.Fatalf("version output = %q", out)
	}

	out, _, err = execute(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("version --json is not JSON: %v", err)
	}
	if v["version"] != version {
		t.Fatalf("version = %q, want %q", v["version"], version)
	}
}

// --- run ---

func TestRun_Text(t *testing.T) {
	out, _, err := execute(t, append([]string{"run"}, demoFlags...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "demo completed at t=10 after 10 rounds") {
		t.Fatalf("unexpected summary: %q", out)
	}
	if !strings.Contains(out, "2 agents left") {
		t.Fatalf("summary should report the cloud and the last walker: %q", out)
	}
	if strings.Contains(out, "trace:") {
		t.Fatalf("untraced run should not mention a trace: %q", out)
	}
}

func TestRun_TraceRoundTrip(t *testing.T) {
	db := filepath.Join(t.TempDir(), "nested", "trace.db")

	out, _, err := execute(t, append([]string{"run", "--json", "--db", db, "--name", "ring"}, demoFlags...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	var summary runSummary
	if err := json.Unmarshal([]byte(out), &summary); err != nil {
		t.Fatalf("run --json is not JSON: %v\n%s", err, out)
	}
	if summary.Outcome != engine.OutcomeCompleted || summary.Time != 10 || summary.Rounds != 10 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.Name != "ring" || summary.RunID == "" || summary.Agents != 2 {
		t.Fatalf("summary = %+v", summary)
	}

	out, _, err = execute(t, "runs", "--json", "--db", db)
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	var runs struct {
		Runs  []store.Run `json:"runs"`
		Count int         `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &runs); err != nil {
		t.Fatalf("runs --json is not JSON: %v", err)
	}
	if runs.Count != 1 || runs.Runs[0].ID != summary.RunID || runs.Runs[0].Outcome != "completed" {
		t.Fatalf("runs = %+v", runs)
	}

	out, _, err = execute(t, "log", "--json", "--db", db, summary.RunID)
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	var log struct {
		RunID string `json:"run_id"`
		Count int    `json:"count"`
	}
	if err := json.Unmarshal([]byte(out), &log); err != nil {
		t.Fatalf("log --json is not JSON: %v", err)
	}
	if log.RunID != summary.RunID || log.Count != 24 {
		t.Fatalf("log = %+v, want 24 observations of %s", log, summary.RunID)
	}

	// Without an argument, log shows the latest run.
	out, _, err = execute(t, "log", "--db", db, "--level", "weather", "--kind", "final")
	if err != nil {
		t.Fatalf("log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(out), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one final weather observation, got %q", out)
	}
	if !strings.HasPrefix(lines[0], "[t=10] final") || !strings.Contains(lines[0], "weather") ||
		!strings.Contains(lines[0], "consistent") || !strings.Contains(lines[0], "agents=1") {
		t.Fatalf("unexpected observation line: %q", lines[0])
	}
}

func TestRun_MetricsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "metrics.prom")

	if _, _, err := execute(t, append([]string{"run", "--metrics-file", file}, demoFlags...)...); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("metrics file: %v", err)
	}
	for _, want := range []string{
		"levelsim_rounds_total 10",
		`levelsim_level_reactions_total{level="weather"} 3`,
		`levelsim_runs_total{outcome="completed"} 1`,
	} {
		if !strings.Contains(string(data), want) {
			t.Fatalf("metrics missing %q:\n%s", want, data)
		}
	}
}

func TestRun_MetricsToStderr(t *testing.T) {
	_, errOut, err := execute(t, append([]string{"run", "--metrics"}, demoFlags...)...)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(errOut, "levelsim_simulation_time 10") {
		t.Fatalf("metrics not written to stderr:\n%s", errOut)
	}
}

func TestRun_InvalidConfiguration(t *testing.T) {
	_, _, err := execute(t, "run", "--width", "0")
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("expected invalid configuration, got %v", err)
	}
}

func TestRun_ConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levelsim.yaml")
	config := "logging:\n  level: error\nrun:\n  name: filed\n  until: 4\n"
	if err := os.WriteFile(path, []byte(config), 0644); err != nil {
		t.Fatal(err)
	}

	out, _, err := execute(t, "run", "--config", path)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.HasPrefix(out, "filed completed at t=4 after 4 rounds") {
		t.Fatalf("unexpected summary: %q", out)
	}
}

// --- runs / log ---

func TestRuns_Empty(t *testing.T) {
	out, _, err := execute(t, "runs", "--db", filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("runs: %v", err)
	}
	if out != "no runs\n" {
		t.Fatalf("runs output = %q", out)
	}
}

func TestLog_NoRuns(t *testing.T) {
	_, _, err := execute(t, "log", "--db", filepath.Join(t.TempDir(), "trace.db"))
	if !ierrors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestLog_UnknownRun(t *testing.T) {
	_, _, err := execute(t, "log", "--db", filepath.Join(t.TempDir(), "trace.db"), "nope")
	if !ierrors.Is(err, store.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "trace.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestFollowLog_StopsWhenRunEnded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if _, err := s.BeginRun(ctx, "r1", "demo"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	obs := []store.Observation{
		{RunID: "r1", Kind: store.KindInitial, Level: "ground", Consistent: true, Upper: 1},
		{RunID: "r1", Kind: store.KindInitial, Level: "weather", Consistent: true, Upper: 3},
	}
	if err := s.InsertObservations(ctx, obs); err != nil {
		t.Fatalf("InsertObservations: %v", err)
	}
	if err := s.EndRun(ctx, "r1", "completed", 0, 0, ""); err != nil {
		t.Fatalf("EndRun: %v", err)
	}

	var out bytes.Buffer
	a := &app{}
	done := make(chan error, 1)
	go func() { done <- a.followLog(ctx, s, "r1", logFilter{level: "weather"}, 10*time.Millisecond, &out) }()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("followLog: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("followLog did not stop after the run ended")
	}
	if got := strings.Count(out.String(), "\n"); got != 1 {
		t.Fatalf("expected one weather line, got %q", out.String())
	}
}

func TestFollowLog_StopsOnCancel(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.BeginRun(context.Background(), "r1", "demo"); err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	a := &app{jsonOut: true}
	go func() { done <- a.followLog(ctx, s, "r1", logFilter{}, 10*time.Millisecond, &bytes.Buffer{}) }()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("followLog: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("followLog did not stop on cancellation")
	}
}

// --- config ---

func TestConfig_EnvOverride(t *testing.T) {
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"config", "--config", filepath.Join(t.TempDir(), "missing.yaml")})
	t.Setenv("LEVELSIM_DB", "")
	t.Setenv("LEVELSIM_LOG_LEVEL", "")
	t.Setenv("LEVELSIM_UNTIL", "42")

	if err := root.Execute(); err != nil {
		t.Fatalf("config: %v", err)
	}
	if !strings.Contains(out.String(), "until: 42") {
		t.Fatalf("config output should carry LEVELSIM_UNTIL:\n%s", out.String())
	}
}

func TestConfig_RejectsInvalid(t *testing.T) {
	_, _, err := execute(t, "config", "--log-level", "loud")
	if err == nil || !strings.Contains(err.Error(), "invalid log level") {
		t.Fatalf("expected invalid log level, got %v", err)
	}
}
