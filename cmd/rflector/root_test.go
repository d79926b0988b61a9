package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/BadgerOps/rflector/internal/config"
	"github.com/BadgerOps/rflector/internal/mirror"
)

const statusJSON = `{
  "cutoff": 86400,
  "last_check": "2024-05-01T11:50:00Z",
  "num_checks": 24,
  "check_frequency": 3600,
  "version": 3,
  "urls": [
    {"url": "https://a.example/archlinux/", "protocol": "https", "last_sync": "2024-05-01T11:00:00Z",
     "completion_pct": 1.0, "delay": 600, "duration_avg": 0.4, "duration_stddev": 0.1, "score": 2.0,
     "active": true, "country": "Germany", "country_code": "DE", "isos": true, "ipv4": true, "ipv6": true, "details": ""},
    {"url": "https://b.example/archlinux/", "protocol": "https", "last_sync": "2024-05-01T09:00:00Z",
     "completion_pct": 1.0, "delay": 1200, "duration_avg": 0.2, "duration_stddev": 0.1, "score": 1.0,
     "active": true, "country": "France", "country_code": "FR", "isos": true, "ipv4": true, "ipv6": false, "details": ""},
    {"url": "http://c.example/archlinux/", "protocol": "http", "last_sync": "2024-05-01T11:30:00Z",
     "completion_pct": 1.0, "delay": 60, "duration_avg": 0.1, "duration_stddev": 0.1, "score": 0.5,
     "active": false, "country": "Germany", "country_code": "DE", "isos": true, "ipv4": true, "ipv6": true, "details": ""},
    {"url": "rsync://d.example/archlinux/", "protocol": "rsync", "last_sync": "2024-05-01T11:10:00Z",
     "completion_pct": 1.0, "delay": 300, "duration_avg": null, "duration_stddev": null, "score": 3.0,
     "active": true, "country": "Germany", "country_code": "DE", "isos": false, "ipv4": true, "ipv6": false, "details": ""},
    {"url": "https://e.example/archlinux/", "protocol": "https", "last_sync": null,
     "completion_pct": 0.5, "delay": null, "duration_avg": null, "duration_stddev": null, "score": null,
     "active": true, "country": "", "country_code": "", "isos": false, "ipv4": true, "ipv6": false, "details": ""}
  ]
}`

// testEnv is a status server plus an isolated config for one test.
type testEnv struct {
	calls   *atomic.Int32
	url     string
	dir     string
	cfgFile string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	for _, k := range []string{config.EnvURL, config.EnvCacheDir, config.EnvCacheTimeout, config.EnvHistoryDB} {
		t.Setenv(k, "")
	}

	calls := &atomic.Int32{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, statusJSON)
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	cfgFile := filepath.Join(dir, "rflector.yaml")
	cfg := fmt.Sprintf(`status:
  url: %q
cache:
  dir: %q
  ttl: 300
history:
  enabled: true
  db_path: %q
`, srv.URL+"/json/", filepath.Join(dir, "cache"), filepath.Join(dir, "history.db"))
	if err := os.WriteFile(cfgFile, []byte(cfg), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	return &testEnv{calls: calls, url: srv.URL + "/json/", dir: dir, cfgFile: cfgFile}
}

// run executes the root command with args and returns what it wrote.
func (e *testEnv) run(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--config", e.cfgFile, "--log-level", "error"}, args...))

	err := cmd.ExecuteContext(context.Background())
	closeStore()
	return out.String(), err
}

func serverLines(out string) []string {
	var lines []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Server = ") {
			lines = append(lines, line)
		}
	}
	return lines
}

func TestRootWritesMirrorlist(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--sort", "score")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	want := []string{
		"Server = https://b.example/archlinux/$repo/os/$arch",
		"Server = https://a.example/archlinux/$repo/os/$arch",
	}
	got := serverLines(out)
	if strings.Join(got, "\n") != strings.Join(want, "\n") {
		t.Errorf("mirrorlist servers:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
	}
	if !strings.Contains(out, "# From:       "+env.url) {
		t.Errorf("expected source URL in header, got:\n%s", out)
	}
	if !strings.Contains(out, "# Retrieved:  network") {
		t.Errorf("expected network origin in header, got:\n%s", out)
	}
}

func TestRootUsesCacheOnSecondRun(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	out, err := env.run(t)
	if err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	if got := env.calls.Load(); got != 1 {
		t.Errorf("expected 1 network fetch, got %d", got)
	}
	if !strings.Contains(out, "# Retrieved:  cache") {
		t.Errorf("expected cache origin in header, got:\n%s", out)
	}

	if _, err := env.run(t, "--cache-timeout", "0"); err != nil {
		t.Fatalf("third run failed: %v", err)
	}
	if got := env.calls.Load(); got != 2 {
		t.Errorf("expected zero cache timeout to refetch, got %d fetches", got)
	}
}

func TestRootFiltersAndSelection(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want []string
	}{
		{
			name: "defaults keep active complete mirrors",
			want: []string{"https://a.example/archlinux/", "https://b.example/archlinux/"},
		},
		{
			name: "include inactive",
			args: []string{"--include-inactive"},
			want: []string{"https://a.example/archlinux/", "https://b.example/archlinux/", "http://c.example/archlinux/"},
		},
		{
			name: "country",
			args: []string{"-c", "fr"},
			want: []string{"https://b.example/archlinux/"},
		},
		{
			name: "exclude pattern",
			args: []string{"-x", `a\.example`},
			want: []string{"https://b.example/archlinux/"},
		},
		{
			name: "completion zero",
			args: []string{"--completion-percent", "0", "--sort", "age"},
			want: []string{"https://a.example/archlinux/", "https://b.example/archlinux/", "https://e.example/archlinux/"},
		},
		{
			name: "latest then number",
			args: []string{"-p", "https", "--latest", "2", "-n", "1"},
			want: []string{"https://a.example/archlinux/"},
		},
		{
			name: "best score",
			args: []string{"--score", "1"},
			want: []string{"https://b.example/archlinux/"},
		},
		{
			name: "sort by rate",
			args: []string{"--sort", "rate"},
			want: []string{"https://b.example/archlinux/", "https://a.example/archlinux/"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			out, err := env.run(t, tt.args...)
			if err != nil {
				t.Fatalf("run failed: %v", err)
			}

			var want []string
			for _, u := range tt.want {
				want = append(want, "Server = "+u+"$repo/os/$arch")
			}
			if got := serverLines(out); strings.Join(got, "\n") != strings.Join(want, "\n") {
				t.Errorf("got:\n%s\nwant:\n%s", strings.Join(got, "\n"), strings.Join(want, "\n"))
			}
		})
	}
}

func TestRootRejectsInvalidArgumentsBeforeFetching(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"bad include pattern", []string{"-i", "("}},
		{"bad exclude pattern", []string{"-x", "[a-"}},
		{"completion above range", []string{"--completion-percent", "101"}},
		{"completion below range", []string{"--completion-percent", "-1"}},
		{"unknown sort key", []string{"--sort", "speed"}},
		{"unknown protocol", []string{"-p", "https,gopher"}},
		{"negative age", []string{"--age", "-2"}},
		{"negative number", []string{"-n", "-1"}},
		{"save with info", []string{"--info", "--save", "/tmp/x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, err := env.run(t, tt.args...)
			if !errors.Is(err, mirror.ErrInvalidArgument) {
				t.Fatalf("expected ErrInvalidArgument, got %v", err)
			}
			if got := env.calls.Load(); got != 0 {
				t.Errorf("expected no network access, got %d fetches", got)
			}
		})
	}
}

func TestRootNetworkFailure(t *testing.T) {
	env := newTestEnv(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	if _, err := env.run(t, "--url", srv.URL); err == nil {
		t.Fatal("expected error for failing status endpoint")
	}
}

func TestRootSave(t *testing.T) {
	env := newTestEnv(t)
	path := filepath.Join(env.dir, "etc", "mirrorlist")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	out, err := env.run(t, "--save", path)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if out != "" {
		t.Errorf("expected nothing on stdout with --save, got:\n%s", out)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading saved mirrorlist: %v", err)
	}
	if len(serverLines(string(data))) != 2 {
		t.Errorf("expected 2 servers in saved mirrorlist, got:\n%s", data)
	}
}

func TestRootInfoAndCountries(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--info", "-c", "DE")
	if err != nil {
		t.Fatalf("--info failed: %v", err)
	}
	if !strings.Contains(out, "https://a.example/archlinux/") || strings.Contains(out, "b.example") {
		t.Errorf("unexpected --info output:\n%s", out)
	}
	if !strings.Contains(out, "rsync://d.example/archlinux/") {
		t.Errorf("--info should include rsync mirrors:\n%s", out)
	}

	out, err = env.run(t, "--list-countries")
	if err != nil {
		t.Fatalf("--list-countries failed: %v", err)
	}
	for _, want := range []string{"Germany", "France", "(worldwide)"} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in countries output:\n%s", want, out)
		}
	}
}

func TestHistoryCommand(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	if _, err := env.run(t); err != nil {
		t.Fatalf("second run failed: %v", err)
	}

	out, err := env.run(t, "history")
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if !strings.Contains(out, "network") || !strings.Contains(out, "cache") {
		t.Errorf("expected network and cache entries, got:\n%s", out)
	}
	if !strings.Contains(out, env.url) {
		t.Errorf("expected source URL in history, got:\n%s", out)
	}

	out, err = env.run(t, "history", "--url", "https://other.example/json/")
	if err != nil {
		t.Fatalf("history --url failed: %v", err)
	}
	if !strings.Contains(out, "No fetches recorded.") {
		t.Errorf("expected empty history for other URL, got:\n%s", out)
	}
}

func TestHistoryDisabled(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.run(t, "--no-history", "history"); err == nil {
		t.Fatal("expected error when history is disabled")
	}
}

func TestConfigShow(t *testing.T) {
	env := newTestEnv(t)

	out, err := env.run(t, "--cache-timeout", "42", "config", "show")
	if err != nil {
		t.Fatalf("config show failed: %v", err)
	}
	if !strings.Contains(out, "# loaded from "+env.cfgFile) {
		t.Errorf("expected config path, got:\n%s", out)
	}
	if !strings.Contains(out, "ttl: 42") {
		t.Errorf("expected flag override in output, got:\n%s", out)
	}
	if !strings.Contains(out, env.url) {
		t.Errorf("expected status URL in output, got:\n%s", out)
	}
}

func TestSetupLoggingVerbose(t *testing.T) {
	origLevel, origVerbose := logLevel, verbose
	t.Cleanup(func() { logLevel, verbose = origLevel, origVerbose })

	logLevel, verbose = "error", true
	setupLogging()
	if !logger.Enabled(context.Background(), -4) {
		t.Error("expected --verbose to enable debug logging")
	}

	logLevel, verbose = "error", false
	setupLogging()
	if logger.Enabled(context.Background(), 0) {
		t.Error("expected info logging to be disabled at error level")
	}
}
