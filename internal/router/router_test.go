package router

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"proxy-speedtest/internal/config"
)

func testProxies() []config.Proxy {
	return []config.Proxy{
		{Name: "HK 1", Type: "ss", Server: "hk1.example.com", Port: 8388},
		{Name: "US 1", Type: "vmess", Server: "us1.example.com", Port: 443},
	}
}

// fakeControlAPI emulates the router's control surface on a real listener and
// returns a Runner pointed at it.
func fakeControlAPI(t *testing.T, handler http.Handler) *Runner {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	return &Runner{
		binary:    "unused",
		dir:       t.TempDir(),
		apiPort:   serverPort(t, srv),
		proxyPort: 7890,
		api:       &http.Client{Timeout: apiTimeout},
	}
}

func TestGenerateConfig(t *testing.T) {
	r := &Runner{apiPort: 9090, proxyPort: 7890}
	cfg := r.generateConfig(testProxies())

	if cfg.MixedPort != 7890 {
		t.Errorf("MixedPort = %d, want 7890", cfg.MixedPort)
	}
	if cfg.ExternalController != "127.0.0.1:9090" {
		t.Errorf("ExternalController = %q", cfg.ExternalController)
	}
	if len(cfg.Proxies) != 2 {
		t.Fatalf("got %d proxies, want 2", len(cfg.Proxies))
	}

	if len(cfg.ProxyGroups) != 2 {
		t.Fatalf("got %d proxy groups, want 2", len(cfg.ProxyGroups))
	}
	sel := cfg.ProxyGroups[0]
	if sel.Name != SelectGroup || sel.Type != "select" {
		t.Errorf("first group = %s/%s, want %s/select", sel.Name, sel.Type, SelectGroup)
	}
	if len(sel.Proxies) != 2 || sel.Proxies[0] != "HK 1" {
		t.Errorf("select group members = %v", sel.Proxies)
	}
	auto := cfg.ProxyGroups[1]
	if auto.Type != "url-test" || auto.URL == "" {
		t.Errorf("second group = %+v, want a url-test group with a health URL", auto)
	}

	if len(cfg.Rules) != 1 || cfg.Rules[0] != "MATCH,"+SelectGroup {
		t.Errorf("rules = %v, want the single MATCH rule", cfg.Rules)
	}
}

func TestWriteConfig(t *testing.T) {
	r := &Runner{dir: t.TempDir(), apiPort: 9090, proxyPort: 7890}
	path, err := r.writeConfig(r.generateConfig(testProxies()))
	if err != nil {
		t.Fatalf("writeConfig() error: %v", err)
	}
	if filepath.Dir(path) != r.dir {
		t.Errorf("config written to %s, want inside %s", path, r.dir)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read generated config: %v", err)
	}
	var parsed map[string]any
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("generated config is not valid YAML: %v", err)
	}
	for _, key := range []string{"mixed-port", "external-controller", "proxies", "proxy-groups", "rules"} {
		if _, ok := parsed[key]; !ok {
			t.Errorf("generated config missing %q", key)
		}
	}
}

func TestSwitchProxy(t *testing.T) {
	var gotName, gotPath string
	mux := http.NewServeMux()
	mux.HandleFunc("/proxies/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %s, want PUT", r.Method)
		}
		gotPath = r.URL.Path
		var body struct {
			Name string `json:"name"`
		}
		json.NewDecoder(r.Body).Decode(&body)
		gotName = body.Name
		w.WriteHeader(http.StatusNoContent)
	})

	r := fakeControlAPI(t, mux)
	if err := r.SwitchProxy(context.Background(), "HK 1"); err != nil {
		t.Fatalf("SwitchProxy() error: %v", err)
	}
	if gotName != "HK 1" {
		t.Errorf("switched to %q, want HK 1", gotName)
	}
	if gotPath != "/proxies/"+SelectGroup {
		t.Errorf("request path = %q", gotPath)
	}
}

func TestSwitchProxyError(t *testing.T) {
	r := fakeControlAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unknown proxy", http.StatusBadRequest)
	}))
	if err := r.SwitchProxy(context.Background(), "nope"); err == nil {
		t.Fatal("expected error on non-2xx status")
	}
}

func TestDelay(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/proxies/HK1/delay", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("url") == "" {
			t.Error("delay query missing url parameter")
		}
		json.NewEncoder(w).Encode(map[string]uint32{"delay": 142})
	})

	r := fakeControlAPI(t, mux)
	delay, err := r.Delay(context.Background(), "HK1", "")
	if err != nil {
		t.Fatalf("Delay() error: %v", err)
	}
	if delay != 142*time.Millisecond {
		t.Errorf("delay = %v, want 142ms", delay)
	}
}

func TestDelayTimeout(t *testing.T) {
	r := fakeControlAPI(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"message":"timeout"}`, http.StatusGatewayTimeout)
	}))
	if _, err := r.Delay(context.Background(), "HK1", ""); err == nil {
		t.Fatal("expected error on delay timeout status")
	}
}

func TestGetProxyInfo(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/proxies/HK1", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name": "HK1", "type": "Shadowsocks", "alive": true,
			"history": []map[string]any{{"time": "2026-01-01T00:00:00Z", "delay": 90}},
		})
	})

	r := fakeControlAPI(t, mux)
	info, err := r.GetProxyInfo(context.Background(), "HK1")
	if err != nil {
		t.Fatalf("GetProxyInfo() error: %v", err)
	}
	if info.Name != "HK1" || !info.Alive {
		t.Errorf("unexpected info: %+v", info)
	}
	if len(info.History) != 1 || info.History[0].Delay != 90 {
		t.Errorf("unexpected history: %+v", info.History)
	}
}

func TestClientUsesForwardProxy(t *testing.T) {
	r := &Runner{proxyPort: 7890}
	client := r.Client(3 * time.Second)
	if client.Timeout != 3*time.Second {
		t.Errorf("timeout = %v", client.Timeout)
	}
	transport := client.Transport.(*http.Transport)
	proxyURL, err := transport.Proxy(&http.Request{})
	if err != nil {
		t.Fatalf("transport proxy func error: %v", err)
	}
	if proxyURL.Host != "127.0.0.1:7890" {
		t.Errorf("proxy host = %q, want 127.0.0.1:7890", proxyURL.Host)
	}
}

func TestStartTimeoutKillsProcess(t *testing.T) {
	if testing.Short() {
		t.Skip("spawns a process and waits out the startup window")
	}

	dir := t.TempDir()
	script := filepath.Join(dir, "fake-router")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nsleep 30\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := &Runner{
		binary:    script,
		dir:       dir,
		apiPort:   unusedPort(t),
		proxyPort: 7890,
		api:       &http.Client{Timeout: apiTimeout},
	}

	start := time.Now()
	err := r.Start(context.Background(), testProxies())
	if err == nil {
		r.Stop()
		t.Fatal("expected startup timeout")
	}
	if !strings.Contains(err.Error(), "timeout waiting for router control API") {
		t.Errorf("unexpected error: %v", err)
	}
	// Start waits for the killed process; a 30s sleep surviving would show
	// up here as a long elapsed time.
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("Start() took %v, process was not killed", elapsed)
	}
	if r.proc != nil {
		t.Error("failed Start must not leave a process handle")
	}
}

func TestStartExitingBinary(t *testing.T) {
	dir := t.TempDir()
	script := filepath.Join(dir, "fake-router")
	if err := os.WriteFile(script, []byte("#!/bin/sh\nexit 1\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	r := &Runner{
		binary:    script,
		dir:       dir,
		apiPort:   unusedPort(t),
		proxyPort: 7890,
		api:       &http.Client{Timeout: apiTimeout},
	}

	err := r.Start(context.Background(), testProxies())
	if err == nil {
		r.Stop()
		t.Fatal("expected error when the process exits during startup")
	}
	if !strings.Contains(err.Error(), "exited during startup") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	r := &Runner{}
	if err := r.Stop(); err != nil {
		t.Errorf("Stop() without a process = %v, want nil", err)
	}
	if err := r.Stop(); err != nil {
		t.Errorf("second Stop() = %v, want nil", err)
	}
}

func unusedPort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
