// Package router manages an external mihomo/clash process and drives proxy
// tests through it. The router speaks the tunnel protocols the engine's own
// clients cannot, so measurements taken through it exercise the real proxy
// path.
package router

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"proxy-speedtest/internal/config"
)

const (
	// SelectGroup is the select-type proxy group the engine switches
	// through the control API.
	SelectGroup = "SpeedTest"
	// autoGroup gives the router its own background health signal.
	autoGroup = "AutoTest"

	healthURL = "http://www.gstatic.com/generate_204"

	startupAttempts = 30
	startupInterval = 100 * time.Millisecond
	apiTimeout      = 5 * time.Second
	healthTimeout   = 500 * time.Millisecond
)

var binaryNames = []string{"mihomo", "clash", "clash-meta"}

var binaryDirs = []string{"/usr/local/bin", "/usr/bin", "/opt/homebrew/bin", "."}

// Runner owns the router process: its working directory, generated
// configuration, control-API port and local forward-proxy port. Start and
// Stop bracket a whole batch; Stop is idempotent and must run on every exit
// path so the process never outlives the run.
type Runner struct {
	binary    string
	dir       string
	apiPort   int
	proxyPort int
	api       *http.Client

	mu     sync.Mutex
	proc   *exec.Cmd
	waitCh chan error
}

// NewRunner prepares a runner. An empty binary triggers discovery through
// PATH and the usual install directories.
func NewRunner(dir, binary string, apiPort, proxyPort int) (*Runner, error) {
	if binary == "" {
		found, err := findBinary()
		if err != nil {
			return nil, err
		}
		binary = found
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create router directory: %w", err)
	}
	return &Runner{
		binary:    binary,
		dir:       dir,
		apiPort:   apiPort,
		proxyPort: proxyPort,
		api:       &http.Client{Timeout: apiTimeout},
	}, nil
}

func findBinary() (string, error) {
	for _, name := range binaryNames {
		if path, err := exec.LookPath(name); err == nil {
			slog.Info("found router binary", "path", path)
			return path, nil
		}
	}
	for _, dir := range binaryDirs {
		for _, name := range binaryNames {
			path := filepath.Join(dir, name)
			if info, err := os.Stat(path); err == nil && !info.IsDir() {
				slog.Info("found router binary", "path", path)
				return path, nil
			}
		}
	}
	return "", fmt.Errorf("router binary not found: install mihomo or pass an explicit path")
}

// routerConfig is the generated configuration handed to the router binary.
type routerConfig struct {
	MixedPort          int           `yaml:"mixed-port"`
	AllowLAN           bool          `yaml:"allow-lan"`
	Mode               string        `yaml:"mode"`
	LogLevel           string        `yaml:"log-level"`
	ExternalController string        `yaml:"external-controller"`
	Proxies            []config.Proxy `yaml:"proxies"`
	ProxyGroups        []proxyGroup  `yaml:"proxy-groups"`
	Rules              []string      `yaml:"rules"`
}

type proxyGroup struct {
	Name     string   `yaml:"name"`
	Type     string   `yaml:"type"`
	Proxies  []string `yaml:"proxies"`
	URL      string   `yaml:"url,omitempty"`
	Interval int      `yaml:"interval,omitempty"`
}

func (r *Runner) generateConfig(proxies []config.Proxy) routerConfig {
	names := make([]string, 0, len(proxies))
	for _, p := range proxies {
		names = append(names, p.Name)
	}
	return routerConfig{
		MixedPort:          r.proxyPort,
		AllowLAN:           false,
		Mode:               "rule",
		LogLevel:           "info",
		ExternalController: fmt.Sprintf("127.0.0.1:%d", r.apiPort),
		Proxies:            proxies,
		ProxyGroups: []proxyGroup{
			{Name: SelectGroup, Type: "select", Proxies: names},
			{Name: autoGroup, Type: "url-test", Proxies: names, URL: healthURL, Interval: 300},
		},
		Rules: []string{"MATCH," + SelectGroup},
	}
}

func (r *Runner) writeConfig(cfg routerConfig) (string, error) {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize router config: %w", err)
	}
	path := filepath.Join(r.dir, fmt.Sprintf("speedtest-%s.yaml", uuid.NewString()))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write router config: %w", err)
	}
	slog.Info("generated router config", "path", path)
	return path, nil
}

// Start generates a configuration embedding every candidate proxy, spawns
// the router and polls its control API until it responds. On a startup
// timeout the spawned process is killed before the error returns, so a
// failed Start never leaks a process.
func (r *Runner) Start(ctx context.Context, proxies []config.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc != nil {
		slog.Warn("router process is already running")
		return nil
	}

	path, err := r.writeConfig(r.generateConfig(proxies))
	if err != nil {
		return err
	}

	cmd := exec.Command(r.binary, "-f", path, "-d", r.dir)
	cmd.Stdout = io.Discard
	cmd.Stderr = io.Discard
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start router process: %w", err)
	}
	slog.Info("starting router process", "binary", r.binary, "pid", cmd.Process.Pid)

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	for attempt := 0; attempt < startupAttempts; attempt++ {
		select {
		case <-waitCh:
			return fmt.Errorf("router process exited during startup")
		case <-ctx.Done():
			cmd.Process.Kill()
			<-waitCh
			return ctx.Err()
		case <-time.After(startupInterval):
		}

		if r.checkHealth(ctx) == nil {
			slog.Info("router control API is ready", "port", r.apiPort)
			r.proc = cmd
			r.waitCh = waitCh
			return nil
		}
	}

	cmd.Process.Kill()
	<-waitCh
	return fmt.Errorf("timeout waiting for router control API on port %d", r.apiPort)
}

// Stop terminates the router process and waits for it to exit. Calling it
// again, or without a running process, is a no-op.
func (r *Runner) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.proc == nil {
		return nil
	}
	proc, waitCh := r.proc, r.waitCh
	r.proc = nil
	r.waitCh = nil

	slog.Info("stopping router process", "pid", proc.Process.Pid)
	if err := proc.Process.Kill(); err != nil {
		return fmt.Errorf("failed to kill router process: %w", err)
	}
	<-waitCh
	return nil
}

func (r *Runner) checkHealth(ctx context.Context) error {
	hctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(hctx, http.MethodGet, r.apiURL("/"), nil)
	if err != nil {
		return err
	}
	resp, err := r.api.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("control API returned status %d", resp.StatusCode)
	}
	return nil
}

func (r *Runner) apiURL(path string) string {
	return fmt.Sprintf("http://127.0.0.1:%d%s", r.apiPort, path)
}

// SwitchProxy makes name the active member of the select group, changing
// which upstream the router forwards traffic through.
func (r *Runner) SwitchProxy(ctx context.Context, name string) error {
	body, err := json.Marshal(map[string]string{"name": name})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		r.apiURL("/proxies/"+url.PathEscape(SelectGroup)), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.api.Do(req)
	if err != nil {
		return fmt.Errorf("failed to switch proxy: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("failed to switch proxy: status %d", resp.StatusCode)
	}
	slog.Debug("switched active proxy", "name", name)
	return nil
}

// Delay asks the router to self-measure delay to testURL through the named
// proxy. This is the first latency signal in router mode because the router
// may speak protocols the engine lacks.
func (r *Runner) Delay(ctx context.Context, name, testURL string) (time.Duration, error) {
	if testURL == "" {
		testURL = healthURL
	}
	api := fmt.Sprintf("%s/delay?timeout=5000&url=%s",
		r.apiURL("/proxies/"+url.PathEscape(name)), url.QueryEscape(testURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, api, nil)
	if err != nil {
		return 0, err
	}
	resp, err := r.api.Do(req)
	if err != nil {
		return 0, fmt.Errorf("delay query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, fmt.Errorf("delay query returned status %d", resp.StatusCode)
	}

	var payload struct {
		Delay uint32 `json:"delay"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode delay response: %w", err)
	}
	return time.Duration(payload.Delay) * time.Millisecond, nil
}

// ProxyInfo is the router's view of one proxy.
type ProxyInfo struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Alive   bool   `json:"alive"`
	History []struct {
		Time  string `json:"time"`
		Delay uint32 `json:"delay"`
	} `json:"history"`
}

// GetProxyInfo reads the router's status and delay history for a proxy.
func (r *Runner) GetProxyInfo(ctx context.Context, name string) (*ProxyInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		r.apiURL("/proxies/"+url.PathEscape(name)), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.api.Do(req)
	if err != nil {
		return nil, fmt.Errorf("proxy info query failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("proxy info query returned status %d", resp.StatusCode)
	}

	var info ProxyInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("failed to decode proxy info: %w", err)
	}
	return &info, nil
}

// Client returns an HTTP client routed through the router's local forward
// proxy listener.
func (r *Runner) Client(timeout time.Duration) *http.Client {
	proxyURL := &url.URL{
		Scheme: "http",
		Host:   fmt.Sprintf("127.0.0.1:%d", r.proxyPort),
	}
	return &http.Client{
		Transport: &http.Transport{
			Proxy: http.ProxyURL(proxyURL),
			TLSClientConfig: &tls.Config{
				InsecureSkipVerify: true,
			},
		},
		Timeout: timeout,
	}
}
