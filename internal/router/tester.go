package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"proxy-speedtest/internal/config"
	"proxy-speedtest/internal/tester"
)

// settleDelay gives the router time to re-establish the upstream connection
// after a switch before measurements start.
const settleDelay = 500 * time.Millisecond

// Tester runs proxy tests through a shared router process. Tests are
// strictly serial: only one upstream can be active on the process at a time,
// so parallelism would cross-talk between proxies.
type Tester struct {
	runner *Runner
	cfg    tester.Config
	runID  string
}

// NewTester wires a runner to the measurement configuration.
func NewTester(runner *Runner, cfg tester.Config) *Tester {
	return &Tester{runner: runner, cfg: cfg, runID: uuid.NewString()}
}

// RunID identifies this test run in results and export artifacts.
func (t *Tester) RunID() string { return t.runID }

// TestProxies starts the router, tests every proxy through it and stops the
// router again. The process is stopped on every exit path; a Stop failure on
// teardown is logged rather than propagated because the measurements are
// already final by then.
func (t *Tester) TestProxies(ctx context.Context, proxies []config.Proxy, progress tester.ProgressFunc) ([]*tester.Result, error) {
	slog.Info("starting router-mode speed test", "proxies", len(proxies), "run_id", t.runID)

	if err := t.runner.Start(ctx, proxies); err != nil {
		return nil, fmt.Errorf("failed to start router: %w", err)
	}
	defer func() {
		if err := t.runner.Stop(); err != nil {
			slog.Error("failed to stop router process", "error", err)
		}
	}()

	results := make([]*tester.Result, 0, len(proxies))
	for _, p := range proxies {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		result := t.testProxy(ctx, p)
		results = append(results, result)
		if progress != nil {
			progress(result)
		}
	}

	slog.Info("completed router-mode speed test", "results", len(results))
	return results, nil
}

func (t *Tester) testProxy(ctx context.Context, p config.Proxy) *tester.Result {
	slog.Info("testing proxy via router", "name", p.Name, "type", p.Type)
	started := time.Now()

	if err := t.runner.SwitchProxy(ctx, p.Name); err != nil {
		return tester.Failed(t.runID, p.Name, p.Type, fmt.Sprintf("failed to switch proxy: %v", err))
	}

	select {
	case <-ctx.Done():
		return tester.Failed(t.runID, p.Name, p.Type, "test canceled")
	case <-time.After(settleDelay):
	}

	latency, err := t.measureLatency(ctx, p)
	if err != nil {
		return tester.Failed(t.runID, p.Name, p.Type, fmt.Sprintf("latency test failed: %v", err))
	}

	result := &tester.Result{
		RunID:      t.runID,
		ProxyName:  p.Name,
		ProxyType:  p.Type,
		Latency:    latency.Avg,
		Jitter:     latency.Jitter,
		PacketLoss: latency.PacketLoss,
		Timestamp:  started,
	}

	if msg := t.cfg.LatencyThresholdError(latency.Avg); msg != "" {
		result.Error = msg
		return result
	}

	if t.cfg.FastMode {
		return result
	}

	t.measureBandwidth(ctx, result)
	return result
}

// measureLatency prefers the router's own delay query, which exercises
// protocol support the engine may lack. A local probe through the forward
// listener supplies jitter and loss when it works, and serves as the full
// fallback when the delay query fails. When only the delay query succeeds,
// jitter and loss come back zero: they were not measured, and a zero there
// must not be read as a measured-perfect link.
func (t *Tester) measureLatency(ctx context.Context, p config.Proxy) (tester.LatencyResult, error) {
	delay, err := t.runner.Delay(ctx, p.Name, "")
	if err != nil {
		slog.Debug("router delay query failed, probing through listener", "proxy", p.Name, "error", err)
		return t.probeLatency(ctx)
	}

	probed, probeErr := t.probeLatency(ctx)
	if probeErr != nil {
		// Keep the router's number; jitter and loss stay unmeasured.
		return tester.LatencyResult{Avg: delay}, nil
	}
	probed.Avg = delay
	return probed, nil
}

func (t *Tester) probeLatency(ctx context.Context) (tester.LatencyResult, error) {
	client := t.runner.Client(t.cfg.DownloadTimeout)
	return tester.MeasureLatency(ctx, client, t.cfg.ServerURL, tester.LatencyProbes)
}

// measureBandwidth fills the bandwidth fields in place. Each leg failing
// only zeroes its own speed; a threshold breach marks the result with an
// error and zeroes both speeds.
func (t *Tester) measureBandwidth(ctx context.Context, result *tester.Result) {
	if t.cfg.DownloadSize > 0 {
		client := t.runner.Client(t.cfg.DownloadTimeout)
		if dl, err := tester.MeasureDownload(ctx, client, t.cfg.ServerURL, t.cfg.DownloadSize, t.cfg.Concurrency); err != nil {
			slog.Warn("download test failed", "proxy", result.ProxyName, "error", err)
		} else {
			result.DownloadSpeed = dl.Speed
			result.DownloadTime = dl.Duration
		}
	}

	if t.cfg.UploadSize > 0 {
		client := t.runner.Client(t.cfg.UploadTimeout)
		if up, err := tester.MeasureUpload(ctx, client, t.cfg.ServerURL, t.cfg.UploadSize); err != nil {
			slog.Warn("upload test failed", "proxy", result.ProxyName, "error", err)
		} else {
			result.UploadSpeed = up.Speed
			result.UploadTime = up.Duration
		}
	}

	if msg := t.cfg.SpeedThresholdError(result.DownloadSpeed, result.UploadSpeed); msg != "" {
		result.Error = msg
		result.DownloadSpeed = 0
		result.UploadSpeed = 0
	}
}
