package tester

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"proxy-speedtest/internal/config"
)

// ProgressFunc is invoked once per completed proxy. In sequential mode calls
// arrive in input order; in concurrent mode they arrive in completion order,
// always from a single goroutine.
type ProgressFunc func(*Result)

// Tester measures proxies directly through clients built per proxy type.
type Tester struct {
	cfg   Config
	runID string
}

// New creates a Tester for one run. Every result it produces carries the
// same run ID.
func New(cfg Config) *Tester {
	return &Tester{cfg: cfg, runID: uuid.NewString()}
}

// RunID identifies this test run in results and export artifacts.
func (t *Tester) RunID() string { return t.runID }

// TestProxy runs latency and, unless fast mode or a threshold short-circuits,
// bandwidth measurements for a single proxy. It always returns a result;
// failures are captured in the result's Error field.
func (t *Tester) TestProxy(ctx context.Context, p config.Proxy) *Result {
	slog.Info("testing proxy", "name", p.Name, "type", p.Type)
	started := time.Now()

	client, fidelity, err := BuildClient(p, t.cfg.DownloadTimeout)
	if err != nil {
		return Failed(t.runID, p.Name, p.Type, fmt.Sprintf("failed to build client: %v", err))
	}
	if fidelity == FidelityCoarse {
		slog.Info("results are a connectivity signal only", "proxy", p.Name)
	}

	latency, err := MeasureLatency(ctx, client, t.cfg.ServerURL, LatencyProbes)
	if err != nil {
		slog.Warn("latency test failed", "proxy", p.Name, "error", err)
		return Failed(t.runID, p.Name, p.Type, fmt.Sprintf("latency test failed: %v", err))
	}

	result := &Result{
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

	if t.cfg.DownloadSize > 0 {
		if dl, err := MeasureDownload(ctx, client, t.cfg.ServerURL, t.cfg.DownloadSize, t.cfg.Concurrency); err != nil {
			slog.Debug("download test failed", "proxy", p.Name, "error", err)
		} else {
			result.DownloadSpeed = dl.Speed
			result.DownloadTime = dl.Duration
		}
	}

	if t.cfg.UploadSize > 0 {
		// Uploads get their own client so the longer upload timeout
		// doesn't also apply to downloads.
		upClient, _, err := BuildClient(p, t.cfg.UploadTimeout)
		if err != nil {
			slog.Debug("upload client build failed", "proxy", p.Name, "error", err)
		} else if up, err := MeasureUpload(ctx, upClient, t.cfg.ServerURL, t.cfg.UploadSize); err != nil {
			slog.Debug("upload test failed", "proxy", p.Name, "error", err)
		} else {
			result.UploadSpeed = up.Speed
			result.UploadTime = up.Duration
		}
	}

	// Min-speed thresholds are a filtering concern for downstream
	// consumers (see Config.Passes); a zeroed bandwidth leg alone does
	// not fail the proxy.
	return result
}

// TestProxies tests each proxy sequentially, preserving input order, and
// invokes progress after each one completes.
func (t *Tester) TestProxies(ctx context.Context, proxies []config.Proxy, progress ProgressFunc) ([]*Result, error) {
	results := make([]*Result, 0, len(proxies))

	slog.Info("starting speed test", "proxies", len(proxies), "run_id", t.runID)
	for i, p := range proxies {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		slog.Debug("testing proxy", "index", i+1, "total", len(proxies), "name", p.Name)

		result := t.TestProxy(ctx, p)
		results = append(results, result)
		if progress != nil {
			progress(result)
		}
	}

	slog.Info("completed speed test", "results", len(results))
	return results, nil
}

// TestProxiesConcurrent tests proxies through a bounded worker pool. Results
// arrive in completion order, not input order; callers that need input order
// must sort afterward. Progress calls are serialized through the result
// channel so the sink never sees interleaved invocations.
func (t *Tester) TestProxiesConcurrent(ctx context.Context, proxies []config.Proxy, maxConcurrent int, progress ProgressFunc) ([]*Result, error) {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	jobs := make(chan config.Proxy, len(proxies))
	resultCh := make(chan *Result, len(proxies))

	var wg sync.WaitGroup
	for i := 0; i < maxConcurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for p := range jobs {
				if ctx.Err() != nil {
					resultCh <- Failed(t.runID, p.Name, p.Type, "test canceled")
					continue
				}
				resultCh <- t.TestProxy(ctx, p)
			}
		}()
	}

	for _, p := range proxies {
		jobs <- p
	}
	close(jobs)

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	results := make([]*Result, 0, len(proxies))
	for result := range resultCh {
		results = append(results, result)
		if progress != nil {
			progress(result)
		}
	}
	return results, ctx.Err()
}

// Passes reports whether a result clears every configured threshold and is
// eligible for the passing set handed to exporters. Fast-mode results skip
// the speed thresholds since bandwidth was never measured.
func (c Config) Passes(r *Result) bool {
	if !r.Successful() {
		return false
	}
	if c.FastMode {
		return true
	}
	return c.SpeedThresholdError(r.DownloadSpeed, r.UploadSpeed) == ""
}

// LatencyThresholdError describes a max-latency breach, or "" when the
// threshold is disabled or met.
func (c Config) LatencyThresholdError(avg time.Duration) string {
	if c.MaxLatency > 0 && avg > c.MaxLatency {
		return fmt.Sprintf("latency %dms exceeds threshold %dms", avg.Milliseconds(), c.MaxLatency.Milliseconds())
	}
	return ""
}

// SpeedThresholdError describes min-speed breaches, or "" when all configured
// thresholds are met. Speeds are bytes/s.
func (c Config) SpeedThresholdError(download, upload float64) string {
	var msgs []string
	if c.MinDownloadSpeed > 0 && download < c.MinDownloadSpeed {
		msgs = append(msgs, fmt.Sprintf("download speed %.2f MB/s below threshold %.2f MB/s",
			MBps(download), MBps(c.MinDownloadSpeed)))
	}
	if c.MinUploadSpeed > 0 && upload < c.MinUploadSpeed {
		msgs = append(msgs, fmt.Sprintf("upload speed %.2f MB/s below threshold %.2f MB/s",
			MBps(upload), MBps(c.MinUploadSpeed)))
	}
	if len(msgs) == 0 {
		return ""
	}
	if len(msgs) == 1 {
		return msgs[0]
	}
	return msgs[0] + "; " + msgs[1]
}
