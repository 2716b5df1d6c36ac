package tester

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"proxy-speedtest/internal/stats"
)

const (
	// LatencyProbes is the number of round trips used per latency
	// measurement.
	LatencyProbes = 6

	// probeInterval spaces latency probes to avoid server-side throttling
	// skewing the samples.
	probeInterval = 100 * time.Millisecond
)

// LatencyResult summarizes one latency measurement.
type LatencyResult struct {
	Avg        time.Duration
	Jitter     time.Duration
	PacketLoss float64 // ratio in [0, 1]
	Min        time.Duration
	Max        time.Duration
}

// BandwidthResult summarizes one bandwidth measurement.
type BandwidthResult struct {
	Bytes    int64
	Duration time.Duration
	Speed    float64 // bytes/s
}

func newBandwidthResult(bytes int64, duration time.Duration) BandwidthResult {
	var speed float64
	if duration > 0 {
		speed = float64(bytes) / duration.Seconds()
	}
	return BandwidthResult{Bytes: bytes, Duration: duration, Speed: speed}
}

// MeasureLatency issues iterations zero-byte downloads and reports statistics
// over the successful round trips. Individual probe failures are tolerated
// and counted into packet loss; the measurement only fails when every probe
// fails.
func MeasureLatency(ctx context.Context, client *http.Client, serverURL string, iterations int) (LatencyResult, error) {
	probeURL := fmt.Sprintf("%s/__down?bytes=0", serverURL)

	var samples []time.Duration
	failed := 0

	for i := 0; i < iterations; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return LatencyResult{}, ctx.Err()
			case <-time.After(probeInterval):
			}
		}

		start := time.Now()
		if err := probe(ctx, client, probeURL); err != nil {
			failed++
			slog.Debug("latency probe failed", "probe", i+1, "error", err)
			continue
		}
		elapsed := time.Since(start)
		samples = append(samples, elapsed)
		slog.Debug("latency probe", "probe", i+1, "rtt", elapsed)
	}

	loss := stats.PacketLoss(failed, iterations)
	if len(samples) == 0 {
		return LatencyResult{PacketLoss: loss}, fmt.Errorf("all %d latency probes failed", iterations)
	}

	avg := stats.Mean(samples)
	return LatencyResult{
		Avg:        avg,
		Jitter:     stats.StdDev(samples, avg),
		PacketLoss: loss,
		Min:        stats.Min(samples),
		Max:        stats.Max(samples),
	}, nil
}

func probe(ctx context.Context, client *http.Client, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	_, err = io.Copy(io.Discard, resp.Body)
	return err
}

// MeasureDownload fetches totalBytes split across concurrency parallel
// streams and reports aggregate speed over the wall-clock time of the whole
// batch, which is what makes the number reflect achievable concurrent
// throughput. The remainder lands on the last chunk. The measurement fails
// only when every chunk fails.
func MeasureDownload(ctx context.Context, client *http.Client, serverURL string, totalBytes int64, concurrency int) (BandwidthResult, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	chunkSize := totalBytes / int64(concurrency)

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		received int64
		failures int
		lastErr  error
	)

	start := time.Now()
	for i := 0; i < concurrency; i++ {
		size := chunkSize
		if i == concurrency-1 {
			size = totalBytes - chunkSize*int64(concurrency-1)
		}

		wg.Add(1)
		go func(chunk int, size int64) {
			defer wg.Done()
			n, err := downloadChunk(ctx, client, serverURL, size)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				lastErr = err
				slog.Debug("download chunk failed", "chunk", chunk+1, "error", err)
				return
			}
			received += n
		}(i, size)
	}
	wg.Wait()
	elapsed := time.Since(start)

	if failures == concurrency {
		return BandwidthResult{}, fmt.Errorf("all download chunks failed: %w", lastErr)
	}
	return newBandwidthResult(received, elapsed), nil
}

func downloadChunk(ctx context.Context, client *http.Client, serverURL string, size int64) (int64, error) {
	url := fmt.Sprintf("%s/__down?bytes=%d", serverURL, size)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return 0, fmt.Errorf("server returned status %d", resp.StatusCode)
	}
	return io.Copy(io.Discard, resp.Body)
}

// MeasureUpload posts totalBytes of synthetic zero-filled payload in a single
// stream and reports speed over the request's wall-clock time. With only one
// stream there is no partial tolerance: a non-success status fails the
// measurement.
func MeasureUpload(ctx context.Context, client *http.Client, serverURL string, totalBytes int64) (BandwidthResult, error) {
	url := fmt.Sprintf("%s/__up", serverURL)

	body := io.LimitReader(zeroReader{}, totalBytes)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return BandwidthResult{}, err
	}
	req.ContentLength = totalBytes
	req.Header.Set("Content-Type", "application/octet-stream")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return BandwidthResult{}, fmt.Errorf("upload request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	elapsed := time.Since(start)

	if resp.StatusCode < 200 || resp.StatusCode >= 400 {
		return BandwidthResult{}, fmt.Errorf("upload failed with status %d", resp.StatusCode)
	}
	return newBandwidthResult(totalBytes, elapsed), nil
}

// zeroReader yields an endless stream of zero bytes; wrap it with
// io.LimitReader to size an upload payload without allocating it.
type zeroReader struct{}

func (zeroReader) Read(p []byte) (int, error) {
	for i := range p {
		p[i] = 0
	}
	return len(p), nil
}
