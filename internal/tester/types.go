package tester

import (
	"time"
)

// MB is the binary megabyte used for every speed conversion in this tool.
// Thresholds are entered in MB/s and multiplied by this; display divides
// by it. Internal speeds are always bytes per second.
const MB = 1024 * 1024

// Config holds the parameters for one test run. It is constructed once and
// read-only afterward.
type Config struct {
	ServerURL        string
	DownloadTimeout  time.Duration
	UploadTimeout    time.Duration
	Concurrency      int           // concurrent streams within one download measurement
	DownloadSize     int64         // bytes; 0 skips the download phase
	UploadSize       int64         // bytes; 0 skips the upload phase
	MaxLatency       time.Duration // 0 disables the latency threshold
	MinDownloadSpeed float64       // bytes/s; 0 disables
	MinUploadSpeed   float64       // bytes/s; 0 disables
	FastMode         bool          // latency only, skip bandwidth
}

// DefaultConfig mirrors the tool's CLI defaults: 50 MiB download across four
// streams, 20 MiB upload, asymmetric timeouts (uploads need longer for the
// same payload on asymmetric links).
func DefaultConfig() Config {
	return Config{
		ServerURL:        "https://speed.cloudflare.com",
		DownloadTimeout:  10 * time.Second,
		UploadTimeout:    30 * time.Second,
		Concurrency:      4,
		DownloadSize:     50 * MB,
		UploadSize:       20 * MB,
		MaxLatency:       800 * time.Millisecond,
		MinDownloadSpeed: 5 * MB,
		MinUploadSpeed:   2 * MB,
	}
}

// Result is the outcome of testing a single proxy. Exactly one is produced
// per input proxy. A download/upload speed of exactly 0 means "not measured
// or failed"; Error being empty, not the speeds, is the success signal.
type Result struct {
	RunID         string        `json:"run_id"`
	ProxyName     string        `json:"proxy_name"`
	ProxyType     string        `json:"proxy_type"`
	Latency       time.Duration `json:"latency"`
	Jitter        time.Duration `json:"jitter"`
	PacketLoss    float64       `json:"packet_loss"` // ratio in [0, 1]
	DownloadSpeed float64       `json:"download_speed"` // bytes/s
	UploadSpeed   float64       `json:"upload_speed"`   // bytes/s
	DownloadTime  time.Duration `json:"download_time"`
	UploadTime    time.Duration `json:"upload_time"`
	Error         string        `json:"error,omitempty"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Failed builds a result for a proxy that could not be measured at all.
func Failed(runID string, proxyName, proxyType, errMsg string) *Result {
	return &Result{
		RunID:      runID,
		ProxyName:  proxyName,
		ProxyType:  proxyType,
		PacketLoss: 1,
		Error:      errMsg,
		Timestamp:  time.Now(),
	}
}

// Successful reports whether the proxy passed: no error recorded and a
// latency measurement present.
func (r *Result) Successful() bool {
	return r.Error == "" && r.Latency > 0
}

// MBps converts an internal bytes/s speed to MB/s for display.
func MBps(bytesPerSecond float64) float64 {
	return bytesPerSecond / MB
}
