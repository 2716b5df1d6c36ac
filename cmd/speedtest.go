package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"proxy-speedtest/internal/config"
	"proxy-speedtest/internal/exporter"
	"proxy-speedtest/internal/reporter"
	"proxy-speedtest/internal/router"
	"proxy-speedtest/internal/tester"
)

func main() {
	app := &cli.App{
		Name:  "proxy-speedtest",
		Usage: "measure latency and bandwidth for a list of outbound proxies",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "proxy config file paths or HTTP(S) URLs, comma separated",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "filter",
				Aliases: []string{"f"},
				Value:   ".+",
				Usage:   "only test proxies whose name matches this regex",
			},
			&cli.StringFlag{
				Name:    "block",
				Aliases: []string{"b"},
				Usage:   "skip proxies whose name contains any |-separated keyword",
			},
			&cli.StringFlag{
				Name:  "server-url",
				Value: "https://speed.cloudflare.com",
				Usage: "speed test server URL",
			},
			&cli.Int64Flag{
				Name:  "download-size",
				Value: 50 * tester.MB,
				Usage: "download size in bytes (0 skips downloads)",
			},
			&cli.Int64Flag{
				Name:  "upload-size",
				Value: 20 * tester.MB,
				Usage: "upload size in bytes (0 skips uploads)",
			},
			&cli.DurationFlag{
				Name:  "download-timeout",
				Value: 10 * time.Second,
				Usage: "timeout per download phase",
			},
			&cli.DurationFlag{
				Name:  "upload-timeout",
				Value: 30 * time.Second,
				Usage: "timeout per upload phase",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "set both download and upload timeout (overrides the individual flags)",
			},
			&cli.IntFlag{
				Name:  "concurrent",
				Value: 4,
				Usage: "concurrent streams within one download measurement",
			},
			&cli.IntFlag{
				Name:  "max-concurrent",
				Value: 1,
				Usage: "proxies tested in parallel (direct mode only)",
			},
			&cli.DurationFlag{
				Name:  "max-latency",
				Value: 800 * time.Millisecond,
				Usage: "reject proxies with average latency above this (0 disables)",
			},
			&cli.Float64Flag{
				Name:  "min-download-speed",
				Value: 5,
				Usage: "minimum download speed in MB/s (0 disables)",
			},
			&cli.Float64Flag{
				Name:  "min-upload-speed",
				Value: 2,
				Usage: "minimum upload speed in MB/s (0 disables)",
			},
			&cli.BoolFlag{
				Name:  "fast",
				Usage: "fast mode: measure latency only",
			},
			&cli.BoolFlag{
				Name:  "use-router",
				Usage: "test through an external router process for full protocol support",
			},
			&cli.StringFlag{
				Name:  "router-binary",
				Usage: "router binary path (default: discover mihomo/clash in PATH)",
			},
			&cli.StringFlag{
				Name:  "router-dir",
				Value: ".proxy-speedtest",
				Usage: "working directory for the router process",
			},
			&cli.IntFlag{
				Name:  "router-api-port",
				Value: 9090,
				Usage: "router control API port",
			},
			&cli.IntFlag{
				Name:  "router-proxy-port",
				Value: 7890,
				Usage: "router local forward-proxy port",
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "write passing proxies to this Clash config file",
			},
			&cli.BoolFlag{
				Name:  "rename",
				Usage: "rename exported proxies with location and measured speed",
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "print results as JSON instead of a table",
			},
			&cli.StringSliceFlag{
				Name:    "export-formats",
				Aliases: []string{"e"},
				Usage:   "additionally export results as: csv, json, html",
			},
			&cli.StringFlag{
				Name:  "export-dir",
				Value: "reports",
				Usage: "directory for exported files",
			},
			&cli.StringFlag{
				Name:  "report",
				Usage: "write an Excel report to this path",
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "enable debug logging",
			},
		},
		Action: runSpeedTest,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func runSpeedTest(c *cli.Context) error {
	logLevel := slog.LevelInfo
	if c.Bool("verbose") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))

	proxies, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}
	slog.Info("loaded proxies", "count", len(proxies))

	if pattern := c.String("filter"); pattern != ".+" {
		proxies, err = config.FilterByName(proxies, pattern)
		if err != nil {
			return err
		}
	}
	if keywords := c.String("block"); keywords != "" {
		proxies = config.BlockKeywords(proxies, keywords)
	}
	if len(proxies) == 0 {
		return fmt.Errorf("no proxies to test after filtering")
	}

	cfg := testConfig(c)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\ninterrupted, stopping test...")
		cancel()
	}()

	progress := func(r *tester.Result) {
		if r.Successful() {
			fmt.Printf("✓ %-40s %4dms  ↓ %s  ↑ %s\n",
				r.ProxyName, r.Latency.Milliseconds(),
				speedLabel(r.DownloadSpeed), speedLabel(r.UploadSpeed))
		} else {
			fmt.Printf("✗ %-40s %s\n", r.ProxyName, r.Error)
		}
	}

	var results []*tester.Result
	if c.Bool("use-router") {
		runner, err := router.NewRunner(
			c.String("router-dir"),
			c.String("router-binary"),
			c.Int("router-api-port"),
			c.Int("router-proxy-port"),
		)
		if err != nil {
			return err
		}
		results, err = router.NewTester(runner, cfg).TestProxies(ctx, proxies, progress)
		if err != nil {
			return err
		}
	} else {
		t := tester.New(cfg)
		if n := c.Int("max-concurrent"); n > 1 {
			results, err = t.TestProxiesConcurrent(ctx, proxies, n, progress)
		} else {
			results, err = t.TestProxies(ctx, proxies, progress)
		}
		if err != nil && len(results) == 0 {
			return err
		}
	}

	fmt.Println()
	if c.Bool("json") {
		data, err := json.MarshalIndent(results, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode results: %w", err)
		}
		fmt.Println(string(data))
	} else {
		exporter.WriteTable(os.Stdout, results)
	}

	if formats := exporter.ParseFormats(c.StringSlice("export-formats")); len(formats) > 0 {
		exp := exporter.NewExporter(c.String("export-dir"))
		if err := exp.Export(results, formats); err != nil {
			return err
		}
		fmt.Printf("exported results to %s\n", c.String("export-dir"))
	}

	if path := c.String("report"); path != "" {
		if err := reporter.NewExcelReporter().GenerateReport(results, path); err != nil {
			return err
		}
		fmt.Printf("report written to %s\n", path)
	}

	if path := c.String("output"); path != "" {
		err := exporter.WriteClashConfig(path, proxies, results, cfg.Passes, c.Bool("rename"))
		if err != nil {
			return err
		}
		fmt.Printf("passing proxies written to %s\n", path)
	}

	return nil
}

func testConfig(c *cli.Context) tester.Config {
	cfg := tester.Config{
		ServerURL:        c.String("server-url"),
		DownloadTimeout:  c.Duration("download-timeout"),
		UploadTimeout:    c.Duration("upload-timeout"),
		Concurrency:      c.Int("concurrent"),
		DownloadSize:     c.Int64("download-size"),
		UploadSize:       c.Int64("upload-size"),
		MaxLatency:       c.Duration("max-latency"),
		MinDownloadSpeed: c.Float64("min-download-speed") * tester.MB,
		MinUploadSpeed:   c.Float64("min-upload-speed") * tester.MB,
		FastMode:         c.Bool("fast"),
	}
	if t := c.Duration("timeout"); t > 0 {
		cfg.DownloadTimeout = t
		cfg.UploadTimeout = t
	}
	return cfg
}

func speedLabel(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "   -    "
	}
	return fmt.Sprintf("%6.2f MB/s", tester.MBps(bytesPerSecond))
}
