// Package exporter renders batch outcomes for people and downstream tools.
package exporter

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"time"

	"proxy-speedtest/internal/tester"
)

// ExportFormat represents the export file format
type ExportFormat string

const (
	FormatCSV  ExportFormat = "csv"
	FormatJSON ExportFormat = "json"
	FormatHTML ExportFormat = "html"
)

// ParseFormats maps user-supplied format names onto ExportFormat values,
// silently skipping unknown names.
func ParseFormats(names []string) []ExportFormat {
	var formats []ExportFormat
	for _, name := range names {
		switch ExportFormat(name) {
		case FormatCSV, FormatJSON, FormatHTML:
			formats = append(formats, ExportFormat(name))
		}
	}
	return formats
}

// Exporter handles exporting test results to various formats
type Exporter struct {
	outputDir string
}

// NewExporter creates a new exporter instance
func NewExporter(outputDir string) *Exporter {
	return &Exporter{
		outputDir: outputDir,
	}
}

// Export writes the whole batch in each requested format. File names carry
// the run ID so repeated runs don't clobber each other.
func (e *Exporter) Export(results []*tester.Result, formats []ExportFormat) error {
	if err := os.MkdirAll(e.outputDir, 0o755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	baseName := "speedtest"
	if len(results) > 0 && results[0].RunID != "" {
		baseName = "speedtest_" + results[0].RunID
	}

	for _, format := range formats {
		var err error
		switch format {
		case FormatCSV:
			err = e.exportCSV(results, baseName)
		case FormatJSON:
			err = e.exportJSON(results, baseName)
		case FormatHTML:
			err = e.exportHTML(results, baseName)
		default:
			return fmt.Errorf("unsupported export format: %s", format)
		}
		if err != nil {
			return fmt.Errorf("failed to export as %s: %w", format, err)
		}
	}

	return nil
}

// exportCSV exports results to CSV format
func (e *Exporter) exportCSV(results []*tester.Result, baseName string) error {
	filename := filepath.Join(e.outputDir, baseName+".csv")
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Timestamp",
		"Proxy Name",
		"Proxy Type",
		"Latency (ms)",
		"Jitter (ms)",
		"Packet Loss (%)",
		"Download (MB/s)",
		"Upload (MB/s)",
		"Download Time (s)",
		"Upload Time (s)",
		"Error",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, r := range results {
		row := []string{
			r.Timestamp.Format(time.RFC3339),
			r.ProxyName,
			r.ProxyType,
			fmt.Sprintf("%d", r.Latency.Milliseconds()),
			fmt.Sprintf("%d", r.Jitter.Milliseconds()),
			fmt.Sprintf("%.1f", r.PacketLoss*100),
			fmt.Sprintf("%.2f", tester.MBps(r.DownloadSpeed)),
			fmt.Sprintf("%.2f", tester.MBps(r.UploadSpeed)),
			fmt.Sprintf("%.2f", r.DownloadTime.Seconds()),
			fmt.Sprintf("%.2f", r.UploadTime.Seconds()),
			r.Error,
		}
		if err := writer.Write(row); err != nil {
			return err
		}
	}

	return nil
}

// exportJSON exports results to JSON format
func (e *Exporter) exportJSON(results []*tester.Result, baseName string) error {
	filename := filepath.Join(e.outputDir, baseName+".json")
	data, err := json.MarshalIndent(results, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

var htmlReport = template.Must(template.New("report").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Proxy Speed Test Report</title>
<style>
body { font-family: sans-serif; margin: 2em; }
table { border-collapse: collapse; width: 100%; }
th, td { border: 1px solid #ccc; padding: 6px 10px; text-align: left; }
th { background: #f0f0f0; }
tr.failed td { color: #b00; }
</style>
</head>
<body>
<h1>Proxy Speed Test Report</h1>
<p>Generated {{.Generated}} &mdash; {{len .Results}} proxies</p>
<table>
<tr><th>Proxy</th><th>Type</th><th>Latency</th><th>Jitter</th><th>Loss %</th><th>Download</th><th>Upload</th><th>Status</th></tr>
{{range .Results}}<tr{{if .Error}} class="failed"{{end}}>
<td>{{.ProxyName}}</td><td>{{.ProxyType}}</td>
<td>{{.LatencyMS}}ms</td><td>{{.JitterMS}}ms</td><td>{{.LossPct}}</td>
<td>{{.Download}}</td><td>{{.Upload}}</td><td>{{.Status}}</td>
</tr>
{{end}}</table>
</body>
</html>
`))

type htmlRow struct {
	ProxyName, ProxyType      string
	LatencyMS, JitterMS       int64
	LossPct, Download, Upload string
	Status, Error             string
}

// exportHTML exports a self-contained report page
func (e *Exporter) exportHTML(results []*tester.Result, baseName string) error {
	rows := make([]htmlRow, 0, len(results))
	for _, r := range results {
		row := htmlRow{
			ProxyName: r.ProxyName,
			ProxyType: r.ProxyType,
			LatencyMS: r.Latency.Milliseconds(),
			JitterMS:  r.Jitter.Milliseconds(),
			LossPct:   fmt.Sprintf("%.1f", r.PacketLoss*100),
			Download:  speedLabel(r.DownloadSpeed),
			Upload:    speedLabel(r.UploadSpeed),
			Status:    "OK",
			Error:     r.Error,
		}
		if r.Error != "" {
			row.Status = r.Error
		}
		rows = append(rows, row)
	}

	filename := filepath.Join(e.outputDir, baseName+".html")
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return htmlReport.Execute(file, map[string]any{
		"Generated": time.Now().Format(time.RFC1123),
		"Results":   rows,
	})
}

func speedLabel(bytesPerSecond float64) string {
	if bytesPerSecond <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2f MB/s", tester.MBps(bytesPerSecond))
}
