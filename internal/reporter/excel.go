package reporter

import (
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"proxy-speedtest/internal/stats"
	"proxy-speedtest/internal/tester"
)

// ExcelReporter generates Excel reports from test results
type ExcelReporter struct {
	file *excelize.File
}

// NewExcelReporter creates a new Excel reporter
func NewExcelReporter() *ExcelReporter {
	return &ExcelReporter{
		file: excelize.NewFile(),
	}
}

// GenerateReport writes one workbook with a per-proxy result sheet and a
// batch statistics sheet.
func (r *ExcelReporter) GenerateReport(results []*tester.Result, outputPath string) error {
	r.file.DeleteSheet("Sheet1")

	if err := r.createResultsSheet(results); err != nil {
		return fmt.Errorf("failed to create results sheet: %w", err)
	}
	if err := r.createStatsSheet(results); err != nil {
		return fmt.Errorf("failed to create statistics sheet: %w", err)
	}

	if err := r.file.SaveAs(outputPath); err != nil {
		return fmt.Errorf("failed to save Excel file: %w", err)
	}
	return nil
}

// createResultsSheet lists one row per tested proxy
func (r *ExcelReporter) createResultsSheet(results []*tester.Result) error {
	sheetName := "Results"
	index, err := r.file.NewSheet(sheetName)
	if err != nil {
		return err
	}
	r.file.SetActiveSheet(index)

	r.file.SetColWidth(sheetName, "A", "A", 30)
	r.file.SetColWidth(sheetName, "B", "I", 15)
	r.file.SetColWidth(sheetName, "J", "J", 40)

	headers := []string{
		"Proxy", "Type", "Latency (ms)", "Jitter (ms)", "Loss (%)",
		"Download (MB/s)", "Upload (MB/s)", "Download Time (s)", "Upload Time (s)", "Status",
	}
	for i, header := range headers {
		cell := fmt.Sprintf("%c1", 'A'+i)
		r.file.SetCellValue(sheetName, cell, header)
	}

	headerStyle, _ := r.file.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 12, Color: "#FFFFFF"},
		Fill:      excelize.Fill{Type: "pattern", Color: []string{"#4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
	})
	r.file.SetCellStyle(sheetName, "A1", fmt.Sprintf("%c1", 'A'+len(headers)-1), headerStyle)

	failedStyle, _ := r.file.NewStyle(&excelize.Style{
		Fill: excelize.Fill{Type: "pattern", Color: []string{"#FFcccc"}, Pattern: 1},
	})

	for i, result := range results {
		row := i + 2
		status := "OK"
		if result.Error != "" {
			status = result.Error
		}

		r.file.SetCellValue(sheetName, fmt.Sprintf("A%d", row), result.ProxyName)
		r.file.SetCellValue(sheetName, fmt.Sprintf("B%d", row), result.ProxyType)
		r.file.SetCellValue(sheetName, fmt.Sprintf("C%d", row), result.Latency.Milliseconds())
		r.file.SetCellValue(sheetName, fmt.Sprintf("D%d", row), result.Jitter.Milliseconds())
		r.file.SetCellValue(sheetName, fmt.Sprintf("E%d", row), fmt.Sprintf("%.1f", result.PacketLoss*100))
		r.file.SetCellValue(sheetName, fmt.Sprintf("F%d", row), fmt.Sprintf("%.2f", tester.MBps(result.DownloadSpeed)))
		r.file.SetCellValue(sheetName, fmt.Sprintf("G%d", row), fmt.Sprintf("%.2f", tester.MBps(result.UploadSpeed)))
		r.file.SetCellValue(sheetName, fmt.Sprintf("H%d", row), fmt.Sprintf("%.2f", result.DownloadTime.Seconds()))
		r.file.SetCellValue(sheetName, fmt.Sprintf("I%d", row), fmt.Sprintf("%.2f", result.UploadTime.Seconds()))
		r.file.SetCellValue(sheetName, fmt.Sprintf("J%d", row), status)

		if result.Error != "" {
			r.file.SetCellStyle(sheetName, fmt.Sprintf("A%d", row), fmt.Sprintf("J%d", row), failedStyle)
		}
	}

	return nil
}

// createStatsSheet summarizes latency distribution across the passing proxies
func (r *ExcelReporter) createStatsSheet(results []*tester.Result) error {
	sheetName := "Statistics"
	_, err := r.file.NewSheet(sheetName)
	if err != nil {
		return err
	}

	r.file.SetColWidth(sheetName, "A", "B", 22)

	var latencies []time.Duration
	passed := 0
	for _, result := range results {
		if result.Successful() {
			passed++
			latencies = append(latencies, result.Latency)
		}
	}

	mean := stats.Mean(latencies)
	median, _ := stats.Median(latencies)
	p95, _ := stats.Percentile(latencies, 95)

	rows := [][2]any{
		{"Proxies tested", len(results)},
		{"Proxies passed", passed},
		{"Mean latency (ms)", mean.Milliseconds()},
		{"Median latency (ms)", median.Milliseconds()},
		{"P95 latency (ms)", p95.Milliseconds()},
		{"Min latency (ms)", stats.Min(latencies).Milliseconds()},
		{"Max latency (ms)", stats.Max(latencies).Milliseconds()},
	}
	for i, pair := range rows {
		r.file.SetCellValue(sheetName, fmt.Sprintf("A%d", i+1), pair[0])
		r.file.SetCellValue(sheetName, fmt.Sprintf("B%d", i+1), pair[1])
	}

	return nil
}
