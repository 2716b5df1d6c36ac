package reporter

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"proxy-speedtest/internal/tester"
)

func TestGenerateReport(t *testing.T) {
	results := []*tester.Result{
		{
			ProxyName: "HK 1", ProxyType: "ss",
			Latency: 80 * time.Millisecond, Jitter: 4 * time.Millisecond,
			DownloadSpeed: 10 * tester.MB, UploadSpeed: 2 * tester.MB,
			Timestamp: time.Now(),
		},
		{
			ProxyName: "US 1", ProxyType: "vmess",
			PacketLoss: 1, Error: "latency test failed",
			Timestamp: time.Now(),
		},
	}

	path := filepath.Join(t.TempDir(), "report.xlsx")
	if err := NewExcelReporter().GenerateReport(results, path); err != nil {
		t.Fatalf("GenerateReport() error: %v", err)
	}

	file, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("failed to reopen workbook: %v", err)
	}
	defer file.Close()

	sheets := file.GetSheetList()
	want := map[string]bool{"Results": false, "Statistics": false}
	for _, s := range sheets {
		if _, ok := want[s]; ok {
			want[s] = true
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("workbook missing sheet %q (have %v)", name, sheets)
		}
	}

	if name, _ := file.GetCellValue("Results", "A2"); name != "HK 1" {
		t.Errorf("Results!A2 = %q, want HK 1", name)
	}
	if status, _ := file.GetCellValue("Results", "J3"); status != "latency test failed" {
		t.Errorf("Results!J3 = %q, want the error message", status)
	}
	if tested, _ := file.GetCellValue("Statistics", "B1"); tested != "2" {
		t.Errorf("Statistics!B1 = %q, want 2 proxies tested", tested)
	}
	if passed, _ := file.GetCellValue("Statistics", "B2"); passed != "1" {
		t.Errorf("Statistics!B2 = %q, want 1 proxy passed", passed)
	}
}
