package exporter

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"proxy-speedtest/internal/tester"
)

// WriteTable renders the batch as an aligned text table.
func WriteTable(w io.Writer, results []*tester.Result) {
	tw := tabwriter.NewWriter(w, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "Proxy\tType\tLatency\tJitter\tLoss %\tDownload\tUpload\tStatus")
	fmt.Fprintln(tw, strings.Repeat("-", 5)+"\t----\t-------\t------\t------\t--------\t------\t------")

	for _, r := range results {
		status := "OK"
		if r.Error != "" {
			status = r.Error
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%.1f\t%s\t%s\t%s\n",
			r.ProxyName,
			r.ProxyType,
			latencyLabel(r),
			jitterLabel(r),
			r.PacketLoss*100,
			speedLabel(r.DownloadSpeed),
			speedLabel(r.UploadSpeed),
			status,
		)
	}
	tw.Flush()
}

func latencyLabel(r *tester.Result) string {
	if r.Latency <= 0 {
		return "Failed"
	}
	return fmt.Sprintf("%dms", r.Latency.Milliseconds())
}

func jitterLabel(r *tester.Result) string {
	if r.Latency <= 0 {
		return "-"
	}
	return fmt.Sprintf("%dms", r.Jitter.Milliseconds())
}
