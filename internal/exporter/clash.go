package exporter

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"proxy-speedtest/internal/config"
	"proxy-speedtest/internal/tester"
)

// WriteClashConfig re-exports the passing proxies as a Clash config file.
// pass decides membership; when rename is set, passing proxies are renamed
// with their measured stats.
func WriteClashConfig(path string, proxies []config.Proxy, results []*tester.Result, pass func(*tester.Result) bool, rename bool) error {
	byName := make(map[string]*tester.Result, len(results))
	for _, r := range results {
		byName[r.ProxyName] = r
	}

	var kept []config.Proxy
	for _, p := range proxies {
		r, ok := byName[p.Name]
		if !ok || !pass(r) {
			continue
		}
		if rename {
			p.Name = renamedProxy(p, r)
		}
		kept = append(kept, p)
	}
	if len(kept) == 0 {
		return fmt.Errorf("no passing proxies to export")
	}

	data, err := yaml.Marshal(config.ClashConfig{Proxies: kept})
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// renamedProxy builds a name like "HK | 12.3MB/s | 45ms" from the original
// name's location hint and the measured stats.
func renamedProxy(p config.Proxy, r *tester.Result) string {
	location := extractLocation(p.Name)
	if location == "" {
		location = p.Server
	}
	return fmt.Sprintf("%s | %.1fMB/s | %dms",
		location, tester.MBps(r.DownloadSpeed), r.Latency.Milliseconds())
}

// Word boundaries keep the short codes from matching inside longer words;
// the CJK names sit outside them because \b only understands ASCII.
// Patterns are checked in declaration order and the first match wins, so
// names mentioning several locations resolve the same way on every run.
var locationPatterns = []struct {
	re   *regexp.Regexp
	code string
}{
	{regexp.MustCompile(`(?i)\b(hk|hong\s*kong)\b|香港`), "HK"},
	{regexp.MustCompile(`(?i)\b(tw|taiwan)\b|台湾|臺灣`), "TW"},
	{regexp.MustCompile(`(?i)\b(jp|japan)\b|日本`), "JP"},
	{regexp.MustCompile(`(?i)\b(kr|korea)\b|韩国`), "KR"},
	{regexp.MustCompile(`(?i)\b(sg|singapore)\b|新加坡`), "SG"},
	{regexp.MustCompile(`(?i)\b(us|usa|united states)\b|美国`), "US"},
	{regexp.MustCompile(`(?i)\b(uk|britain|united kingdom)\b|英国`), "UK"},
	{regexp.MustCompile(`(?i)\b(de|germany)\b|德国`), "DE"},
}

func extractLocation(name string) string {
	for _, p := range locationPatterns {
		if p.re.MatchString(name) {
			return p.code
		}
	}
	// Fall back to the leading token when it looks like a short code.
	fields := strings.Fields(name)
	if len(fields) > 0 && len(fields[0]) <= 3 {
		return strings.ToUpper(fields[0])
	}
	return ""
}
