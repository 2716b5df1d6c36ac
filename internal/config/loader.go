package config

import (
	"encoding/base64"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const fetchTimeout = 30 * time.Second

// Load reads proxy descriptors from a comma-separated list of sources.
// Each source is a local file path or an HTTP(S) URL.
func Load(sources string) ([]Proxy, error) {
	var proxies []Proxy
	for _, src := range strings.Split(sources, ",") {
		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		loaded, err := loadOne(src)
		if err != nil {
			return nil, fmt.Errorf("failed to load %s: %w", src, err)
		}
		slog.Debug("loaded proxies", "source", src, "count", len(loaded))
		proxies = append(proxies, loaded...)
	}
	return proxies, nil
}

func loadOne(src string) ([]Proxy, error) {
	var data []byte
	if strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://") {
		client := &http.Client{Timeout: fetchTimeout}
		resp, err := client.Get(src)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch config: %w", err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, fmt.Errorf("config fetch returned status %d", resp.StatusCode)
		}
		data, err = io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to read config body: %w", err)
		}
	} else {
		var err error
		data, err = os.ReadFile(src)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	return Parse(data)
}

// Parse extracts proxies from raw config content. Subscription endpoints
// commonly serve the whole YAML document base64-encoded, so that is tried
// first when the content decodes cleanly.
func Parse(data []byte) ([]Proxy, error) {
	if decoded, ok := tryBase64(data); ok {
		if proxies, err := parseYAML(decoded); err == nil && len(proxies) > 0 {
			return proxies, nil
		}
	}
	return parseYAML(data)
}

func parseYAML(data []byte) ([]Proxy, error) {
	var cfg ClashConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if len(cfg.Proxies) == 0 {
		return nil, fmt.Errorf("no proxies found in config")
	}
	return cfg.Proxies, nil
}

func tryBase64(data []byte) ([]byte, bool) {
	trimmed := strings.TrimSpace(string(data))
	if strings.ContainsAny(trimmed, ": \n") {
		return nil, false
	}
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if decoded, err := enc.DecodeString(trimmed); err == nil {
			return decoded, true
		}
	}
	return nil, false
}

// FilterByName keeps only proxies whose name matches the regular expression.
func FilterByName(proxies []Proxy, pattern string) ([]Proxy, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid filter pattern: %w", err)
	}
	var kept []Proxy
	for _, p := range proxies {
		if re.MatchString(p.Name) {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

// BlockKeywords drops proxies whose name contains any of the |-separated
// keywords, compared case-insensitively.
func BlockKeywords(proxies []Proxy, keywords string) []Proxy {
	var blocklist []string
	for _, kw := range strings.Split(keywords, "|") {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			blocklist = append(blocklist, kw)
		}
	}
	if len(blocklist) == 0 {
		return proxies
	}
	var kept []Proxy
	for _, p := range proxies {
		name := strings.ToLower(p.Name)
		blocked := false
		for _, kw := range blocklist {
			if strings.Contains(name, kw) {
				blocked = true
				break
			}
		}
		if !blocked {
			kept = append(kept, p)
		}
	}
	return kept
}
