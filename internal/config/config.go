package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Proxy type names as they appear in Clash-style configs, after
// normalization by NormalizeType.
const (
	TypeHTTP        = "http"
	TypeHTTPS       = "https"
	TypeSOCKS5      = "socks5"
	TypeShadowsocks = "ss"
	TypeVMess       = "vmess"
	TypeVLESS       = "vless"
	TypeTrojan      = "trojan"
	TypeHysteria    = "hysteria"
	TypeHysteria2   = "hysteria2"
	TypeWireGuard   = "wireguard"
	TypeAnyTLS      = "anytls"
)

// NormalizeType maps the aliases seen in the wild onto the canonical type
// names above. Unknown types pass through lowercased so they can still be
// handed to the router process, which may support them.
func NormalizeType(t string) string {
	switch strings.ToLower(strings.TrimSpace(t)) {
	case "shadowsocks", "ss":
		return TypeShadowsocks
	case "socks", "socks5":
		return TypeSOCKS5
	case "wireguard", "wg":
		return TypeWireGuard
	default:
		return strings.ToLower(strings.TrimSpace(t))
	}
}

// Proxy is a single outbound proxy descriptor. The engine only interprets
// the identity fields; everything protocol-specific stays in Extra so that
// re-exported configs are lossless.
type Proxy struct {
	Name   string
	Type   string
	Server string
	Port   int

	// Extra holds the protocol-specific parameter bag (credentials, TLS
	// options, transport options) exactly as parsed.
	Extra map[string]any
}

// UnmarshalYAML accepts the port as either a number or a string, which both
// occur in subscription feeds.
func (p *Proxy) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]any
	if err := value.Decode(&raw); err != nil {
		return err
	}

	name, _ := raw["name"].(string)
	typ, _ := raw["type"].(string)
	server, _ := raw["server"].(string)

	port, err := portValue(raw["port"])
	if err != nil {
		return fmt.Errorf("proxy %q: %w", name, err)
	}

	delete(raw, "name")
	delete(raw, "type")
	delete(raw, "server")
	delete(raw, "port")

	p.Name = name
	p.Type = NormalizeType(typ)
	p.Server = server
	p.Port = port
	p.Extra = raw
	return nil
}

// MarshalYAML re-emits the descriptor in Clash layout with the parameter bag
// inlined next to the identity fields.
func (p Proxy) MarshalYAML() (any, error) {
	out := make(map[string]any, len(p.Extra)+4)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["name"] = p.Name
	out["type"] = p.Type
	out["server"] = p.Server
	out["port"] = p.Port
	return out, nil
}

func portValue(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return checkPort(n)
	case float64:
		return checkPort(int(n))
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, fmt.Errorf("invalid port %q", n)
		}
		return checkPort(parsed)
	case nil:
		return 0, fmt.Errorf("missing port")
	default:
		return 0, fmt.Errorf("invalid port value %v", v)
	}
}

func checkPort(n int) (int, error) {
	if n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port %d out of range", n)
	}
	return n, nil
}

// stringParam reads a string-valued entry from the parameter bag.
func (p Proxy) stringParam(key string) string {
	if v, ok := p.Extra[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Username returns the proxy credential username, if any.
func (p Proxy) Username() string { return p.stringParam("username") }

// Password returns the proxy credential password, if any.
func (p Proxy) Password() string { return p.stringParam("password") }

// Addr returns the host:port of the proxy server.
func (p Proxy) Addr() string {
	return fmt.Sprintf("%s:%d", p.Server, p.Port)
}

// ClashConfig is the subset of a Clash configuration file the engine reads
// and writes.
type ClashConfig struct {
	Proxies []Proxy `yaml:"proxies"`
}
