package tester

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/proxy"

	"proxy-speedtest/internal/config"
)

// Fidelity describes how faithfully a client built by BuildClient exercises
// the proxy path. Measurements taken through a coarse client reflect the
// destination reachable from this host, not the proxy tunnel, and must only
// be read as a connectivity signal.
type Fidelity int

const (
	// FidelityNative routes traffic through the proxy itself.
	FidelityNative Fidelity = iota
	// FidelityCoarse is a direct connection used when the engine cannot
	// speak the proxy's protocol.
	FidelityCoarse
)

func (f Fidelity) String() string {
	if f == FidelityNative {
		return "native"
	}
	return "coarse"
}

// BuildClient returns an HTTP client bound to the proxy. HTTP, HTTPS and
// SOCKS5 proxies get a native forward-proxy client; every other protocol
// falls back to a direct client because the tunnel handshake is out of
// scope for this engine (the router process covers those).
//
// Certificate verification is disabled on every client: the measurement
// endpoint is not being trusted, only timed.
func BuildClient(p config.Proxy, timeout time.Duration) (*http.Client, Fidelity, error) {
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: true,
		},
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	fidelity := FidelityNative

	switch p.Type {
	case config.TypeHTTP, config.TypeHTTPS:
		proxyURL := &url.URL{
			Scheme: "http",
			Host:   p.Addr(),
		}
		if p.Username() != "" || p.Password() != "" {
			proxyURL.User = url.UserPassword(p.Username(), p.Password())
		}
		transport.Proxy = http.ProxyURL(proxyURL)

	case config.TypeSOCKS5:
		var auth *proxy.Auth
		if p.Username() != "" || p.Password() != "" {
			auth = &proxy.Auth{
				User:     p.Username(),
				Password: p.Password(),
			}
		}
		baseDialer := &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}
		dialer, err := proxy.SOCKS5("tcp", p.Addr(), auth, baseDialer)
		if err != nil {
			return nil, fidelity, fmt.Errorf("failed to build SOCKS5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(proxy.ContextDialer)
		if !ok {
			return nil, fidelity, fmt.Errorf("SOCKS5 dialer does not support context dialing")
		}
		transport.DialContext = contextDialer.DialContext

	default:
		fidelity = FidelityCoarse
		slog.Warn("no native client for proxy type, measuring direct connectivity only",
			"proxy", p.Name, "type", p.Type)
	}

	return &http.Client{
		Transport: transport,
		Timeout:   timeout,
	}, fidelity, nil
}
