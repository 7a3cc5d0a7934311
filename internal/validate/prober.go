// Package validate checks harvested candidates by routing a real request through them.
package validate

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// DefaultEchoURL answers with the caller's apparent origin.
const DefaultEchoURL = "http://httpbin.org/ip"

// HeaderEchoURL also echoes the request headers the relay forwarded.
const HeaderEchoURL = "http://httpbin.org/get"

const (
	defaultUserAgent = "proxy-harvester/1.0"
	maxEchoBody      = 64 << 10
)

// ErrProbeStatus is returned when the relayed request completes with a non-2xx status.
var ErrProbeStatus = errors.New("probe returned non-success status")

// ProberConfig configures HTTPProber.
type ProberConfig struct {
	EchoURL   string
	UserAgent string
}

// HTTPProber issues one GET to the echo endpoint through the candidate.
type HTTPProber struct {
	echoURL   string
	userAgent string
	dialer    *net.Dialer
}

// NewHTTPProber validates the echo URL and returns a prober.
func NewHTTPProber(cfg ProberConfig) (*HTTPProber, error) {
	if cfg.EchoURL == "" {
		cfg.EchoURL = DefaultEchoURL
	}
	u, err := url.Parse(cfg.EchoURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("invalid echo url %q", cfg.EchoURL)
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaultUserAgent
	}
	return &HTTPProber{
		echoURL:   cfg.EchoURL,
		userAgent: cfg.UserAgent,
		dialer:    &net.Dialer{KeepAlive: -1},
	}, nil
}

// Probe routes a GET through candidate using the transport for proxyType.
// The deadline comes from ctx.
func (p *HTTPProber) Probe(ctx context.Context, candidate proxy.Candidate, proxyType proxy.Type) (proxy.ProbeResult, error) {
	if _, _, err := candidate.Split(); err != nil {
		return proxy.ProbeResult{}, err
	}
	transport, err := p.transport(string(candidate), proxyType)
	if err != nil {
		return proxy.ProbeResult{}, err
	}
	defer transport.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.echoURL, nil)
	if err != nil {
		return proxy.ProbeResult{}, fmt.Errorf("build probe request: %w", err)
	}
	req.Header.Set("User-Agent", p.userAgent)

	client := &http.Client{
		Transport: transport,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return proxy.ProbeResult{}, fmt.Errorf("probe %s: %w", candidate, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEchoBody))
	latency := time.Since(start)
	if err != nil {
		return proxy.ProbeResult{}, fmt.Errorf("read probe body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return proxy.ProbeResult{}, fmt.Errorf("%w: %d", ErrProbeStatus, resp.StatusCode)
	}
	return proxy.ProbeResult{
		Latency:    latency,
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
	}, nil
}

func (p *HTTPProber) transport(addr string, proxyType proxy.Type) (*http.Transport, error) {
	transport := &http.Transport{
		DisableKeepAlives: true,
		// Free proxies routinely intercept TLS.
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec
	}
	switch proxyType {
	case proxy.TypeHTTP, proxy.TypeHTTPS, proxy.TypeAll:
		transport.Proxy = http.ProxyURL(&url.URL{Scheme: "http", Host: addr})
		transport.DialContext = p.dialer.DialContext
	case proxy.TypeSOCKS5:
		dialer, err := xproxy.SOCKS5("tcp", addr, nil, p.dialer)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		ctxDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer does not support contexts")
		}
		transport.DialContext = ctxDialer.DialContext
	case proxy.TypeSOCKS4:
		transport.DialContext = (&socks4Dialer{proxyAddr: addr, forward: p.dialer}).DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy type %q", proxyType)
	}
	return transport, nil
}
