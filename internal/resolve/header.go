package resolve

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/JakeFAU/proxy-harvester/internal/proxy"
)

// proxyHeaders reveal that a relay sat between the client and the echo service.
var proxyHeaders = []string{"Via", "X-Forwarded-For", "Forwarded", "X-Proxy-Id", "X-Real-Ip", "Proxy-Connection"}

// echoPayload is the httpbin-style body returned by the echo endpoint.
type echoPayload struct {
	Origin  string            `json:"origin"`
	Headers map[string]string `json:"headers"`
}

// HeaderAnonymity grades a proxy from what the echo endpoint saw.
// A leaked PublicIP means transparent, any relay fingerprint means anonymous,
// otherwise the proxy is elite. Relay headers are only visible when the echo
// endpoint returns a "headers" object (httpbin /get); against /ip only origin
// leaks are detected.
type HeaderAnonymity struct {
	PublicIP string
}

// ResolveAnonymity implements proxy.AnonymityResolver.
func (h HeaderAnonymity) ResolveAnonymity(_ context.Context, evidence proxy.ProbeResult) (proxy.Anonymity, error) {
	var body echoPayload
	if err := json.Unmarshal(evidence.Body, &body); err != nil {
		return "", fmt.Errorf("decode echo body: %w", err)
	}
	origins := splitOrigins(body.Origin)
	if len(origins) == 0 {
		return "", errors.New("echo body has no origin")
	}

	if h.PublicIP != "" {
		for _, o := range origins {
			if o == h.PublicIP {
				return proxy.AnonymityTransparent, nil
			}
		}
		for _, v := range body.Headers {
			if strings.Contains(v, h.PublicIP) {
				return proxy.AnonymityTransparent, nil
			}
		}
	}
	if len(origins) > 1 {
		return proxy.AnonymityAnonymous, nil
	}
	for _, name := range proxyHeaders {
		if hasHeader(body.Headers, name) {
			return proxy.AnonymityAnonymous, nil
		}
	}
	return proxy.AnonymityElite, nil
}

func hasHeader(headers map[string]string, name string) bool {
	for k := range headers {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}

func splitOrigins(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// DiscoverPublicIP asks the echo endpoint directly for this host's public address.
func DiscoverPublicIP(ctx context.Context, client *http.Client, echoURL string) (string, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, echoURL, nil)
	if err != nil {
		return "", fmt.Errorf("build echo request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("query echo endpoint: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("query echo endpoint: status %d", resp.StatusCode)
	}
	var body echoPayload
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode echo body: %w", err)
	}
	origins := splitOrigins(body.Origin)
	if len(origins) == 0 {
		return "", errors.New("echo body has no origin")
	}
	return origins[0], nil
}
