package engine

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyConfig holds proxy settings.
type ProxyConfig struct {
	URL     string // http://, https://, or socks5:// proxy URL
	NoProxy string // comma-separated list of hosts to bypass proxy
}

// buildTransport creates an http.Transport honoring the engine's proxy and
// TLS settings. keepAlive reflects the explicit Connection header rule:
// absent or keep-alive pools connections, anything else disables pooling.
// Compression is always handled by the engine itself (decodeBody), so the
// transport never negotiates its own.
func (e *Engine) buildTransport(perRequestProxy string, keepAlive bool) (http.RoundTripper, error) {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		DisableKeepAlives:   !keepAlive,
		DisableCompression:  true,
	}

	if e.tlsConfig != nil {
		transport.TLSClientConfig = e.tlsConfig
	}

	proxyURL := perRequestProxy
	noProxy := ""
	if proxyURL == "" && e.proxyConf != nil {
		proxyURL = e.proxyConf.URL
		noProxy = e.proxyConf.NoProxy
	}

	if proxyURL != "" {
		parsed, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parsing proxy URL: %w", err)
		}

		switch parsed.Scheme {
		case "socks5", "socks5h":
			var auth *proxy.Auth
			if parsed.User != nil {
				password, _ := parsed.User.Password()
				auth = &proxy.Auth{
					User:     parsed.User.Username(),
					Password: password,
				}
			}
			dialer, err := proxy.SOCKS5("tcp", parsed.Host, auth, proxy.Direct)
			if err != nil {
				return nil, fmt.Errorf("creating SOCKS5 dialer: %w", err)
			}
			transport.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		case "http", "https":
			if noProxy != "" {
				noProxyHosts := parseNoProxy(noProxy)
				transport.Proxy = func(r *http.Request) (*url.URL, error) {
					if shouldBypassProxy(r.URL.Hostname(), noProxyHosts) {
						return nil, nil
					}
					return parsed, nil
				}
			} else {
				transport.Proxy = http.ProxyURL(parsed)
			}
		default:
			return nil, fmt.Errorf("unsupported proxy scheme: %s", parsed.Scheme)
		}
	}

	return transport, nil
}

// parseNoProxy splits a comma-separated no-proxy string into trimmed host entries.
func parseNoProxy(noProxy string) []string {
	parts := strings.Split(noProxy, ",")
	hosts := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			hosts = append(hosts, strings.ToLower(p))
		}
	}
	return hosts
}

// shouldBypassProxy checks whether a host should bypass the proxy.
func shouldBypassProxy(host string, noProxyHosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range noProxyHosts {
		if h == host {
			return true
		}
		// Support wildcard suffix matching (e.g., .example.com)
		if strings.HasPrefix(h, ".") && strings.HasSuffix(host, h) {
			return true
		}
	}
	return false
}
