package agentpool

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
)

// protocolH1 and protocolH2 are the protocol axis values of a cache key.
const (
	protocolH1 = "h1"
	protocolH2 = "h2"

	// directSegment is the proxy axis value for proxyless dispatchers.
	directSegment = "direct"

	// keySeparator joins the origin, proxy, and protocol segments.
	keySeparator = "|"
)

// CacheKey computes the pool cache key for the given dispatch axes:
// the request origin (scheme://host:port with path and query stripped),
// the proxy URL or "direct", and "h1" or "h2".
func CacheKey(originURL, proxyURL string, enableHTTP2 bool) (string, error) {
	origin, err := normalizeOrigin(originURL)
	if err != nil {
		return "", err
	}
	proxySegment := directSegment
	if proxyURL != "" {
		proxySegment = proxyURL
	}
	protocol := protocolH1
	if enableHTTP2 {
		protocol = protocolH2
	}
	return origin + keySeparator + proxySegment + keySeparator + protocol, nil
}

// originOfKey returns the origin segment of a cache key.
func originOfKey(key string) string {
	if i := strings.Index(key, keySeparator); i >= 0 {
		return key[:i]
	}
	return key
}

// normalizeOrigin reduces a URL to scheme://host[:port], stripping path,
// query, fragment, and user info.
func normalizeOrigin(raw string) (string, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid origin URL %q: %w", raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("origin URL %q must use http or https", raw)
	}
	if u.Host == "" {
		return "", fmt.Errorf("origin URL %q has no host", raw)
	}
	return u.Scheme + "://" + u.Host, nil
}

// buildDispatcher constructs the transport for the given axes. The
// proxy URL scheme selects the transport flavor: none for a direct
// transport, http(s) for an HTTP CONNECT proxy, socks5 for a SOCKS
// dialer. HTTP/2 is an orthogonal axis applied to the same transport.
func buildDispatcher(proxyURL string, enableHTTP2 bool) (http.RoundTripper, error) {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          32,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
		ForceAttemptHTTP2:     enableHTTP2,
	}

	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL %q: %w", proxyURL, err)
		}
		switch u.Scheme {
		case "http", "https":
			transport.Proxy = http.ProxyURL(u)
		case "socks5", "socks5h":
			dialer, err := socksDialer(u)
			if err != nil {
				return nil, err
			}
			transport.DialContext = dialer.DialContext
		default:
			return nil, fmt.Errorf("unsupported proxy scheme %q", u.Scheme)
		}
	}

	if enableHTTP2 {
		if err := http2.ConfigureTransport(transport); err != nil {
			return nil, fmt.Errorf("failed to enable HTTP/2: %w", err)
		}
	} else {
		// A non-nil empty TLSNextProto map disables HTTP/2 upgrade,
		// pinning the dispatcher to HTTP/1.1.
		transport.TLSNextProto = make(map[string]func(string, *tls.Conn) http.RoundTripper)
	}

	return transport, nil
}

// socksDialer builds a context-aware SOCKS5 dialer from a proxy URL,
// carrying credentials from the URL's user info when present.
func socksDialer(u *url.URL) (proxy.ContextDialer, error) {
	var auth *proxy.Auth
	if u.User != nil {
		password, _ := u.User.Password()
		auth = &proxy.Auth{User: u.User.Username(), Password: password}
	}

	d, err := proxy.SOCKS5("tcp", u.Host, auth, &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create SOCKS dialer for %q: %w", u.Host, err)
	}

	cd, ok := d.(proxy.ContextDialer)
	if !ok {
		cd = contextDialerAdapter{d}
	}
	return cd, nil
}

// contextDialerAdapter wraps a plain proxy.Dialer for use where a
// context-aware dialer is required. Cancellation is best-effort: the
// underlying dial is not interruptible.
type contextDialerAdapter struct {
	d proxy.Dialer
}

func (a contextDialerAdapter) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return a.d.Dial(network, addr)
}

// disposer is the destroy primitive a dispatcher may implement.
// http.Transport's CloseIdleConnections does not wait for in-flight
// bodies to drain, which is exactly the non-blocking behavior the pool
// needs.
type disposer interface {
	CloseIdleConnections()
}
