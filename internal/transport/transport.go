// Package transport provides the HTTP transports used for marketplace calls.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
)

// =============================================================================
// MARKETPLACE TRANSPORT
// =============================================================================
//
// The partner API sits behind a CDN that throttles clients by TLS
// fingerprint. Go's default ClientHello is easy to single out, so
// production traffic goes through uTLS with a Chrome hello:
//
//   1. Dial TCP, hand the conn to uTLS with HelloChrome_Auto
//   2. ALPN picks h2 or http/1.1
//   3. h2 uses x/net/http2 framing; hosts that refuse h2 are remembered and
//      go straight to HTTP/1.1 afterwards
//
// =============================================================================

// Options configures New.
type Options struct {
	// Timeout bounds the TCP dial and TLS handshake.
	Timeout time.Duration

	// Fingerprint enables the Chrome TLS fingerprint. When false a standard
	// http.Transport is returned.
	Fingerprint bool
}

// New returns the round tripper for marketplace requests.
func New(opts Options) http.RoundTripper {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if !opts.Fingerprint {
		t := http.DefaultTransport.(*http.Transport).Clone()
		t.TLSHandshakeTimeout = opts.Timeout
		return t
	}
	return NewChromeTransport(opts.Timeout)
}

// NewChromeTransport creates a round tripper presenting Chrome's TLS
// fingerprint, speaking HTTP/2 where the server negotiates it.
func NewChromeTransport(timeout time.Duration) http.RoundTripper {
	dialer := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}

	return &chromeTransport{
		h2: &http2.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return dialChromeTLS(ctx, dialer, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
		},
		h1: &http.Transport{
			DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialChromeTLS(ctx, dialer, network, addr)
			},
			MaxIdleConnsPerHost: 8,
			IdleConnTimeout:     90 * time.Second,
			ForceAttemptHTTP2:   false,
		},
		h1Only: make(map[string]bool),
	}
}

type chromeTransport struct {
	h2 *http2.Transport
	h1 *http.Transport

	mu     sync.RWMutex
	h1Only map[string]bool
}

// RoundTrip implements http.RoundTripper.
func (t *chromeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Host

	t.mu.RLock()
	skipH2 := t.h1Only[host]
	t.mu.RUnlock()

	if !skipH2 && req.URL.Scheme == "https" {
		resp, err := t.h2.RoundTrip(req)
		if err == nil {
			return resp, nil
		}
		// Bodies cannot be replayed without GetBody.
		if req.Body != nil && req.GetBody == nil {
			return nil, err
		}
		if req.GetBody != nil {
			body, berr := req.GetBody()
			if berr != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
		t.mu.Lock()
		t.h1Only[host] = true
		t.mu.Unlock()
	}

	return t.h1.RoundTrip(req)
}

// dialChromeTLS establishes a TLS connection with Chrome's fingerprint.
func dialChromeTLS(ctx context.Context, dialer *net.Dialer, network, addr string) (net.Conn, error) {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	conn, err := dialer.DialContext(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	tlsConn := utls.UClient(conn, &utls.Config{ServerName: host}, utls.HelloChrome_Auto)
	if err := tlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("tls handshake %s: %w", host, err)
	}

	return tlsConn, nil
}
