package httpclient

import (
	"net"
	"net/http"
	"time"
)

// NewDefaultHTTPClient creates a simple HTTP client with a timeout
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
	}
}

// NewStreamingHTTPClient creates a client for long-lived response bodies.
// There is no overall timeout; only connecting and waiting for response
// headers are bounded by dialTimeout. Streams end via request context.
func NewStreamingHTTPClient(dialTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: 30 * time.Second,
	}).DialContext
	transport.ResponseHeaderTimeout = dialTimeout
	// Compressed event streams buffer inside gzip readers and arrive late
	transport.DisableCompression = true

	return &http.Client{
		Transport: transport,
	}
}
