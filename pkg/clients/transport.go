package clients

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// DefaultTransport returns an HTTP transport with connection limits. A nil
// tlsConfig uses the system defaults.
func DefaultTransport(tlsConfig *tls.Config) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: tlsConfig,

		// Cap concurrent connections to any single host
		MaxConnsPerHost:     16,
		MaxIdleConnsPerHost: 4,
		MaxIdleConns:        16,
		IdleConnTimeout:     90 * time.Second,

		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,

		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
}

// TLSConfig returns the client TLS settings for the camera console. Consoles
// commonly ship self-signed certificates, so verification is opt-in.
func TLSConfig(verify bool) *tls.Config {
	return &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: !verify, //nolint:gosec // opt-in via PROTECT_VERIFY_TLS
	}
}
