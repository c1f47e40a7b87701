package utils

import (
	"crypto/tls"
	"net/http"
	"time"
)

// NewHTTPClient builds the shared client used for conversation calls. When
// token is non-empty every request carries it as a bearer credential.
//
// Timeout is left to the caller's context for streaming requests, so a
// zero timeout disables the client-wide deadline.
func NewHTTPClient(timeout time.Duration, token string) *http.Client {
	var transport http.RoundTripper = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
	}
	if token != "" {
		transport = &BearerTransport{Token: token, Base: transport}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}

type BearerTransport struct {
	Token string
	Base  http.RoundTripper
}

func (t *BearerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	if req.Header.Get("Authorization") != "" {
		return base.RoundTrip(req)
	}
	clone := req.Clone(req.Context())
	clone.Header.Set("Authorization", "Bearer "+t.Token)
	return base.RoundTrip(clone)
}
