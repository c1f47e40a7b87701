package llm

import (
	"bytes"
	"io"
	"net/http"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"

	"nebula-chat/pkg/logger"
)

var (
	sensitiveHeaders = []string{"Authorization", "X-Api-Key", "X-Auth-Token", "Cookie"}
	sensitiveFields  = regexp.MustCompile(`(?i)("(?:api_key|apikey|password|secret|token|private_key)"\s*:\s*)"[^"]*"`)
)

// DebugTransport logs outgoing model requests with credentials redacted.
type DebugTransport struct {
	base    http.RoundTripper
	enabled bool
}

func NewDebugTransport(base http.RoundTripper, enabled bool) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, enabled: enabled}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.enabled && req.Method == http.MethodPost {
		t.logRequest(req)
	}

	resp, err := t.base.RoundTrip(req)
	if err != nil && t.enabled {
		logger.Errorf("model request to %s failed: %v", req.URL.Host, err)
	}
	return resp, err
}

func (t *DebugTransport) logRequest(req *http.Request) {
	fields := logrus.Fields{
		"method":  req.Method,
		"url":     req.URL.String(),
		"headers": redactHeaders(req.Header),
	}

	if req.Body != nil {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			logger.Errorf("read model request body: %v", err)
			return
		}
		// restore for the real round trip
		req.Body = io.NopCloser(bytes.NewReader(body))
		fields["size"] = len(body)
		fields["body"] = redactBody(body)
	}

	logger.WithFields(fields).Debug("model request")
}

func redactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for name, values := range h {
		if isSensitiveHeader(name) {
			out[name] = "[REDACTED]"
			continue
		}
		out[name] = strings.Join(values, ", ")
	}
	return out
}

func isSensitiveHeader(name string) bool {
	for _, s := range sensitiveHeaders {
		if strings.EqualFold(name, s) {
			return true
		}
	}
	return false
}

func redactBody(body []byte) string {
	return sensitiveFields.ReplaceAllString(string(body), `$1"[REDACTED]"`)
}
