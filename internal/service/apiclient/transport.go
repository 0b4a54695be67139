package apiclient

import (
	"net/http"
	"time"

	"github.com/nkiryanov/blogpress/internal/logger"
	"github.com/nkiryanov/blogpress/internal/metrics"
)

type roundTripperFunc func(*http.Request) (*http.Response, error)

func (f roundTripperFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

// Log every outgoing request. Headers are never logged: they carry tokens
func loggingTransport(next http.RoundTripper, l logger.Logger) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		start := time.Now()

		resp, err := next.RoundTrip(r)
		if err != nil {
			l.Warn(
				"API request failed",
				"method", r.Method,
				"path", r.URL.Path,
				"request_id", r.Header.Get(RequestIDHeader),
				"duration", time.Since(start),
				"error", err,
			)
			return resp, err
		}

		l.Debug(
			"API request",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", r.Header.Get(RequestIDHeader),
			"duration", time.Since(start),
			"status", resp.StatusCode,
		)
		return resp, nil
	})
}

func metricsTransport(next http.RoundTripper, m *metrics.Metrics) http.RoundTripper {
	return roundTripperFunc(func(r *http.Request) (*http.Response, error) {
		done := m.TrackRequest(r.Method, r.URL.Path)

		resp, err := next.RoundTrip(r)
		if err != nil {
			done(0)
			return resp, err
		}

		done(resp.StatusCode)
		return resp, nil
	})
}
