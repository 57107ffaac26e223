//go:build otelotlp

package otelobs

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// WrapHTTPHandler instruments the handler with server-side spans.
func WrapHTTPHandler(serviceName string, h http.Handler) http.Handler {
	return otelhttp.NewHandler(h, serviceName)
}

// WrapHTTPTransport propagates trace context on outgoing requests.
func WrapHTTPTransport(t http.RoundTripper) http.RoundTripper {
	return otelhttp.NewTransport(t)
}
