// Package httpmw provides HTTP middleware for the public gateway listener.
//
// httpserver.NewHandler composes them outermost first: security headers,
// CORS, recover, request ID, client IP resolution, OTEL tracing, trace
// headers, metrics, request-scoped logging, body limit, access log and the
// chi router. Per-route rate limiting is mounted on the router itself so it
// always sees the resolved client IP.
//
// Request bodies, query values and credentials are never logged.
package httpmw
