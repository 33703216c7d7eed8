// Package server hosts the Fiber diagnostics service of the asset layer: the
// middleware chain (panic recovery, request IDs, access logging), the JSON
// error renderer that maps asset error kinds to HTTP statuses and the
// Prometheus endpoint. Route groups live in server/routes and receive their
// dependencies explicitly, so keep exports narrow.
package server
