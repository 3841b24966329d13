// Package server hosts the Fiber HTTP service that fronts the caching proxy:
// request-id middleware, panic recovery, the catch-all route into the proxy
// handler and the shared upstream http.Client. Diagnostics and control routes
// live under the reserved /-/ prefix and are attached by package routes.
package server
