// Package api exposes the admin HTTP surface of the daemon: agent listing and
// on-demand runs, threshold inspection and tuning, alert history queries, and
// token issuance. Routes are wrapped with permission checks and request
// metrics.
package api
