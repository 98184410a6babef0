// Package api exposes the REST surface of the daemon: chain submission,
// vault accounting and settlement, and extension administration.
package api
