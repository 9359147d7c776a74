// Package api exposes the HTTP interface for submitting crawls and reading
// their status. Every endpoint under /v1 requires a bearer credential.
package api
