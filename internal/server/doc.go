// Package server exposes the HTTP API: chunked upload ingestion, asset and
// job lookups, deletion with in-flight cancellation, and artifact file
// serving.
package server
