// Package transcode turns reassembled source files into streaming-ready
// artifacts. A bounded worker pool claims jobs from the ledger, drives the
// staged ffmpeg pipeline, and records results in the asset catalog; a
// sweeper fails heartbeat-expired jobs and reclaims orphaned staging
// directories.
package transcode
