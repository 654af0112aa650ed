// Package upload receives chunked file uploads, tracks per-session chunk
// state, and reassembles completed sessions into source files for
// transcoding. Chunks may arrive concurrently, out of order, or more than
// once; reassembly triggers exactly once per session.
package upload
