// Package downloader streams an artifact from a URL straight into a Sink.
//
// Servers that honour range requests are read in fixed-size chunks by several
// workers at once; finished chunks are handed to the sink strictly in order
// through a pipe, so at most Parallelism chunks are held in memory and nothing
// is staged on disk. Other servers are read as a single stream.
//
// Every request runs behind a circuit breaker and an exponential backoff
// retry, optionally throttled by a bandwidth limiter. Downloads can be paused,
// resumed and stopped while running.
//
// Two sinks are provided: ArchiveSink decompresses and unpacks tarballs into a
// directory, BinarySink atomically replaces a single file after verifying its
// checksum.
package downloader
