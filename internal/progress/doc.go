// Package progress tracks how far a download and its unpacking have got.
//
// A Tracker is updated concurrently by download workers and the unpacker and
// hands out immutable Snapshots. Meter estimates the current speed over a
// short sliding window of one-second buckets.
package progress
