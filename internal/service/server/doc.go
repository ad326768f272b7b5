// Package server runs the updater daemon: the HTTP control API, the optional
// gRPC health listener and the progress reporter.
package server
