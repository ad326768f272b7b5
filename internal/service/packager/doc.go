// Package packager registers a released binary as an update target.
//
// It computes the SHA-512 of the local build, then adds or replaces a binary
// target in the settings file so that nodes verify the download before the
// executable is swapped.
package packager
