// Package version exposes build metadata for pipe-updater.
//
// Version, Commit and BuildTime are injected by the release workflow through
// -ldflags "-X". Local builds keep the defaults.
package version
