// Package history persists the outcome of finished update tasks.
//
// The FileRepository keeps the most recent records as a JSON document on disk
// and exposes a Repository interface that the updater depends on.
package history
