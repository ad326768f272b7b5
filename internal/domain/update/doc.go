// Package update contains core domain types for update tasks.
//
// It defines Status (where a task is in its lifecycle) and Record (the
// persisted outcome of a finished task) with Clone helpers to avoid leaking
// internal references.
package update
