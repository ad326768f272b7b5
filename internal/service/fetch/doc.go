// Package fetch runs a single update task in the foreground.
package fetch
