// Package process terminates local processes by executable name.
package process
