// Package checker polls the gRPC health endpoint of a running updater.
package checker
