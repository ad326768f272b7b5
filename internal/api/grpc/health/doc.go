// Package health exposes the standard grpc.health.v1 service for the updater
// and a small client for probing it.
package health
