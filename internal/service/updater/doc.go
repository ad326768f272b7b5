// Package updater runs update tasks: it stops a target's service, streams the
// artifact into place and restarts the service.
package updater
