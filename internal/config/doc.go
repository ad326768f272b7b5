// Package config defines pipe-updater settings and helpers to load, validate
// and save them in YAML format.
//
// Load layers built-in defaults, the YAML file and PIPE_UPDATER_* environment
// variables. Validate fills unset values with defaults and rejects broken
// targets before the service starts.
package config
