// Package http implements the HTTP control API of the updater.
//
// The plain-text routes at the root drive the first target and answer with
// short messages. The JSON routes under /api/v1 address every configured target.
package http
