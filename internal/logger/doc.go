// Package logger wraps zap for the whole service:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level parsing and Setup, which tees output into size-rotated files,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// Components take a context and pull the logger from it, so a task or
// request can carry its own named, annotated logger.
package logger
