// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - context helpers (ToContext/FromContext/WithName/WithKV),
//   - level configuration and parsing utilities,
//   - an audit logger that writes JSON lines to a rotating file.
//
// Pipelines accept a context and extract the logger from it, so every
// build or verification run logs under its own name and fields.
package logger
