// Package logx configures timerd's structured logging.
//
// It is a thin layer over zerolog providing:
//   - Console output (human-friendly) and an optional JSON file sink
//   - slog-like Field attributes without a dependency on slog
//   - A global level that can be swapped at runtime (config hot reload)
//
// The zero Logger value is a safe no-op, so components can accept a Logger
// by value without nil checks.
package logx
