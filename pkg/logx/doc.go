// Package logx configures wikicron's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured and append-only
//   - Loggers cheap to pass by value into every component constructor
package logx
