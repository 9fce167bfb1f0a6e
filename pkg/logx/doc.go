// Package logx configures livereply's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller) and on stderr,
//     because stdout may carry the native messaging channel
//   - File output JSON-structured
//   - Optional operator notification sink (min-level + rate limiting)
package logx
