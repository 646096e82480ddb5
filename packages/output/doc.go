// Package output provides formatters for displaying suite results.
//
// Supported output formats:
//   - Console: Human-readable colored terminal output
//   - JSON: Machine-readable report, also the history storage format
//   - TAP: Raw passthrough of each file's TAP stream
//
// Each formatter implements the Formatter interface: per-file results as
// they complete, then a final summary on Flush.
package output
