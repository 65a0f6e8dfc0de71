// Package internal is code only for consumption from within the CI core.
package internal

// Build metadata, set via -ldflags at build time.
var (
	Version = "unknown"
	Commit  = "unknown"
	Built   = "unknown"
)
