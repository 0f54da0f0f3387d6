package eit

import "github.com/asticode/go-astikit"

// Package-level logger, same rationale as go-astits: a logger argument
// threaded through every pure parsing/building function would clutter
// signatures that otherwise only need bytes in, bytes out. No function of
// this package writes to it: recoverable conditions surface as returned
// errors or are skipped without a report.
var logger = astikit.AdaptStdLogger(nil)

// SetLogger overrides the package logger. Pass nil to silence logging.
func SetLogger(l astikit.StdLogger) { logger = astikit.AdaptStdLogger(l) }
