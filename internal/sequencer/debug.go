package sequencer

import (
	"io"
	"log"
)

var (
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the diag and trace streams for the sequencer
// package. Pass nil to disable a stream. Actionable failures go through
// monitoring.Logf.
func SetLogWriters(diag, trace io.Writer) {
	diagLogger = newLogger("[sequencer] ", diag)
	traceLogger = newLogger("[sequencer] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs per-step telemetry.
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}
