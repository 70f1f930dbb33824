package webbridge

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// The package logger defaults to a nop so the library stays silent until the
// host wires one in.
var baseLogger atomic.Pointer[zap.Logger]

func init() {
	baseLogger.Store(zap.NewNop())
}

// SetLogger replaces the package-wide logger. Components capture named
// children of it when they are constructed, so call this before building a
// Session. Passing nil restores the nop logger.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	baseLogger.Store(l)
}

// logNamed returns a child of the package logger for one component.
func logNamed(name string) *zap.Logger {
	return baseLogger.Load().Named(name)
}
