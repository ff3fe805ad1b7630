package logger

import "go.uber.org/zap"

// Nop returns a Logger that discards everything. Panic still panics.
func Nop() Logger {
	return &ZapLogger{log: zap.NewNop().Sugar()}
}

// Default returns the process-wide logger for injection. The package level
// functions add a stack frame, so the injected copy skips one caller less.
func Default() Logger {
	return &ZapLogger{log: GetLogger().log.WithOptions(zap.AddCallerSkip(-1))}
}

// New returns the process-wide logger, or a no-op logger when disabled is set.
func New(disabled bool) Logger {
	if disabled {
		return Nop()
	}
	return Default()
}
