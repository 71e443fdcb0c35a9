// Package telemetry carries the ambient logging and metrics stack that the
// sync engine, the HTTP surface and the remote adapters thread through
// their constructors (the resolver, detector and monitor take none), matching the
// teacher's pkg/fault_tolerance and pkg/p2p convention of a *slog.Logger
// field defaulting to slog.Default() (§4.10).
package telemetry

import "log/slog"

// Logger returns l if non-nil, otherwise slog.Default(). Every constructor
// in this core that accepts a *slog.Logger calls this so a nil logger
// never panics a caller that didn't bother wiring one.
func Logger(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
