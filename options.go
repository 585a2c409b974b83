package native

import (
	"go.uber.org/zap"
	"sync"
	"time"
)

var (
	logger   *zap.Logger
	loggerMu sync.RWMutex
)

// Logger returns the package logger, a no-op logger unless replaced by SetLogger.
func Logger() *zap.Logger {
	loggerMu.RLock()
	l := logger
	loggerMu.RUnlock()
	if l == nil {
		return zap.NewNop()
	}
	return l
}

// SetLogger replaces the package logger. A nil logger restores the no-op logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	logger = l
	loggerMu.Unlock()
}

// Option configures a Registry.
type Option func(*Registry)

// WithDebug enables debug records for loads, releases, resolution and dispatch.
func WithDebug(debug bool) Option {
	return func(r *Registry) { r.debug = debug }
}

// WithLogger sets the logger of a Registry, defaults to [Logger].
func WithLogger(l *zap.Logger) Option {
	return func(r *Registry) {
		if l != nil {
			r.log = l
		}
	}
}

// WithFlags sets the dlopen mode, defaults to RTLDNow|RTLDLocal.
func WithFlags(flags int) Option {
	return func(r *Registry) { r.flags = flags }
}

// WithClock sets the time source used for load and resolution timestamps.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}
