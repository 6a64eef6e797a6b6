// Package logging provides the prefixed logger shared by the bridge
// packages, plus helpers that keep per-tick warnings from flooding the log.
package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

// Prefix is prepended to every line written by a Logger.
const Prefix = "[emubridge] "

// Logger wraps a stdlib logger with warning/debug helpers. Debug output is
// gated by a verbosity flag that can be flipped at runtime.
type Logger struct {
	l       *log.Logger
	verbose atomic.Bool
}

// New creates a Logger writing to w with the bridge prefix.
func New(w io.Writer) *Logger {
	return &Logger{l: log.New(w, Prefix, log.LstdFlags|log.Lmicroseconds)}
}

var (
	defaultLogger *Logger
	defaultOnce   sync.Once
)

// Default returns the process-wide logger writing to stderr.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New(os.Stderr)
	})
	return defaultLogger
}

// SetVerbose enables or disables Debugf output.
func (lg *Logger) SetVerbose(v bool) {
	lg.verbose.Store(v)
}

// Verbose reports whether Debugf output is enabled.
func (lg *Logger) Verbose() bool {
	return lg.verbose.Load()
}

// Printf logs an informational line.
func (lg *Logger) Printf(format string, args ...any) {
	lg.l.Output(2, fmt.Sprintf(format, args...))
}

// Warnf logs a line with the "Warning: " marker.
func (lg *Logger) Warnf(format string, args ...any) {
	lg.l.Output(2, "Warning: "+fmt.Sprintf(format, args...))
}

// Errorf logs a line with the "Error: " marker.
func (lg *Logger) Errorf(format string, args ...any) {
	lg.l.Output(2, "Error: "+fmt.Sprintf(format, args...))
}

// Debugf logs only when verbose output is enabled.
func (lg *Logger) Debugf(format string, args ...any) {
	if !lg.verbose.Load() {
		return
	}
	lg.l.Output(2, "Debug: "+fmt.Sprintf(format, args...))
}

// Limiter allows an action at most once per interval. The zero interval
// allows every call. Safe for concurrent use.
type Limiter struct {
	interval time.Duration
	mu       sync.Mutex
	last     time.Time
	now      func() time.Time
}

// NewLimiter creates a Limiter with the given interval.
func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval, now: time.Now}
}

// Allow reports whether the caller may act now, and if so records the time.
func (rl *Limiter) Allow() bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	t := rl.now()
	if !rl.last.IsZero() && t.Sub(rl.last) < rl.interval {
		return false
	}
	rl.last = t
	return true
}

// Once tracks keys that have already been reported.
type Once struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// First reports true the first time key is seen and false afterwards.
func (o *Once) First(key string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.seen == nil {
		o.seen = make(map[string]struct{})
	}
	if _, ok := o.seen[key]; ok {
		return false
	}
	o.seen[key] = struct{}{}
	return true
}
