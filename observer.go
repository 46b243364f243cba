/* SPDX-License-Identifier: BSD-2-Clause */

package uffdw

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Kind classifies a Diagnostic.
type Kind int

const (
	// KindZeroFill: a fault outside every registered range is resolved
	// with a zero page.
	KindZeroFill Kind = iota
	// KindZeroFillFailed: the zero page could not be supplied.
	KindZeroFillFailed
	// KindRemapUntracked: a remap moved memory that is not registered.
	KindRemapUntracked
	// KindRemapFailed: the destination of a remap could not be recorded.
	KindRemapFailed
	// KindRangeRemoved: an unmap or remove event dropped [Start, End).
	KindRangeRemoved
	// KindChildStarted: a fork event produced a child context.
	KindChildStarted
	// KindForkDropped: a fork event arrived while the context was being
	// cancelled and its channel was closed.
	KindForkDropped
	// KindCloseFailed: closing a channel failed.
	KindCloseFailed
	// KindStopped: the worker stopped with Err.
	KindStopped
)

var kindNames = [...]string{
	KindZeroFill:       "zero-fill",
	KindZeroFillFailed: "zero-fill failed",
	KindRemapUntracked: "remap of untracked range",
	KindRemapFailed:    "remap failed",
	KindRangeRemoved:   "range removed",
	KindChildStarted:   "child started",
	KindForkDropped:    "fork dropped",
	KindCloseFailed:    "close failed",
	KindStopped:        "stopped",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Level is the logrus level a Kind is logged at.
func (k Kind) Level() logrus.Level {
	switch k {
	case KindStopped:
		return logrus.ErrorLevel
	case KindZeroFillFailed, KindRemapFailed, KindCloseFailed:
		return logrus.WarnLevel
	case KindRemapUntracked, KindForkDropped:
		return logrus.InfoLevel
	default:
		return logrus.DebugLevel
	}
}

// Diagnostic describes something a worker did or ran into. Fields that do
// not apply to the Kind are zero.
type Diagnostic struct {
	Kind Kind
	Fd   int

	// Addr is the faulting address, or the source of a remap.
	Addr uintptr

	// Start and End bound the affected range.
	Start, End uintptr

	Err error
}

// Observer receives diagnostics. Observe is called from worker goroutines,
// possibly concurrently, and with a context lock held.
type Observer interface {
	Observe(Diagnostic)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Diagnostic)

func (f ObserverFunc) Observe(d Diagnostic) { f(d) }

// LogObserver writes diagnostics to a logrus logger. Info and debug
// diagnostics share one rate limiter so a storm of faults cannot flood the
// log. Warnings and errors are never dropped.
type LogObserver struct {
	logger  *logrus.Logger
	limiter *rate.Limiter
}

// NewLogObserver logs to logger, letting through at most one
// info or debug diagnostic per every. A nil logger means the standard logger
// and a zero every disables the limit.
func NewLogObserver(logger *logrus.Logger, every time.Duration) *LogObserver {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	limit := rate.Inf
	if every > 0 {
		limit = rate.Every(every)
	}
	return &LogObserver{
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// DefaultObserver is the observer used when none is configured.
func DefaultObserver() *LogObserver {
	return NewLogObserver(nil, time.Second)
}

func (o *LogObserver) Observe(d Diagnostic) {
	level := d.Kind.Level()
	if !o.logger.IsLevelEnabled(level) {
		return
	}
	if level >= logrus.InfoLevel && !o.limiter.Allow() {
		return
	}

	fields := logrus.Fields{"fd": d.Fd}
	if d.Addr != 0 {
		fields["addr"] = fmt.Sprintf("%#x", d.Addr)
	}
	if d.End > d.Start {
		fields["start"] = fmt.Sprintf("%#x", d.Start)
		fields["end"] = fmt.Sprintf("%#x", d.End)
		fields["len"] = d.End - d.Start
	}
	entry := o.logger.WithFields(fields)
	if d.Err != nil {
		entry = entry.WithError(d.Err)
	}
	entry.Log(level, d.Kind.String())
}
