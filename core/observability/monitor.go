// Package observability provides supplemental, non-required diagnostics:
// per-handler latency/error tracking with threshold-triggered logging. It
// is additive only — none of its state feeds core/metrics.Registry, which
// remains the single source of truth for the required external metrics
// surface.
package observability

import (
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Monitor tracks per-handler latency and error rate and logs when either
// crosses a threshold, adapted from the teacher's PerformanceMonitor to
// report through the application logger instead of an in-memory-only
// bottleneck list nobody read.
type Monitor struct {
	log      *zap.SugaredLogger
	enabled  atomic.Bool
	handlers sync.Map // name -> *handlerStats

	latencyThreshold   time.Duration
	errorRateThreshold float64
}

type handlerStats struct {
	name          string
	count         atomic.Uint64
	errors        atomic.Uint64
	totalDuration atomic.Uint64
	lastWarnAt    atomic.Int64
}

// NewMonitor constructs a Monitor that logs through log. A nil logger
// disables logging but keeps accounting active (used by tests).
func NewMonitor(log *zap.SugaredLogger) *Monitor {
	m := &Monitor{
		log:                log,
		latencyThreshold:   100 * time.Millisecond,
		errorRateThreshold: 0.05,
	}
	m.enabled.Store(true)
	return m
}

// Record accounts one handler invocation and logs a warning while the
// handler's cumulative average latency or error rate is above its
// threshold. Warnings for the same handler are rate-limited to once per 10s
// so a persistently slow handler doesn't flood the log.
func (m *Monitor) Record(handler string, duration time.Duration, isError bool) {
	if !m.enabled.Load() {
		return
	}

	val, _ := m.handlers.LoadOrStore(handler, &handlerStats{name: handler})
	s := val.(*handlerStats)

	s.count.Add(1)
	if isError {
		s.errors.Add(1)
	}
	s.totalDuration.Add(uint64(duration.Nanoseconds()))

	m.maybeWarn(s)
}

func (m *Monitor) maybeWarn(s *handlerStats) {
	if m.log == nil {
		return
	}

	count := s.count.Load()
	if count == 0 {
		return
	}

	now := time.Now().Unix()
	last := s.lastWarnAt.Load()
	if now-last < 10 {
		return
	}

	avg := time.Duration(s.totalDuration.Load() / count)
	errRate := float64(s.errors.Load()) / float64(count)

	if avg > m.latencyThreshold {
		if s.lastWarnAt.CompareAndSwap(last, now) {
			m.log.Warnw("handler latency above threshold", "handler", s.name, "avg", avg, "threshold", m.latencyThreshold)
		}
		return
	}
	if errRate > m.errorRateThreshold {
		if s.lastWarnAt.CompareAndSwap(last, now) {
			m.log.Warnw("handler error rate above threshold", "handler", s.name, "error_rate", errRate, "threshold", m.errorRateThreshold)
		}
	}
}

// Disable stops both accounting and logging; stats already accumulated
// are kept. Used by tests that want deterministic output.
func (m *Monitor) Disable() { m.enabled.Store(false) }
