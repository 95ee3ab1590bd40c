package observability

import (
	"testing"
	"time"
)

func TestMonitorRecordsPerHandlerStats(t *testing.T) {
	m := NewMonitor(nil)

	m.Record("GET /api", 10*time.Millisecond, false)
	m.Record("GET /api", 20*time.Millisecond, false)
	m.Record("GET /api", 30*time.Millisecond, false)

	val, ok := m.handlers.Load("GET /api")
	if !ok {
		t.Fatal("expected handler stats to be recorded")
	}

	s := val.(*handlerStats)
	if count := s.count.Load(); count != 3 {
		t.Errorf("expected 3 recorded calls, got %d", count)
	}

	avg := time.Duration(s.totalDuration.Load() / s.count.Load())
	if avg != 20*time.Millisecond {
		t.Errorf("expected 20ms average, got %v", avg)
	}
}

func TestMonitorTracksErrors(t *testing.T) {
	m := NewMonitor(nil)

	m.Record("GET /slow", time.Millisecond, false)
	m.Record("GET /slow", time.Millisecond, true)

	val, _ := m.handlers.Load("GET /slow")
	s := val.(*handlerStats)
	if errs := s.errors.Load(); errs != 1 {
		t.Errorf("expected 1 error recorded, got %d", errs)
	}
}

func TestMonitorDisableStopsAccounting(t *testing.T) {
	m := NewMonitor(nil)
	m.Disable()

	m.Record("GET /api", time.Millisecond, false)

	if _, ok := m.handlers.Load("GET /api"); ok {
		t.Error("expected no accounting after Disable")
	}
}

func BenchmarkMonitorRecord(b *testing.B) {
	m := NewMonitor(nil)
	d := 10 * time.Millisecond

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		m.Record("GET /api", d, false)
	}
}
