package metrics

import "testing"

func TestConnectionCountersNeverGoNegative(t *testing.T) {
	r := New()
	r.DecConnections()
	if got := r.Snapshot().ActiveConnections; got != 0 {
		t.Fatalf("active connections = %d, want 0", got)
	}

	r.IncConnections()
	r.IncConnections()
	r.DecConnections()
	r.DecConnections()
	r.DecConnections()
	if got := r.Snapshot().ActiveConnections; got != 0 {
		t.Fatalf("active connections = %d, want 0", got)
	}
}

func TestObserveDurationBucketsAreCumulative(t *testing.T) {
	r := New()
	r.ObserveDuration(0.005) // lands in the 10ms bucket
	s := r.Snapshot()

	if s.DurationBuckets[0] != 0 {
		t.Fatalf("1ms bucket = %d, want 0", s.DurationBuckets[0])
	}
	for i := 1; i < bucketCount; i++ {
		if s.DurationBuckets[i] != 1 {
			t.Fatalf("bucket %d = %d, want 1", i, s.DurationBuckets[i])
		}
	}
	if s.DurationCount != 1 {
		t.Fatalf("count = %d, want 1", s.DurationCount)
	}
}

func TestRenderIdempotentWithoutIntervention(t *testing.T) {
	r := New()
	r.IncRequests()
	r.IncSuccess()

	first := r.Render()
	second := r.Render()
	if string(first) != string(second) {
		t.Fatalf("render output changed without intervening activity:\n%s\n---\n%s", first, second)
	}
}

func TestResetClearsEverything(t *testing.T) {
	r := New()
	r.IncRequests()
	r.IncConnections()
	r.ObserveDuration(0.01)
	r.Reset()

	s := r.Snapshot()
	if s.RequestsTotal != 0 || s.ConnectionsTotal != 0 || s.DurationCount != 0 {
		t.Fatalf("reset left nonzero state: %+v", s)
	}
}
