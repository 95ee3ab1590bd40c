// Package metrics implements the process-wide counter/gauge/histogram
// registry described in spec.md §3 "Metrics state" and §4.A. It is grounded
// on original_source/src/server/Metrics.h's atomic-counter layout, rendered
// the lock-light, collector-struct way pior-memcache's PoolStats/ClientStats
// collectors do it (other_examples/pior-memcache__stats.go): one struct of
// atomics, explicit record/snapshot methods, one mutex reserved for the
// single field that genuinely needs ordered access (the RPS timestamp ring).
//
// Unlike the source's process-wide singleton, a Registry here is an
// explicit value constructed once by the caller (app.New) and threaded
// into the engine and handlers (spec.md §9 design note).
package metrics

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// namePrefix is the stable metric-name prefix for this implementation
// (spec.md §6: "names must be stable within an implementation").
const namePrefix = "httpserver_"

// histogram bucket upper bounds, in seconds, matching original_source's
// updateRequestDurationHistogram bucket boundaries {1ms, 10ms, 100ms, 1s, +Inf}.
var bucketBounds = []float64{0.001, 0.01, 0.1, 1.0}

const bucketCount = 5 // four finite bounds plus +Inf

// Registry is the process-global metrics instance. All fields except
// recentTimestamps are mutated without locks.
type Registry struct {
	requestsTotal      atomic.Uint64
	requestsSuccessful atomic.Uint64
	requestsFailed     atomic.Uint64

	connectionsTotal  atomic.Uint64
	activeConnections atomic.Int64

	bytesReceived atomic.Uint64
	bytesSent     atomic.Uint64

	durationBuckets [bucketCount]atomic.Uint64
	durationSumBits atomic.Uint64 // math.Float64bits(sum)
	durationCount   atomic.Uint64
	lastDurationBits atomic.Uint64

	maxReadBufBytes  atomic.Int64
	maxWriteBufBytes atomic.Int64

	mu              sync.Mutex
	recentTimestamps []time.Time // pruned to entries within the last 60s
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{}
}

// IncRequests records one received request.
func (r *Registry) IncRequests() { r.requestsTotal.Add(1) }

// IncSuccess records one successfully handled request.
func (r *Registry) IncSuccess() { r.requestsSuccessful.Add(1) }

// IncFail records one failed request.
func (r *Registry) IncFail() { r.requestsFailed.Add(1) }

// IncConnections records a newly accepted connection.
func (r *Registry) IncConnections() {
	r.connectionsTotal.Add(1)
	r.activeConnections.Add(1)
}

// DecConnections records a closed connection. active_connections never
// drops below zero (spec.md §8 law 1).
func (r *Registry) DecConnections() {
	for {
		cur := r.activeConnections.Load()
		if cur <= 0 {
			return
		}
		if r.activeConnections.CompareAndSwap(cur, cur-1) {
			return
		}
	}
}

// IncBytesReceived and IncBytesSent track throughput.
func (r *Registry) IncBytesReceived(n int) { r.bytesReceived.Add(uint64(n)) }
func (r *Registry) IncBytesSent(n int)     { r.bytesSent.Add(uint64(n)) }

// ObserveReadBuf and ObserveWriteBuf take the running max observed buffer
// size (spec.md §3 "max observed read-buffer size").
func (r *Registry) ObserveReadBuf(n int) { observeMax(&r.maxReadBufBytes, int64(n)) }
func (r *Registry) ObserveWriteBuf(n int) { observeMax(&r.maxWriteBufBytes, int64(n)) }

func observeMax(g *atomic.Int64, v int64) {
	for {
		cur := g.Load()
		if v <= cur {
			return
		}
		if g.CompareAndSwap(cur, v) {
			return
		}
	}
}

// ObserveDuration updates the last-value gauge, sum, count and the bucket
// whose upper bound first exceeds seconds (spec.md §4.A), and records a
// timestamp for the RPS gauge.
func (r *Registry) ObserveDuration(seconds float64) {
	r.lastDurationBits.Store(floatBits(seconds))
	addFloat(&r.durationSumBits, seconds)
	r.durationCount.Add(1)

	idx := bucketCount - 1
	for i, bound := range bucketBounds {
		if seconds < bound {
			idx = i
			break
		}
	}
	// every coarser bucket (including +Inf) also counts this observation,
	// matching the cumulative-histogram convention Prometheus expects.
	for i := idx; i < bucketCount; i++ {
		r.durationBuckets[i].Add(1)
	}

	r.mu.Lock()
	now := time.Now()
	r.recentTimestamps = append(r.recentTimestamps, now)
	r.pruneLocked(now)
	r.mu.Unlock()
}

func (r *Registry) pruneLocked(now time.Time) {
	cutoff := now.Add(-60 * time.Second)
	i := 0
	for i < len(r.recentTimestamps) && r.recentTimestamps[i].Before(cutoff) {
		i++
	}
	if i > 0 {
		r.recentTimestamps = r.recentTimestamps[i:]
	}
}

// RPS returns the count of observations timestamped within the last second.
func (r *Registry) RPS() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	cutoff := time.Now().Add(-1 * time.Second)
	// recentTimestamps is kept in arrival order, so a binary search finds
	// the first entry inside the window; every entry from there on counts.
	n := sort.Search(len(r.recentTimestamps), func(i int) bool {
		return r.recentTimestamps[i].After(cutoff) || r.recentTimestamps[i].Equal(cutoff)
	})
	return len(r.recentTimestamps) - n
}

// Snapshot is a point-in-time read of every counter/gauge, used by render
// and by tests asserting idempotence (spec.md §8 law 5).
type Snapshot struct {
	RequestsTotal, RequestsSuccessful, RequestsFailed uint64
	ConnectionsTotal                                  uint64
	ActiveConnections                                 int64
	BytesReceived, BytesSent                          uint64
	DurationBuckets                                   [bucketCount]uint64
	DurationSum                                       float64
	DurationCount                                     uint64
	LastDuration                                      float64
	MaxReadBufBytes, MaxWriteBufBytes                 int64
	RPS                                               int
}

// Snapshot reads every field without mutating anything.
func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{
		RequestsTotal:      r.requestsTotal.Load(),
		RequestsSuccessful: r.requestsSuccessful.Load(),
		RequestsFailed:     r.requestsFailed.Load(),
		ConnectionsTotal:   r.connectionsTotal.Load(),
		ActiveConnections:  r.activeConnections.Load(),
		BytesReceived:      r.bytesReceived.Load(),
		BytesSent:          r.bytesSent.Load(),
		DurationSum:        floatFromBits(r.durationSumBits.Load()),
		DurationCount:      r.durationCount.Load(),
		LastDuration:       floatFromBits(r.lastDurationBits.Load()),
		MaxReadBufBytes:    r.maxReadBufBytes.Load(),
		MaxWriteBufBytes:   r.maxWriteBufBytes.Load(),
		RPS:                r.RPS(),
	}
	for i := range r.durationBuckets {
		s.DurationBuckets[i] = r.durationBuckets[i].Load()
	}
	return s
}

// Reset zeroes every counter/gauge and clears the timestamp ring; used by
// tests only (spec.md §4.A).
func (r *Registry) Reset() {
	r.requestsTotal.Store(0)
	r.requestsSuccessful.Store(0)
	r.requestsFailed.Store(0)
	r.connectionsTotal.Store(0)
	r.activeConnections.Store(0)
	r.bytesReceived.Store(0)
	r.bytesSent.Store(0)
	r.durationSumBits.Store(0)
	r.durationCount.Store(0)
	r.lastDurationBits.Store(0)
	r.maxReadBufBytes.Store(0)
	r.maxWriteBufBytes.Store(0)
	for i := range r.durationBuckets {
		r.durationBuckets[i].Store(0)
	}
	r.mu.Lock()
	r.recentTimestamps = r.recentTimestamps[:0]
	r.mu.Unlock()
}

var bucketLabels = []string{"0.001", "0.01", "0.1", "1", "+Inf"}

// Render emits Prometheus text-exposition format: stable names, HELP and
// TYPE lines, matching the family layout of original_source's
// getPrometheusMetrics (renamed with the httpserver_ prefix, spec.md §6).
func (r *Registry) Render() []byte {
	s := r.Snapshot()
	var buf bytes.Buffer

	writeCounter(&buf, "requests_total", "Total number of HTTP requests received", s.RequestsTotal)
	writeCounter(&buf, "requests_successful_total", "Total successful HTTP requests", s.RequestsSuccessful)
	writeCounter(&buf, "requests_failed_total", "Total failed HTTP requests", s.RequestsFailed)
	writeCounter(&buf, "connections_total", "Total number of accepted connections", s.ConnectionsTotal)

	writeGauge(&buf, "active_connections", "Current number of active connections", float64(s.ActiveConnections))
	writeGauge(&buf, "request_duration_seconds", "Most recently observed request duration in seconds", s.LastDuration)
	writeGauge(&buf, "requests_per_second", "Requests observed in the trailing one second window", float64(s.RPS))
	writeGauge(&buf, "read_buffer_bytes_max", "Largest observed per-connection read buffer size", float64(s.MaxReadBufBytes))
	writeGauge(&buf, "write_buffer_bytes_max", "Largest observed per-connection write buffer size", float64(s.MaxWriteBufBytes))

	fmt.Fprintf(&buf, "# HELP %srequest_duration_seconds_histogram Request duration histogram\n", namePrefix)
	fmt.Fprintf(&buf, "# TYPE %srequest_duration_seconds_histogram histogram\n", namePrefix)
	for i, label := range bucketLabels {
		fmt.Fprintf(&buf, "%srequest_duration_seconds_histogram_bucket{le=\"%s\"} %d\n", namePrefix, label, s.DurationBuckets[i])
	}
	fmt.Fprintf(&buf, "%srequest_duration_seconds_histogram_sum %v\n", namePrefix, s.DurationSum)
	fmt.Fprintf(&buf, "%srequest_duration_seconds_histogram_count %d\n\n", namePrefix, s.DurationCount)

	writeCounter(&buf, "bytes_received_total", "Total bytes received", s.BytesReceived)
	writeCounter(&buf, "bytes_sent_total", "Total bytes sent", s.BytesSent)

	return buf.Bytes()
}

func writeCounter(buf *bytes.Buffer, name, help string, v uint64) {
	fmt.Fprintf(buf, "# HELP %s%s %s\n", namePrefix, name, help)
	fmt.Fprintf(buf, "# TYPE %s%s counter\n", namePrefix, name)
	fmt.Fprintf(buf, "%s%s %d\n\n", namePrefix, name, v)
}

func writeGauge(buf *bytes.Buffer, name, help string, v float64) {
	fmt.Fprintf(buf, "# HELP %s%s %s\n", namePrefix, name, help)
	fmt.Fprintf(buf, "# TYPE %s%s gauge\n", namePrefix, name)
	fmt.Fprintf(buf, "%s%s %v\n\n", namePrefix, name, v)
}
