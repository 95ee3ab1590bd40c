package engine

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/pools"
)

// connState is the per-connection state machine (spec.md §4.D). A
// connection is always registered for read readiness once accepted — more
// pipelined requests can arrive while a backlog drains — so the only state
// transition that matters is whether it also needs write readiness.
type connState int32

const (
	// StateReading: read-ready only, write buffer empty.
	StateReading connState = iota
	// StateReadingAndWriting: read-ready and the write buffer has bytes
	// the last inline send() couldn't flush; poller also watches writable.
	StateReadingAndWriting
	// StateClosed: fd has been removed from the poller and closed.
	StateClosed
)

// Connection is one accepted client connection and its framing/write state.
// Implements pools.ConnectionPoolable so it can live in the capacity-bounded
// connection pool between uses.
//
// Response ordering follows spec.md §5 exactly: the per-connection
// "pending" FIFO holds every request framed off the read buffer, in arrival
// order, until the event loop drains it into the worker pool (§4.G); once
// dispatched, workers append their rendered response to writeBuf under
// writeMu in whatever order they complete — completion order across
// workers is explicitly unspecified, and this implementation does not
// reconstruct submission order, matching the reference design's documented
// allowance for reordering.
type Connection struct {
	fd    int
	state atomic.Int32

	readBuf []byte
	readLen int

	writeMu             sync.Mutex
	writeBuf            []byte
	maxWriteBufferBytes int
	awaitingWritable    bool

	pending *queue.Queue // of framed *http.Request awaiting worker dispatch

	active          bool
	lastActivity    atomic.Int64 // unix nanos
	connectionStart time.Time
	keepAlive       bool
	closeAfterFlush bool
}

// newConnection constructs a pooled Connection ready for SetFD.
func newConnection() *Connection {
	return &Connection{pending: queue.New()}
}

// SetFD implements pools.ConnectionPoolable: binds the connection to an
// accepted file descriptor and starts its lifetime clock.
func (c *Connection) SetFD(fd int) {
	c.fd = fd
	c.active = true
	c.connectionStart = time.Now()
	c.lastActivity.Store(time.Now().UnixNano())
	c.state.Store(int32(StateReading))
	c.keepAlive = true
}

// Reset implements pools.ConnectionPoolable: clears everything so the
// connection object is safe to hand out again for a new fd.
func (c *Connection) Reset() {
	c.fd = -1
	c.active = false
	c.readLen = 0
	c.writeBuf = c.writeBuf[:0]
	c.awaitingWritable = false
	for c.pending.Length() > 0 {
		if req, ok := c.pending.Remove().(*http.Request); ok {
			http.ReleaseRequest(req)
		}
	}
	c.keepAlive = false
	c.closeAfterFlush = false
	c.state.Store(int32(StateReading))
}

func (c *Connection) touch() { c.lastActivity.Store(time.Now().UnixNano()) }

func (c *Connection) idleSince() time.Duration {
	return time.Since(time.Unix(0, c.lastActivity.Load()))
}

// isClosed reports whether this connection has already been torn down,
// checked by workers before appending a response so that a response
// produced after the connection closed is discarded silently (spec.md §5
// "appending to a Closed connection's buffer must be a no-op").
func (c *Connection) isClosed() bool {
	return connState(c.state.Load()) == StateClosed
}

// appendResponse appends an already-rendered response to the write buffer
// under the connection's exclusive write lock and returns the buffer's new
// contents so the caller can attempt an opportunistic inline send. A no-op
// once the connection is closed. If the append would grow the write buffer
// past maxWriteBufferBytes, the connection is marked Closed instead
// (spec.md §5 "Backpressure": write-buffer overflow forces connection
// closure) and exceeded reports true so the caller tears down the fd.
func (c *Connection) appendResponse(resp []byte) (buf []byte, exceeded bool) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() {
		return nil, false
	}

	if c.maxWriteBufferBytes > 0 && len(c.writeBuf)+len(resp) > c.maxWriteBufferBytes {
		c.state.Store(int32(StateClosed))
		return nil, true
	}

	c.writeBuf = append(c.writeBuf, resp...)
	if len(c.writeBuf) > 0 && connState(c.state.Load()) != StateClosed {
		c.state.Store(int32(StateReadingAndWriting))
	}
	return c.writeBuf, false
}

// flush attempts one non-blocking write of the buffered bytes. The socket
// write happens under writeMu, matching spec.md §5's "per-connection write
// buffer: one exclusive lock... held across an append and across a drain,
// never across a blocking call" — a non-blocking write returns immediately
// either way, so holding the lock across it never risks stalling the event
// loop or another goroutine appending to this same connection.
func (c *Connection) flush() (wouldBlock, closed bool, err error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.isClosed() || len(c.writeBuf) == 0 {
		return false, c.isClosed(), nil
	}

	n, werr := unix.Write(c.fd, c.writeBuf)
	if werr != nil {
		if werr == unix.EAGAIN || werr == unix.EWOULDBLOCK {
			return true, false, nil
		}
		return false, false, werr
	}

	if n > 0 {
		c.writeBuf = c.writeBuf[:copy(c.writeBuf, c.writeBuf[n:])]
	}
	if len(c.writeBuf) == 0 && !c.isClosed() {
		c.state.Store(int32(StateReading))
	}
	return false, false, nil
}

// markClosed transitions the connection to StateClosed under the write
// lock so that any in-flight appendResponse/flush call observes it.
func (c *Connection) markClosed() {
	c.writeMu.Lock()
	c.state.Store(int32(StateClosed))
	c.writeMu.Unlock()
}

var _ pools.ConnectionPoolable = (*Connection)(nil)
