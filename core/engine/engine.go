// Package engine is the event-loop server (spec.md §4.F), generalized from
// the teacher's core.Engine (engine.go): one listener, one poller-driven
// accept/read/write loop, a fd→connection map, and a worker pool that
// handlers run on instead of the loop thread itself.
package engine

import (
	"fmt"
	"net"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/metrics"
	"github.com/searchktools/fast-server/core/observability"
	"github.com/searchktools/fast-server/core/optimize"
	"github.com/searchktools/fast-server/core/poller"
	"github.com/searchktools/fast-server/core/pools"
	"github.com/searchktools/fast-server/core/router"
)

// maintenanceInterval is the periodic idle-reap / CLOSE_WAIT probe tick
// (spec.md §4.F "every ~5 s").
const maintenanceInterval = 5 * time.Second

// Engine owns the listener, the readiness poller, every accepted
// connection, and the worker pool handlers execute on.
type Engine struct {
	cfg     *config.Config
	log     *zap.SugaredLogger
	metrics *metrics.Registry
	router  *router.RadixRouter
	monitor *observability.Monitor

	poller     poller.Poller
	listenerFD int

	connMu      sync.RWMutex
	connections map[int]*Connection

	connPool   *pools.ConnectionPool
	bytePool   *pools.BytePool
	workerPool *pools.WorkerPool

	shuttingDown atomic.Bool
	stopped      chan struct{}
}

// New constructs an Engine. reg and rt are shared, already-constructed
// instances — per spec.md §9's design note, this implementation avoids a
// package-level metrics/router singleton in favor of explicit wiring.
func New(cfg *config.Config, log *zap.SugaredLogger, reg *metrics.Registry, rt *router.RadixRouter) *Engine {
	features := optimize.Detected()
	log.Infow("cpu features detected", "avx2", features.AVX2, "neon", features.NEON)
	bufSizes := []int{512, 2048, 8192, 32768}
	if wide := optimize.WideBufferTier(); wide > bufSizes[len(bufSizes)-1] {
		bufSizes = append(bufSizes, wide)
	}

	e := &Engine{
		cfg:         cfg,
		log:         log,
		metrics:     reg,
		router:      rt,
		monitor:     observability.NewMonitor(log),
		connections: make(map[int]*Connection, cfg.MaxConnections),
		bytePool:    pools.NewBytePoolWithSizes(bufSizes),
		stopped:     make(chan struct{}),
	}

	e.connPool = pools.NewConnectionPool(cfg.ConnectionPoolCap, func() any {
		return newConnection()
	})

	numWorkers := cfg.WorkerPoolSize
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	e.workerPool = pools.NewWorkerPool(numWorkers)

	return e
}

// Run creates the listener and blocks, driving the event loop until
// Shutdown is called or an unrecoverable error occurs.
func (e *Engine) Run() error {
	lfd, err := createListener(e.cfg)
	if err != nil {
		return fmt.Errorf("engine: bind failed: %w", err)
	}
	e.listenerFD = lfd

	p, err := poller.NewPoller()
	if err != nil {
		unix.Close(lfd)
		return fmt.Errorf("engine: poller init failed: %w", err)
	}
	e.poller = p

	if err := e.poller.Add(lfd, false); err != nil {
		e.poller.Close()
		unix.Close(lfd)
		return fmt.Errorf("engine: poller add listener failed: %w", err)
	}

	e.log.Infow("engine listening",
		"host", e.cfg.Host, "port", e.cfg.Port,
		"workers", e.cfg.WorkerPoolSize, "max_connections", e.cfg.MaxConnections)

	go e.maintenanceLoop()

	pollTimeoutMillis := 100
	for !e.shuttingDown.Load() {
		events, err := e.poller.Wait(pollTimeoutMillis)
		if err != nil {
			e.log.Errorw("poller wait error", "err", err)
			continue
		}

		if len(events) > e.cfg.PollBatchSize {
			events = events[:e.cfg.PollBatchSize]
		}

		for _, ev := range events {
			if ev.FD == lfd {
				e.acceptConnections(lfd)
				continue
			}
			e.handleEvent(ev)
		}
	}

	e.teardown()
	close(e.stopped)
	return nil
}

// Shutdown sets the stop flag observed by the loop on its next tick
// (spec.md §4.F "Shutdown").
func (e *Engine) Shutdown() {
	if e.shuttingDown.CompareAndSwap(false, true) {
		e.log.Info("shutdown requested")
	}
	<-e.stopped
}

// teardown closes every connection, the worker pool, the readiness
// interface and the listener. Closing the worker pool wakes its workers so
// they drain their queues; teardown does not wait for them to exit.
func (e *Engine) teardown() {
	e.connMu.Lock()
	fds := make([]int, 0, len(e.connections))
	for fd := range e.connections {
		fds = append(fds, fd)
	}
	e.connMu.Unlock()

	for _, fd := range fds {
		e.closeConnection(fd)
	}

	e.workerPool.Close()
	e.poller.Close()
	unix.Close(e.listenerFD)
	e.log.Info("engine stopped")
}

// GET/POST/PUT/DELETE/PATCH/HEAD/OPTIONS register routes, mirroring the
// teacher's Engine route-registration surface.
func (e *Engine) GET(path string, h router.HandlerFunc)     { e.router.Add("GET", path, h) }
func (e *Engine) POST(path string, h router.HandlerFunc)    { e.router.Add("POST", path, h) }
func (e *Engine) PUT(path string, h router.HandlerFunc)     { e.router.Add("PUT", path, h) }
func (e *Engine) DELETE(path string, h router.HandlerFunc)  { e.router.Add("DELETE", path, h) }
func (e *Engine) PATCH(path string, h router.HandlerFunc)   { e.router.Add("PATCH", path, h) }
func (e *Engine) HEAD(path string, h router.HandlerFunc)    { e.router.Add("HEAD", path, h) }
func (e *Engine) OPTIONS(path string, h router.HandlerFunc) { e.router.Add("OPTIONS", path, h) }

// Routes reports every route registered on the engine's router, in
// registration order, so handlers can describe the live endpoint set
// instead of carrying a hand-maintained copy of it.
func (e *Engine) Routes() []router.RouteInfo { return e.router.Routes() }

// PoolStats reports the state of the engine's connection and worker pools,
// adapted from the teacher's Engine.GetPoolStats (pool_stats.go) and
// exposed supplementally at GET /debug/pools (not part of the required
// handler table).
type PoolStats struct {
	Connections struct {
		Gets, Puts uint64
		HitRate    float64
		Reserved   int
	}
	Workers  pools.WorkerPoolStats
	Bytes    pools.BytePoolStats
	Requests pools.SmartPoolStats
	GC       pools.GCStats
}

func (e *Engine) PoolStats() PoolStats {
	var s PoolStats
	s.Connections.Gets, s.Connections.Puts, s.Connections.HitRate = e.connPool.Stats()
	s.Connections.Reserved = e.connPool.Len()
	s.Workers = e.workerPool.Stats()
	s.Bytes = e.bytePool.Stats()
	s.Requests = http.RequestPoolStats()
	s.GC = pools.GetGCStats()
	return s
}

// acceptConnections drains the accept backlog on lfd non-blockingly.
func (e *Engine) acceptConnections(lfd int) {
	for {
		nfd, _, err := unix.Accept(lfd)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				return
			}
			e.log.Warnw("accept error", "err", err)
			return
		}

		e.connMu.RLock()
		atCapacity := len(e.connections) >= e.cfg.MaxConnections
		e.connMu.RUnlock()
		if atCapacity {
			unix.Close(nfd)
			continue
		}

		if err := unix.SetNonblock(nfd, true); err != nil {
			unix.Close(nfd)
			continue
		}
		unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		unix.SetsockoptInt(nfd, unix.SOL_SOCKET, unix.SO_KEEPALIVE, 1)

		conn := e.connPool.Get().(*Connection)
		conn.SetFD(nfd)
		conn.readBuf = e.bytePool.Get(e.cfg.MaxReadBufferBytes)
		conn.readLen = 0

		conn.maxWriteBufferBytes = e.cfg.MaxWriteBufferBytes

		if err := e.poller.Add(nfd, false); err != nil {
			e.connPool.Put(conn)
			unix.Close(nfd)
			continue
		}

		e.connMu.Lock()
		e.connections[nfd] = conn
		e.connMu.Unlock()

		e.metrics.IncConnections()
	}
}

// handleEvent dispatches one readiness notification to the owning
// connection's read and/or write path.
func (e *Engine) handleEvent(ev poller.Event) {
	e.connMu.RLock()
	conn, ok := e.connections[ev.FD]
	e.connMu.RUnlock()
	if !ok {
		return
	}

	conn.touch()

	if ev.Kind&(poller.HangUp|poller.ErrorEvent) != 0 {
		e.closeConnection(ev.FD)
		return
	}
	if ev.Kind&poller.Readable != 0 {
		e.handleReadable(conn)
	}
	if ev.Kind&poller.Writable != 0 {
		e.handleWritable(conn)
	}
}

// handleReadable reads available bytes and frames as many complete
// requests as the buffer now holds, dispatching each to the worker pool in
// arrival order (spec.md §4.C, §5).
func (e *Engine) handleReadable(conn *Connection) {
	if conn.readLen >= len(conn.readBuf) {
		e.failConnection(conn, 400, "request exceeds max read buffer")
		return
	}

	n, err := unix.Read(conn.fd, conn.readBuf[conn.readLen:])
	if err != nil {
		if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
			return
		}
		e.closeConnection(conn.fd)
		return
	}
	if n == 0 {
		e.closeConnection(conn.fd)
		return
	}

	conn.readLen += n
	e.metrics.IncBytesReceived(n)
	e.metrics.ObserveReadBuf(conn.readLen)

	// Frame every complete request now sitting in the read buffer into the
	// per-connection pending FIFO in arrival order, then drain that FIFO
	// into the worker pool — two separate passes so the queue genuinely
	// holds the backlog rather than being a submission-order counter.
	for {
		req, consumed, perr := http.ParseRequest(conn.readBuf[:conn.readLen])
		if perr == http.ErrNeedMoreData {
			break
		}
		if perr == http.ErrMalformedRequest {
			e.failConnection(conn, 400, "malformed request")
			return
		}

		// Method, Path and Proto are views into readBuf, which the copy
		// below shifts; give the request its own copies first.
		req.Method = strings.Clone(req.Method)
		req.Path = strings.Clone(req.Path)
		req.Proto = strings.Clone(req.Proto)

		remaining := conn.readLen - consumed
		copy(conn.readBuf, conn.readBuf[consumed:conn.readLen])
		conn.readLen = remaining

		conn.pending.Add(req)

		if remaining == 0 {
			break
		}
	}

	for conn.pending.Length() > 0 {
		req := conn.pending.Remove().(*http.Request)
		e.workerPool.Submit(func() {
			e.handleRequest(conn, req)
		})
	}
}

// handleRequest runs on a worker goroutine: finds the route, invokes the
// handler against a fresh Context, and appends the rendered response to
// the connection's write buffer (spec.md §4.G, §4.H).
func (e *Engine) handleRequest(conn *Connection, req *http.Request) {
	defer func() {
		if r := recover(); r != nil {
			e.log.Errorw("handler panic recovered", "err", r)
			e.metrics.IncFail()
		}
	}()

	start := time.Now()
	e.metrics.IncRequests()

	h, params := e.router.Find(req.Method, req.Path)

	ctx := http.NewContext(req)
	for k, v := range params {
		ctx.SetParam(k, v)
	}

	if h == nil {
		ctx.Bytes(404, "application/json", http.NotFoundBody)
	} else {
		h(ctx)
	}

	// spec.md §7: a handled-but-failed request (validation error, 404,
	// handler exception turned into a 5xx body) counts as failed, not
	// successful, even though a route matched.
	if ctx.StatusCode() >= 400 {
		e.metrics.IncFail()
	} else {
		e.metrics.IncSuccess()
	}

	resp := ctx.Response()
	dur := time.Since(start)
	e.metrics.ObserveDuration(dur.Seconds())
	e.metrics.IncBytesSent(len(resp))
	e.monitor.Record(req.Path, dur, h == nil)

	keepAlive := req.KeepAlive()
	http.ReleaseRequest(req)

	buf, exceeded := conn.appendResponse(resp)
	if exceeded {
		e.closeConnection(conn.fd)
		return
	}
	if buf == nil {
		return // connection already closed
	}
	if !keepAlive {
		conn.closeAfterFlush = true
	}
	e.trySend(conn)
}

// failConnection sends a fixed error body and closes the connection —
// used for framing errors and buffer-exceeded conditions where there is no
// well-formed request to route. Counted in metrics as one received and
// one failed request (spec.md §7: malformed-request and buffer-exceeded
// both "count as failed"), since no handler runs to do that counting.
func (e *Engine) failConnection(conn *Connection, code int, reason string) {
	e.metrics.IncRequests()
	e.metrics.IncFail()

	body := http.BuildJSONResponse(nil, code, http.BadRequestBody)
	_, exceeded := conn.appendResponse(body)
	conn.closeAfterFlush = true
	e.log.Debugw("connection failed", "fd", conn.fd, "reason", reason)
	if exceeded {
		e.closeConnection(conn.fd)
		return
	}
	e.trySend(conn)
}

// handleWritable retries a send once the fd reports write-ready.
func (e *Engine) handleWritable(conn *Connection) {
	e.trySend(conn)
}

// trySend performs one opportunistic non-blocking write attempt and
// toggles write-readiness interest on the poller to match whether bytes
// remain (spec.md §4.D "Response enqueue", §4.F write-readiness toggle).
func (e *Engine) trySend(conn *Connection) {
	wouldBlock, closed, err := conn.flush()
	if closed {
		return
	}
	if err != nil {
		e.closeConnection(conn.fd)
		return
	}

	drained := !wouldBlock && connState(conn.state.Load()) != StateReadingAndWriting

	if e.cfg.EnableWriteReadinessToggle {
		switch {
		case !drained && !conn.awaitingWritable:
			conn.awaitingWritable = true
			e.poller.ModifyWritable(conn.fd, true)
		case drained && conn.awaitingWritable:
			conn.awaitingWritable = false
			e.poller.ModifyWritable(conn.fd, false)
		}
	}

	if drained && conn.closeAfterFlush {
		e.closeConnection(conn.fd)
	}
}

// closeConnection tears down fd: removes it from the poller, releases its
// pooled buffers, closes the syscall fd, and returns the Connection object
// to the connection pool.
func (e *Engine) closeConnection(fd int) {
	e.connMu.Lock()
	conn, ok := e.connections[fd]
	if ok {
		delete(e.connections, fd)
	}
	e.connMu.Unlock()
	if !ok {
		return
	}

	conn.markClosed()
	e.poller.Remove(fd)
	unix.Close(fd)

	if conn.readBuf != nil {
		e.bytePool.Put(conn.readBuf)
		conn.readBuf = nil
	}

	conn.Reset()
	e.connPool.Put(conn)
	e.metrics.DecConnections()
}

// maintenanceLoop runs the idle-reap and CLOSE_WAIT health probe on the
// ~5s tick specified in spec.md §4.F, independent of the poller's own
// 100ms wait timeout.
func (e *Engine) maintenanceLoop() {
	ticker := time.NewTicker(maintenanceInterval)
	defer ticker.Stop()

	idleTimeout := time.Duration(e.cfg.IdleTimeoutSeconds) * time.Second

	for {
		select {
		case <-e.stopped:
			return
		case <-ticker.C:
			if e.shuttingDown.Load() {
				return
			}
			e.reapIdleAndHalfClosed(idleTimeout)
			http.OptimizeRequestPool()
		}
	}
}

func (e *Engine) reapIdleAndHalfClosed(idleTimeout time.Duration) {
	e.connMu.RLock()
	candidates := make([]int, 0, len(e.connections))
	for fd, conn := range e.connections {
		if conn.idleSince() > idleTimeout || peerClosed(fd) {
			candidates = append(candidates, fd)
		}
	}
	e.connMu.RUnlock()

	for _, fd := range candidates {
		e.closeConnection(fd)
	}
}

// peerClosed performs the peek-no-block health probe spec.md §4.F
// describes: a zero-length MSG_PEEK recv means the peer sent FIN and the
// connection is sitting in CLOSE_WAIT; ECONNRESET/EPIPE also mean closed.
func peerClosed(fd int) bool {
	var buf [1]byte
	n, _, err := unix.Recvfrom(fd, buf[:], unix.MSG_PEEK|unix.MSG_DONTWAIT)
	if err != nil {
		return err == unix.ECONNRESET || err == unix.EPIPE
	}
	return n == 0
}

// createListener builds the SO_REUSEADDR+SO_REUSEPORT listening socket
// manually rather than through net.Listen, so that AcceptBacklog (spec.md
// §3) actually controls the listen() backlog instead of the standard
// library's fixed SOMAXCONN default.
func createListener(cfg *config.Config) (int, error) {
	ip := net.ParseIP(cfg.Host)
	if ip == nil {
		return -1, fmt.Errorf("invalid host %q", cfg.Host)
	}
	ip4 := ip.To4()
	if ip4 == nil {
		return -1, fmt.Errorf("only IPv4 listen addresses are supported, got %q", cfg.Host)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return -1, err
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, err
	}
	// Best-effort: not every kernel build exposes SO_REUSEPORT under this
	// constant; a failure here does not prevent binding.
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1)

	var addr unix.SockaddrInet4
	copy(addr.Addr[:], ip4)
	addr.Port = cfg.Port

	if err := unix.Bind(fd, &addr); err != nil {
		unix.Close(fd)
		return -1, err
	}

	backlog := cfg.AcceptBacklog
	if backlog <= 0 {
		backlog = 1024
	}
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, err
	}

	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, err
	}

	return fd, nil
}
