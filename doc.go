/*
Package fastserver is a non-blocking, event-loop HTTP/1.1 server.

One listening socket, one epoll (Linux) or kqueue (BSD/macOS) readiness
loop, and a worker pool that runs route handlers off the loop goroutine
so a slow handler never stalls I/O for other connections.

Quick start:

	package main

	import (
	    "github.com/searchktools/fast-server/app"
	    "github.com/searchktools/fast-server/config"
	)

	func main() {
	    cfg, err := config.New()
	    if err != nil {
	        panic(err)
	    }
	    a, err := app.New(cfg)
	    if err != nil {
	        panic(err)
	    }
	    if err := a.Run(); err != nil {
	        panic(err)
	    }
	}

Modules

  - app: wires config, logging, metrics, the processor, the router and
    the engine together, and owns graceful shutdown.
  - config: command-line flag and YAML configuration with validation.
  - core/engine: the event loop — listener, poller, connections, worker
    pool dispatch.
  - core/http: request parsing (Content-Length framing), Context,
    response assembly.
  - core/router: radix-tree route matching with path parameters.
  - core/process: the numeric aggregation handlers exercise.
  - core/pools: connection, byte and worker pools.
  - core/poller: epoll/kqueue readiness abstraction.
  - core/metrics: Prometheus text exposition.
  - core/observability: additive handler latency/error-rate monitoring.
  - core/logging: zap-based structured logging.

See https://github.com/searchktools/fast-server
*/
package fastserver
