// Package handlers implements the dispatch table from spec.md §4.H: every
// route this server answers, wired to core/process.Processor and
// core/metrics.Registry. Byte counts and durations around each handler are
// recorded by the engine that invokes it (core/engine.handleRequest), not
// here — a handler only renders its response into the Context.
package handlers

import (
	"errors"
	"strconv"
	"strings"

	"github.com/searchktools/fast-server/core/engine"
	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/metrics"
	"github.com/searchktools/fast-server/core/process"
)

var errProcessorPanic = errors.New("processor panicked")

// Register wires every handler from spec.md §4.H's table onto e, sharing
// one Processor and one Registry across all of them.
func Register(e *engine.Engine, proc *process.Processor, reg *metrics.Registry, compatStatus200 bool) {
	e.GET("/health", handleHealth)
	e.GET("/metrics", handleMetrics(reg))
	e.GET("/numbers/sum", handleSum(proc))
	e.GET("/numbers/sum/:id", handleSumByClient(proc))
	e.GET("/numbers/sum-all", handleSumAll(proc))
	e.POST("/process", handleProcess(proc, compatStatus200))

	// GET /'s handler reads Routes() at request time, so it reflects every
	// route registered here regardless of registration order.
	e.GET("/", handleIndex(e))

	// Supplemental introspection, additive per SPEC_FULL.md — not part of
	// the required handler table.
	e.GET("/debug/pools", handlePoolStats(e))
}

func handleHealth(ctx *http.Context) {
	ctx.JSON(200, map[string]any{"status": "healthy", "success": true})
}

func handleMetrics(reg *metrics.Registry) func(*http.Context) {
	return func(ctx *http.Context) {
		ctx.Bytes(200, "text/plain; version=0.0.4", reg.Render())
	}
}

// handleIndex describes the server's own endpoint set by reading it back
// from the router (core/router.RadixRouter.Routes) rather than carrying a
// second, hand-maintained copy of the handler table. The supplemental
// /debug/pools route is excluded: it isn't part of the required table.
func handleIndex(e *engine.Engine) func(*http.Context) {
	return func(ctx *http.Context) {
		endpoints := make([]map[string]string, 0, len(e.Routes()))
		for _, r := range e.Routes() {
			if strings.HasPrefix(r.Path, "/debug") {
				continue
			}
			endpoints = append(endpoints, map[string]string{"method": r.Method, "path": r.Path})
		}
		ctx.JSON(200, map[string]any{
			"service":   "fast-server",
			"success":   true,
			"endpoints": endpoints,
		})
	}
}

func handleSum(proc *process.Processor) func(*http.Context) {
	return func(ctx *http.Context) {
		ctx.JSON(200, map[string]any{
			"total_numbers_sum": proc.TotalSum(),
			"success":           true,
		})
	}
}

func handleSumByClient(proc *process.Processor) func(*http.Context) {
	return func(ctx *http.Context) {
		idStr := ctx.Param("id")
		id, err := strconv.Atoi(idStr)
		if err != nil {
			ctx.Error(400, "invalid client id")
			return
		}
		ctx.JSON(200, map[string]any{
			"client_id":   strconv.Itoa(id),
			"numbers_sum": proc.ClientSum(id),
			"success":     true,
		})
	}
}

func handleSumAll(proc *process.Processor) func(*http.Context) {
	return func(ctx *http.Context) {
		sums := proc.AllClientSums()
		clients := make(map[string]int64, len(sums))
		var total int64
		for k, v := range sums {
			clients[k] = v
			total += v
		}
		ctx.JSON(200, map[string]any{
			"success": true,
			"clients": clients,
			"total":   total,
		})
	}
}

func handleProcess(proc *process.Processor, compatStatus200 bool) func(*http.Context) {
	return func(ctx *http.Context) {
		body := ctx.Body()
		if len(strings.TrimSpace(string(body))) == 0 {
			ctx.Error(400, "request body must not be empty")
			return
		}

		out, ok, err := safeProcess(proc, body)
		if err != nil {
			ctx.Error(500, "internal error processing request")
			return
		}
		if !ok {
			code := 400
			if compatStatus200 {
				code = 200
			}
			ctx.Bytes(code, "application/json", out)
			return
		}
		ctx.Bytes(200, "application/json", out)
	}
}

// safeProcess guards proc.Process against a panic so a processor defect
// answers 500 (spec.md §4.H "500 on processor exception") instead of
// crashing the worker goroutine.
func safeProcess(proc *process.Processor, body []byte) (out []byte, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errProcessorPanic
		}
	}()
	out, ok = proc.Process(body)
	return out, ok, nil
}

func handlePoolStats(e *engine.Engine) func(*http.Context) {
	return func(ctx *http.Context) {
		ctx.JSON(200, e.PoolStats())
	}
}
