package handlers

import (
	"strings"
	"testing"

	"github.com/searchktools/fast-server/config"
	"github.com/searchktools/fast-server/core/engine"
	"github.com/searchktools/fast-server/core/http"
	"github.com/searchktools/fast-server/core/logging"
	"github.com/searchktools/fast-server/core/metrics"
	"github.com/searchktools/fast-server/core/process"
	"github.com/searchktools/fast-server/core/router"
)

func newTestEngine(t *testing.T) (*engine.Engine, *process.Processor, *metrics.Registry) {
	t.Helper()

	log, err := logging.New(logging.Options{Level: "error", Output: "stdout"})
	if err != nil {
		t.Fatalf("logging.New: %v", err)
	}

	cfg := config.Default()
	reg := metrics.New()
	proc := process.New()
	rt := router.NewRadixRouter()
	e := engine.New(cfg, log, reg, rt)

	return e, proc, reg
}

func TestHandleHealth(t *testing.T) {
	ctx := http.NewContext(&http.Request{Method: "GET", Path: "/health"})
	handleHealth(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, "200 OK") || !strings.Contains(resp, `"status":"healthy"`) {
		t.Errorf("unexpected health response: %q", resp)
	}
}

func TestHandleIndex(t *testing.T) {
	e, proc, reg := newTestEngine(t)
	Register(e, proc, reg, false)

	ctx := http.NewContext(&http.Request{Method: "GET", Path: "/"})
	handleIndex(e)(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, `"service":"fast-server"`) {
		t.Errorf("unexpected index response: %q", resp)
	}
	if !strings.Contains(resp, `/numbers/sum-all`) {
		t.Errorf("expected the registered route table to be reflected, got %q", resp)
	}
	if strings.Contains(resp, `/debug/pools`) {
		t.Errorf("expected the supplemental /debug/pools route to be excluded, got %q", resp)
	}
}

func TestHandleMetrics(t *testing.T) {
	reg := metrics.New()
	reg.IncRequests()

	ctx := http.NewContext(&http.Request{Method: "GET", Path: "/metrics"})
	handleMetrics(reg)(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, "text/plain") {
		t.Errorf("expected text/plain content type, got %q", resp)
	}
	if !strings.Contains(resp, "httpserver_requests_total 1") {
		t.Errorf("expected requests_total to reflect the recorded request, got %q", resp)
	}
}

func TestHandleSumAndSumByClient(t *testing.T) {
	proc := process.New()
	proc.Process([]byte(`{"id":7,"name":"a","phone":"1","number":5}`))

	sumCtx := http.NewContext(&http.Request{Method: "GET", Path: "/numbers/sum"})
	handleSum(proc)(sumCtx)
	if !strings.Contains(string(sumCtx.Response()), `"total_numbers_sum":5`) {
		t.Errorf("unexpected sum response: %q", sumCtx.Response())
	}

	byClientCtx := http.NewContext(&http.Request{Method: "GET", Path: "/numbers/sum/7"})
	byClientCtx.SetParam("id", "7")
	handleSumByClient(proc)(byClientCtx)
	if !strings.Contains(string(byClientCtx.Response()), `"numbers_sum":5`) {
		t.Errorf("unexpected per-client sum response: %q", byClientCtx.Response())
	}

	invalidCtx := http.NewContext(&http.Request{Method: "GET", Path: "/numbers/sum/x"})
	invalidCtx.SetParam("id", "x")
	handleSumByClient(proc)(invalidCtx)
	if !strings.Contains(string(invalidCtx.Response()), "400 Bad Request") {
		t.Errorf("expected 400 for non-numeric client id, got %q", invalidCtx.Response())
	}
}

func TestHandleSumAll(t *testing.T) {
	proc := process.New()
	proc.Process([]byte(`{"id":1,"name":"a","phone":"1","number":3}`))
	proc.Process([]byte(`{"id":2,"name":"b","phone":"2","number":4}`))

	ctx := http.NewContext(&http.Request{Method: "GET", Path: "/numbers/sum-all"})
	handleSumAll(proc)(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, `"total":7`) {
		t.Errorf("expected total 7, got %q", resp)
	}
}

func TestHandleProcessEmptyBody(t *testing.T) {
	proc := process.New()
	ctx := http.NewContext(&http.Request{Method: "POST", Path: "/process", Body: []byte("   ")})
	handleProcess(proc, false)(ctx)

	if !strings.Contains(string(ctx.Response()), "400 Bad Request") {
		t.Errorf("expected 400 for empty body, got %q", ctx.Response())
	}
}

func TestHandleProcessValidationFailureDefaultsTo400(t *testing.T) {
	proc := process.New()
	ctx := http.NewContext(&http.Request{Method: "POST", Path: "/process", Body: []byte(`{}`)})
	handleProcess(proc, false)(ctx)

	if !strings.Contains(string(ctx.Response()), "400 Bad Request") {
		t.Errorf("expected 400 for invalid payload, got %q", ctx.Response())
	}
}

func TestHandleProcessValidationFailureCompat200(t *testing.T) {
	proc := process.New()
	ctx := http.NewContext(&http.Request{Method: "POST", Path: "/process", Body: []byte(`{}`)})
	handleProcess(proc, true)(ctx)

	if !strings.Contains(string(ctx.Response()), "200 OK") {
		t.Errorf("expected 200 under the compat flag, got %q", ctx.Response())
	}
}

func TestHandleProcessSuccess(t *testing.T) {
	proc := process.New()
	body := []byte(`{"id":1,"name":"a","phone":"1","number":9}`)
	ctx := http.NewContext(&http.Request{Method: "POST", Path: "/process", Body: body})
	handleProcess(proc, false)(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, "200 OK") || !strings.Contains(resp, `"success":true`) {
		t.Errorf("unexpected success response: %q", resp)
	}
}

func TestSafeProcessRecoversPanic(t *testing.T) {
	proc := process.New()
	// A nil *Processor panics inside Process; safeProcess must turn that
	// panic into errProcessorPanic instead of crashing the worker goroutine.
	out, ok, err := safeProcess(nil, []byte(`{"id":1,"name":"a","phone":"1","number":1}`))
	if err != errProcessorPanic {
		t.Errorf("expected errProcessorPanic, got %v (out=%v ok=%v)", err, out, ok)
	}

	_, _, procErr := safeProcess(proc, []byte(`{"id":1,"name":"a","phone":"1","number":1}`))
	if procErr != nil {
		t.Errorf("expected no error for a well-formed call, got %v", procErr)
	}
}

func TestHandlePoolStats(t *testing.T) {
	e, _, _ := newTestEngine(t)

	ctx := http.NewContext(&http.Request{Method: "GET", Path: "/debug/pools"})
	handlePoolStats(e)(ctx)

	resp := string(ctx.Response())
	if !strings.Contains(resp, "200 OK") {
		t.Errorf("expected 200, got %q", resp)
	}
}

func TestRegisterDoesNotPanic(t *testing.T) {
	e, proc, reg := newTestEngine(t)
	Register(e, proc, reg, false)
}
