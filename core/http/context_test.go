package http

import (
	"strings"
	"testing"
)

func TestContextBasic(t *testing.T) {
	req := &Request{Method: "GET", Path: "/test"}
	ctx := NewContext(req)

	if ctx.Method() != "GET" {
		t.Errorf("expected method GET, got %s", ctx.Method())
	}
	if ctx.Path() != "/test" {
		t.Errorf("expected path /test, got %s", ctx.Path())
	}
}

func TestContextParams(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/users/123"})

	ctx.SetParam("id", "123")
	ctx.SetParam("name", "alice")

	if ctx.Param("id") != "123" {
		t.Errorf("expected id=123, got %s", ctx.Param("id"))
	}
	if ctx.Param("name") != "alice" {
		t.Errorf("expected name=alice, got %s", ctx.Param("name"))
	}
	if ctx.Param("notexist") != "" {
		t.Error("expected empty string for a missing param")
	}
}

func TestContextParamOverflow(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/"})

	for i := 0; i < 6; i++ {
		ctx.SetParam(string(rune('a'+i)), string(rune('0'+i)))
	}

	for i := 0; i < 6; i++ {
		key := string(rune('a' + i))
		want := string(rune('0' + i))
		if got := ctx.Param(key); got != want {
			t.Errorf("param %s: expected %s, got %s", key, want, got)
		}
	}
}

func TestContextHeadersAndQuery(t *testing.T) {
	req := &Request{
		Method:      "POST",
		Path:        "/api",
		ContentType: "application/json",
		UserAgent:   "TestAgent/1.0",
		Query:       map[string]string{"q": "go"},
	}
	ctx := NewContext(req)

	if ctx.Header("Content-Type") != "application/json" {
		t.Errorf("expected Content-Type header, got %s", ctx.Header("Content-Type"))
	}
	if ctx.Header("User-Agent") != "TestAgent/1.0" {
		t.Errorf("expected User-Agent header, got %s", ctx.Header("User-Agent"))
	}
	if ctx.Query("q") != "go" {
		t.Errorf("expected query q=go, got %s", ctx.Query("q"))
	}
}

func TestContextString(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/"})
	ctx.String(200, "hello")

	resp := string(ctx.Response())
	if !strings.HasPrefix(resp, "HTTP/1.1 200 OK\r\n") {
		t.Errorf("unexpected response head: %q", resp)
	}
	if !strings.HasSuffix(resp, "hello") {
		t.Errorf("expected body hello, got %q", resp)
	}
}

func TestContextJSON(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/"})
	ctx.JSON(200, map[string]any{"message": "hi"})

	resp := string(ctx.Response())
	if !strings.Contains(resp, "Content-Type: application/json") {
		t.Errorf("expected json content type, got %q", resp)
	}
	if !strings.Contains(resp, `"message":"hi"`) {
		t.Errorf("expected marshaled body, got %q", resp)
	}
}

func TestContextError(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/"})
	ctx.Error(400, "bad input")

	resp := string(ctx.Response())
	if !strings.Contains(resp, "400 Bad Request") {
		t.Errorf("expected 400 status line, got %q", resp)
	}
	if !strings.Contains(resp, `"error":"bad input"`) || !strings.Contains(resp, `"success":false`) {
		t.Errorf("expected error body shape, got %q", resp)
	}
}

func TestContextStatusCode(t *testing.T) {
	ctx := NewContext(&Request{Method: "GET", Path: "/"})

	ctx.JSON(200, map[string]any{"ok": true})
	if ctx.StatusCode() != 200 {
		t.Errorf("expected status 200 after JSON, got %d", ctx.StatusCode())
	}

	ctx.Error(400, "bad input")
	if ctx.StatusCode() != 400 {
		t.Errorf("expected status 400 after Error, got %d", ctx.StatusCode())
	}

	ctx.Bytes(204, "text/plain", nil)
	if ctx.StatusCode() != 204 {
		t.Errorf("expected status 204 after Bytes, got %d", ctx.StatusCode())
	}
}

func TestContextBind(t *testing.T) {
	ctx := NewContext(&Request{Method: "POST", Path: "/", Body: []byte(`{"id":5}`)})

	var v struct {
		ID int `json:"id"`
	}
	if err := ctx.Bind(&v); err != nil {
		t.Fatalf("unexpected bind error: %v", err)
	}
	if v.ID != 5 {
		t.Errorf("expected id 5, got %d", v.ID)
	}
}
