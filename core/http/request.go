package http

import "github.com/searchktools/fast-server/core/pools"

// Request is a zero-allocation HTTP request structure. Method, Path and
// Proto are unsafe string views into the connection's read buffer and are
// only valid until the next call that mutates that buffer — callers that
// need the value past that point must copy it.
type Request struct {
	Method string
	Path   string
	Proto  string

	// Predefined common header fields (zero-allocation)
	ContentType   string
	ContentLength string
	UserAgent     string
	Accept        string
	Host          string
	Connection    string

	// ContentLengthN is the parsed value of ContentLength, or 0 if absent.
	ContentLengthN int

	// Extra headers (allocated only when needed)
	ExtraHeaders map[string]string

	// Query parameters
	Query map[string]string

	// Request body
	Body []byte
}

var requestPool = pools.NewSmartPool(pools.SmartPoolConfig{
	New: func() any {
		return &Request{Body: make([]byte, 0, 1024)}
	},
	Reset: func(obj any) {
		obj.(*Request).reset()
	},
	WarmupSize:    256,
	TargetHitRate: 0.95,
})

// AcquireRequest returns a pooled Request ready for parsing into.
func AcquireRequest() *Request {
	return requestPool.Get().(*Request)
}

// ReleaseRequest returns req to the pool. Callers must not retain req or
// any string/slice derived from its fields after this call.
func ReleaseRequest(req *Request) {
	requestPool.Put(req)
}

// OptimizeRequestPool adjusts the pool's warmup level against its observed
// hit rate; called from the engine's maintenance tick (core/engine) rather
// than on its own timer, so it rides the same cadence as idle reaping.
func OptimizeRequestPool() {
	requestPool.Optimize()
}

// RequestPoolStats reports the pooled-Request allocator's statistics,
// surfaced at GET /debug/pools.
func RequestPoolStats() pools.SmartPoolStats {
	return requestPool.Stats()
}

func (r *Request) reset() {
	r.Method = ""
	r.Path = ""
	r.Proto = ""
	r.ContentType = ""
	r.ContentLength = ""
	r.UserAgent = ""
	r.Accept = ""
	r.Host = ""
	r.Connection = ""
	r.ContentLengthN = 0

	if r.ExtraHeaders != nil {
		for k := range r.ExtraHeaders {
			delete(r.ExtraHeaders, k)
		}
	}
	if r.Query != nil {
		for k := range r.Query {
			delete(r.Query, k)
		}
	}
	r.Body = r.Body[:0]
}

// SetHeader sets a header, prioritizing the predefined fields to avoid a
// map allocation for the common ones.
func (r *Request) SetHeader(key, value string) {
	switch key {
	case "Content-Type":
		r.ContentType = value
	case "Content-Length":
		r.ContentLength = value
	case "User-Agent":
		r.UserAgent = value
	case "Accept":
		r.Accept = value
	case "Host":
		r.Host = value
	case "Connection":
		r.Connection = value
	default:
		if r.ExtraHeaders == nil {
			r.ExtraHeaders = make(map[string]string)
		}
		r.ExtraHeaders[key] = value
	}
}

// Header returns a request header value, checking the predefined fields
// first.
func (r *Request) Header(key string) string {
	switch key {
	case "Content-Type":
		return r.ContentType
	case "Content-Length":
		return r.ContentLength
	case "User-Agent":
		return r.UserAgent
	case "Accept":
		return r.Accept
	case "Host":
		return r.Host
	case "Connection":
		return r.Connection
	default:
		if r.ExtraHeaders != nil {
			return r.ExtraHeaders[key]
		}
		return ""
	}
}

// KeepAlive reports whether the connection should stay open after this
// request per HTTP/1.1 semantics (default keep-alive, opt-out via
// Connection: close; HTTP/1.0 defaults to close unless asked otherwise).
func (r *Request) KeepAlive() bool {
	if r.Connection == "close" {
		return false
	}
	if r.Proto == "HTTP/1.0" {
		return r.Connection == "keep-alive"
	}
	return true
}
