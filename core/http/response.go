package http

// Response synthesis per spec.md §4.C: given (status, content-type, body),
// produce a status line, the required header set, a blank line, then the
// body. Keeps the teacher's manual appendInt/status-line-assembly style
// from context_fd.go but adds the exact keep-alive and CORS headers the
// teacher's String/JSON/Bytes methods omitted.

// reasonPhrase maps a status code to its HTTP/1.1 reason string. Only the
// codes this server ever emits are listed (spec.md §4.C).
func reasonPhrase(code int) string {
	switch code {
	case 200:
		return "OK"
	case 400:
		return "Bad Request"
	case 404:
		return "Not Found"
	case 500:
		return "Internal Server Error"
	default:
		return "Unknown"
	}
}

// BuildResponse appends a full HTTP/1.1 response to dst and returns the
// extended slice. dst may be nil or reused across calls by truncating to
// dst[:0] first.
func BuildResponse(dst []byte, code int, contentType string, body []byte) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = appendInt(dst, code)
	dst = append(dst, ' ')
	dst = append(dst, reasonPhrase(code)...)
	dst = append(dst, "\r\n"...)

	dst = append(dst, "Content-Type: "...)
	dst = append(dst, contentType...)
	dst = append(dst, "\r\n"...)

	dst = append(dst, "Content-Length: "...)
	dst = appendInt(dst, len(body))
	dst = append(dst, "\r\n"...)

	dst = append(dst, "Connection: keep-alive\r\n"...)
	dst = append(dst, "Keep-Alive: timeout=30, max=1000\r\n"...)
	dst = append(dst, "Access-Control-Allow-Origin: *\r\n"...)
	dst = append(dst, "Access-Control-Allow-Methods: GET, POST, OPTIONS\r\n"...)
	dst = append(dst, "Access-Control-Allow-Headers: Content-Type\r\n"...)
	dst = append(dst, "\r\n"...)

	dst = append(dst, body...)
	return dst
}

// BuildJSONResponse wraps an already-encoded JSON body via BuildResponse
// with Content-Type: application/json.
func BuildJSONResponse(dst []byte, code int, body []byte) []byte {
	return BuildResponse(dst, code, "application/json", body)
}

// BadRequestBody is the fixed JSON body sent for a framing error
// (spec.md §4.C "On a malformed request... send a 400 Bad Request JSON body").
var BadRequestBody = []byte(`{"error":"Bad Request","success":false}`)

// NotFoundBody is the fixed JSON body for unmatched routes (spec.md §4.H).
var NotFoundBody = []byte(`{"error":"Endpoint not found","success":false}`)

// appendInt appends the decimal digits of i to b without going through
// strconv/fmt, matching the teacher's zero-allocation response assembly.
func appendInt(b []byte, i int) []byte {
	if i == 0 {
		return append(b, '0')
	}
	if i < 0 {
		b = append(b, '-')
		i = -i
	}
	start := len(b)
	for i > 0 {
		b = append(b, byte('0'+i%10))
		i /= 10
	}
	// digits were appended least-significant first; reverse them in place
	for l, r := start, len(b)-1; l < r; l, r = l+1, r-1 {
		b[l], b[r] = b[r], b[l]
	}
	return b
}
