package http

import (
	"bytes"
	"errors"
	"strconv"
	"unsafe"
)

// unsafeString converts a byte slice to a string without allocation.
// WARNING: the returned string shares memory with the byte slice; it is
// only valid as long as the backing buffer is not reused.
func unsafeString(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return *(*string)(unsafe.Pointer(&b))
}

var (
	// ErrNeedMoreData means the buffer does not yet contain a complete
	// request; the caller should wait for more bytes and retry.
	ErrNeedMoreData = errors.New("http: need more data")

	// ErrMalformedRequest is returned for a request line missing its two
	// spaces, a header line missing ':', or a Content-Length that is not a
	// non-negative decimal integer.
	ErrMalformedRequest = errors.New("http: malformed request")
)

// ParseRequest is a zero-allocation HTTP/1.1 framer. It implements the
// spec's framing algorithm: locate the header terminator, split the
// request line, parse headers (matching Content-Length case-insensitively),
// and require the full body to be present before returning a request.
//
// On success it returns the parsed request and the number of bytes from
// data that the request occupies (header_end + 4 + content_length); the
// caller advances its read cursor by that amount. On ErrNeedMoreData or
// ErrMalformedRequest the returned request is nil and consumed is 0.
func ParseRequest(data []byte) (req *Request, consumed int, err error) {
	headerEnd := bytes.Index(data, []byte("\r\n\r\n"))
	if headerEnd == -1 {
		return nil, 0, ErrNeedMoreData
	}

	// Include the terminator's own CRLF so a request with no header lines
	// still finds the end of its request line.
	lineEnd := bytes.IndexByte(data[:headerEnd+2], '\n')
	if lineEnd == -1 {
		return nil, 0, ErrMalformedRequest
	}

	line := data[:lineEnd]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}

	sp1 := bytes.IndexByte(line, ' ')
	if sp1 == -1 {
		return nil, 0, ErrMalformedRequest
	}
	sp2 := bytes.IndexByte(line[sp1+1:], ' ')
	if sp2 == -1 {
		return nil, 0, ErrMalformedRequest
	}
	sp2 += sp1 + 1

	req = AcquireRequest()

	req.Method = unsafeString(line[:sp1])
	req.Path = unsafeString(line[sp1+1 : sp2])
	req.Proto = unsafeString(line[sp2+1:])

	if idx := bytes.IndexByte([]byte(req.Path), '?'); idx != -1 {
		req.Path = parseQuery(req, req.Path, idx)
	}

	var headerData []byte
	if lineEnd+1 < headerEnd {
		headerData = data[lineEnd+1 : headerEnd]
	}
	if err := parseHeaders(req, headerData); err != nil {
		ReleaseRequest(req)
		return nil, 0, err
	}

	total := headerEnd + 4 + req.ContentLengthN
	if len(data) < total {
		ReleaseRequest(req)
		return nil, 0, ErrNeedMoreData
	}

	if req.ContentLengthN > 0 {
		req.Body = append(req.Body[:0], data[headerEnd+4:total]...)
	}

	return req, total, nil
}

// parseHeaders parses header lines up to (not including) the blank line
// terminator, splitting each at the first ':' and trimming surrounding
// whitespace from name and value as the spec requires.
func parseHeaders(req *Request, data []byte) error {
	for len(data) > 0 {
		lineEnd := bytes.IndexByte(data, '\n')
		if lineEnd == -1 {
			lineEnd = len(data)
		}

		line := data[:lineEnd]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		if len(line) > 0 {
			colon := bytes.IndexByte(line, ':')
			if colon < 0 {
				return ErrMalformedRequest
			}

			key := string(bytes.TrimSpace(line[:colon]))
			value := string(bytes.TrimSpace(line[colon+1:]))

			if isContentLengthHeader(key) {
				n, err := strconv.Atoi(value)
				if err != nil || n < 0 {
					return ErrMalformedRequest
				}
				req.ContentLengthN = n
				req.ContentLength = value
			} else {
				req.SetHeader(key, value)
			}
		}

		if lineEnd >= len(data) {
			break
		}
		data = data[lineEnd+1:]
	}
	return nil
}

// isContentLengthHeader matches "Content-Length" case-insensitively
// without allocating via strings.ToLower.
func isContentLengthHeader(key string) bool {
	const want = "content-length"
	if len(key) != len(want) {
		return false
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if c >= 'A' && c <= 'Z' {
			c += 'a' - 'A'
		}
		if c != want[i] {
			return false
		}
	}
	return true
}

// parseQuery splits "path?query" and populates req.Query, returning the
// path portion without the query string.
func parseQuery(req *Request, path string, idx int) string {
	queryStr := path[idx+1:]
	path = path[:idx]

	if req.Query == nil {
		req.Query = make(map[string]string)
	}

	pairs := bytes.Split([]byte(queryStr), []byte("&"))
	for _, pair := range pairs {
		if len(pair) == 0 {
			continue
		}
		kv := bytes.SplitN(pair, []byte("="), 2)
		if len(kv) == 2 {
			req.Query[string(kv[0])] = string(kv[1])
		} else {
			req.Query[string(kv[0])] = ""
		}
	}

	return path
}
