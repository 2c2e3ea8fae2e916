package http11

import (
	"github.com/valyala/bytebufferpool"
)

// Request is a fully parsed HTTP/1.1 (or 1.0) request.
//
// The parser never hands out a partially parsed Request: by the time a
// handler sees one, the request line, headers, and body have all been
// consumed and validated. All byte-slice fields are owned by the Request and
// recycled when it returns to the pool, so they must not be retained past the
// handler's return.
type Request struct {
	// Method as numeric ID for O(1) switching; MethodUnknown for tokens the
	// engine does not recognize.
	MethodID uint8

	methodBytes []byte // e.g. "GET", verbatim token for unknown methods
	rawTarget   []byte // request-target as received, query included
	pathBytes   []byte // raw path, before query split
	normPath    []byte // normalized path: duplicate slashes and dot segments resolved
	queryBytes  []byte // query string without '?', nil if absent

	// Headers in arrival order, duplicates preserved.
	Header Header

	// Trailer holds fields received after the final chunk of a chunked body.
	Trailer Header

	// Protocol information.
	Proto      string // "HTTP/1.1" or "HTTP/1.0"
	ProtoMajor int
	ProtoMinor int

	// ContentLength is the declared body length, or 0 when absent.
	ContentLength int64

	// Chunked reports Transfer-Encoding: chunked.
	Chunked bool

	// Close reports an explicit "Connection: close" request.
	Close bool

	// KeepAlive reports an explicit "Connection: keep-alive" request
	// (relevant for HTTP/1.0, which is non-persistent by default).
	KeepAlive bool

	// RemoteAddr is the client's network address, set by the connection.
	RemoteAddr string

	// body holds the fully read body bytes; nil when the request has none.
	body *bytebufferpool.ByteBuffer
}

// Method returns the HTTP method as a string. For unknown methods this
// allocates from the verbatim token.
func (r *Request) Method() string {
	if s := MethodString(r.MethodID); s != "" {
		return s
	}
	return string(r.methodBytes)
}

// MethodBytes returns the method token. Valid only during the request
// lifetime.
func (r *Request) MethodBytes() []byte {
	return r.methodBytes
}

// Target returns the raw request-target as received, query included.
func (r *Request) Target() string {
	return string(r.rawTarget)
}

// Path returns the raw request path as a string.
func (r *Request) Path() string {
	return string(r.pathBytes)
}

// PathBytes returns the raw request path. Valid only during the request
// lifetime.
func (r *Request) PathBytes() []byte {
	return r.pathBytes
}

// NormPath returns the normalized path used for routing.
func (r *Request) NormPath() string {
	return string(r.normPath)
}

// NormPathBytes returns the normalized path. Valid only during the request
// lifetime.
func (r *Request) NormPathBytes() []byte {
	return r.normPath
}

// Query returns the query string without the leading '?'.
func (r *Request) Query() string {
	return string(r.queryBytes)
}

// QueryBytes returns the query string. Valid only during the request
// lifetime.
func (r *Request) QueryBytes() []byte {
	return r.queryBytes
}

// Body returns the request body bytes, or nil when the request has none.
// The slice is recycled with the Request.
func (r *Request) Body() []byte {
	if r.body == nil {
		return nil
	}
	return r.body.B
}

// HasBody reports whether the request carried a body.
func (r *Request) HasBody() bool {
	return r.body != nil && len(r.body.B) > 0
}

// GetHeader returns the first value for name, case-insensitive.
func (r *Request) GetHeader(name []byte) []byte {
	return r.Header.Get(name)
}

// GetHeaderString returns the first value for name as a string.
func (r *Request) GetHeaderString(name string) string {
	return r.Header.GetString([]byte(name))
}

// wantsKeepAlive reports whether this request is eligible for connection
// reuse under its protocol version's defaults.
func (r *Request) wantsKeepAlive() bool {
	if r.Close {
		return false
	}
	if r.ProtoMajor == 1 && r.ProtoMinor == 0 {
		return r.KeepAlive
	}
	return true
}

// Reset clears the request for pooling. The body buffer is returned to its
// pool here so headers-only requests pay nothing.
func (r *Request) Reset() {
	r.MethodID = 0
	r.methodBytes = r.methodBytes[:0]
	r.rawTarget = r.rawTarget[:0]
	r.pathBytes = r.pathBytes[:0]
	r.normPath = r.normPath[:0]
	r.queryBytes = nil
	r.Header.Reset()
	r.Trailer.Reset()
	r.Proto = ""
	r.ProtoMajor = 0
	r.ProtoMinor = 0
	r.ContentLength = 0
	r.Chunked = false
	r.Close = false
	r.KeepAlive = false
	r.RemoteAddr = ""
	if r.body != nil {
		bytebufferpool.Put(r.body)
		r.body = nil
	}
}
