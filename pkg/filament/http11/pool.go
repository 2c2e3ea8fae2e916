package http11

import (
	"bufio"
	"io"
	"sync"
)

// Object pools for the per-request hot path. Everything handed out here
// must come back through the matching Put, reset and ready for reuse.

var requestPool = sync.Pool{
	New: func() any {
		return &Request{}
	},
}

// GetRequest returns a cleared Request from the pool.
func GetRequest() *Request {
	return requestPool.Get().(*Request)
}

// PutRequest resets the request and returns it to the pool. The request
// must not be used after this call.
func PutRequest(req *Request) {
	if req == nil {
		return
	}
	req.Reset()
	requestPool.Put(req)
}

var parserPool = sync.Pool{
	New: func() any {
		return NewParser(Limits{})
	},
}

// GetParser returns a pooled parser configured with the given limits.
func GetParser(limits Limits) *Parser {
	p := parserPool.Get().(*Parser)
	p.Reset(limits)
	return p
}

// PutParser returns a parser to the pool, releasing any in-progress
// request. A half-read body must not hold its pooled buffer while the
// parser sits idle.
func PutParser(p *Parser) {
	if p == nil {
		return
	}
	if p.req != nil {
		p.req.Reset()
	}
	p.resetState()
	parserPool.Put(p)
}

var responseWriterPool = sync.Pool{
	New: func() any {
		return &ResponseWriter{status: 200}
	},
}

// GetResponseWriter returns a pooled ResponseWriter targeting w.
func GetResponseWriter(w io.Writer) *ResponseWriter {
	rw := responseWriterPool.Get().(*ResponseWriter)
	rw.Reset(w)
	return rw
}

// PutResponseWriter returns a ResponseWriter to the pool.
func PutResponseWriter(rw *ResponseWriter) {
	if rw == nil {
		return
	}
	rw.Reset(nil)
	responseWriterPool.Put(rw)
}

var bufioWriterPool = sync.Pool{
	New: func() any {
		return bufio.NewWriterSize(nil, DefaultBufferSize)
	},
}

// GetBufioWriter returns a default-sized buffered writer bound to w.
func GetBufioWriter(w io.Writer) *bufio.Writer {
	bw := bufioWriterPool.Get().(*bufio.Writer)
	bw.Reset(w)
	return bw
}

// PutBufioWriter returns a buffered writer to the pool. Only default-sized
// writers should come back here.
func PutBufioWriter(bw *bufio.Writer) {
	if bw == nil {
		return
	}
	bw.Reset(nil)
	bufioWriterPool.Put(bw)
}

var readBufferPool = sync.Pool{
	New: func() any {
		buf := make([]byte, DefaultBufferSize)
		return &buf
	},
}

// GetReadBuffer returns a default-sized read buffer.
func GetReadBuffer() []byte {
	return *(readBufferPool.Get().(*[]byte))
}

// PutReadBuffer returns a read buffer to the pool. Buffers that grew past
// the default size must not come back.
func PutReadBuffer(buf []byte) {
	if len(buf) != DefaultBufferSize {
		return
	}
	readBufferPool.Put(&buf)
}
