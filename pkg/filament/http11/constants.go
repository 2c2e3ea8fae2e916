// Package http11 implements an incremental HTTP/1.1 engine: a resumable
// request parser, a framing-aware response writer, and the per-connection
// state machine that drives both.
package http11

// HTTP Method IDs for O(1) switching.
// Unrecognized methods parse to MethodUnknown; the router decides whether
// that becomes a 404 or 405.
const (
	MethodUnknown uint8 = 0
	MethodGET     uint8 = 1
	MethodPOST    uint8 = 2
	MethodPUT     uint8 = 3
	MethodDELETE  uint8 = 4
	MethodPATCH   uint8 = 5
	MethodHEAD    uint8 = 6
	MethodOPTIONS uint8 = 7
	MethodCONNECT uint8 = 8
	MethodTRACE   uint8 = 9
)

// HTTP status lines, pre-compiled with CRLF for zero-allocation writes.
var (
	status100Bytes = []byte("HTTP/1.1 100 Continue\r\n")
	status101Bytes = []byte("HTTP/1.1 101 Switching Protocols\r\n")

	status200Bytes = []byte("HTTP/1.1 200 OK\r\n")
	status201Bytes = []byte("HTTP/1.1 201 Created\r\n")
	status202Bytes = []byte("HTTP/1.1 202 Accepted\r\n")
	status204Bytes = []byte("HTTP/1.1 204 No Content\r\n")
	status206Bytes = []byte("HTTP/1.1 206 Partial Content\r\n")

	status301Bytes = []byte("HTTP/1.1 301 Moved Permanently\r\n")
	status302Bytes = []byte("HTTP/1.1 302 Found\r\n")
	status304Bytes = []byte("HTTP/1.1 304 Not Modified\r\n")
	status307Bytes = []byte("HTTP/1.1 307 Temporary Redirect\r\n")
	status308Bytes = []byte("HTTP/1.1 308 Permanent Redirect\r\n")

	status400Bytes = []byte("HTTP/1.1 400 Bad Request\r\n")
	status401Bytes = []byte("HTTP/1.1 401 Unauthorized\r\n")
	status403Bytes = []byte("HTTP/1.1 403 Forbidden\r\n")
	status404Bytes = []byte("HTTP/1.1 404 Not Found\r\n")
	status405Bytes = []byte("HTTP/1.1 405 Method Not Allowed\r\n")
	status408Bytes = []byte("HTTP/1.1 408 Request Timeout\r\n")
	status411Bytes = []byte("HTTP/1.1 411 Length Required\r\n")
	status413Bytes = []byte("HTTP/1.1 413 Payload Too Large\r\n")
	status414Bytes = []byte("HTTP/1.1 414 URI Too Long\r\n")
	status429Bytes = []byte("HTTP/1.1 429 Too Many Requests\r\n")
	status431Bytes = []byte("HTTP/1.1 431 Request Header Fields Too Large\r\n")

	status500Bytes = []byte("HTTP/1.1 500 Internal Server Error\r\n")
	status501Bytes = []byte("HTTP/1.1 501 Not Implemented\r\n")
	status502Bytes = []byte("HTTP/1.1 502 Bad Gateway\r\n")
	status503Bytes = []byte("HTTP/1.1 503 Service Unavailable\r\n")
	status504Bytes = []byte("HTTP/1.1 504 Gateway Timeout\r\n")
)

// Header names touched by the engine itself. Byte slices keep parsing and
// serialization allocation-free.
var (
	headerContentLength    = []byte("Content-Length")
	headerContentType      = []byte("Content-Type")
	headerConnection       = []byte("Connection")
	headerKeepAlive        = []byte("keep-alive")
	headerClose            = []byte("close")
	headerTransferEncoding = []byte("Transfer-Encoding")
	headerChunked          = []byte("chunked")
	headerHost             = []byte("Host")
	headerTrailer          = []byte("Trailer")
)

// Common Content-Type values.
var (
	contentTypeJSONUTF8 = []byte("application/json; charset=utf-8")
	contentTypeHTML     = []byte("text/html; charset=utf-8")
	contentTypePlain    = []byte("text/plain; charset=utf-8")
)

// Protocol constants.
var (
	http11Bytes = []byte("HTTP/1.1")
	http10Bytes = []byte("HTTP/1.0")
	crlfBytes   = []byte("\r\n")
	colonSpace  = []byte(": ")
	finalChunk  = []byte("0\r\n\r\n")
	lastChunk   = []byte("0\r\n")
)

const (
	http11Proto = "HTTP/1.1"
	http10Proto = "HTTP/1.0"
)

// Header storage sizing. 32 inline headers cover the overwhelming majority
// of real requests; the rest spill into an ordered overflow slice.
const (
	MaxHeaders     = 32
	MaxHeaderName  = 64
	MaxHeaderValue = 128
)

// Default limits. The request line cap follows the usual 8K convention.
const (
	DefaultMaxRequestLine = 8192
	DefaultMaxHeaderBytes = 32 * 1024
	DefaultMaxBodyBytes   = 8 * 1024 * 1024

	// DefaultBufferSize is the per-connection read/write buffer size.
	DefaultBufferSize = 4096
)
