package http11

import (
	"io"
	"strconv"
)

// ResponseWriter serializes one HTTP/1.1 response.
//
// Status lines for common codes are pre-compiled and headers use the same
// inline storage as Request, so typical responses serialize without
// allocating. The writer tracks its own framing: a body written with neither
// Content-Length nor chunked encoding leaves the response length ambiguous,
// and the connection must close after it.
type ResponseWriter struct {
	w io.Writer

	status int
	header Header

	statusWritten bool // WriteHeader was called
	headerWritten bool // head is on the wire
	chunked       bool
	finished      bool // chunked terminator is on the wire
	hasLength     bool // Content-Length header was set
	bytesWritten  int64

	// declaredLength is the Content-Length announced in the head, -1 when
	// absent or unparseable.
	declaredLength int64

	// sizeBuf holds chunk sizes and Content-Length digits between writes.
	sizeBuf [20]byte
}

// NewResponseWriter creates a ResponseWriter over w.
func NewResponseWriter(w io.Writer) *ResponseWriter {
	return &ResponseWriter{
		w:              w,
		status:         200,
		declaredLength: -1,
	}
}

// Header returns the response headers. Mutations after the head has been
// written are silently lost.
func (rw *ResponseWriter) Header() *Header {
	return &rw.header
}

// WriteHeader sets the response status code. Only the first call takes
// effect; the head itself goes on the wire with the first body write or
// Flush.
func (rw *ResponseWriter) WriteHeader(statusCode int) {
	if rw.statusWritten {
		return
	}
	rw.status = statusCode
	rw.statusWritten = true
}

// Write writes body bytes, emitting the status line and headers first if
// they are not out yet.
func (rw *ResponseWriter) Write(data []byte) (int, error) {
	if !rw.headerWritten {
		if err := rw.writeHead(); err != nil {
			return 0, err
		}
	}
	n, err := rw.w.Write(data)
	rw.bytesWritten += int64(n)
	return n, err
}

// writeHead emits the status line and all headers.
func (rw *ResponseWriter) writeHead() error {
	if rw.headerWritten {
		return nil
	}
	rw.headerWritten = true
	if length := rw.header.Get(headerContentLength); length != nil {
		rw.hasLength = true
		if n, err := parseContentLength(length); err == nil {
			rw.declaredLength = n
		}
	}

	if _, err := rw.w.Write(getStatusLine(rw.status)); err != nil {
		return err
	}

	var writeErr error
	rw.header.VisitAll(func(name, value []byte) bool {
		if _, err := rw.w.Write(name); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(colonSpace); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(value); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(crlfBytes); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}

	_, err := rw.w.Write(crlfBytes)
	return err
}

// Flush forces the head out and flushes the underlying writer if it is
// buffered.
func (rw *ResponseWriter) Flush() error {
	if !rw.headerWritten {
		if err := rw.writeHead(); err != nil {
			return err
		}
	}
	if flusher, ok := rw.w.(interface{ Flush() error }); ok {
		return flusher.Flush()
	}
	return nil
}

// Status returns the status code in effect.
func (rw *ResponseWriter) Status() int {
	return rw.status
}

// BytesWritten returns the number of body bytes written so far.
func (rw *ResponseWriter) BytesWritten() int64 {
	return rw.bytesWritten
}

// HeaderWritten reports whether the head is already on the wire.
func (rw *ResponseWriter) HeaderWritten() bool {
	return rw.headerWritten
}

// framingAmbiguous reports whether body bytes went out without any length
// framing. The connection cannot be reused after such a response.
func (rw *ResponseWriter) framingAmbiguous() bool {
	return rw.bytesWritten > 0 && !rw.chunked && !rw.hasLength
}

// bodyComplete reports whether the body was terminated according to its
// declared framing: the zero chunk went out, or exactly Content-Length
// bytes did. A response that fails this leaves the peer unable to find the
// body's end, so the connection must close after it.
func (rw *ResponseWriter) bodyComplete() bool {
	if rw.chunked {
		return rw.finished
	}
	if rw.hasLength {
		return rw.declaredLength >= 0 && rw.bytesWritten == rw.declaredLength
	}
	return rw.bytesWritten == 0
}

// Reset clears the writer for reuse on a new response.
func (rw *ResponseWriter) Reset(w io.Writer) {
	rw.w = w
	rw.status = 200
	rw.header.Reset()
	rw.statusWritten = false
	rw.headerWritten = false
	rw.chunked = false
	rw.finished = false
	rw.hasLength = false
	rw.bytesWritten = 0
	rw.declaredLength = -1
}

// WriteChunk writes one chunk of a chunked response. The first call emits
// the head with Transfer-Encoding: chunked. Zero-length chunks are skipped,
// since a zero chunk would terminate the body.
func (rw *ResponseWriter) WriteChunk(chunk []byte) error {
	if !rw.headerWritten {
		rw.chunked = true
		if !rw.header.Has(headerTransferEncoding) {
			if err := rw.header.Set(headerTransferEncoding, headerChunked); err != nil {
				return err
			}
		}
		if err := rw.writeHead(); err != nil {
			return err
		}
	}
	if len(chunk) == 0 {
		return nil
	}

	size := strconv.AppendInt(rw.sizeBuf[:0], int64(len(chunk)), 16)
	if _, err := rw.w.Write(size); err != nil {
		return err
	}
	if _, err := rw.w.Write(crlfBytes); err != nil {
		return err
	}
	if _, err := rw.w.Write(chunk); err != nil {
		return err
	}
	if _, err := rw.w.Write(crlfBytes); err != nil {
		return err
	}
	rw.bytesWritten += int64(len(chunk))
	return nil
}

// FinishChunked terminates a chunked response with the zero chunk and an
// empty trailer section.
func (rw *ResponseWriter) FinishChunked() error {
	if !rw.headerWritten {
		// Chunked response with no chunks: emit the head first.
		if err := rw.WriteChunk(nil); err != nil {
			return err
		}
	}
	if _, err := rw.w.Write(finalChunk); err != nil {
		return err
	}
	rw.finished = true
	return rw.Flush()
}

// FinishChunkedTrailers terminates a chunked response with the zero chunk
// followed by the given trailer fields. Trailer names should be announced
// up front with a Trailer header for clients that care.
func (rw *ResponseWriter) FinishChunkedTrailers(trailers *Header) error {
	if trailers == nil || trailers.Len() == 0 {
		return rw.FinishChunked()
	}
	if !rw.headerWritten {
		if err := rw.WriteChunk(nil); err != nil {
			return err
		}
	}
	if _, err := rw.w.Write(lastChunk); err != nil {
		return err
	}

	var writeErr error
	trailers.VisitAll(func(name, value []byte) bool {
		if _, err := rw.w.Write(name); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(colonSpace); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(value); err != nil {
			writeErr = err
			return false
		}
		if _, err := rw.w.Write(crlfBytes); err != nil {
			writeErr = err
			return false
		}
		return true
	})
	if writeErr != nil {
		return writeErr
	}

	if _, err := rw.w.Write(crlfBytes); err != nil {
		return err
	}
	rw.finished = true
	return rw.Flush()
}

// WriteJSON writes a complete JSON response with Content-Length set.
func (rw *ResponseWriter) WriteJSON(statusCode int, data []byte) error {
	return rw.writeFull(statusCode, contentTypeJSONUTF8, data)
}

// WriteText writes a complete plain text response with Content-Length set.
func (rw *ResponseWriter) WriteText(statusCode int, data []byte) error {
	return rw.writeFull(statusCode, contentTypePlain, data)
}

// WriteHTML writes a complete HTML response with Content-Length set.
func (rw *ResponseWriter) WriteHTML(statusCode int, data []byte) error {
	return rw.writeFull(statusCode, contentTypeHTML, data)
}

// WriteError writes a plain text error body with the given status code.
func (rw *ResponseWriter) WriteError(statusCode int, message string) error {
	return rw.WriteText(statusCode, []byte(message))
}

func (rw *ResponseWriter) writeFull(statusCode int, contentType, data []byte) error {
	rw.WriteHeader(statusCode)
	if err := rw.header.Set(headerContentType, contentType); err != nil {
		return err
	}
	length := strconv.AppendInt(rw.sizeBuf[:0], int64(len(data)), 10)
	if err := rw.header.Set(headerContentLength, length); err != nil {
		return err
	}
	if _, err := rw.Write(data); err != nil {
		return err
	}
	return rw.Flush()
}

// getStatusLine returns the pre-compiled status line for common codes and
// builds one for the rest.
func getStatusLine(code int) []byte {
	switch code {
	case 100:
		return status100Bytes
	case 101:
		return status101Bytes
	case 200:
		return status200Bytes
	case 201:
		return status201Bytes
	case 202:
		return status202Bytes
	case 204:
		return status204Bytes
	case 206:
		return status206Bytes
	case 301:
		return status301Bytes
	case 302:
		return status302Bytes
	case 304:
		return status304Bytes
	case 307:
		return status307Bytes
	case 308:
		return status308Bytes
	case 400:
		return status400Bytes
	case 401:
		return status401Bytes
	case 403:
		return status403Bytes
	case 404:
		return status404Bytes
	case 405:
		return status405Bytes
	case 408:
		return status408Bytes
	case 411:
		return status411Bytes
	case 413:
		return status413Bytes
	case 414:
		return status414Bytes
	case 429:
		return status429Bytes
	case 431:
		return status431Bytes
	case 500:
		return status500Bytes
	case 501:
		return status501Bytes
	case 502:
		return status502Bytes
	case 503:
		return status503Bytes
	case 504:
		return status504Bytes
	default:
		return buildStatusLine(code)
	}
}

func buildStatusLine(code int) []byte {
	return []byte("HTTP/1.1 " + strconv.Itoa(code) + " " + StatusText(code) + "\r\n")
}

// StatusText returns the reason phrase for an HTTP status code, per
// RFC 7231 Section 6.
func StatusText(code int) string {
	switch code {
	case 100:
		return "Continue"
	case 101:
		return "Switching Protocols"
	case 200:
		return "OK"
	case 201:
		return "Created"
	case 202:
		return "Accepted"
	case 203:
		return "Non-Authoritative Information"
	case 204:
		return "No Content"
	case 205:
		return "Reset Content"
	case 206:
		return "Partial Content"
	case 300:
		return "Multiple Choices"
	case 301:
		return "Moved Permanently"
	case 302:
		return "Found"
	case 303:
		return "See Other"
	case 304:
		return "Not Modified"
	case 307:
		return "Temporary Redirect"
	case 308:
		return "Permanent Redirect"
	case 400:
		return "Bad Request"
	case 401:
		return "Unauthorized"
	case 403:
		return "Forbidden"
	case 404:
		return "Not Found"
	case 405:
		return "Method Not Allowed"
	case 406:
		return "Not Acceptable"
	case 408:
		return "Request Timeout"
	case 409:
		return "Conflict"
	case 410:
		return "Gone"
	case 411:
		return "Length Required"
	case 412:
		return "Precondition Failed"
	case 413:
		return "Payload Too Large"
	case 414:
		return "URI Too Long"
	case 415:
		return "Unsupported Media Type"
	case 416:
		return "Range Not Satisfiable"
	case 417:
		return "Expectation Failed"
	case 422:
		return "Unprocessable Entity"
	case 426:
		return "Upgrade Required"
	case 428:
		return "Precondition Required"
	case 429:
		return "Too Many Requests"
	case 431:
		return "Request Header Fields Too Large"
	case 500:
		return "Internal Server Error"
	case 501:
		return "Not Implemented"
	case 502:
		return "Bad Gateway"
	case 503:
		return "Service Unavailable"
	case 504:
		return "Gateway Timeout"
	case 505:
		return "HTTP Version Not Supported"
	default:
		return "Unknown"
	}
}
