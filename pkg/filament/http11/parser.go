package http11

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
)

// parsePhase enumerates the parser's position within one request.
type parsePhase uint8

const (
	phaseRequestLine parsePhase = iota
	phaseHeaders
	phaseBodyFixed
	phaseChunkSize
	phaseChunkData
	phaseChunkDataEnd
	phaseTrailers
	phaseDone
	phaseFailed
)

// Limits bounds what the parser will accept for a single request.
// Zero values fall back to the package defaults.
type Limits struct {
	// MaxRequestLine caps the request line alone.
	MaxRequestLine int

	// MaxHeaderBytes caps the whole request head: request line, header
	// lines, and the terminating blank line.
	MaxHeaderBytes int

	// MaxBodyBytes caps the decoded body, for both fixed-length and chunked
	// framing. A declared Content-Length over the cap is rejected before any
	// body byte is read.
	MaxBodyBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxRequestLine == 0 {
		l.MaxRequestLine = DefaultMaxRequestLine
	}
	if l.MaxHeaderBytes == 0 {
		l.MaxHeaderBytes = DefaultMaxHeaderBytes
	}
	if l.MaxBodyBytes == 0 {
		l.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return l
}

// Parser is an incremental HTTP/1.1 request parser.
//
// It is a pure state machine over caller-supplied bytes: Advance consumes as
// much of data as the current phase allows and returns the number of bytes
// consumed, never blocking and never backtracking past consumed bytes. The
// caller owns the read buffer, feeds the unconsumed remainder back in on the
// next call, and checks Done to collect the finished request with Take.
//
// Parsing is chunk-boundary-invariant: feeding a request one byte at a time
// yields the same Request as feeding it whole.
type Parser struct {
	limits Limits
	phase  parsePhase
	req    *Request
	err    error

	// headBytes counts consumed request-line and header bytes against
	// Limits.MaxHeaderBytes.
	headBytes int

	// remaining is the byte count still owed to the fixed-length body or the
	// current chunk.
	remaining int64

	// bodyRead accumulates decoded body bytes across chunks.
	bodyRead int64

	// Header bookkeeping for the smuggling guards.
	hasContentLength    bool
	hasTransferEncoding bool
	contentLength       int64
	hasHost             bool
}

// NewParser creates a parser with the given limits.
func NewParser(limits Limits) *Parser {
	return &Parser{
		limits: limits.withDefaults(),
		req:    GetRequest(),
	}
}

// Done reports whether a complete request is ready to Take.
func (p *Parser) Done() bool {
	return p.phase == phaseDone
}

// Advance consumes bytes from data, moving the parse as far as the available
// bytes allow. It returns the number of bytes consumed; zero with a nil error
// means more input is needed. Errors are sticky.
func (p *Parser) Advance(data []byte) (int, error) {
	if p.err != nil {
		return 0, p.err
	}

	total := 0
	for p.phase != phaseDone {
		n, err := p.step(data[total:])
		if err != nil {
			p.fail(err)
			return total, err
		}
		if n == 0 {
			break
		}
		total += n
	}
	return total, nil
}

// Take returns the completed request and resets the parser for the next one
// on the same connection. Returns nil unless Done.
//
// The returned Request is pooled; the caller must hand it to PutRequest when
// finished with it.
func (p *Parser) Take() *Request {
	if p.phase != phaseDone {
		return nil
	}
	req := p.req
	p.req = GetRequest()
	p.resetState()
	return req
}

// Reset discards any in-progress request and clears error state, keeping the
// configured limits. Used when a parser is recycled onto a new connection.
func (p *Parser) Reset(limits Limits) {
	p.limits = limits.withDefaults()
	if p.req == nil {
		p.req = GetRequest()
	} else {
		p.req.Reset()
	}
	p.resetState()
}

func (p *Parser) resetState() {
	p.phase = phaseRequestLine
	p.err = nil
	p.headBytes = 0
	p.remaining = 0
	p.bodyRead = 0
	p.hasContentLength = false
	p.hasTransferEncoding = false
	p.contentLength = 0
	p.hasHost = false
}

func (p *Parser) fail(err error) {
	p.phase = phaseFailed
	p.err = err
}

// step advances exactly one phase transition worth of input.
func (p *Parser) step(data []byte) (int, error) {
	switch p.phase {
	case phaseRequestLine:
		return p.stepRequestLine(data)
	case phaseHeaders:
		return p.stepHeaders(data)
	case phaseBodyFixed:
		return p.stepBodyFixed(data)
	case phaseChunkSize:
		return p.stepChunkSize(data)
	case phaseChunkData:
		return p.stepChunkData(data)
	case phaseChunkDataEnd:
		return p.stepChunkDataEnd(data)
	case phaseTrailers:
		return p.stepTrailers(data)
	default:
		return 0, nil
	}
}

func (p *Parser) stepRequestLine(data []byte) (int, error) {
	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		if len(data) > p.limits.MaxRequestLine {
			return 0, ErrRequestLineTooLarge
		}
		return 0, nil
	}

	line := data[:idx]
	if len(line) > p.limits.MaxRequestLine {
		return 0, ErrRequestLineTooLarge
	}
	if err := p.parseRequestLine(line); err != nil {
		return 0, err
	}

	p.headBytes += idx + 2
	if p.headBytes > p.limits.MaxHeaderBytes {
		return 0, ErrHeaderTooLarge
	}
	p.phase = phaseHeaders
	return idx + 2, nil
}

// parseRequestLine parses "METHOD SP request-target SP HTTP-version".
// Exactly three tokens separated by single spaces; anything else is
// malformed.
func (p *Parser) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	if sp1 <= 0 {
		return ErrMalformedRequestLine
	}
	rest := line[sp1+1:]
	sp2 := bytes.IndexByte(rest, ' ')
	if sp2 <= 0 {
		return ErrMalformedRequestLine
	}
	method := line[:sp1]
	target := rest[:sp2]
	version := rest[sp2+1:]
	if len(version) == 0 || bytes.IndexByte(version, ' ') != -1 {
		return ErrMalformedRequestLine
	}

	req := p.req
	switch {
	case bytes.Equal(version, http11Bytes):
		req.Proto = http11Proto
		req.ProtoMajor, req.ProtoMinor = 1, 1
	case bytes.Equal(version, http10Bytes):
		req.Proto = http10Proto
		req.ProtoMajor, req.ProtoMinor = 1, 0
	default:
		return ErrMalformedRequestLine
	}

	req.MethodID = ParseMethodID(method)
	req.methodBytes = append(req.methodBytes[:0], method...)

	// Copy the target; path and query slice into the copy.
	req.rawTarget = append(req.rawTarget[:0], target...)
	if queryIdx := bytes.IndexByte(req.rawTarget, '?'); queryIdx != -1 {
		req.pathBytes = req.rawTarget[:queryIdx]
		req.queryBytes = req.rawTarget[queryIdx+1:]
	} else {
		req.pathBytes = req.rawTarget
		req.queryBytes = nil
	}

	if len(req.pathBytes) == 0 {
		return ErrMalformedRequestLine
	}
	if req.pathBytes[0] != '/' && !(len(req.pathBytes) == 1 && req.pathBytes[0] == '*') {
		return ErrMalformedRequestLine
	}
	req.normPath = normalizePath(req.normPath[:0], req.pathBytes)
	return nil
}

func (p *Parser) stepHeaders(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	// Blank line terminates the head.
	if data[0] == '\r' {
		if len(data) < 2 {
			return 0, nil
		}
		if data[1] != '\n' {
			return 0, ErrMalformedHeader
		}
		p.headBytes += 2
		if p.headBytes > p.limits.MaxHeaderBytes {
			return 0, ErrHeaderTooLarge
		}
		if err := p.finishHeaders(); err != nil {
			return 0, err
		}
		return 2, nil
	}

	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		// Incomplete line: fail early only once it is certain the head
		// cannot fit, so an exactly-at-limit head still parses.
		if p.headBytes+len(data) > p.limits.MaxHeaderBytes {
			return 0, ErrHeaderTooLarge
		}
		return 0, nil
	}

	p.headBytes += idx + 2
	if p.headBytes > p.limits.MaxHeaderBytes {
		return 0, ErrHeaderTooLarge
	}
	if err := p.parseHeaderLine(data[:idx]); err != nil {
		return 0, err
	}
	return idx + 2, nil
}

func (p *Parser) parseHeaderLine(line []byte) error {
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx <= 0 {
		return ErrMalformedHeader
	}

	name := line[:colonIdx]
	value := line[colonIdx+1:]

	// RFC 7230 §3.2: no whitespace between field name and colon.
	if line[colonIdx-1] == ' ' || line[colonIdx-1] == '\t' {
		return ErrMalformedHeader
	}
	if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
		return ErrMalformedHeader
	}

	value = trimLeadingSpace(value)
	value = trimTrailingSpace(value)

	if err := p.req.Header.Add(name, value); err != nil {
		return err
	}
	return p.processSpecialHeader(name, value)
}

// processSpecialHeader tracks the fields that drive framing and connection
// persistence, with the duplicate and CL+TE smuggling guards.
func (p *Parser) processSpecialHeader(name, value []byte) error {
	if bytesEqualCaseInsensitive(name, headerContentLength) {
		n, err := parseContentLength(value)
		if err != nil {
			return ErrInvalidContentLength
		}
		if p.hasContentLength {
			if p.contentLength != n {
				return ErrInvalidContentLength
			}
			return nil
		}
		p.hasContentLength = true
		p.contentLength = n
		p.req.ContentLength = n
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerTransferEncoding) {
		p.hasTransferEncoding = true
		if bytesEqualCaseInsensitive(value, headerChunked) {
			p.req.Chunked = true
		}
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerConnection) {
		// The value is a comma-separated option list.
		for len(value) > 0 {
			var opt []byte
			if i := bytes.IndexByte(value, ','); i >= 0 {
				opt, value = value[:i], value[i+1:]
			} else {
				opt, value = value, nil
			}
			opt = trimTrailingSpace(trimLeadingSpace(opt))
			if bytesEqualCaseInsensitive(opt, headerClose) {
				p.req.Close = true
			}
			if bytesEqualCaseInsensitive(opt, headerKeepAlive) {
				p.req.KeepAlive = true
			}
		}
		return nil
	}

	if bytesEqualCaseInsensitive(name, headerHost) {
		if p.hasHost {
			return ErrMalformedHeader
		}
		p.hasHost = true
		return nil
	}

	return nil
}

// finishHeaders validates the head and selects the body phase.
func (p *Parser) finishHeaders() error {
	// RFC 7230 §3.3.3: both headers present must be rejected.
	if p.hasContentLength && p.hasTransferEncoding {
		return ErrContentLengthWithTransferEncoding
	}

	switch {
	case p.req.Chunked:
		p.phase = phaseChunkSize
	case p.req.ContentLength > 0:
		if p.req.ContentLength > p.limits.MaxBodyBytes {
			return ErrBodyTooLarge
		}
		p.req.body = bytebufferpool.Get()
		p.remaining = p.req.ContentLength
		p.phase = phaseBodyFixed
	default:
		p.phase = phaseDone
	}
	return nil
}

func (p *Parser) stepBodyFixed(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	n := int64(len(data))
	if n > p.remaining {
		n = p.remaining
	}
	p.req.body.B = append(p.req.body.B, data[:n]...)
	p.remaining -= n
	p.bodyRead += n
	if p.remaining == 0 {
		p.phase = phaseDone
	}
	return int(n), nil
}

// Helpers

// parseContentLength parses a Content-Length value: decimal digits only.
func parseContentLength(b []byte) (int64, error) {
	if len(b) == 0 {
		return -1, ErrInvalidContentLength
	}
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return -1, ErrInvalidContentLength
		}
		n = n*10 + int64(c-'0')
		if n < 0 { // overflow
			return -1, ErrInvalidContentLength
		}
	}
	return n, nil
}

func trimLeadingSpace(b []byte) []byte {
	for len(b) > 0 && (b[0] == ' ' || b[0] == '\t') {
		b = b[1:]
	}
	return b
}

func trimTrailingSpace(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == ' ' || b[len(b)-1] == '\t') {
		b = b[:len(b)-1]
	}
	return b
}

// normalizePath appends the normalized form of path to dst: duplicate
// slashes collapsed, "." and ".." segments resolved bounded at the root.
// Non-rooted targets ("*") pass through untouched.
func normalizePath(dst, path []byte) []byte {
	if len(path) == 0 || path[0] != '/' {
		return append(dst, path...)
	}

	dst = append(dst, '/')
	i := 0
	for i < len(path) {
		for i < len(path) && path[i] == '/' {
			i++
		}
		if i >= len(path) {
			break
		}
		j := i
		for j < len(path) && path[j] != '/' {
			j++
		}
		seg := path[i:j]
		switch {
		case len(seg) == 1 && seg[0] == '.':
			// drop
		case len(seg) == 2 && seg[0] == '.' && seg[1] == '.':
			for len(dst) > 1 && dst[len(dst)-1] != '/' {
				dst = dst[:len(dst)-1]
			}
			if len(dst) > 1 {
				dst = dst[:len(dst)-1]
			}
		default:
			if dst[len(dst)-1] != '/' {
				dst = append(dst, '/')
			}
			dst = append(dst, seg...)
		}
		i = j
	}
	return dst
}
