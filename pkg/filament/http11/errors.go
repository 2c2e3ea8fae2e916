package http11

import "errors"

// Parse errors. Pre-allocated sentinels, compared with errors.Is.
var (
	// ErrMalformedRequestLine indicates the request line does not consist of
	// exactly three single-space-separated tokens, or the version token is
	// not HTTP/1.0 or HTTP/1.1.
	ErrMalformedRequestLine = errors.New("http11: malformed request line")

	// ErrMalformedHeader indicates a header line without a colon, whitespace
	// before the colon, or an invalid field name.
	ErrMalformedHeader = errors.New("http11: malformed header")

	// ErrHeaderTooLarge indicates the accumulated request head exceeded the
	// configured cap.
	ErrHeaderTooLarge = errors.New("http11: request head too large")

	// ErrRequestLineTooLarge indicates the request line alone exceeded its cap.
	ErrRequestLineTooLarge = errors.New("http11: request line too large")

	// ErrInvalidContentLength indicates a non-numeric Content-Length, or
	// multiple Content-Length headers with conflicting values.
	ErrInvalidContentLength = errors.New("http11: invalid Content-Length")

	// ErrContentLengthWithTransferEncoding indicates a request carrying both
	// headers, rejected outright to prevent request smuggling.
	ErrContentLengthWithTransferEncoding = errors.New("http11: both Content-Length and Transfer-Encoding present")

	// ErrMalformedChunk indicates invalid chunked-transfer framing: a bad hex
	// size line or a missing chunk terminator.
	ErrMalformedChunk = errors.New("http11: malformed chunk encoding")

	// ErrBodyTooLarge indicates the declared or accumulated body size
	// exceeded the configured cap.
	ErrBodyTooLarge = errors.New("http11: request body too large")

	// ErrUnexpectedEOF indicates the stream ended mid-request.
	ErrUnexpectedEOF = errors.New("http11: unexpected EOF")
)

// Connection errors.
var (
	// ErrIdleTimeout indicates no bytes arrived while waiting for a new
	// request. The connection closes without a response.
	ErrIdleTimeout = errors.New("http11: idle timeout")

	// ErrHeaderTimeout indicates the request head did not complete in time.
	// The connection answers 408 if still writable, then closes.
	ErrHeaderTimeout = errors.New("http11: header timeout")

	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("http11: connection closed")
)

// StatusForError maps a parse or limit failure to the status code the
// engine writes for it before closing the connection.
func StatusForError(err error) int {
	return statusForParseError(err)
}

// statusForParseError maps a parse or limit failure to the best-effort
// diagnostic status written before closing the connection.
func statusForParseError(err error) int {
	switch {
	case errors.Is(err, ErrHeaderTooLarge), errors.Is(err, ErrRequestLineTooLarge):
		return 431
	case errors.Is(err, ErrBodyTooLarge):
		return 413
	case errors.Is(err, ErrHeaderTimeout):
		return 408
	default:
		return 400
	}
}
