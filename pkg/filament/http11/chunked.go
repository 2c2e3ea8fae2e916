package http11

import (
	"bytes"

	"github.com/valyala/bytebufferpool"
)

// maxChunkSizeLine bounds the "size[;ext]\r\n" line of a chunk. Sixteen hex
// digits already cover the full int64 range; the rest is extension slack.
const maxChunkSizeLine = 256

// stepChunkSize consumes one "chunk-size [;ext] CRLF" line. A zero size moves
// to the trailer section, anything else to the chunk payload.
func (p *Parser) stepChunkSize(data []byte) (int, error) {
	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		if len(data) > maxChunkSizeLine {
			return 0, ErrMalformedChunk
		}
		return 0, nil
	}

	line := data[:idx]
	// Chunk extensions are dropped.
	if extIdx := bytes.IndexByte(line, ';'); extIdx != -1 {
		line = line[:extIdx]
	}
	line = trimTrailingSpace(line)

	size, err := parseChunkSize(line)
	if err != nil {
		return 0, err
	}

	if size == 0 {
		p.phase = phaseTrailers
		return idx + 2, nil
	}

	if p.bodyRead+size > p.limits.MaxBodyBytes {
		return 0, ErrBodyTooLarge
	}
	if p.req.body == nil {
		p.req.body = bytebufferpool.Get()
	}
	p.remaining = size
	p.phase = phaseChunkData
	return idx + 2, nil
}

func (p *Parser) stepChunkData(data []byte) (int, error) {
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
		p.phase = phaseChunkDataEnd
	}
	return int(n), nil
}

// stepChunkDataEnd consumes the CRLF that closes every chunk payload.
func (p *Parser) stepChunkDataEnd(data []byte) (int, error) {
	if len(data) < 2 {
		return 0, nil
	}
	if data[0] != '\r' || data[1] != '\n' {
		return 0, ErrMalformedChunk
	}
	p.phase = phaseChunkSize
	return 2, nil
}

// stepTrailers consumes header-formatted lines after the zero chunk until the
// terminating blank line. Trailer fields are stored on Request.Trailer and
// never affect framing. Trailer bytes count against the same size limit as
// the request head.
func (p *Parser) stepTrailers(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}

	if data[0] == '\r' {
		if len(data) < 2 {
			return 0, nil
		}
		if data[1] != '\n' {
			return 0, ErrMalformedChunk
		}
		p.phase = phaseDone
		return 2, nil
	}

	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		if p.headBytes+len(data) > p.limits.MaxHeaderBytes {
			return 0, ErrHeaderTooLarge
		}
		return 0, nil
	}

	p.headBytes += idx + 2
	if p.headBytes > p.limits.MaxHeaderBytes {
		return 0, ErrHeaderTooLarge
	}

	line := data[:idx]
	colonIdx := bytes.IndexByte(line, ':')
	if colonIdx <= 0 {
		return 0, ErrMalformedChunk
	}
	name := line[:colonIdx]
	if line[colonIdx-1] == ' ' || line[colonIdx-1] == '\t' {
		return 0, ErrMalformedChunk
	}
	value := trimTrailingSpace(trimLeadingSpace(line[colonIdx+1:]))
	if err := p.req.Trailer.Add(name, value); err != nil {
		return 0, err
	}
	return idx + 2, nil
}

// parseChunkSize parses a hex chunk size. Empty or non-hex input is
// malformed.
func parseChunkSize(b []byte) (int64, error) {
	if len(b) == 0 || len(b) > 16 {
		return 0, ErrMalformedChunk
	}
	var n int64
	for _, c := range b {
		var d int64
		switch {
		case c >= '0' && c <= '9':
			d = int64(c - '0')
		case c >= 'a' && c <= 'f':
			d = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			d = int64(c-'A') + 10
		default:
			return 0, ErrMalformedChunk
		}
		n = n<<4 | d
		if n < 0 {
			return 0, ErrMalformedChunk
		}
	}
	return n, nil
}
