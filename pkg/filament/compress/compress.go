// Package compress negotiates and applies response compression. Bodies are
// compressed whole so Content-Length framing is preserved.
package compress

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/valyala/bytebufferpool"

	"github.com/yourusername/filament/pkg/filament/http11"
)

// Encoding identifies a negotiated content coding.
type Encoding uint8

const (
	Identity Encoding = iota
	Gzip
	Brotli
)

func (e Encoding) String() string {
	switch e {
	case Gzip:
		return "gzip"
	case Brotli:
		return "br"
	default:
		return "identity"
	}
}

// MinSize is the body size below which compression is skipped. Tiny bodies
// grow under compression.
const MinSize = 256

var (
	headerAcceptEncoding  = []byte("Accept-Encoding")
	headerContentEncoding = []byte("Content-Encoding")
	headerVary            = []byte("Vary")

	encodingGzip   = []byte("gzip")
	encodingBrotli = []byte("br")
)

// Negotiate picks the strongest coding the client accepts: brotli over
// gzip over identity. Quality values other than "q=0" are not weighed;
// token presence decides.
func Negotiate(acceptEncoding []byte) Encoding {
	if len(acceptEncoding) == 0 {
		return Identity
	}
	best := Identity
	for _, token := range bytes.Split(acceptEncoding, []byte(",")) {
		name, rejected := parseToken(token)
		if rejected {
			continue
		}
		switch {
		case bytes.EqualFold(name, encodingBrotli):
			best = Brotli
		case bytes.EqualFold(name, encodingGzip) && best != Brotli:
			best = Gzip
		}
	}
	return best
}

// parseToken splits "gzip;q=0.5" into its name and whether q=0 rejected it.
func parseToken(token []byte) (name []byte, rejected bool) {
	name = token
	if semi := bytes.IndexByte(token, ';'); semi != -1 {
		name = token[:semi]
		params := token[semi+1:]
		if idx := bytes.Index(params, []byte("q=0")); idx != -1 {
			rest := params[idx+3:]
			if len(rest) == 0 || rest[0] == ',' || rest[0] == ' ' {
				rejected = true
			}
		}
	}
	return bytes.TrimSpace(name), rejected
}

var gzipPool = sync.Pool{
	New: func() any {
		w, _ := gzip.NewWriterLevel(nil, gzip.DefaultCompression)
		return w
	},
}

var brotliPool = sync.Pool{
	New: func() any {
		return brotli.NewWriterLevel(nil, brotli.DefaultCompression)
	},
}

// Compress encodes data with the given coding into a pooled buffer. The
// caller returns the buffer with bytebufferpool.Put. Identity returns nil.
func Compress(enc Encoding, data []byte) (*bytebufferpool.ByteBuffer, error) {
	buf := bytebufferpool.Get()

	switch enc {
	case Gzip:
		w := gzipPool.Get().(*gzip.Writer)
		w.Reset(buf)
		if _, err := w.Write(data); err != nil {
			gzipPool.Put(w)
			bytebufferpool.Put(buf)
			return nil, err
		}
		if err := w.Close(); err != nil {
			gzipPool.Put(w)
			bytebufferpool.Put(buf)
			return nil, err
		}
		gzipPool.Put(w)
	case Brotli:
		w := brotliPool.Get().(*brotli.Writer)
		w.Reset(buf)
		if _, err := w.Write(data); err != nil {
			brotliPool.Put(w)
			bytebufferpool.Put(buf)
			return nil, err
		}
		if err := w.Close(); err != nil {
			brotliPool.Put(w)
			bytebufferpool.Put(buf)
			return nil, err
		}
		brotliPool.Put(w)
	default:
		bytebufferpool.Put(buf)
		return nil, fmt.Errorf("compress: unsupported encoding %d", enc)
	}

	return buf, nil
}

// WrapBody writes body with the strongest coding req accepts, falling back
// to identity for small or incompressible payloads. Sets Content-Encoding
// and Vary as appropriate.
func WrapBody(req *http11.Request, rw *http11.ResponseWriter, statusCode int, contentType, body []byte) error {
	rw.Header().Set([]byte("Content-Type"), contentType)
	rw.Header().Set(headerVary, headerAcceptEncoding)

	enc := Negotiate(req.GetHeader(headerAcceptEncoding))
	if enc == Identity || len(body) < MinSize {
		return writePlain(rw, statusCode, body)
	}

	buf, err := Compress(enc, body)
	if err != nil {
		return writePlain(rw, statusCode, body)
	}
	defer bytebufferpool.Put(buf)

	// Compression that fails to shrink the body is wasted work for the
	// client too.
	if len(buf.B) >= len(body) {
		return writePlain(rw, statusCode, body)
	}

	rw.Header().Set(headerContentEncoding, []byte(enc.String()))
	return writePlain(rw, statusCode, buf.B)
}

func writePlain(rw *http11.ResponseWriter, statusCode int, body []byte) error {
	rw.WriteHeader(statusCode)
	length := fmt.Sprintf("%d", len(body))
	rw.Header().Set([]byte("Content-Length"), []byte(length))
	if _, err := rw.Write(body); err != nil {
		return err
	}
	return rw.Flush()
}
