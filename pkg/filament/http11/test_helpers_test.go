package http11

import (
	"testing"
)

// parseAll feeds data to a fresh parser in stride-sized pieces until the
// request completes, failing the test on errors. It mirrors how the
// connection accumulates unconsumed bytes and re-feeds them.
func parseAll(t *testing.T, data string, stride int) *Request {
	t.Helper()
	req, err := tryParseAll(data, stride, Limits{})
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if req == nil {
		t.Fatalf("parser never completed, data %q", data)
	}
	return req
}

// tryParseAll runs the parser over data, appending stride bytes to the
// pending buffer per round, returning the completed request or the first
// error. A nil, nil return means the input ended mid-request.
func tryParseAll(data string, stride int, limits Limits) (*Request, error) {
	p := NewParser(limits)
	src := []byte(data)

	var pending []byte
	for len(src) > 0 || len(pending) > 0 {
		if len(src) > 0 {
			n := stride
			if n > len(src) {
				n = len(src)
			}
			pending = append(pending, src[:n]...)
			src = src[n:]
		}

		consumed, err := p.Advance(pending)
		if err != nil {
			return nil, err
		}
		pending = pending[consumed:]
		if p.Done() {
			return p.Take(), nil
		}
		if consumed == 0 && len(src) == 0 {
			return nil, nil
		}
	}
	return nil, nil
}
