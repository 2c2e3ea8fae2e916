package http11

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"
)

// echoPathHandler answers every request with its normalized path.
func echoPathHandler(req *Request, rw *ResponseWriter) error {
	return rw.WriteText(200, []byte(req.NormPath()))
}

// startConn wires a Conn over a pipe and serves it in the background,
// returning the client end and a channel with Serve's result.
func startConn(t *testing.T, cfg ConnConfig, handler Handler) (net.Conn, chan error) {
	t.Helper()
	client, server := net.Pipe()
	c := NewConn(server, cfg, handler)

	served := make(chan error, 1)
	go func() {
		served <- c.Serve()
	}()
	t.Cleanup(func() {
		client.Close()
		c.Close()
	})
	return client, served
}

func readConnResponse(t *testing.T, r *bufio.Reader) *http.Response {
	t.Helper()
	resp, err := http.ReadResponse(r, nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	// ReadResponse strips a wire-level "Connection: close" into resp.Close;
	// put it back so assertions can see the header as sent.
	if resp.Close && resp.Header.Get("Connection") == "" {
		resp.Header.Set("Connection", "close")
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	resp.Body.Close()
	resp.Body = io.NopCloser(strings.NewReader(string(body)))
	return resp
}

func TestConnKeepAlive(t *testing.T) {
	client, served := startConn(t, ConnConfig{}, echoPathHandler)
	reader := bufio.NewReader(client)

	for _, path := range []string{"/one", "/two"} {
		if _, err := client.Write([]byte("GET " + path + " HTTP/1.1\r\nHost: t\r\n\r\n")); err != nil {
			t.Fatalf("write: %v", err)
		}
		resp := readConnResponse(t, reader)
		body, _ := io.ReadAll(resp.Body)
		if string(body) != path {
			t.Errorf("body = %q, want %q", body, path)
		}
		if got := resp.Header.Get("Connection"); got != "keep-alive" {
			t.Errorf("Connection = %q, want keep-alive", got)
		}
	}

	client.Close()
	if err := <-served; err != nil {
		t.Errorf("Serve returned %v, want nil on client EOF", err)
	}
}

func TestConnPipelinedInOrder(t *testing.T) {
	client, _ := startConn(t, ConnConfig{}, echoPathHandler)
	reader := bufio.NewReader(client)

	// Both requests hit the wire before any response is read; the
	// responses must come back in request order.
	go client.Write([]byte(
		"GET /first HTTP/1.1\r\nHost: t\r\n\r\n" +
			"GET /second HTTP/1.1\r\nHost: t\r\n\r\n"))

	for _, want := range []string{"/first", "/second"} {
		resp := readConnResponse(t, reader)
		body, _ := io.ReadAll(resp.Body)
		if string(body) != want {
			t.Errorf("body = %q, want %q", body, want)
		}
	}
}

func TestConnMalformedRequest(t *testing.T) {
	client, served := startConn(t, ConnConfig{}, echoPathHandler)
	reader := bufio.NewReader(client)

	go client.Write([]byte("BOGUS LINE\r\n"))

	resp := readConnResponse(t, reader)
	if resp.StatusCode != 400 {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
	if got := resp.Header.Get("Connection"); got != "close" {
		t.Errorf("Connection = %q, want close", got)
	}

	if _, err := reader.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF after error response, got %v", err)
	}
	if err := <-served; err == nil {
		t.Error("Serve should report the parse error")
	}
}

func TestConnOversizedHeaders431(t *testing.T) {
	cfg := ConnConfig{Limits: Limits{MaxHeaderBytes: 64}}
	client, _ := startConn(t, cfg, echoPathHandler)
	reader := bufio.NewReader(client)

	go client.Write([]byte("GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 100) + "\r\n\r\n"))

	resp := readConnResponse(t, reader)
	if resp.StatusCode != 431 {
		t.Errorf("status = %d, want 431", resp.StatusCode)
	}
}

func TestConnOversizedBody413(t *testing.T) {
	cfg := ConnConfig{Limits: Limits{MaxBodyBytes: 4}}
	client, _ := startConn(t, cfg, echoPathHandler)
	reader := bufio.NewReader(client)

	go client.Write([]byte("POST / HTTP/1.1\r\nContent-Length: 100\r\n\r\n"))

	resp := readConnResponse(t, reader)
	if resp.StatusCode != 413 {
		t.Errorf("status = %d, want 413", resp.StatusCode)
	}
}

func TestConnHTTP10ClosesByDefault(t *testing.T) {
	client, served := startConn(t, ConnConfig{}, echoPathHandler)
	reader := bufio.NewReader(client)

	go client.Write([]byte("GET / HTTP/1.0\r\n\r\n"))

	resp := readConnResponse(t, reader)
	if got := resp.Header.Get("Connection"); got != "close" {
		t.Errorf("Connection = %q, want close", got)
	}
	if _, err := reader.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestConnMaxRequests(t *testing.T) {
	client, served := startConn(t, ConnConfig{MaxRequests: 1}, echoPathHandler)
	reader := bufio.NewReader(client)

	go client.Write([]byte("GET / HTTP/1.1\r\nHost: t\r\n\r\n"))

	resp := readConnResponse(t, reader)
	if got := resp.Header.Get("Connection"); got != "close" {
		t.Errorf("Connection = %q, want close on the final request", got)
	}
	if _, err := reader.ReadByte(); err != io.EOF {
		t.Errorf("expected EOF, got %v", err)
	}
	<-served
}

func TestConnHeaderTimeout408(t *testing.T) {
	cfg := ConnConfig{HeaderTimeout: 50 * time.Millisecond}
	client, served := startConn(t, cfg, echoPathHandler)
	reader := bufio.NewReader(client)

	// A stalled partial request line must draw a 408, not hang.
	go client.Write([]byte("GET / HT"))

	resp := readConnResponse(t, reader)
	if resp.StatusCode != 408 {
		t.Errorf("status = %d, want 408", resp.StatusCode)
	}
	if err := <-served; err != ErrHeaderTimeout {
		t.Errorf("Serve = %v, want ErrHeaderTimeout", err)
	}
}

func TestConnIdleTimeoutSilent(t *testing.T) {
	cfg := ConnConfig{IdleTimeout: 50 * time.Millisecond}
	client, served := startConn(t, cfg, echoPathHandler)

	// No bytes sent: the connection must close without writing anything.
	buf := make([]byte, 1)
	n, err := client.Read(buf)
	if n != 0 || err != io.EOF {
		t.Errorf("read = %d, %v; want 0, EOF", n, err)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil for idle timeout", err)
	}
}

func TestConnHandlerError(t *testing.T) {
	failing := func(req *Request, rw *ResponseWriter) error {
		return io.ErrUnexpectedEOF
	}
	client, _ := startConn(t, ConnConfig{}, failing)
	reader := bufio.NewReader(client)

	go client.Write([]byte("GET / HTTP/1.1\r\nHost: t\r\n\r\n"))

	resp := readConnResponse(t, reader)
	if resp.StatusCode != 500 {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if got := resp.Header.Get("Connection"); got != "close" {
		t.Errorf("Connection = %q, want close", got)
	}
}

func TestConnBodyDelivered(t *testing.T) {
	var gotBody string
	capture := func(req *Request, rw *ResponseWriter) error {
		gotBody = string(req.Body())
		return rw.WriteText(200, []byte("ok"))
	}
	client, _ := startConn(t, ConnConfig{}, capture)
	reader := bufio.NewReader(client)

	go client.Write([]byte("POST /in HTTP/1.1\r\nContent-Length: 7\r\n\r\npayload"))

	readConnResponse(t, reader)
	if gotBody != "payload" {
		t.Errorf("handler saw body %q, want payload", gotBody)
	}
}

func TestConnStateString(t *testing.T) {
	states := map[ConnState]string{
		StateReading:     "reading",
		StateParsing:     "parsing",
		StateDispatching: "dispatching",
		StateWriting:     "writing",
		StateIdle:        "idle",
		StateClosing:     "closing",
	}
	for state, want := range states {
		if state.String() != want {
			t.Errorf("%d.String() = %q, want %q", state, state.String(), want)
		}
	}
}

func TestConnAbortedChunkedStreamCloses(t *testing.T) {
	abort := func(req *Request, rw *ResponseWriter) error {
		if err := rw.WriteChunk([]byte("partial")); err != nil {
			return err
		}
		return io.ErrUnexpectedEOF
	}
	client, served := startConn(t, ConnConfig{}, abort)

	// Pipeline two requests: the second must never be answered, since the
	// first response's chunked body was cut off before its zero chunk and
	// any further bytes would land inside it.
	go client.Write([]byte(
		"GET /a HTTP/1.1\r\nHost: t\r\n\r\n" +
			"GET /b HTTP/1.1\r\nHost: t\r\n\r\n"))

	raw, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	out := string(raw)
	if n := strings.Count(out, "HTTP/1.1"); n != 1 {
		t.Fatalf("responses on the wire = %d, want 1:\n%s", n, out)
	}
	if strings.Contains(out, "0\r\n\r\n") {
		t.Error("aborted stream must not carry a zero chunk")
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestConnShortFixedBodyCloses(t *testing.T) {
	short := func(req *Request, rw *ResponseWriter) error {
		rw.Header().Set([]byte("Content-Length"), []byte("10"))
		_, err := rw.Write([]byte("four"))
		return err
	}
	client, served := startConn(t, ConnConfig{}, short)

	go client.Write([]byte(
		"GET /a HTTP/1.1\r\nHost: t\r\n\r\n" +
			"GET /b HTTP/1.1\r\nHost: t\r\n\r\n"))

	raw, err := io.ReadAll(client)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	// A body short of its declared Content-Length cannot be delimited; the
	// connection must close instead of answering the second request.
	if n := strings.Count(string(raw), "HTTP/1.1"); n != 1 {
		t.Fatalf("responses on the wire = %d, want 1:\n%s", n, raw)
	}
	if err := <-served; err != nil {
		t.Errorf("Serve = %v, want nil", err)
	}
}

func TestConnFinishedChunkedKeepsAlive(t *testing.T) {
	stream := func(req *Request, rw *ResponseWriter) error {
		if err := rw.WriteChunk([]byte(req.NormPath())); err != nil {
			return err
		}
		return rw.FinishChunked()
	}
	client, _ := startConn(t, ConnConfig{}, stream)
	reader := bufio.NewReader(client)

	go client.Write([]byte(
		"GET /one HTTP/1.1\r\nHost: t\r\n\r\n" +
			"GET /two HTTP/1.1\r\nHost: t\r\n\r\n"))

	// A cleanly terminated chunked response keeps the connection usable.
	for _, want := range []string{"/one", "/two"} {
		resp := readConnResponse(t, reader)
		body, _ := io.ReadAll(resp.Body)
		if string(body) != want {
			t.Errorf("body = %q, want %q", body, want)
		}
	}
}

func TestConnWriteTimeout(t *testing.T) {
	big := bytes.Repeat([]byte("x"), 64*1024)
	cfg := ConnConfig{WriteTimeout: 50 * time.Millisecond}
	serveBig := func(req *Request, rw *ResponseWriter) error {
		return rw.WriteText(200, big)
	}
	client, served := startConn(t, cfg, serveBig)

	// Send a request and never read the response; the write deadline must
	// free the serving goroutine.
	go client.Write([]byte("GET / HTTP/1.1\r\nHost: t\r\n\r\n"))

	select {
	case err := <-served:
		var netErr net.Error
		if !errors.As(err, &netErr) || !netErr.Timeout() {
			t.Errorf("Serve = %v, want a timeout error", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after the write deadline")
	}
}
