package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/yourusername/filament/pkg/filament/http11"
	"github.com/yourusername/filament/pkg/filament/router"
	filamenttls "github.com/yourusername/filament/pkg/filament/tls"
)

func testRouter() *router.Router {
	r := router.New()
	r.GET("/ping", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return rw.WriteText(200, []byte("pong"))
	})
	r.POST("/echo", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return rw.WriteText(200, req.Body())
	})
	return r
}

// startServer serves on a loopback listener and returns its address.
func startServer(t *testing.T, cfg Config) (*Server, string) {
	t.Helper()
	if cfg.Handler == nil {
		cfg.Handler = testRouter().Handler()
	}
	srv := New(cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- srv.Serve(ln)
	}()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})
	return srv, ln.Addr().String()
}

func doRequest(t *testing.T, conn net.Conn, raw string) *http.Response {
	t.Helper()
	if _, err := conn.Write([]byte(raw)); err != nil {
		t.Fatalf("write: %v", err)
	}
	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		t.Fatalf("ReadResponse: %v", err)
	}
	return resp
}

func TestServerBasicRequest(t *testing.T) {
	srv, addr := startServer(t, Config{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := doRequest(t, conn, "GET /ping HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status = %d", resp.StatusCode)
	}
	if string(body) != "pong" {
		t.Errorf("body = %q", body)
	}

	// The server closes the connection after the response; stats are final
	// once EOF arrives.
	io.Copy(io.Discard, conn)
	if srv.Stats().TotalRequests.Load() != 1 {
		t.Errorf("requests = %d, want 1", srv.Stats().TotalRequests.Load())
	}
}

func TestServerEchoBody(t *testing.T) {
	_, addr := startServer(t, Config{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	resp := doRequest(t, conn, "POST /echo HTTP/1.1\r\nHost: t\r\nContent-Length: 5\r\nConnection: close\r\n\r\nhello")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if string(body) != "hello" {
		t.Errorf("body = %q", body)
	}
}

func TestServerConcurrencyCap(t *testing.T) {
	srv, addr := startServer(t, Config{MaxConnections: 1})

	// First connection parks in keep-alive, holding the only slot.
	first, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer first.Close()
	resp := doRequest(t, first, "GET /ping HTTP/1.1\r\nHost: t\r\n\r\n")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	second, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial second: %v", err)
	}
	defer second.Close()

	over, err := http.ReadResponse(bufio.NewReader(second), nil)
	if err != nil {
		t.Fatalf("read overload response: %v", err)
	}
	if over.StatusCode != 503 {
		t.Errorf("status = %d, want 503", over.StatusCode)
	}
	over.Body.Close()

	if srv.Stats().RejectedConns.Load() != 1 {
		t.Errorf("rejected = %d, want 1", srv.Stats().RejectedConns.Load())
	}

	// Releasing the first slot lets new connections through again.
	first.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		third, err := net.Dial("tcp", addr)
		if err != nil {
			t.Fatalf("dial third: %v", err)
		}
		resp := doRequest(t, third, "GET /ping HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
		code := resp.StatusCode
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		third.Close()
		if code == 200 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("slot never released, last status %d", code)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestServerGracefulShutdown(t *testing.T) {
	srv, addr := startServer(t, Config{})

	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp := doRequest(t, conn, "GET /ping HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown = %v", err)
	}

	// The listener is gone.
	if _, err := net.DialTimeout("tcp", addr, 200*time.Millisecond); err == nil {
		t.Error("dial after shutdown should fail")
	}
}

func TestServerTLS(t *testing.T) {
	cert, err := filamenttls.GenerateSelfSigned("127.0.0.1")
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	_, addr := startServer(t, Config{
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		},
	})

	conn, err := tls.Dial("tcp", addr, &tls.Config{InsecureSkipVerify: true})
	if err != nil {
		t.Fatalf("tls dial: %v", err)
	}
	defer conn.Close()

	resp := doRequest(t, conn, "GET /ping HTTP/1.1\r\nHost: t\r\nConnection: close\r\n\r\n")
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != 200 || string(body) != "pong" {
		t.Errorf("status = %d, body = %q", resp.StatusCode, body)
	}
}

func TestServerTLSHandshakeFailureDiscarded(t *testing.T) {
	cert, err := filamenttls.GenerateSelfSigned("127.0.0.1")
	if err != nil {
		t.Fatalf("generate cert: %v", err)
	}
	srv, addr := startServer(t, Config{
		TLSConfig: &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
		},
	})

	// Plaintext bytes against a TLS listener never reach the HTTP layer.
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Write([]byte("GET /ping HTTP/1.1\r\n\r\n"))
	buf := make([]byte, 256)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, err := conn.Read(buf); err != nil {
			break
		}
	}
	conn.Close()

	if srv.Stats().TotalRequests.Load() != 0 {
		t.Errorf("requests = %d, want 0", srv.Stats().TotalRequests.Load())
	}
}

func TestServerRequiresHandler(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic without a handler")
		}
	}()
	New(Config{})
}

func TestServerClosedError(t *testing.T) {
	cfg := Config{Handler: testRouter().Handler()}
	srv := New(cfg)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ln) }()

	time.Sleep(50 * time.Millisecond)
	srv.Close()

	if err := <-done; !errors.Is(err, ErrServerClosed) {
		t.Errorf("Serve = %v, want ErrServerClosed", err)
	}
}
