// Command filament-echo is a demo server exercising the engine: plain
// responses, forced error paths, chunked streaming with trailers, and
// compressed echo.
package main

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/yourusername/filament/pkg/filament/compress"
	"github.com/yourusername/filament/pkg/filament/http11"
	"github.com/yourusername/filament/pkg/filament/obs"
	"github.com/yourusername/filament/pkg/filament/router"
	"github.com/yourusername/filament/pkg/filament/server"
	filamenttls "github.com/yourusername/filament/pkg/filament/tls"
)

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	metricsAddr := flag.String("metrics-addr", "", "optional Prometheus scrape address")
	certFile := flag.String("cert", "", "TLS certificate file")
	keyFile := flag.String("key", "", "TLS key file")
	selfSigned := flag.Bool("self-signed", false, "serve TLS with a generated self-signed certificate")
	maxConns := flag.Int("max-conns", 0, "max concurrent connections, 0 for unlimited")
	flag.Parse()

	logger := obs.StdLogger{L: log.New(os.Stderr, "", log.LstdFlags), Min: obs.Debug}

	r := router.New()
	registerRoutes(r)

	cfg := server.DefaultConfig()
	cfg.Addr = *addr
	cfg.Handler = r.Handler()
	cfg.MaxConnections = *maxConns
	cfg.Logger = logger

	if *metricsAddr != "" {
		registry := prometheus.NewRegistry()
		cfg.Metrics = obs.NewMetrics(registry)
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Logf(obs.Error, "metrics listener: %v", err)
			}
		}()
	}

	switch {
	case *selfSigned:
		cert, err := filamenttls.GenerateSelfSigned("localhost", "127.0.0.1")
		if err != nil {
			log.Fatalf("generate certificate: %v", err)
		}
		cfg.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{"http/1.1"},
		}
	case *certFile != "" && *keyFile != "":
		tlsCfg, err := filamenttls.NewConfig().WithManualCert(*certFile, *keyFile).WithWatch().Build()
		if err != nil {
			log.Fatalf("tls: %v", err)
		}
		cfg.TLSConfig = tlsCfg
	}

	srv := server.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Logf(obs.Warn, "shutdown: %v", err)
		}
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, server.ErrServerClosed) {
		log.Fatalf("serve: %v", err)
	}
}

func registerRoutes(r *router.Router) {
	r.GET("/", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return rw.WriteHTML(200, []byte("<html><body><h1>All good!</h1></body></html>"))
	})

	r.GET("/yourproblem", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return rw.WriteHTML(400, []byte("<html><body><h1>Bad Request</h1></body></html>"))
	})

	r.GET("/myproblem", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return errors.New("simulated handler failure")
	})

	// Streams chunks, then announces the body digest and length in
	// trailers so clients can verify what they received.
	r.GET("/stream", func(req *http11.Request, rw *http11.ResponseWriter) error {
		rw.Header().Set([]byte("Content-Type"), []byte("text/plain"))
		rw.Header().Set([]byte("Trailer"), []byte("X-Content-SHA256, X-Content-Length"))

		hasher := sha256.New()
		total := 0
		for i := 0; i < 10; i++ {
			chunk := []byte(fmt.Sprintf("chunk %d\n", i))
			if err := rw.WriteChunk(chunk); err != nil {
				return err
			}
			hasher.Write(chunk)
			total += len(chunk)
		}

		var trailers http11.Header
		trailers.Add([]byte("X-Content-SHA256"), []byte(hex.EncodeToString(hasher.Sum(nil))))
		trailers.Add([]byte("X-Content-Length"), []byte(fmt.Sprintf("%d", total)))
		return rw.FinishChunkedTrailers(&trailers)
	})

	// Echoes the request body back, compressed when the client accepts it.
	r.POST("/echo", func(req *http11.Request, rw *http11.ResponseWriter) error {
		contentType := req.GetHeader([]byte("Content-Type"))
		if len(contentType) == 0 {
			contentType = []byte("application/octet-stream")
		}
		return compress.WrapBody(req, rw, 200, contentType, req.Body())
	})

	r.GET("/healthz", func(req *http11.Request, rw *http11.ResponseWriter) error {
		return rw.WriteJSON(200, []byte(`{"status":"ok"}`))
	})
}
