// Package tls builds server TLS configurations: manual certificate files
// with hot reload, automatic certificates via ACME, and self-signed
// certificates for development.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"

	"golang.org/x/crypto/acme"
	"golang.org/x/crypto/acme/autocert"
)

// letsEncryptStagingURL is the ACME staging directory, for testing issuance
// without burning rate limits.
const letsEncryptStagingURL = "https://acme-staging-v02.api.letsencrypt.org/directory"

// defaultCipherSuites lists the TLS 1.2 suites we accept. TLS 1.3 suites
// are not configurable and always on.
var defaultCipherSuites = []uint16{
	tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
	tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
	tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
}

// Config describes how to obtain and serve certificates. Use NewConfig and
// the With* builders.
type Config struct {
	// Automatic certificates.
	AutoCert bool
	Email    string
	Domains  []string
	CertDir  string
	Staging  bool

	// Manual certificate files.
	CertFile string
	KeyFile  string

	// Watch reloads CertFile and KeyFile when they change on disk.
	Watch bool

	MinVersion   uint16
	MaxVersion   uint16
	CipherSuites []uint16
	ClientAuth   tls.ClientAuthType
	NextProtos   []string

	watcher *certWatcher
	manager *autocert.Manager
}

// NewConfig returns a Config with modern defaults: TLS 1.2 minimum, strong
// ciphers, HTTP/1.1 ALPN.
func NewConfig() *Config {
	return &Config{
		MinVersion:   tls.VersionTLS12,
		MaxVersion:   tls.VersionTLS13,
		CipherSuites: defaultCipherSuites,
		NextProtos:   []string{"http/1.1"},
	}
}

// WithAutoCert enables automatic certificates for the given domains.
func (c *Config) WithAutoCert(email string, domains ...string) *Config {
	c.AutoCert = true
	c.Email = email
	c.Domains = domains
	return c
}

// WithStaging points automatic issuance at the staging environment.
func (c *Config) WithStaging() *Config {
	c.Staging = true
	return c
}

// WithCertDir sets the cache directory for automatic certificates.
func (c *Config) WithCertDir(dir string) *Config {
	c.CertDir = dir
	return c
}

// WithManualCert serves the given certificate and key files.
func (c *Config) WithManualCert(certFile, keyFile string) *Config {
	c.AutoCert = false
	c.CertFile = certFile
	c.KeyFile = keyFile
	return c
}

// WithWatch reloads manual certificate files when they change, so renewals
// take effect without a restart.
func (c *Config) WithWatch() *Config {
	c.Watch = true
	return c
}

// WithMinTLSVersion sets the minimum TLS version.
func (c *Config) WithMinTLSVersion(version uint16) *Config {
	c.MinVersion = version
	return c
}

// WithALPN sets the advertised ALPN protocols.
func (c *Config) WithALPN(protos ...string) *Config {
	c.NextProtos = protos
	return c
}

// WithClientAuth enables client certificate authentication.
func (c *Config) WithClientAuth(authType tls.ClientAuthType) *Config {
	c.ClientAuth = authType
	return c
}

// Build materializes the *tls.Config.
func (c *Config) Build() (*tls.Config, error) {
	if c.AutoCert {
		return c.buildAutoCert()
	}
	return c.buildManualCert()
}

func (c *Config) base() *tls.Config {
	return &tls.Config{
		MinVersion:   c.MinVersion,
		MaxVersion:   c.MaxVersion,
		CipherSuites: c.CipherSuites,
		ClientAuth:   c.ClientAuth,
		NextProtos:   c.NextProtos,
	}
}

func (c *Config) buildAutoCert() (*tls.Config, error) {
	if c.Email == "" {
		return nil, errors.New("tls: email is required for automatic certificates")
	}
	if len(c.Domains) == 0 {
		return nil, errors.New("tls: at least one domain is required for automatic certificates")
	}

	manager := &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Email:      c.Email,
		HostPolicy: autocert.HostWhitelist(c.Domains...),
	}
	if c.CertDir != "" {
		manager.Cache = autocert.DirCache(c.CertDir)
	}
	if c.Staging {
		manager.Client = &acme.Client{DirectoryURL: letsEncryptStagingURL}
	}
	c.manager = manager

	cfg := c.base()
	cfg.GetCertificate = manager.GetCertificate
	// The ACME TLS-ALPN challenge arrives on the serving port.
	cfg.NextProtos = append(cfg.NextProtos, acme.ALPNProto)
	return cfg, nil
}

func (c *Config) buildManualCert() (*tls.Config, error) {
	if c.CertFile == "" || c.KeyFile == "" {
		return nil, errors.New("tls: certificate and key files are required")
	}

	cfg := c.base()
	if c.Watch {
		watcher, err := newCertWatcher(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("tls: watch certificate: %w", err)
		}
		c.watcher = watcher
		cfg.GetCertificate = watcher.GetCertificate
		return cfg, nil
	}

	cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
	if err != nil {
		return nil, fmt.Errorf("tls: load certificate: %w", err)
	}
	cfg.Certificates = []tls.Certificate{cert}
	return cfg, nil
}

// Stop releases the file watcher, if any.
func (c *Config) Stop() {
	if c.watcher != nil {
		c.watcher.Close()
		c.watcher = nil
	}
}

// ManualTLS builds a config serving the given certificate files.
func ManualTLS(certFile, keyFile string) (*tls.Config, error) {
	return NewConfig().WithManualCert(certFile, keyFile).Build()
}

// QuickTLS builds a config with automatic certificates. The simplest path
// to HTTPS.
func QuickTLS(email string, domains ...string) (*tls.Config, error) {
	return NewConfig().WithAutoCert(email, domains...).Build()
}
