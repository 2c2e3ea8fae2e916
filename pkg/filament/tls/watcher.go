package tls

import (
	"crypto/tls"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
)

// certWatcher serves a certificate from disk and reloads it when the files
// change. Renewal tooling can drop new files in place and the next
// handshake picks them up.
type certWatcher struct {
	certFile string
	keyFile  string

	cert atomic.Pointer[tls.Certificate]

	watcher   *fsnotify.Watcher
	closeOnce sync.Once
	done      chan struct{}
}

func newCertWatcher(certFile, keyFile string) (*certWatcher, error) {
	cw := &certWatcher{
		certFile: certFile,
		keyFile:  keyFile,
		done:     make(chan struct{}),
	}
	if err := cw.reload(); err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	cw.watcher = watcher

	// Watch the parent directories: renewals usually replace files via
	// rename, which drops a watch on the file itself.
	dirs := map[string]struct{}{
		filepath.Dir(certFile): {},
		filepath.Dir(keyFile):  {},
	}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, err
		}
	}

	go cw.run()
	return cw, nil
}

func (cw *certWatcher) run() {
	for {
		select {
		case <-cw.done:
			return
		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if !cw.relevant(event.Name) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// A failed reload keeps the previous certificate. The key
			// may land before the cert; the next event retries.
			_ = cw.reload()
		case _, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
		}
	}
}

func (cw *certWatcher) relevant(name string) bool {
	return name == cw.certFile || name == cw.keyFile
}

func (cw *certWatcher) reload() error {
	cert, err := tls.LoadX509KeyPair(cw.certFile, cw.keyFile)
	if err != nil {
		return err
	}
	cw.cert.Store(&cert)
	return nil
}

// GetCertificate implements tls.Config.GetCertificate.
func (cw *certWatcher) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	cert := cw.cert.Load()
	if cert == nil {
		return nil, errors.New("tls: no certificate loaded")
	}
	return cert, nil
}

// Close stops watching. Safe to call more than once.
func (cw *certWatcher) Close() {
	cw.closeOnce.Do(func() {
		close(cw.done)
		if cw.watcher != nil {
			cw.watcher.Close()
		}
	})
}
