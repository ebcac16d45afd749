// Package tlsutil serves the proxy's certificate pair and swaps it when the
// files are rotated on disk.
package tlsutil

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dskow/luis-proxy/internal/config"
)

const reloadDebounce = 300 * time.Millisecond

// CertLoader holds the active certificate. The parent directories are
// watched rather than the files so that rotations done by renaming a new
// file into place are seen as well.
type CertLoader struct {
	cert     atomic.Pointer[tls.Certificate]
	certFile string
	keyFile  string
	logger   *slog.Logger

	watcher  *fsnotify.Watcher
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New loads the pair named by cfg and starts watching it.
func New(cfg config.TLSConfig, logger *slog.Logger) (*CertLoader, error) {
	cl := &CertLoader{
		certFile: filepath.Clean(cfg.CertFile),
		keyFile:  filepath.Clean(cfg.KeyFile),
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	if err := cl.load(); err != nil {
		return nil, fmt.Errorf("loading certificate: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating certificate watcher: %w", err)
	}
	dirs := map[string]bool{filepath.Dir(cl.certFile): true, filepath.Dir(cl.keyFile): true}
	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			watcher.Close()
			return nil, fmt.Errorf("watching %s: %w", dir, err)
		}
	}
	cl.watcher = watcher
	go cl.watchLoop()

	logger.Info("TLS certificate loaded", "cert_file", cl.certFile, "key_file", cl.keyFile)
	return cl, nil
}

// TLSConfig returns a server config that picks up reloaded certificates
// on the next handshake.
func (cl *CertLoader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: cl.GetCertificate,
	}
}

// GetCertificate returns the active certificate.
func (cl *CertLoader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	return cl.cert.Load(), nil
}

// Reload reads the pair again. On failure the previous certificate stays
// active.
func (cl *CertLoader) Reload() error {
	if err := cl.load(); err != nil {
		cl.logger.Error("TLS certificate reload failed, keeping current",
			"cert_file", cl.certFile, "key_file", cl.keyFile, "error", err)
		return err
	}
	cl.logger.Info("TLS certificate reloaded", "cert_file", cl.certFile)
	return nil
}

// Stop ends the watcher. Safe to call more than once.
func (cl *CertLoader) Stop() {
	cl.stopOnce.Do(func() {
		close(cl.stopCh)
		if cl.watcher != nil {
			cl.watcher.Close()
		}
	})
}

func (cl *CertLoader) load() error {
	cert, err := tls.LoadX509KeyPair(cl.certFile, cl.keyFile)
	if err != nil {
		return err
	}
	cl.cert.Store(&cert)
	return nil
}

func (cl *CertLoader) watchLoop() {
	var debounce *time.Timer
	for {
		select {
		case event, ok := <-cl.watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != cl.certFile && name != cl.keyFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(reloadDebounce, func() {
				cl.Reload() //nolint:errcheck
			})
		case err, ok := <-cl.watcher.Errors:
			if !ok {
				return
			}
			cl.logger.Error("TLS certificate watcher error", "error", err)
		case <-cl.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}
