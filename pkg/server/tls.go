package server

import (
	"crypto/tls"
	"fmt"
	"sync"

	"ecorewards-engine/pkg/config"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// CertReloader serves the current key pair and swaps it whenever the files
// on disk change. HTTP and gRPC share one instance.
type CertReloader struct {
	mu       sync.RWMutex
	cert     *tls.Certificate
	certPath string
	keyPath  string
}

// NewCertReloader returns nil when TLS is disabled.
func NewCertReloader(cfg *config.Config) (*CertReloader, error) {
	if !cfg.TLS.Enable {
		return nil, nil
	}

	r := &CertReloader{certPath: cfg.TLS.CertPath, keyPath: cfg.TLS.KeyPath}
	if err := r.reload(); err != nil {
		return nil, err
	}
	go r.watch()
	return r, nil
}

func (r *CertReloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certPath, r.keyPath)
	if err != nil {
		return fmt.Errorf("load tls keypair: %w", err)
	}
	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()
	zap.L().Info("TLS certificate loaded", zap.String("cert_path", r.certPath))
	return nil
}

func (r *CertReloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.cert == nil {
		return nil, fmt.Errorf("no TLS cert loaded")
	}
	return r.cert, nil
}

// TLSConfig is the server config backed by the reloader.
func (r *CertReloader) TLSConfig() *tls.Config {
	return &tls.Config{
		MinVersion:     tls.VersionTLS12,
		GetCertificate: r.GetCertificate,
	}
}

func (r *CertReloader) watch() {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		zap.L().Error("failed to create fsnotify watcher", zap.Error(err))
		return
	}
	defer watcher.Close()

	_ = watcher.Add(r.certPath)
	_ = watcher.Add(r.keyPath)

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// A failed reload keeps serving the previous pair.
			if err := r.reload(); err != nil {
				zap.L().Error("failed to reload TLS cert", zap.Error(err))
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			zap.L().Error("watcher error", zap.Error(err))
		}
	}
}
