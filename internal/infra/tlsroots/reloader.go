package tlsroots

import (
	"crypto/tls"
	"fmt"
	"log/slog"
	"sync"

	"github.com/yndnr/deltamesh-go/internal/infra/confloader"
)

// Reloader serves a key pair and reloads it when either file changes. A
// pair that fails to load is logged and the previous one stays in use.
type Reloader struct {
	certFile string
	keyFile  string
	logger   *slog.Logger

	mu   sync.RWMutex
	cert *tls.Certificate

	watcher *confloader.Watcher
}

// NewReloader loads the key pair once. Call Start to follow changes.
func NewReloader(certFile, keyFile string, logger *slog.Logger) (*Reloader, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Reloader{
		certFile: certFile,
		keyFile:  keyFile,
		logger:   logger.With("component", "tls"),
	}
	if err := r.reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Start watches both files.
func (r *Reloader) Start() error {
	w, err := confloader.NewWatcher(confloader.WithWatcherLogger(r.logger))
	if err != nil {
		return fmt.Errorf("tlsroots: create watcher: %w", err)
	}
	for _, path := range []string{r.certFile, r.keyFile} {
		if err := w.Watch(path); err != nil {
			_ = w.Stop()
			return fmt.Errorf("tlsroots: %w", err)
		}
	}

	w.OnChange(func(path string) {
		if err := r.reload(); err != nil {
			r.logger.Error("certificate reload failed", "file", path, "error", err)
		}
	})
	w.StartAsync()
	r.watcher = w
	return nil
}

// Stop ends watching. It is safe to call without Start or on a nil
// Reloader.
func (r *Reloader) Stop() error {
	if r == nil || r.watcher == nil {
		return nil
	}
	return r.watcher.Stop()
}

// GetCertificate implements tls.Config.GetCertificate.
func (r *Reloader) GetCertificate(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cert, nil
}

// ServerConfig returns a server TLS config backed by the reloader. With
// clientCAs set, clients must present a certificate signed by one of
// them.
func (r *Reloader) ServerConfig(clientCAs *Pool) *tls.Config {
	cfg := &tls.Config{
		GetCertificate: r.GetCertificate,
		MinVersion:     tls.VersionTLS12,
	}
	if clientCAs != nil {
		cfg.ClientCAs = clientCAs.CertPool()
		cfg.ClientAuth = tls.RequireAndVerifyClientCert
	}
	return cfg
}

func (r *Reloader) reload() error {
	cert, err := tls.LoadX509KeyPair(r.certFile, r.keyFile)
	if err != nil {
		return fmt.Errorf("tlsroots: load key pair: %w", err)
	}

	r.mu.Lock()
	r.cert = &cert
	r.mu.Unlock()

	attrs := []any{"cert_file", r.certFile}
	if cert.Leaf != nil {
		attrs = append(attrs, "subject", cert.Leaf.Subject.String(), "not_after", cert.Leaf.NotAfter)
	}
	r.logger.Info("certificate loaded", attrs...)
	return nil
}
