package tlsroots

import (
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrNoCertsFound is returned when PEM data holds no certificate.
var ErrNoCertsFound = errors.New("tlsroots: no certificates found in PEM data")

// Pool is a set of trusted CA certificates. It keeps the certificates
// added to it, so their validity can be reported; system roots are
// trusted but not listed.
type Pool struct {
	pool  *x509.CertPool
	certs []*x509.Certificate
}

// NewPool creates an empty pool.
func NewPool() *Pool {
	return &Pool{pool: x509.NewCertPool()}
}

// SystemPool creates a pool seeded with the system roots, or an empty
// pool where they are unavailable.
func SystemPool() *Pool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		return NewPool()
	}
	return &Pool{pool: pool}
}

// LoadPool creates an empty pool holding the certificates of every file
// in paths.
func LoadPool(paths ...string) (*Pool, error) {
	p := NewPool()
	for _, path := range paths {
		if err := p.AddFile(path); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// AddFile adds every certificate of a PEM file.
func (p *Pool) AddFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("tlsroots: read %s: %w", path, err)
	}
	if _, err := p.AddPEM(data); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	return nil
}

// AddPEM adds every CERTIFICATE block of data and returns how many it
// added. Other block types are skipped. Nothing is added when any
// certificate fails to parse.
func (p *Pool) AddPEM(data []byte) (int, error) {
	var parsed []*x509.Certificate
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		cert, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return 0, fmt.Errorf("tlsroots: parse certificate %d: %w", len(parsed)+1, err)
		}
		parsed = append(parsed, cert)
	}
	if len(parsed) == 0 {
		return 0, ErrNoCertsFound
	}

	for _, cert := range parsed {
		p.pool.AddCert(cert)
	}
	p.certs = append(p.certs, parsed...)
	return len(parsed), nil
}

// Len returns the number of certificates added with AddPEM or AddFile.
func (p *Pool) Len() int {
	return len(p.certs)
}

// ExpiringBefore returns the added certificates that are no longer valid
// at t.
func (p *Pool) ExpiringBefore(t time.Time) []*x509.Certificate {
	var out []*x509.Certificate
	for _, cert := range p.certs {
		if !t.Before(cert.NotAfter) {
			out = append(out, cert)
		}
	}
	return out
}

// CertPool returns the pool for use in a tls.Config.
func (p *Pool) CertPool() *x509.CertPool {
	return p.pool
}

// ClientConfig returns a client TLS config trusting the pool. With
// certFile and keyFile set the client also presents that key pair.
func (p *Pool) ClientConfig(certFile, keyFile string) (*tls.Config, error) {
	cfg := &tls.Config{
		RootCAs:    p.pool,
		MinVersion: tls.VersionTLS12,
	}
	if certFile == "" && keyFile == "" {
		return cfg, nil
	}

	pair, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("tlsroots: load client key pair: %w", err)
	}
	cfg.Certificates = []tls.Certificate{pair}
	return cfg, nil
}
