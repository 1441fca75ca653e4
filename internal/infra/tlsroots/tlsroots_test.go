package tlsroots

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"io"
	"math/big"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// writeKeyPair writes a self-signed certificate for 127.0.0.1 usable by
// both servers and clients, and returns its paths.
func writeKeyPair(t *testing.T, dir, name string, serial int64) (certFile, keyFile string) {
	t.Helper()

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatal(err)
	}
	template := &x509.Certificate{
		SerialNumber:          big.NewInt(serial),
		Subject:               pkix.Name{CommonName: name},
		NotBefore:             time.Now().Add(-time.Minute),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
		IPAddresses:           []net.IP{net.IPv4(127, 0, 0, 1)},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		t.Fatal(err)
	}

	certFile = filepath.Join(dir, name+".crt")
	keyFile = filepath.Join(dir, name+".key")
	if err := os.WriteFile(certFile, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(keyFile, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		t.Fatal(err)
	}
	return certFile, keyFile
}

func serial(t *testing.T, r *Reloader) int64 {
	t.Helper()
	cert, _ := r.GetCertificate(nil)
	leaf, err := x509.ParseCertificate(cert.Certificate[0])
	if err != nil {
		t.Fatal(err)
	}
	return leaf.SerialNumber.Int64()
}

func TestPool_AddPEM(t *testing.T) {
	certFile, keyFile := writeKeyPair(t, t.TempDir(), "a", 1)
	otherFile, _ := writeKeyPair(t, t.TempDir(), "b", 2)
	certPEM, _ := os.ReadFile(certFile)
	otherPEM, _ := os.ReadFile(otherFile)
	keyPEM, _ := os.ReadFile(keyFile)

	tests := []struct {
		name    string
		data    []byte
		want    int
		wantErr error
	}{
		{"certificate", certPEM, 1, nil},
		{"bundle", append(append([]byte{}, certPEM...), otherPEM...), 2, nil},
		{"key blocks are skipped", append(append([]byte{}, keyPEM...), certPEM...), 1, nil},
		{"empty", nil, 0, ErrNoCertsFound},
		{"only a key", keyPEM, 0, ErrNoCertsFound},
		{"not pem", []byte("hello"), 0, ErrNoCertsFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPool()
			n, err := p.AddPEM(tt.data)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("AddPEM() error = %v, want %v", err, tt.wantErr)
			}
			if n != tt.want || p.Len() != tt.want {
				t.Errorf("AddPEM() = %d, Len() = %d, want %d", n, p.Len(), tt.want)
			}
		})
	}

	bad := append(append([]byte{}, certPEM...), pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: []byte("junk")})...)
	p := NewPool()
	if _, err := p.AddPEM(bad); err == nil || errors.Is(err, ErrNoCertsFound) {
		t.Errorf("AddPEM(junk) error = %v, want parse error", err)
	}
	if p.Len() != 0 {
		t.Errorf("Len() after failed AddPEM = %d, want 0", p.Len())
	}
}

func TestLoadPool(t *testing.T) {
	dir := t.TempDir()
	a, _ := writeKeyPair(t, dir, "ca-a", 1)
	b, _ := writeKeyPair(t, dir, "ca-b", 2)

	p, err := LoadPool(a, b)
	if err != nil {
		t.Fatalf("LoadPool() error = %v", err)
	}
	if p.Len() != 2 {
		t.Errorf("Len() = %d, want 2", p.Len())
	}
	if _, err := LoadPool(a, filepath.Join(dir, "missing.crt")); err == nil {
		t.Error("LoadPool(missing) expected error")
	}
	if SystemPool().CertPool() == nil {
		t.Error("SystemPool().CertPool() = nil")
	}
	if SystemPool().Len() != 0 {
		t.Error("system roots should not be listed")
	}
}

func TestPool_ExpiringBefore(t *testing.T) {
	certFile, _ := writeKeyPair(t, t.TempDir(), "ca", 1)
	p, err := LoadPool(certFile)
	if err != nil {
		t.Fatal(err)
	}

	if got := p.ExpiringBefore(time.Now()); len(got) != 0 {
		t.Errorf("ExpiringBefore(now) = %d certs, want 0", len(got))
	}
	got := p.ExpiringBefore(time.Now().Add(2 * time.Hour))
	if len(got) != 1 || got[0].Subject.CommonName != "ca" {
		t.Errorf("ExpiringBefore(+2h) = %v", got)
	}
}

func TestReloader_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeKeyPair(t, dir, "server", 1)

	r, err := NewReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatalf("NewReloader() error = %v", err)
	}
	if err := r.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop()

	if got := serial(t, r); got != 1 {
		t.Fatalf("serial = %d, want 1", got)
	}

	writeKeyPair(t, dir, "server", 2)

	deadline := time.Now().Add(3 * time.Second)
	for serial(t, r) != 2 {
		if time.Now().After(deadline) {
			t.Fatal("certificate was not reloaded")
		}
		time.Sleep(20 * time.Millisecond)
	}
}

func TestReloader_KeepsPairOnBadReload(t *testing.T) {
	dir := t.TempDir()
	certFile, keyFile := writeKeyPair(t, dir, "server", 7)

	r, err := NewReloader(certFile, keyFile, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(certFile, []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := r.reload(); err == nil {
		t.Fatal("reload() of garbage expected error")
	}
	if got := serial(t, r); got != 7 {
		t.Errorf("serial = %d, want previous pair", got)
	}
}

func TestNewReloader_Missing(t *testing.T) {
	dir := t.TempDir()
	if _, err := NewReloader(filepath.Join(dir, "x.crt"), filepath.Join(dir, "x.key"), nil); err == nil {
		t.Error("NewReloader() with missing files expected error")
	}
	var r Reloader
	if err := r.Stop(); err != nil {
		t.Errorf("Stop() without Start = %v", err)
	}
}

func TestMutualTLS(t *testing.T) {
	dir := t.TempDir()
	serverCert, serverKey := writeKeyPair(t, dir, "server", 1)
	clientCert, clientKey := writeKeyPair(t, dir, "client", 2)

	r, err := NewReloader(serverCert, serverKey, nil)
	if err != nil {
		t.Fatal(err)
	}
	clientCAs, err := LoadPool(clientCert)
	if err != nil {
		t.Fatal(err)
	}

	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, r.TLS.PeerCertificates[0].Subject.CommonName)
	}))
	srv.TLS = r.ServerConfig(clientCAs)
	srv.StartTLS()
	defer srv.Close()

	roots, err := LoadPool(serverCert)
	if err != nil {
		t.Fatal(err)
	}

	get := func(cfg *tls.Config) (string, error) {
		client := &http.Client{Transport: &http.Transport{TLSClientConfig: cfg}}
		resp, err := client.Get(srv.URL)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		body, err := io.ReadAll(resp.Body)
		return string(body), err
	}

	withCert, err := roots.ClientConfig(clientCert, clientKey)
	if err != nil {
		t.Fatal(err)
	}
	if got, err := get(withCert); err != nil || got != "client" {
		t.Errorf("mutual TLS = %q, %v", got, err)
	}

	withoutCert, err := roots.ClientConfig("", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := get(withoutCert); err == nil {
		t.Error("request without client certificate succeeded")
	}

	if _, err := roots.ClientConfig(clientCert, filepath.Join(dir, "missing.key")); err == nil {
		t.Error("ClientConfig() with missing key expected error")
	}
}
