package connection

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewHTTPClient(t *testing.T) {
	tests := []struct {
		name   string
		server string
		want   string
	}{
		{"with http prefix", "http://localhost:9464", "http://localhost:9464"},
		{"with https prefix", "https://localhost:9464", "https://localhost:9464"},
		{"without prefix", "localhost:9464", "http://localhost:9464"},
		{"trailing slash", "localhost:9464/", "http://localhost:9464"},
		{"unix socket", "unix:///run/deltamesh/admin.sock", "http://unix"},
		{"tls without prefix", "localhost:9464", "https://localhost:9464"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var opts []ClientOption
			if strings.HasPrefix(tt.name, "tls") {
				opts = append(opts, WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
			}
			if got := NewHTTPClient(tt.server, opts...).BaseURL(); got != tt.want {
				t.Errorf("BaseURL() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestHTTPClient_Get(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if !strings.HasPrefix(r.Header.Get("User-Agent"), "deltamesh/") {
			t.Errorf("User-Agent = %q", r.Header.Get("User-Agent"))
		}
		if r.URL.Path != "/test/path" {
			t.Errorf("path = %q", r.URL.Path)
		}
		w.Write([]byte(`{"code":"OK"}`))
	}))
	defer server.Close()

	resp, err := NewHTTPClient(server.URL).Get(context.Background(), "/test/path")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	resp.Body.Close()
}

func TestHTTPClient_Post(t *testing.T) {
	tests := []struct {
		name     string
		body     any
		wantBody string
		wantType string
	}{
		{"json body", map[string]string{"k": "v"}, `{"k":"v"}`, "application/json"},
		{"nil body", nil, "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost {
					t.Errorf("method = %q, want POST", r.Method)
				}
				if got := r.Header.Get("Content-Type"); got != tt.wantType {
					t.Errorf("Content-Type = %q, want %q", got, tt.wantType)
				}
				body, _ := io.ReadAll(r.Body)
				if string(body) != tt.wantBody {
					t.Errorf("body = %q, want %q", body, tt.wantBody)
				}
			}))
			defer server.Close()

			resp, err := NewHTTPClient(server.URL).Post(context.Background(), "/p", tt.body)
			if err != nil {
				t.Fatalf("Post() error = %v", err)
			}
			resp.Body.Close()
		})
	}
}

func TestParseResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantErr  bool
		wantCode string
		wantData string
	}{
		{
			name:     "success",
			status:   http.StatusOK,
			body:     `{"code":"OK","data":{"name":"x"}}`,
			wantData: "x",
		},
		{
			name:     "error envelope",
			status:   http.StatusNotFound,
			body:     `{"code":"DM-OBJ-4040","message":"object not found","request_id":"req-1"}`,
			wantErr:  true,
			wantCode: "DM-OBJ-4040",
		},
		{
			name:     "error with data",
			status:   http.StatusInternalServerError,
			body:     `{"code":"OK","data":{"name":"failed"}}`,
			wantErr:  true,
			wantCode: "OK",
			wantData: "failed",
		},
		{
			name:    "error without body",
			status:  http.StatusBadGateway,
			body:    ``,
			wantErr: true,
		},
		{
			name:    "invalid json",
			status:  http.StatusOK,
			body:    `{`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			rec.WriteHeader(tt.status)
			rec.WriteString(tt.body)

			var out struct {
				Name string `json:"name"`
			}
			err := ParseResponse(rec.Result(), &out)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseResponse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if out.Name != tt.wantData {
				t.Errorf("data = %q, want %q", out.Name, tt.wantData)
			}

			var apiErr *APIError
			if tt.wantCode != "" {
				if !errors.As(err, &apiErr) || apiErr.Code != tt.wantCode {
					t.Errorf("error = %v, want code %s", err, tt.wantCode)
				}
			}
			if tt.status >= 400 && errors.As(err, &apiErr) && apiErr.Status != tt.status {
				t.Errorf("Status = %d, want %d", apiErr.Status, tt.status)
			}
		})
	}
}

func TestParseResponse_NilTarget(t *testing.T) {
	rec := httptest.NewRecorder()
	_ = json.NewEncoder(rec).Encode(map[string]any{"code": "OK", "data": map[string]int{"n": 1}})

	if err := ParseResponse(rec.Result(), nil); err != nil {
		t.Errorf("ParseResponse() error = %v", err)
	}
}

func TestHTTPClient_UnixSocket(t *testing.T) {
	dir, err := os.MkdirTemp("", "dm")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.RemoveAll(dir) })
	path := filepath.Join(dir, "admin.sock")

	ln, err := net.Listen("unix", path)
	if err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewUnstartedServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "OK", "data": map[string]string{"name": r.URL.Path}})
	}))
	srv.Listener = ln
	srv.Start()
	defer srv.Close()

	c := NewHTTPClient("unix://" + path)
	resp, err := c.Get(context.Background(), "/health")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := ParseResponse(resp, &out); err != nil {
		t.Fatalf("ParseResponse() error = %v", err)
	}
	if out.Name != "/health" {
		t.Errorf("path = %q, want /health", out.Name)
	}
}

func TestHTTPClient_TLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"code": "OK"})
	}))
	defer srv.Close()

	addr := strings.TrimPrefix(srv.URL, "https://")

	untrusted := NewHTTPClient(addr, WithTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12}))
	if _, err := untrusted.Get(context.Background(), "/"); err == nil {
		t.Error("Get() against an untrusted certificate succeeded")
	}

	pool := srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs
	trusted := NewHTTPClient(addr, WithTLSConfig(&tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}))
	resp, err := trusted.Get(context.Background(), "/")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if err := ParseResponse(resp, nil); err != nil {
		t.Errorf("ParseResponse() error = %v", err)
	}
}
