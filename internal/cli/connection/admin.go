package connection

import (
	"context"
	"fmt"
	"net/url"

	"github.com/yndnr/deltamesh-go/internal/server/httpserver/handler"
	"github.com/yndnr/deltamesh-go/internal/storage/snapshot"
)

// AdminClient calls the admin endpoints of a running daemon.
type AdminClient struct {
	http *HTTPClient
}

// NewAdminClient creates a client for the admin server at server.
func NewAdminClient(server string, opts ...ClientOption) *AdminClient {
	return &AdminClient{http: NewHTTPClient(server, opts...)}
}

// Status returns the node summary.
func (c *AdminClient) Status(ctx context.Context) (*handler.StatusSummary, error) {
	var out handler.StatusSummary
	if err := c.get(ctx, "/admin/v1/status/summary", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Object returns the resident object with id.
func (c *AdminClient) Object(ctx context.Context, id string) (*handler.ObjectView, error) {
	var out handler.ObjectView
	if err := c.get(ctx, "/admin/v1/objects/"+url.PathEscape(id), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Flush runs one sync tick on the daemon. A failed tick is returned as
// both a result and an error.
func (c *AdminClient) Flush(ctx context.Context) (*handler.FlushResult, error) {
	resp, err := c.http.Post(ctx, "/admin/v1/sync/flush", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	var out handler.FlushResult
	err = ParseResponse(resp, &out)
	if err != nil && out.Result == "" {
		return nil, err
	}
	return &out, err
}

// Snapshot asks the daemon to flush and write a snapshot.
func (c *AdminClient) Snapshot(ctx context.Context) (*snapshot.Info, error) {
	resp, err := c.http.Post(ctx, "/admin/v1/snapshots", nil)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	var out snapshot.Info
	if err := ParseResponse(resp, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Ready reports whether the daemon's scheduler is running.
func (c *AdminClient) Ready(ctx context.Context) error {
	return c.get(ctx, "/ready", nil)
}

func (c *AdminClient) get(ctx context.Context, path string, target any) error {
	resp, err := c.http.Get(ctx, path)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	return ParseResponse(resp, target)
}
