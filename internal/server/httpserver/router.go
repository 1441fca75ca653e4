package httpserver

import (
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/yndnr/deltamesh-go/internal/server/httpserver/handler"
)

// RouterConfig holds the router dependencies.
type RouterConfig struct {
	Directory handler.Directory
	Scheduler handler.Scheduler

	// Snapshots enables the snapshot endpoint. Nil disables it.
	Snapshots handler.Snapshotter

	// Metrics serves the Prometheus scrape endpoint at MetricsPath.
	// Nil disables it.
	Metrics     http.Handler
	MetricsPath string

	Logger *slog.Logger

	// Registerer receives the admin request metrics. Nil disables them.
	Registerer prometheus.Registerer

	// RateLimit caps admin requests per second. Zero disables it.
	RateLimit int
}

// DefaultMetricsPath is used when RouterConfig.MetricsPath is empty.
const DefaultMetricsPath = "/metrics"

// NewRouter builds the admin and metrics handler.
func NewRouter(cfg *RouterConfig) http.Handler {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts []handler.Option
	if cfg.Snapshots != nil {
		opts = append(opts, handler.WithSnapshotter(cfg.Snapshots))
	}
	api := handler.New(cfg.Directory, cfg.Scheduler, logger, opts...)

	adminChain := []Middleware{RequestID()}
	if cfg.Registerer != nil {
		adminChain = append(adminChain, Instrument(cfg.Registerer))
	}
	adminChain = append(adminChain, AccessLog(logger), Recover(logger))
	if cfg.RateLimit > 0 {
		adminChain = append(adminChain, RateLimit(cfg.RateLimit))
	}

	mux := http.NewServeMux()
	mux.Handle("/", Chain(api, adminChain...))

	if cfg.Metrics != nil {
		path := cfg.MetricsPath
		if path == "" {
			path = DefaultMetricsPath
		}
		mux.Handle("GET "+path, Chain(cfg.Metrics, RequestID(), Recover(logger)))
	}

	return mux
}
