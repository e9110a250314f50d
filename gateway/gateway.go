package gateway

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/c360/echopipe/config"
	"github.com/c360/echopipe/errors"
	"github.com/c360/echopipe/health"
	"github.com/c360/echopipe/metric"
	"github.com/c360/echopipe/pipe"
)

const (
	// maxRequestSize bounds write request bodies.
	maxRequestSize = 1 << 20

	// defaultReadMax bounds a read request that names no max.
	defaultReadMax = 4096

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Gateway serves a buffer resource over HTTP and WebSocket.
type Gateway struct {
	cfg      config.GatewayConfig
	resource *pipe.Resource
	monitor  *health.Monitor
	registry *metric.Registry
	logger   *slog.Logger

	server   *http.Server
	listener net.Listener
	upgrader websocket.Upgrader

	running atomic.Bool

	// Persistent writer sessions keyed by token.
	sessionMu sync.Mutex
	sessions  map[string]*pipe.Handle

	requestsTotal  atomic.Uint64
	requestsFailed atomic.Uint64
	gwMetrics      *gatewayMetrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger }
}

// WithHealthMonitor attaches a health monitor served at /healthz.
func WithHealthMonitor(monitor *health.Monitor) Option {
	return func(g *Gateway) { g.monitor = monitor }
}

// WithMetrics attaches a metrics registry. Request metrics are
// registered under the gateway component and /metrics serves the
// registry's handler.
func WithMetrics(registry *metric.Registry) Option {
	return func(g *Gateway) { g.registry = registry }
}

// New creates a Gateway for one resource.
func New(cfg config.GatewayConfig, resource *pipe.Resource, options ...Option) (*Gateway, error) {
	if resource == nil {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Gateway", "New", "resource is required")
	}
	if cfg.Addr == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalid, "Gateway", "New", "listen address is required")
	}

	g := &Gateway{
		cfg:      cfg,
		resource: resource,
		logger:   slog.Default(),
		sessions: make(map[string]*pipe.Handle),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range options {
		opt(g)
	}

	if g.registry != nil {
		m, err := newGatewayMetrics(g.registry)
		if err != nil {
			return nil, errors.WrapTransient(err, "Gateway", "New", "metrics registration")
		}
		g.gwMetrics = m
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/size", g.instrument(g.handleGetSize))
	mux.HandleFunc("PUT /v1/size", g.instrument(g.handlePutSize))
	mux.HandleFunc("POST /v1/clear", g.instrument(g.handleClear))
	mux.HandleFunc("GET /v1/status", g.instrument(g.handleStatus))
	mux.HandleFunc("POST /v1/read", g.instrument(g.handleRead))
	mux.HandleFunc("POST /v1/write", g.instrument(g.handleWrite))
	// Not instrumented: the status wrapper would hide the Hijacker the
	// WebSocket upgrade needs.
	mux.HandleFunc("GET /v1/events", g.handleEvents)
	mux.HandleFunc("POST /v1/writer", g.instrument(g.handleOpenWriter))
	mux.HandleFunc("DELETE /v1/writer", g.instrument(g.handleCloseWriter))
	mux.HandleFunc("GET /healthz", g.handleHealthz)
	if g.registry != nil {
		mux.Handle("GET /metrics", g.registry.Handler())
	}

	g.server = &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return g, nil
}

// Start binds the listener and begins serving. It returns once the
// listener is bound; serving continues in the background until Stop.
func (g *Gateway) Start(_ context.Context) error {
	if !g.running.CompareAndSwap(false, true) {
		return errors.WrapFatal(errors.ErrInvalid, "Gateway", "Start", "gateway already running")
	}

	ln, err := net.Listen("tcp", g.cfg.Addr)
	if err != nil {
		g.running.Store(false)
		return errors.WrapTransient(err, "Gateway", "Start", "bind listener")
	}
	g.listener = ln

	go func() {
		if err := g.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			g.logger.Error("gateway serve failed", "error", err)
			if g.monitor != nil {
				g.monitor.UpdateUnhealthy("gateway", err.Error())
			}
		}
	}()

	if g.monitor != nil {
		g.monitor.UpdateHealthy("gateway", "listening")
	}
	g.logger.Info("gateway listening", "addr", ln.Addr().String(), "read_only", g.cfg.ReadOnly)
	return nil
}

// Addr returns the bound listen address. Only valid after Start.
func (g *Gateway) Addr() string {
	if g.listener == nil {
		return g.cfg.Addr
	}
	return g.listener.Addr().String()
}

// Stop closes writer sessions and shuts the server down gracefully
// within the configured timeout.
func (g *Gateway) Stop() error {
	if !g.running.CompareAndSwap(true, false) {
		return nil
	}

	g.sessionMu.Lock()
	for token, h := range g.sessions {
		if err := h.Close(); err != nil {
			g.logger.Warn("writer session close failed", "token", token, "error", err)
		}
		delete(g.sessions, token)
	}
	g.sessionMu.Unlock()

	timeout := g.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := g.server.Shutdown(ctx); err != nil {
		return errors.WrapTransient(err, "Gateway", "Stop", "server shutdown")
	}

	if g.monitor != nil {
		g.monitor.UpdateUnhealthy("gateway", "stopped")
	}
	g.logger.Info("gateway stopped")
	return nil
}

// instrument counts requests and failures around a handler.
func (g *Gateway) instrument(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.requestsTotal.Add(1)
		if g.gwMetrics != nil {
			g.gwMetrics.requests.Inc()
		}
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		if sw.status >= http.StatusBadRequest {
			g.requestsFailed.Add(1)
			if g.gwMetrics != nil {
				g.gwMetrics.failures.Inc()
			}
		}
	}
}

// statusWriter captures the response status for instrumentation.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

// openSession records a persistent writer session and returns its
// token.
func (g *Gateway) openSession() (string, error) {
	h, err := g.resource.Open(pipe.AccessWrite)
	if err != nil {
		return "", err
	}
	token := uuid.NewString()

	g.sessionMu.Lock()
	g.sessions[token] = h
	g.sessionMu.Unlock()
	return token, nil
}

// closeSession ends a writer session. Unknown tokens fail with
// ErrInvalid.
func (g *Gateway) closeSession(token string) error {
	g.sessionMu.Lock()
	h, ok := g.sessions[token]
	if ok {
		delete(g.sessions, token)
	}
	g.sessionMu.Unlock()

	if !ok {
		return errors.ErrInvalid
	}
	return h.Close()
}

// gatewayMetrics holds Prometheus counters for the request path.
type gatewayMetrics struct {
	requests prometheus.Counter
	failures prometheus.Counter
	wsConns  prometheus.Gauge
}

func newGatewayMetrics(registry *metric.Registry) (*gatewayMetrics, error) {
	m := &gatewayMetrics{
		requests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "echopipe",
			Subsystem: "gateway",
			Name:      "requests_total",
			Help:      "Total HTTP requests handled",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "echopipe",
			Subsystem: "gateway",
			Name:      "request_failures_total",
			Help:      "Total HTTP requests answered with an error status",
		}),
		wsConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "echopipe",
			Subsystem: "gateway",
			Name:      "websocket_connections",
			Help:      "Open WebSocket event connections",
		}),
	}

	if err := registry.RegisterCounter("gateway", "requests", m.requests); err != nil {
		return nil, err
	}
	if err := registry.RegisterCounter("gateway", "request_failures", m.failures); err != nil {
		return nil, err
	}
	if err := registry.RegisterGauge("gateway", "websocket_connections", m.wsConns); err != nil {
		return nil, err
	}
	return m, nil
}
