package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"arbitrage_go/internal/domain"

	"github.com/shopspring/decimal"
)

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status         string                   `json:"status"`
	Uptime         string                   `json:"uptime"`
	Phase          domain.Phase             `json:"phase"`
	RealizedProfit decimal.Decimal          `json:"realized_profit"`
	Connections    []domain.ConnectionState `json:"connections"`
	Metrics        MetricsSnapshot          `json:"metrics"`
}

// HealthServer serves /health and /status from the latest engine snapshot.
type HealthServer struct {
	srv    *http.Server
	status func() Status
	detail func(ctx context.Context) Status
	logger *slog.Logger
}

// HealthOption customizes a HealthServer.
type HealthOption func(*HealthServer)

// WithDetailedStatus serves GET /status from detail instead of the plain
// snapshot. detail may block on storage; it gets the request context.
func WithDetailedStatus(detail func(ctx context.Context) Status) HealthOption {
	return func(h *HealthServer) { h.detail = detail }
}

// NewHealthServer creates a server on addr. status must be safe to call
// from any goroutine.
func NewHealthServer(addr string, status func() Status, opts ...HealthOption) *HealthServer {
	h := &HealthServer{
		status: status,
		logger: slog.Default().With("module", "health"),
	}
	for _, opt := range opts {
		opt(h)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /status", h.handleStatus)

	h.srv = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return h
}

// Handler exposes the routes for tests.
func (h *HealthServer) Handler() http.Handler { return h.srv.Handler }

// Run serves until ctx is done.
func (h *HealthServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		h.logger.Info("Health endpoint listening", slog.String("addr", h.srv.Addr))
		if err := h.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health: listen: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.srv.Shutdown(shutdownCtx)
}

func (h *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	s := h.status()
	resp := HealthResponse{
		Status:         "ok",
		Uptime:         s.Uptime.Truncate(time.Second).String(),
		Phase:          s.Phase,
		RealizedProfit: s.RealizedProfit,
		Connections:    s.Connections,
		Metrics:        s.Metrics,
	}
	code := http.StatusOK
	if !s.Healthy() {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

func (h *HealthServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if h.detail != nil {
		writeJSON(w, http.StatusOK, h.detail(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
