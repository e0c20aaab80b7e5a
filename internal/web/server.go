package web

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/hpungsan/glean/internal/config"
	"github.com/hpungsan/glean/internal/db"
	"github.com/hpungsan/glean/internal/logging"
)

const shutdownTimeout = 5 * time.Second

// NewServer creates the read-only status server. An empty addr falls back to cfg.StatusAddr.
func NewServer(store *db.Store, cfg *config.Config, log *logging.Logger, addr string) *http.Server {
	if log == nil {
		log = logging.NewNop()
	}
	if addr == "" {
		addr = cfg.StatusAddr
	}

	h := &Handlers{
		store: store,
		cfg:   cfg,
		log:   log.Named("web"),
	}

	return &http.Server{
		Addr:              addr,
		Handler:           securityHeaders(h.routes()),
		ReadHeaderTimeout: 10 * time.Second,
	}
}

func (h *Handlers) routes() *http.ServeMux {
	mux := http.NewServeMux()

	// Routes using Go 1.22+ pattern syntax
	mux.HandleFunc("GET /{$}", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/status", http.StatusFound)
	})
	mux.HandleFunc("GET /status", h.HandleStatus)
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /staged", h.HandleStaged)
	mux.Handle("GET /metrics", promhttp.Handler())

	return mux
}

// securityHeaders adds security-related HTTP headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Security-Policy", "default-src 'none'")
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// Run starts the HTTP server and handles graceful shutdown on SIGINT/SIGTERM
// or when ctx is cancelled.
func Run(ctx context.Context, srv *http.Server, log *logging.Logger) error {
	if log == nil {
		log = logging.NewNop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	log.Info(ctx, "status server listening", zap.String("addr", srv.Addr))

	if strings.HasPrefix(srv.Addr, "0.0.0.0") || strings.HasPrefix(srv.Addr, "[::]") || strings.HasPrefix(srv.Addr, ":") {
		log.Warn(ctx, "status server is binding to all interfaces and may be accessible from the network",
			zap.String("addr", srv.Addr))
	}

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case sig := <-sigCh:
		log.Info(ctx, "shutting down status server", zap.String("signal", sig.String()))
	case <-ctx.Done():
		log.Info(ctx, "shutting down status server", zap.Error(ctx.Err()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
