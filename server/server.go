// Package server exposes the HTTP API: live chat replies, the overlay config
// poll, moderation and admin endpoints, OAuth flows, health, and metrics. It
// includes permissive CORS for the overlay and injects correlation IDs into
// request contexts for consistent logging.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/onnwee/chatqueue/backend/telemetry"
)

// NewMux returns the HTTP handler with all routes.
// The provided context is used for rate limiter cleanup goroutines lifecycle.
func NewMux(ctx context.Context, deps Deps) http.Handler {
	handlers := NewHandlers(deps)
	limiter := newIPRateLimiter(ctx, loadRateLimiterConfig())

	protected := func(h http.HandlerFunc) http.Handler {
		return adminAuth(rateLimitMiddleware(h, limiter), deps.Auth)
	}

	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", handlers.HandleHealthz)
	mux.HandleFunc("/readyz", handlers.HandleReadyz)

	// Overlay and live chat
	mux.Handle("/chat", rateLimitMiddleware(http.HandlerFunc(handlers.HandleChat), limiter))
	mux.HandleFunc("/config", handlers.HandleConfig)
	mux.HandleFunc("/update-config", handlers.HandleUpdateConfig)
	mux.HandleFunc("/themes", handlers.HandleThemes)
	mux.HandleFunc("/status", handlers.HandleStatus)

	// Moderation and admin
	mux.Handle("/messages/unverified", protected(handlers.HandleUnverified))
	mux.Handle("/messages/approve", protected(handlers.HandleApprove))
	mux.Handle("/admin/messages", protected(handlers.HandleAdminEnqueue))
	mux.Handle("/admin/prompt", protected(handlers.HandleAdminPrompt))

	// OAuth endpoints: /auth/{twitch,spotify}/{start,callback}
	mux.HandleFunc("/auth/", handlers.HandleOAuth)

	return withCORSConfig(withCorrelation(mux), loadCORSConfig())
}

// withCorrelation reuses or generates the X-Correlation-ID, starts the server
// span, and records the response status on it.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, r.Method+" "+routeOf(r.URL.Path), telemetry.HTTPAttrs(r.Method, routeOf(r.URL.Path))...)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		rec := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))
		telemetry.SetSpanHTTPStatus(span, rec.statusCode)
	})
}

// routeOf collapses OAuth paths so span names stay low-cardinality.
func routeOf(path string) string {
	if strings.HasPrefix(path, "/auth/") {
		return "/auth/{provider}/{step}"
	}
	return path
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Flush implements http.Flusher if the underlying ResponseWriter supports it
func (r *statusRecorder) Flush() {
	if flusher, ok := r.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// Start serves handler on addr and shuts down gracefully on context cancellation.
// WriteTimeout leaves room for a /chat request waiting out the reply timeout.
func Start(ctx context.Context, handler http.Handler, addr string, writeTimeout time.Duration) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return Serve(ctx, handler, ln, writeTimeout)
}

// Serve is Start on an existing listener.
func Serve(ctx context.Context, handler http.Handler, ln net.Listener, writeTimeout time.Duration) error {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	// Shutdown goroutine
	go func() {
		<-ctx.Done()
		// Use WithoutCancel to inherit context values but allow shutdown to complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	slog.Info("http server listening", slog.String("addr", ln.Addr().String()), slog.String("component", "http"))
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
