package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/internal/observability"
)

func (s *server) routes(cfg *config.Config) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	mux.HandleFunc("POST /webhook/{client}", s.handleWebhook)

	mux.HandleFunc("GET /v1/rate-limit/{client}", s.handleRateLimitStatus)
	mux.HandleFunc("DELETE /v1/rate-limit/{client}", s.handleRateLimitClear)

	if cfg.Metrics.Enabled {
		mux.Handle("GET "+cfg.Metrics.Path, promhttp.Handler())
	}

	return s.withRequestID(mux)
}

// withRequestID stamps every request with an ID carried through the context
// and echoed back in the response. Inbound X-Request-Id values are honored.
func (s *server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := observability.WithRequestIDContext(r.Context(), r.Header.Get("X-Request-Id"))
		w.Header().Set("X-Request-Id", observability.RequestIDFromContext(ctx))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
