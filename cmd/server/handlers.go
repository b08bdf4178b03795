package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"

	"github.com/seolytics/apicache/internal/cachemanager"
	"github.com/seolytics/apicache/internal/config"
	"github.com/seolytics/apicache/internal/httputil"
	"github.com/seolytics/apicache/internal/observability"
	"github.com/seolytics/apicache/internal/task"
	"github.com/seolytics/apicache/pkg/types"
)

type server struct {
	cfg        *config.Manager
	manager    *cachemanager.Manager
	reconciler *task.Reconciler
	logger     *observability.Logger
}

// handleWebhook accepts a provider postback and stores the payload under the
// tag the task was posted with. The tag arrives either as the ?tag= query
// parameter or as the first task's tag field in the body.
func (s *server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	clientCfg, ok := s.cfg.Client(client)
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown client")
		return
	}

	body, err := httputil.ReadLimitedBody(r.Body, httputil.DefaultMaxResponseBodyBytes)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	tag := r.URL.Query().Get("tag")
	if tag == "" {
		tag = gjson.GetBytes(body, "tasks.0.data.tag").String()
	}
	endpoint := r.URL.Query().Get("endpoint")
	if endpoint == "" {
		endpoint = clientCfg.WebhookEndpoint
	}
	if endpoint == "" {
		endpoint = "task_result"
	}

	logger := s.logger.WithRequestID(r.Context())
	if err := s.reconciler.Reconcile(r.Context(), client, tag, endpoint, body); err != nil {
		var invalid *types.InvalidArgumentError
		if errors.As(err, &invalid) {
			s.writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		logger.RedactedError("webhook reconcile failed", "client", client, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store failed")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"status": "stored", "tag": tag})
}

// handleRateLimitStatus reports the client's current bucket.
func (s *server) handleRateLimitStatus(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	if _, ok := s.cfg.Client(client); !ok {
		s.writeError(w, http.StatusNotFound, "unknown client")
		return
	}

	remaining, err := s.manager.RemainingAttempts(r.Context(), client)
	if err != nil {
		s.logger.RedactedError("rate-limit status failed", "client", client, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	availableIn, err := s.manager.AvailableIn(r.Context(), client)
	if err != nil {
		s.logger.RedactedError("rate-limit status failed", "client", client, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	max, limited := s.cfg.RateLimitMaxAttempts(client)
	resp := map[string]any{
		"client":               client,
		"limited":              limited,
		"remaining":            remaining,
		"available_in_seconds": int(availableIn / time.Second),
	}
	if limited {
		resp["max_attempts"] = max
		resp["decay_seconds"] = int(s.cfg.RateLimitDecay(client) / time.Second)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

// handleRateLimitClear resets the client's bucket.
func (s *server) handleRateLimitClear(w http.ResponseWriter, r *http.Request) {
	client := r.PathValue("client")
	if _, ok := s.cfg.Client(client); !ok {
		s.writeError(w, http.StatusNotFound, "unknown client")
		return
	}

	if err := s.manager.ClearRateLimit(r.Context(), client); err != nil {
		s.logger.RedactedError("rate-limit clear failed", "client", client, "error", err)
		s.writeError(w, http.StatusInternalServerError, "store unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"client": client, "status": "cleared"})
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.manager.Repository().DB().PingContext(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (s *server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]any{"error": msg})
}
