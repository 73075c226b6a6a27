package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/BTreeMap/ContactPipe/internal/models"
)

const maxSubmissionLimit = 500

// healthHandler reports liveness with the current counters.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	healthData := map[string]interface{}{
		"status":         "healthy",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	}
	if s.stats != nil {
		healthData["stats"] = s.stats.Stats()
	}
	writeJSONResponse(w, http.StatusOK, healthData)
}

// metricsHandler returns the raw counters (GET /metrics).
func (s *Server) metricsHandler(w http.ResponseWriter, r *http.Request) {
	if s.stats == nil {
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Metrics not available"))
		return
	}
	writeJSONResponse(w, http.StatusOK, s.stats.Stats())
}

// submissionsHandler lists recent audited writes (GET /api/submissions?limit=N).
func (s *Server) submissionsHandler(w http.ResponseWriter, r *http.Request) {
	reqID := middleware.GetReqID(r.Context())
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid limit").WithRequestID(reqID))
			return
		}
		limit = min(n, maxSubmissionLimit)
	}
	subs, err := s.opts.Audit.ListSubmissions(limit)
	if err != nil {
		slog.Error("Server submissionsHandler: failed to list submissions", "request_id", reqID, "error", err)
		writeJSONResponse(w, http.StatusInternalServerError, models.Error("Failed to fetch submissions").WithRequestID(reqID))
		return
	}
	slog.Debug("Server submissionsHandler: submissions fetched", "count", len(subs))
	writeJSONResponse(w, http.StatusOK, models.List(subs, len(subs)).WithRequestID(reqID))
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.opts.APIToken)) != 1 {
			slog.Warn("Server: unauthorized API request", "path", r.URL.Path, "remote", r.RemoteAddr)
			writeJSONResponse(w, http.StatusUnauthorized, models.Error("Unauthorized"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
