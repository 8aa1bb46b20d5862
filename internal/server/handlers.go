package server

import (
	"encoding/json"
	"net/http"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/otel/attribute"

	"github.com/therealutkarshpriyadarshi/nodewatch/internal/tracing"
)

type errorResponse struct {
	Error string `json:"error"`
}

// handleStats serves a freshly built snapshot. Only an unexpected failure
// inside the build yields a 500
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.config.Builder.Build(r.Context())
	if err != nil {
		tracing.RecordError(r.Context(), err)
		s.logger.Error().
			Err(err).
			Str("request_id", chimiddleware.GetReqID(r.Context())).
			Msg("Failed to build node stats")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}

	tracing.SetAttributes(r.Context(),
		attribute.String("node.status", string(stats.Geth.Status)),
		attribute.Int("node.errors", len(stats.Errors)),
	)
	writeJSON(w, http.StatusOK, stats)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
