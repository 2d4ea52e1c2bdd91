package server

import (
	"context"
	"net/http"
	"time"
)

// handleHealth reports liveness plus database reachability. The service is
// alive either way; a failing ping shows up as degraded.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status := "healthy"
	database := "up"
	if err := s.queries.Ping(ctx); err != nil {
		status = "degraded"
		database = "down"
		s.log.Warn().Err(err).Msg("Health check database ping failed")
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         status,
		"database":       database,
		"uptime_seconds": int64(time.Since(s.startTime).Seconds()),
	})
}
