package server

import (
	"context"
	"net/http"
	"runtime"
	"time"
)

type healthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	GoVersion string `json:"go_version"`
	Uptime    string `json:"uptime"`
	Scheduler string `json:"scheduler"`
	Workers   int    `json:"workers"`
	Capacity  int    `json:"capacity"`
	Modules   int    `json:"modules"`
}

// handleHealth reports "degraded" when the scheduler does not answer.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	resp := healthResponse{
		Status:    "healthy",
		Version:   Version,
		GoVersion: runtime.Version(),
		Uptime:    time.Since(s.startTime).Round(time.Second).String(),
		Scheduler: "running",
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	snap, err := s.pool.Inspect(ctx)
	if err != nil {
		s.logger.Warn("scheduler did not answer health check", "error", err)
		resp.Status = "degraded"
		resp.Scheduler = "unavailable"
	} else {
		resp.Workers = snap.Workers()
		resp.Capacity = snap.Capacity
		resp.Modules = len(snap.Modules)
	}
	respondOK(w, reqID, resp)
}
