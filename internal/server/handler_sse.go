package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/me/threadpool/internal/scheduler"
	"github.com/me/threadpool/pkg/model"
)

// handleSSEPool streams pool snapshots via Server-Sent Events. An "init"
// event carries the current snapshot, "update" events follow whenever it
// changes and heartbeats fill the gaps.
// GET /api/v1/sse/pool
func (s *Server) handleSSEPool(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	snap, err := s.pool.Inspect(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	if err := sendSSEEvent(w, flusher, "init", snap); err != nil {
		s.logger.Debug("sse client disconnected", "error", err)
		return
	}

	ticker := time.NewTicker(s.sseInterval)
	defer ticker.Stop()

	last := snap
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			snap, err := s.pool.Inspect(r.Context())
			if err != nil {
				s.logger.Debug("sse pool stream ended", "error", err)
				return
			}
			if sameSnapshot(snap, last) {
				if err := sendSSEHeartbeat(w, flusher); err != nil {
					s.logger.Debug("sse client disconnected", "error", err)
					return
				}
				continue
			}
			if err := sendSSEEvent(w, flusher, "update", snap); err != nil {
				s.logger.Debug("sse client disconnected", "error", err)
				return
			}
			last = snap
		}
	}
}

func sameSnapshot(a, b scheduler.Snapshot) bool {
	return a.Capacity == b.Capacity &&
		slices.Equal(a.Idle, b.Idle) &&
		slices.Equal(a.Busy, b.Busy) &&
		slices.Equal(a.Modules, b.Modules)
}

func sendSSEHeartbeat(w http.ResponseWriter, flusher http.Flusher) error {
	if _, err := fmt.Fprint(w, ": heartbeat\n\n"); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}

func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
