package server

import (
	"net/http"

	"github.com/me/threadpool/pkg/model"
)

func (s *Server) handlePool(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	snap, err := s.pool.Inspect(r.Context())
	if err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
		return
	}
	respondOK(w, reqID, snap)
}
