package server

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/me/threadpool/pkg/artifact"
	"github.com/me/threadpool/pkg/model"
)

type createModuleRequest struct {
	Name   string `json:"name"`
	Source string `json:"source"`
}

type moduleResponse struct {
	*model.Module
	Created bool `json:"created"`
}

// handleCreateModule compiles, persists and caches a module. Posting the
// same source again is a no-op that returns the existing hash.
func (s *Server) handleCreateModule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	var req createModuleRequest
	if apiErr := decodeBody(w, r, &req); apiErr != nil {
		respondError(w, reqID, http.StatusBadRequest, apiErr)
		return
	}
	if req.Source == "" {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("invalid module",
			model.FieldError{Field: "source", Message: "required"}))
		return
	}
	if req.Name == "" {
		req.Name = "module.js"
	}

	mod, err := artifact.Compile(req.Name, req.Source)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError("module does not compile",
			model.FieldError{Field: "source", Message: err.Error()}))
		return
	}

	rec := &model.Module{
		Hash:      mod.Hash.String(),
		Name:      mod.Name,
		Source:    mod.Source,
		CreatedAt: time.Now().UTC(),
	}
	created, err := s.store.SaveModule(r.Context(), rec)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if err := s.register(mod); err != nil {
		respondError(w, reqID, http.StatusServiceUnavailable,
			&model.APIError{Code: model.ErrUnavailable, Message: err.Error()})
		return
	}

	s.logger.Info("module registered", "hash", mod.Hash.Short(), "name", mod.Name, "created", created)
	rec.Source = ""
	if created {
		respondCreated(w, reqID, moduleResponse{Module: rec, Created: true})
		return
	}
	stored, err := s.store.GetModule(r.Context(), rec.Hash)
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	stored.Source = ""
	respondOK(w, reqID, moduleResponse{Module: stored})
}

func (s *Server) handleListModules(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())

	mods, err := s.store.ListModules(r.Context())
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	for _, m := range mods {
		m.Source = ""
	}
	if mods == nil {
		mods = []*model.Module{}
	}
	respondOK(w, reqID, mods)
}

func (s *Server) handleGetModule(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	hash := chi.URLParam(r, "hash")

	parsed, err := artifact.ParseHash(hash)
	if err != nil {
		respondError(w, reqID, http.StatusBadRequest, model.NewValidationError(err.Error(),
			model.FieldError{Field: "hash", Message: "must be 64 hex digits"}))
		return
	}
	mod, err := s.store.GetModule(r.Context(), parsed.String())
	if err != nil {
		respondInternal(w, reqID, err)
		return
	}
	if mod == nil {
		respondError(w, reqID, http.StatusNotFound, model.NewNotFoundError("module", hash))
		return
	}
	respondOK(w, reqID, mod)
}
