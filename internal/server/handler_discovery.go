package server

import "net/http"

type endpointInfo struct {
	Path        string   `json:"path"`
	Methods     []string `json:"methods"`
	Description string   `json:"description"`
}

type discoveryResponse struct {
	Name        string         `json:"name"`
	Version     string         `json:"version"`
	Description string         `json:"description"`
	Endpoints   []endpointInfo `json:"endpoints"`
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	reqID := RequestIDFromContext(r.Context())
	respondOK(w, reqID, discoveryResponse{
		Name:        "threadpool API",
		Version:     "v1",
		Description: "Bounded JavaScript worker pool with a shared module cache",
		Endpoints: []endpointInfo{
			{"/api/v1/health", []string{"GET"}, "Server health and version"},
			{"/api/v1/pool", []string{"GET"}, "Idle and busy workers and cached module hashes"},
			{"/api/v1/sse/pool", []string{"GET"}, "Server-Sent Events stream of pool changes"},
			{"/api/v1/modules", []string{"GET", "POST"}, "Compile, persist and cache modules"},
			{"/api/v1/modules/{hash}", []string{"GET"}, "Single module with source"},
			{"/api/v1/tasks", []string{"GET", "POST"}, "Submit tasks; list by ?state, ?limit, ?offset"},
			{"/api/v1/tasks/{id}", []string{"GET"}, "Task state, result and worker"},
			{"/metrics", []string{"GET"}, "Prometheus metrics"},
		},
	})
}
