// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package handlers implements the JSON API for dataset submission and
// status.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/mdhender/datascan"
	"github.com/mdhender/datascan/pipelines"
	store "github.com/mdhender/datascan/stores/sqlite"
)

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	store    *store.SQLiteStore
	pipeline *pipelines.Pipeline
	dataRoot string
}

// New creates a new Handlers over the store and pipeline.
func New(s *store.SQLiteStore, p *pipelines.Pipeline, dataRoot string) *Handlers {
	return &Handlers{store: s, pipeline: p, dataRoot: dataRoot}
}

// Routes returns the API route table.
func (h *Handlers) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/version", h.Version)
	mux.HandleFunc("POST /api/datasets", h.CreateDataset)
	mux.HandleFunc("GET /api/datasets", h.ListDatasets)
	mux.HandleFunc("GET /api/datasets/{id}", h.GetDataset)
	mux.HandleFunc("GET /api/datasets/{id}/files", h.ListFiles)
	mux.HandleFunc("POST /api/datasets/{id}/retry", h.RetryDataset)
	mux.HandleFunc("POST /api/datasets/{id}/cancel", h.CancelDataset)
	return mux
}

// Version reports the server version.
func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": datascan.Version().String()})
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
