// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/mdhender/datascan/model"
)

type createDatasetRequest struct {
	Name      string `json:"name"`
	SourceRef string `json:"sourceRef"`
	// Workspace is the directory of materialized files, relative to the
	// server's data root unless absolute.
	Workspace string `json:"workspace"`
}

// CreateDataset registers a dataset and queues it for processing.
func (h *Handlers) CreateDataset(w http.ResponseWriter, r *http.Request) {
	var req createDatasetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}
	if req.Workspace == "" {
		writeError(w, http.StatusBadRequest, "workspace is required")
		return
	}

	workspace := req.Workspace
	if !filepath.IsAbs(workspace) {
		workspace = filepath.Join(h.dataRoot, workspace)
	}

	ds := &model.Dataset{
		ID:        uuid.NewString(),
		Name:      req.Name,
		SourceRef: req.SourceRef,
		Workspace: workspace,
		Stage:     model.StagePending,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.store.InsertDataset(r.Context(), ds); err != nil {
		log.Printf("handlers: insert dataset: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to create dataset")
		return
	}

	if err := h.pipeline.Submit(ds.ID); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, ds)
}

// ListDatasets returns all datasets, newest first.
func (h *Handlers) ListDatasets(w http.ResponseWriter, r *http.Request) {
	datasets, err := h.store.ListDatasets(r.Context())
	if err != nil {
		log.Printf("handlers: list datasets: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list datasets")
		return
	}
	if datasets == nil {
		datasets = []*model.Dataset{}
	}
	writeJSON(w, http.StatusOK, datasets)
}

// GetDataset returns one dataset with its stage and summary.
func (h *Handlers) GetDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, ds)
}

// ListFiles returns the per-file analysis records for a dataset.
func (h *Handlers) ListFiles(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	records, err := h.store.FileRecords(r.Context(), ds.ID)
	if err != nil {
		log.Printf("handlers: list files for %s: %v", ds.ID, err)
		writeError(w, http.StatusInternalServerError, "failed to list files")
		return
	}
	if records == nil {
		records = []*model.FileRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

// RetryDataset re-queues a dataset. Legal from any stage except an active
// run; the pipeline restarts it from prepare.
func (h *Handlers) RetryDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	if err := h.pipeline.Submit(ds.ID); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": ds.ID, "stage": string(ds.Stage)})
}

// CancelDataset stops an in-flight run.
func (h *Handlers) CancelDataset(w http.ResponseWriter, r *http.Request) {
	ds, ok := h.loadDataset(w, r)
	if !ok {
		return
	}
	if !h.pipeline.Cancel(ds.ID) {
		writeError(w, http.StatusConflict, "dataset is not running")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": ds.ID})
}

func (h *Handlers) loadDataset(w http.ResponseWriter, r *http.Request) (*model.Dataset, bool) {
	id := r.PathValue("id")
	ds, err := h.store.GetDataset(r.Context(), id)
	if err != nil {
		log.Printf("handlers: get dataset %s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to load dataset")
		return nil, false
	}
	if ds == nil {
		writeError(w, http.StatusNotFound, "dataset not found")
		return nil, false
	}
	return ds, true
}
