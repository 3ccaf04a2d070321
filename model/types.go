// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package model

import (
	"time"
)

// FileKind is the detected container format of a file.
type FileKind string

const (
	KindDICOM   FileKind = "dicom"
	KindNIfTI   FileKind = "nifti"
	KindImage   FileKind = "image"
	KindUnknown FileKind = "unknown"
)

// ModalityUnknown is the label assigned when no detector produced a vote.
const ModalityUnknown = "unknown"

// Dataset is one submitted collection of files.
// The pipeline owns Stage and Summary while a run is active; both are
// read-only to everyone else.
type Dataset struct {
	ID        string          `json:"id"        db:"id"`
	Name      string          `json:"name"      db:"name"`
	SourceRef string          `json:"sourceRef" db:"source_ref"` // where the files came from (opaque)
	Workspace string          `json:"workspace" db:"workspace"`  // local directory of materialized files
	Stage     Stage           `json:"stage"     db:"stage"`
	FailStage string          `json:"failStage,omitempty" db:"fail_stage"` // stage that failed, when Stage == failed
	ErrorCode string          `json:"errorCode,omitempty" db:"error_code"`
	LastError string          `json:"lastError,omitempty" db:"last_error"`
	Summary   *DatasetSummary `json:"summary,omitempty"`
	CreatedAt time.Time       `json:"createdAt" db:"created_at"`
}

// FileRecord is the durable per-file analysis result.
// Natural key: (DatasetID, RelPath). Records are upserted by that key, so a
// re-run of analyze_files overwrites and never duplicates.
type FileRecord struct {
	DatasetID string            `json:"datasetId" db:"dataset_id"`
	RelPath   string            `json:"relpath"   db:"relpath"`
	Kind      FileKind          `json:"kind"      db:"kind"`
	Modality  string            `json:"modality"  db:"modality"`
	Fusion    FusionResult      `json:"fusion"`
	NDim      int               `json:"ndim,omitempty"` // 0 = unknown
	Dims      []int             `json:"dims,omitempty"`
	SizeBytes int64             `json:"sizeBytes" db:"size_bytes"`
	Embedded  bool              `json:"embedded"  db:"embedded"` // file contributed to the embedding set
	Error     string            `json:"error,omitempty" db:"error"`
	Meta      map[string]string `json:"meta,omitempty"`
	CreatedAt time.Time         `json:"createdAt" db:"created_at"`
}

// Vote is one detector's opinion about a file's modality.
type Vote struct {
	Source string  `json:"source"` // detector name, e.g. "tag", "stats"
	Label  string  `json:"label"`
	Weight float64 `json:"weight"` // [0,1] before source multipliers
}

// FusionResult is the combined modality decision for one file.
// Votes are kept in detector priority order for auditability.
type FusionResult struct {
	Label      string   `json:"label"`
	Confidence float64  `json:"confidence"`
	Method     string   `json:"method"`
	Votes      []Vote   `json:"votes,omitempty"`
	Errors     []string `json:"errors,omitempty"` // detectors that failed or were unavailable
}

// OutlierState reports whether the profiler actually ran.
const (
	OutlierStateOK           = "ok"
	OutlierStateInsufficient = "insufficient_data"
	OutlierStateNoEmbeddings = "no_embeddings"
)

// ModalityShare is one entry in DatasetSummary.Modalities.
type ModalityShare struct {
	Percent    float64  `json:"percent"`
	Confidence *float64 `json:"confidence,omitempty"` // mean fusion confidence, nil if none recorded
}

// DatasetSummary is the derived dataset profile. It is recomputed from the
// FileRecord set in finalize and never hand-edited.
type DatasetSummary struct {
	TotalFiles     int            `json:"total_files"`
	KindCounts     map[string]int `json:"kind_counts"`
	ModalityCounts map[string]int `json:"modality_counts"`

	Modalities    map[string]ModalityShare `json:"modalities"`
	MixedModality bool                     `json:"mixed_modality"`

	Image2DCount  int `json:"image_2d_count"`
	Volume3DCount int `json:"volume_3d_count"`

	Outliers     int    `json:"outliers"`
	OutlierState string `json:"outlier_state"`
	ClusterCount int    `json:"cluster_count"`

	EmbeddedFiles     int `json:"embedded_files"`
	EmbeddingFailures int `json:"embedding_failures"`

	ExtCounts                  map[string]int `json:"ext_counts"`
	DuplicateBasenameCount     int            `json:"duplicate_basename_count"`
	DuplicateBasenameExtCounts map[string]int `json:"duplicate_basename_ext_counts,omitempty"`
}
