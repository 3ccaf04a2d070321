// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/mdhender/datascan/model"
	store "github.com/mdhender/datascan/stores/sqlite"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	s, err := store.NewSQLiteStore()
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func insertTestDataset(t *testing.T, s *store.SQLiteStore, id string) *model.Dataset {
	t.Helper()
	ds := &model.Dataset{
		ID:        id,
		Name:      "test dataset",
		SourceRef: "s3://bucket/prefix",
		Workspace: "/data/" + id,
		Stage:     model.StagePending,
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
	if err := s.InsertDataset(context.Background(), ds); err != nil {
		t.Fatalf("insert dataset: %v", err)
	}
	return ds
}

func TestSQLiteStore_DatasetRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	want := insertTestDataset(t, s, "ds-1")

	got, err := s.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("get dataset: %v", err)
	}
	if got == nil {
		t.Fatal("dataset not found")
	}
	if got.Name != want.Name || got.SourceRef != want.SourceRef || got.Workspace != want.Workspace {
		t.Errorf("got %+v, want %+v", got, want)
	}
	if got.Stage != model.StagePending {
		t.Errorf("stage = %q, want pending", got.Stage)
	}
	if got.Summary != nil {
		t.Errorf("summary = %+v, want nil before finalize", got.Summary)
	}

	missing, err := s.GetDataset(ctx, "nope")
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil for missing dataset, got %+v", missing)
	}
}

func TestSQLiteStore_StageAndFailure(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestDataset(t, s, "ds-1")

	if err := s.SetStage(ctx, "ds-1", model.StageAnalyzeFiles); err != nil {
		t.Fatalf("set stage: %v", err)
	}
	if err := s.SetFailed(ctx, "ds-1", "analyze_files", "DECODE", "boom"); err != nil {
		t.Fatalf("set failed: %v", err)
	}

	ds, err := s.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ds.Stage != model.StageFailed || ds.FailStage != "analyze_files" {
		t.Errorf("stage = %q fail_stage = %q", ds.Stage, ds.FailStage)
	}
	if ds.ErrorCode != "DECODE" || ds.LastError != "boom" {
		t.Errorf("error_code = %q last_error = %q", ds.ErrorCode, ds.LastError)
	}

	// Re-entering prepare clears the failure state.
	if err := s.SetStage(ctx, "ds-1", model.StagePrepare); err != nil {
		t.Fatalf("set stage: %v", err)
	}
	ds, _ = s.GetDataset(ctx, "ds-1")
	if ds.FailStage != "" || ds.ErrorCode != "" || ds.LastError != "" {
		t.Errorf("failure state not cleared: %+v", ds)
	}

	if err := s.SetStage(ctx, "missing", model.StagePrepare); err == nil {
		t.Error("expected error for missing dataset")
	}
}

func TestSQLiteStore_ListUnfinished(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestDataset(t, s, "ds-ready")
	insertTestDataset(t, s, "ds-failed")
	insertTestDataset(t, s, "ds-stuck")

	s.SetStage(ctx, "ds-ready", model.StageReady)
	s.SetFailed(ctx, "ds-failed", "profile", "STORE", "x")
	s.SetStage(ctx, "ds-stuck", model.StageProfile)

	stuck, err := s.ListUnfinished(ctx)
	if err != nil {
		t.Fatalf("list unfinished: %v", err)
	}
	if len(stuck) != 1 || stuck[0].ID != "ds-stuck" {
		t.Errorf("unfinished = %v, want [ds-stuck]", stuck)
	}
}

func TestSQLiteStore_UpsertFileRecords(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestDataset(t, s, "ds-1")

	recs := []*model.FileRecord{
		{
			DatasetID: "ds-1",
			RelPath:   "ct/slice1.dcm",
			Kind:      model.KindDICOM,
			Modality:  "CT",
			Fusion: model.FusionResult{
				Label: "CT", Confidence: 0.83, Method: "fusion/v1",
				Votes: []model.Vote{{Source: "tag", Label: "CT", Weight: 0.9}},
			},
			NDim:      2,
			Dims:      []int{512, 512},
			SizeBytes: 1024,
			Meta:      map[string]string{"SeriesInstanceUID": "1.2.3"},
			CreatedAt: time.Now().UTC(),
		},
		{
			DatasetID: "ds-1",
			RelPath:   "notes.txt",
			Kind:      model.KindUnknown,
			Modality:  model.ModalityUnknown,
			Fusion:    model.FusionResult{Label: "unknown", Method: "fusion/v1"},
			Error:     "no known signature or extension",
			CreatedAt: time.Now().UTC(),
		},
	}
	if err := s.UpsertFileRecords(ctx, recs); err != nil {
		t.Fatalf("upsert: %v", err)
	}

	// Upserting again with a change must overwrite, not duplicate.
	recs[0].Modality = "MR"
	recs[0].Embedded = true
	if err := s.UpsertFileRecords(ctx, recs); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	got, err := s.FileRecords(ctx, "ds-1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("records = %d, want 2", len(got))
	}
	// Ordered by relpath.
	if got[0].RelPath != "ct/slice1.dcm" || got[1].RelPath != "notes.txt" {
		t.Errorf("order = [%s %s]", got[0].RelPath, got[1].RelPath)
	}

	rec := got[0]
	if rec.Modality != "MR" || !rec.Embedded {
		t.Errorf("overwrite lost: modality = %q embedded = %v", rec.Modality, rec.Embedded)
	}
	if len(rec.Dims) != 2 || rec.Dims[0] != 512 {
		t.Errorf("dims = %v", rec.Dims)
	}
	if rec.Meta["SeriesInstanceUID"] != "1.2.3" {
		t.Errorf("meta = %v", rec.Meta)
	}
	if len(rec.Fusion.Votes) != 1 || rec.Fusion.Votes[0].Source != "tag" {
		t.Errorf("fusion votes = %v", rec.Fusion.Votes)
	}

	if got[1].Error == "" {
		t.Error("error text lost on round trip")
	}
	if got[1].Dims != nil || got[1].Meta != nil {
		t.Errorf("empty containers should stay nil, got dims=%v meta=%v", got[1].Dims, got[1].Meta)
	}
}

func TestSQLiteStore_WriteSummary(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insertTestDataset(t, s, "ds-1")

	conf := 0.9
	summary := &model.DatasetSummary{
		TotalFiles:     3,
		KindCounts:     map[string]int{"dicom": 3},
		ModalityCounts: map[string]int{"CT": 3},
		Modalities:     map[string]model.ModalityShare{"CT": {Percent: 100, Confidence: &conf}},
		Volume3DCount:  1,
		OutlierState:   model.OutlierStateInsufficient,
		ExtCounts:      map[string]int{".dcm": 3},
	}
	if err := s.WriteSummary(ctx, "ds-1", summary); err != nil {
		t.Fatalf("write summary: %v", err)
	}

	ds, err := s.GetDataset(ctx, "ds-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if ds.Summary == nil {
		t.Fatal("summary not persisted")
	}
	if ds.Summary.TotalFiles != 3 || ds.Summary.Volume3DCount != 1 {
		t.Errorf("summary = %+v", ds.Summary)
	}
	if ds.Summary.Modalities["CT"].Confidence == nil || *ds.Summary.Modalities["CT"].Confidence != 0.9 {
		t.Errorf("confidence lost: %+v", ds.Summary.Modalities["CT"])
	}
}
