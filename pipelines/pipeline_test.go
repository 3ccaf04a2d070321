// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package pipelines_test

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/mdhender/datascan/modality"
	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/pipelines"
	"github.com/mdhender/datascan/pipelines/stages"
	store "github.com/mdhender/datascan/stores/sqlite"
	"github.com/spf13/afero"
)

func newPipeline(t *testing.T, workers, queueSize int) (*pipelines.Pipeline, *store.SQLiteStore) {
	t.Helper()
	s, err := store.NewSQLiteStore()
	if err != nil {
		t.Fatalf("create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	fs := afero.NewMemMapFs()
	seedPNG(t, fs, "/ws/ultrasound/a.png")
	seedPNG(t, fs, "/ws/ultrasound/b.png")

	engine := modality.NewEngine([]modality.Detector{modality.NewKeywordDetector()}, 4.0)
	runner := stages.NewRunner(s, engine, nil, stages.Options{FileConcurrency: 2, BatchSize: 10})
	runner.SetFS(fs)

	return pipelines.New(s, runner, workers, queueSize), s
}

func seedPNG(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.SetGray(x, y, color.Gray{Y: uint8(x * 16)})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := afero.WriteFile(fs, path, buf.Bytes(), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func insertDataset(t *testing.T, s *store.SQLiteStore, id string) {
	t.Helper()
	ds := &model.Dataset{
		ID: id, Name: "e2e", Workspace: "/ws",
		Stage: model.StagePending, CreatedAt: time.Now().UTC(),
	}
	if err := s.InsertDataset(context.Background(), ds); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func waitForStage(t *testing.T, s *store.SQLiteStore, id string, want model.Stage) *model.Dataset {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		ds, err := s.GetDataset(context.Background(), id)
		if err != nil {
			t.Fatalf("get dataset: %v", err)
		}
		if ds != nil && ds.Stage == want {
			return ds
		}
		time.Sleep(10 * time.Millisecond)
	}
	ds, _ := s.GetDataset(context.Background(), id)
	t.Fatalf("dataset %s never reached %s, last seen %+v", id, want, ds)
	return nil
}

func TestPipeline_SubmitToReady(t *testing.T) {
	p, s := newPipeline(t, 1, 8)
	insertDataset(t, s, "ds-1")

	p.Start(context.Background())
	defer p.Stop()

	if err := p.Submit("ds-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	ds := waitForStage(t, s, "ds-1", model.StageReady)

	if ds.Summary == nil {
		t.Fatal("no summary after ready")
	}
	if ds.Summary.TotalFiles != 2 {
		t.Errorf("total files = %d, want 2", ds.Summary.TotalFiles)
	}
	if ds.Summary.ModalityCounts["US"] != 2 {
		t.Errorf("modality counts = %v, want US:2", ds.Summary.ModalityCounts)
	}
}

func TestPipeline_QueueFull(t *testing.T) {
	p, s := newPipeline(t, 1, 1)
	insertDataset(t, s, "ds-1")
	insertDataset(t, s, "ds-2")

	// Not started, so the first submission sits in the queue.
	if err := p.Submit("ds-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if err := p.Submit("ds-2"); err == nil {
		t.Error("expected queue-full error")
	}
}

func TestPipeline_Recover(t *testing.T) {
	p, s := newPipeline(t, 1, 8)
	ctx := context.Background()

	insertDataset(t, s, "ds-stuck")
	insertDataset(t, s, "ds-done")
	if err := s.SetStage(ctx, "ds-stuck", model.StageAnalyzeFiles); err != nil {
		t.Fatal(err)
	}
	if err := s.SetStage(ctx, "ds-done", model.StageReady); err != nil {
		t.Fatal(err)
	}

	if err := p.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}
	p.Start(ctx)
	defer p.Stop()

	ds := waitForStage(t, s, "ds-stuck", model.StageReady)
	if ds.Summary == nil {
		t.Error("recovered dataset has no summary")
	}
}

func TestPipeline_DuplicateSubmitRejected(t *testing.T) {
	p, s := newPipeline(t, 2, 8)
	insertDataset(t, s, "ds-1")

	if err := p.Submit("ds-1"); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// A retry issued while the dataset is still queued must not enqueue a
	// second run.
	if err := p.Submit("ds-1"); err == nil {
		t.Fatal("expected duplicate submission to be rejected")
	}

	p.Start(context.Background())
	defer p.Stop()
	waitForStage(t, s, "ds-1", model.StageReady)

	// After the run finishes, resubmitting becomes legal again. The worker
	// may still be unregistering the run, so allow a short grace period.
	deadline := time.Now().Add(5 * time.Second)
	for {
		err := p.Submit("ds-1")
		if err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("resubmit after completion: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitForStage(t, s, "ds-1", model.StageReady)
}

func TestPipeline_RecoverDrainsBacklogLargerThanQueue(t *testing.T) {
	p, s := newPipeline(t, 1, 1)
	ctx := context.Background()

	ids := []string{"ds-a", "ds-b", "ds-c"}
	for _, id := range ids {
		insertDataset(t, s, id)
		if err := s.SetStage(ctx, id, model.StageAnalyzeFiles); err != nil {
			t.Fatal(err)
		}
	}

	// With workers running, a backlog bigger than the queue drains through
	// instead of failing recovery.
	p.Start(ctx)
	defer p.Stop()
	if err := p.Recover(ctx); err != nil {
		t.Fatalf("recover: %v", err)
	}

	for _, id := range ids {
		waitForStage(t, s, id, model.StageReady)
	}
}

func TestPipeline_CancelNotRunning(t *testing.T) {
	p, _ := newPipeline(t, 1, 8)
	if p.Cancel("nope") {
		t.Error("cancel of unknown dataset should report false")
	}
}
