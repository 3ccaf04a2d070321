// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package stages executes the dataset pipeline: prepare, analyze_files,
// profile, finalize. Every stage transition is validated by the model.Stage
// machine and persisted before the stage body runs, so a crash leaves the
// dataset parked on the stage it was executing and recovery can resume it.
package stages

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"

	"github.com/mdhender/datascan/embed"
	"github.com/mdhender/datascan/modality"
	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/profile"
	"github.com/spf13/afero"
)

// Store defines the store operations needed by the Runner.
type Store interface {
	SetStage(ctx context.Context, datasetID string, stage model.Stage) error
	SetFailed(ctx context.Context, datasetID, failStage, errorCode, errorMsg string) error
	UpsertFileRecords(ctx context.Context, records []*model.FileRecord) error
	FileRecords(ctx context.Context, datasetID string) ([]*model.FileRecord, error)
	WriteSummary(ctx context.Context, datasetID string, summary *model.DatasetSummary) error
}

// Options tunes a pipeline run. Zero values are replaced by defaults.
type Options struct {
	// FileConcurrency bounds parallel per-file analysis.
	FileConcurrency int
	// BatchSize is the upsert batch size for file records.
	BatchSize int
	// MaxFiles caps the number of files taken from a workspace; 0 = no cap.
	MaxFiles int
	// Profile tunes the clustering pass.
	Profile profile.Params
	// MixedModalityShare is the minimum share a modality needs to count
	// toward the mixed-modality flag.
	MixedModalityShare float64
}

const (
	defaultFileConcurrency = 8
	defaultBatchSize       = 200
	defaultMixedShare      = 0.15
)

func (o Options) withDefaults() Options {
	if o.FileConcurrency <= 0 {
		o.FileConcurrency = defaultFileConcurrency
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.MixedModalityShare <= 0 {
		o.MixedModalityShare = defaultMixedShare
	}
	return o
}

// Runner drives a single dataset through the pipeline stages.
type Runner struct {
	store    Store
	engine   *modality.Engine
	embedder embed.Embedder
	opts     Options
	fs       afero.Fs
}

// NewRunner creates a Runner. The embedder may be nil, in which case the
// profile stage reports no_embeddings instead of clustering.
func NewRunner(store Store, engine *modality.Engine, embedder embed.Embedder, opts Options) *Runner {
	return &Runner{
		store:    store,
		engine:   engine,
		embedder: embedder,
		opts:     opts.withDefaults(),
		fs:       afero.NewOsFs(),
	}
}

// SetFS sets the filesystem for testing.
func (r *Runner) SetFS(fs afero.Fs) {
	r.fs = fs
}

// Run executes the full pipeline for ds. On stage failure the dataset is
// marked failed with the stage name and error code recorded; a context
// cancellation leaves the dataset parked on its current stage for recovery.
func (r *Runner) Run(ctx context.Context, ds *model.Dataset) error {
	if err := r.advance(ctx, ds, model.StagePrepare); err != nil {
		return err
	}
	paths, err := r.prepare(ds)
	if err != nil {
		return r.fail(ctx, ds, err)
	}

	if err := r.advance(ctx, ds, model.StageAnalyzeFiles); err != nil {
		return err
	}
	if err := r.analyze(ctx, ds, paths); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, ds, err)
	}

	if err := r.advance(ctx, ds, model.StageProfile); err != nil {
		return err
	}
	prof, err := r.profile(ctx, ds)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, ds, err)
	}

	if err := r.advance(ctx, ds, model.StageFinalize); err != nil {
		return err
	}
	if err := r.finalize(ctx, ds, prof); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return r.fail(ctx, ds, err)
	}

	return r.advance(ctx, ds, model.StageReady)
}

// advance validates and persists a stage transition.
func (r *Runner) advance(ctx context.Context, ds *model.Dataset, to model.Stage) error {
	next, err := ds.Stage.Transition(to)
	if err != nil {
		return err
	}
	if err := r.store.SetStage(ctx, ds.ID, next); err != nil {
		return &ErrStore{Op: "set stage", Err: err}
	}
	ds.Stage = next
	return nil
}

// fail records the failure and moves the dataset to the failed stage.
func (r *Runner) fail(ctx context.Context, ds *model.Dataset, cause error) error {
	log.Printf("pipeline: dataset %s failed at %s: %v", ds.ID, ds.Stage, cause)
	failStage := string(ds.Stage)
	if err := r.store.SetFailed(ctx, ds.ID, failStage, ErrorCode(cause), cause.Error()); err != nil {
		return &ErrStore{Op: "set failed", Err: err}
	}
	ds.Stage = model.StageFailed
	ds.FailStage = failStage
	ds.ErrorCode = ErrorCode(cause)
	ds.LastError = cause.Error()
	return cause
}

// prepare enumerates the workspace. Paths come back sorted and relative to
// the workspace root so re-runs see the same order.
func (r *Runner) prepare(ds *model.Dataset) ([]string, error) {
	info, err := r.fs.Stat(ds.Workspace)
	if err != nil {
		return nil, &ErrWorkspace{Op: "stat", Path: ds.Workspace, Err: err}
	}
	if !info.IsDir() {
		return nil, &ErrWorkspace{Op: "stat", Path: ds.Workspace, Err: fmt.Errorf("not a directory")}
	}

	var paths []string
	err = afero.Walk(r.fs, ds.Workspace, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return &ErrWorkspace{Op: "walk", Path: path, Err: err}
		}
		if fi.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(ds.Workspace, path)
		if err != nil {
			return &ErrWorkspace{Op: "walk", Path: path, Err: err}
		}
		paths = append(paths, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Strings(paths)
	if r.opts.MaxFiles > 0 && len(paths) > r.opts.MaxFiles {
		log.Printf("pipeline: dataset %s capped at %d of %d files", ds.ID, r.opts.MaxFiles, len(paths))
		paths = paths[:r.opts.MaxFiles]
	}
	return paths, nil
}

// profileState carries clustering results from profile into finalize.
type profileState struct {
	result            profile.Result
	embeddedFiles     int
	embeddingFailures int
}

// profile embeds the analyzable image records and clusters the embedding
// set. Embedding failures exclude the file, never the dataset.
func (r *Runner) profile(ctx context.Context, ds *model.Dataset) (*profileState, error) {
	records, err := r.store.FileRecords(ctx, ds.ID)
	if err != nil {
		return nil, &ErrStore{Op: "list file records", Err: err}
	}

	state := &profileState{}
	vectors := make(map[string][]float32)
	var embedded []*model.FileRecord

	for _, rec := range records {
		if r.embedder == nil || rec.Kind != model.KindImage || rec.Error != "" {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec, err := r.embedder.Embed(ctx, r.fs, filepath.Join(ds.Workspace, filepath.FromSlash(rec.RelPath)))
		if err != nil {
			state.embeddingFailures++
			continue
		}
		vectors[rec.RelPath] = vec
		rec.Embedded = true
		embedded = append(embedded, rec)
	}
	state.embeddedFiles = len(embedded)

	if len(embedded) > 0 {
		if err := r.store.UpsertFileRecords(ctx, embedded); err != nil {
			return nil, &ErrStore{Op: "mark embedded", Err: err}
		}
	}

	state.result = profile.Cluster(vectors, r.opts.Profile)
	return state, nil
}

// finalize recomputes the dataset summary from the durable record set and
// publishes it.
func (r *Runner) finalize(ctx context.Context, ds *model.Dataset, prof *profileState) error {
	records, err := r.store.FileRecords(ctx, ds.ID)
	if err != nil {
		return &ErrStore{Op: "list file records", Err: err}
	}

	summary := buildSummary(records, prof, r.opts.MixedModalityShare)
	if err := r.store.WriteSummary(ctx, ds.ID, summary); err != nil {
		return &ErrStore{Op: "write summary", Err: err}
	}
	ds.Summary = summary
	return nil
}
