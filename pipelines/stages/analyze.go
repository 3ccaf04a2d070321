// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package stages

import (
	"context"
	"path/filepath"
	"time"

	"github.com/mdhender/datascan/modality"
	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// analyze classifies every prepared file and persists the records in
// batches. Per-file failures become unknown records with the error recorded;
// only store failures and cancellation abort the stage.
func (r *Runner) analyze(ctx context.Context, ds *model.Dataset, paths []string) error {
	sem := semaphore.NewWeighted(int64(r.opts.FileConcurrency))
	results := make(chan *model.FileRecord, r.opts.BatchSize)

	g, gctx := errgroup.WithContext(ctx)

	// Single writer drains results and flushes upsert batches. The natural
	// key (dataset_id, relpath) makes re-runs overwrite instead of duplicate.
	writeDone := make(chan error, 1)
	go func() {
		batch := make([]*model.FileRecord, 0, r.opts.BatchSize)
		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := r.store.UpsertFileRecords(ctx, batch); err != nil {
				return &ErrStore{Op: "upsert file records", Err: err}
			}
			batch = batch[:0]
			return nil
		}
		for rec := range results {
			batch = append(batch, rec)
			if len(batch) >= r.opts.BatchSize {
				if err := flush(); err != nil {
					writeDone <- err
					for range results {
						// drain so workers never block
					}
					return
				}
			}
		}
		writeDone <- flush()
	}()

	for _, relPath := range paths {
		relPath := relPath
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			select {
			case results <- r.analyzeFile(gctx, ds, relPath):
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	workerErr := g.Wait()
	close(results)
	writeErr := <-writeDone

	if err := ctx.Err(); err != nil {
		return err
	}
	if workerErr != nil {
		return workerErr
	}
	return writeErr
}

// analyzeFile classifies one file and fuses its modality votes. Never
// returns an error; failures are recorded on the record itself.
func (r *Runner) analyzeFile(ctx context.Context, ds *model.Dataset, relPath string) *model.FileRecord {
	fullPath := filepath.Join(ds.Workspace, filepath.FromSlash(relPath))
	info := sniff.Sniff(r.fs, fullPath)

	rec := &model.FileRecord{
		DatasetID: ds.ID,
		RelPath:   relPath,
		Kind:      info.Kind,
		NDim:      info.NDim,
		Dims:      info.Dims,
		SizeBytes: info.SizeBytes,
		Error:     info.Reason,
		Meta:      info.Meta,
		CreatedAt: time.Now().UTC(),
	}

	fusion := r.engine.Infer(ctx, modality.File{
		FS:      r.fs,
		Path:    fullPath,
		RelPath: relPath,
	}, info)
	rec.Fusion = fusion
	rec.Modality = fusion.Label

	return rec
}
