// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mdhender/datascan/model"
)

// InsertDataset inserts a new dataset row.
func (s *SQLiteStore) InsertDataset(ctx context.Context, ds *model.Dataset) error {
	const query = `
		INSERT INTO datasets (id, name, source_ref, workspace, stage, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		ds.ID,
		ds.Name,
		ds.SourceRef,
		ds.Workspace,
		string(ds.Stage),
		ds.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("insert dataset: %w", err)
	}
	return nil
}

// GetDataset retrieves a dataset by ID. Returns nil if not found.
func (s *SQLiteStore) GetDataset(ctx context.Context, id string) (*model.Dataset, error) {
	const query = `
		SELECT id, name, source_ref, workspace, stage, fail_stage, error_code, last_error, summary, created_at
		FROM datasets
		WHERE id = ?
	`
	ds, err := scanDataset(s.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return ds, err
}

// ListDatasets returns all datasets, newest first.
func (s *SQLiteStore) ListDatasets(ctx context.Context) ([]*model.Dataset, error) {
	const query = `
		SELECT id, name, source_ref, workspace, stage, fail_stage, error_code, last_error, summary, created_at
		FROM datasets
		ORDER BY created_at DESC, id
	`
	return s.queryDatasets(ctx, query)
}

// ListUnfinished returns every dataset parked on a non-terminal stage, in
// submission order. Startup recovery re-enqueues these.
func (s *SQLiteStore) ListUnfinished(ctx context.Context) ([]*model.Dataset, error) {
	const query = `
		SELECT id, name, source_ref, workspace, stage, fail_stage, error_code, last_error, summary, created_at
		FROM datasets
		WHERE stage NOT IN (?, ?)
		ORDER BY created_at, id
	`
	return s.queryDatasets(ctx, query, string(model.StageReady), string(model.StageFailed))
}

// SetStage persists a stage transition and clears any stale failure state
// when the dataset re-enters the pipeline.
func (s *SQLiteStore) SetStage(ctx context.Context, datasetID string, stage model.Stage) error {
	const query = `
		UPDATE datasets
		SET stage = ?,
		    fail_stage = CASE WHEN ? = 'prepare' THEN '' ELSE fail_stage END,
		    error_code = CASE WHEN ? = 'prepare' THEN '' ELSE error_code END,
		    last_error = CASE WHEN ? = 'prepare' THEN '' ELSE last_error END
		WHERE id = ?
	`
	st := string(stage)
	result, err := s.db.ExecContext(ctx, query, st, st, st, st, datasetID)
	if err != nil {
		return fmt.Errorf("set stage: %w", err)
	}
	return requireRow(result, datasetID)
}

// SetFailed marks a dataset failed, recording the stage that failed and why.
func (s *SQLiteStore) SetFailed(ctx context.Context, datasetID, failStage, errorCode, errorMsg string) error {
	const query = `
		UPDATE datasets
		SET stage = ?, fail_stage = ?, error_code = ?, last_error = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		string(model.StageFailed), failStage, errorCode, errorMsg, datasetID)
	if err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return requireRow(result, datasetID)
}

// WriteSummary persists the derived dataset profile as JSON.
func (s *SQLiteStore) WriteSummary(ctx context.Context, datasetID string, summary *model.DatasetSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal summary: %w", err)
	}
	const query = `UPDATE datasets SET summary = ? WHERE id = ?`
	result, err := s.db.ExecContext(ctx, query, string(data), datasetID)
	if err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return requireRow(result, datasetID)
}

func (s *SQLiteStore) queryDatasets(ctx context.Context, query string, args ...any) ([]*model.Dataset, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query datasets: %w", err)
	}
	defer rows.Close()

	var datasets []*model.Dataset
	for rows.Next() {
		ds, err := scanDataset(rows)
		if err != nil {
			return nil, err
		}
		datasets = append(datasets, ds)
	}
	return datasets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDataset(row rowScanner) (*model.Dataset, error) {
	var ds model.Dataset
	var stage, createdAt string
	var summary sql.NullString

	if err := row.Scan(
		&ds.ID, &ds.Name, &ds.SourceRef, &ds.Workspace,
		&stage, &ds.FailStage, &ds.ErrorCode, &ds.LastError,
		&summary, &createdAt,
	); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan dataset: %w", err)
	}

	ds.Stage = model.Stage(stage)
	if summary.Valid && summary.String != "" {
		var sm model.DatasetSummary
		if err := json.Unmarshal([]byte(summary.String), &sm); err != nil {
			return nil, fmt.Errorf("unmarshal summary: %w", err)
		}
		ds.Summary = &sm
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		ds.CreatedAt = t
	}
	return &ds, nil
}

func requireRow(result sql.Result, datasetID string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("dataset %s not found", datasetID)
	}
	return nil
}
