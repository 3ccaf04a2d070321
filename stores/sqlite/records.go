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

// UpsertFileRecords writes a batch of file records in one transaction,
// keyed by (dataset_id, relpath) so repeated analysis overwrites in place.
func (s *SQLiteStore) UpsertFileRecords(ctx context.Context, records []*model.FileRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	const query = `
		INSERT INTO file_records (
			dataset_id, relpath, kind, modality, fusion,
			ndim, dims, size_bytes, embedded, error, meta, created_at
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (dataset_id, relpath) DO UPDATE SET
			kind = excluded.kind,
			modality = excluded.modality,
			fusion = excluded.fusion,
			ndim = excluded.ndim,
			dims = excluded.dims,
			size_bytes = excluded.size_bytes,
			embedded = excluded.embedded,
			error = excluded.error,
			meta = excluded.meta
	`
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		fusion, err := json.Marshal(rec.Fusion)
		if err != nil {
			return fmt.Errorf("marshal fusion for %s: %w", rec.RelPath, err)
		}
		dims, err := marshalNullable(rec.Dims)
		if err != nil {
			return fmt.Errorf("marshal dims for %s: %w", rec.RelPath, err)
		}
		meta, err := marshalNullable(rec.Meta)
		if err != nil {
			return fmt.Errorf("marshal meta for %s: %w", rec.RelPath, err)
		}

		_, err = stmt.ExecContext(ctx,
			rec.DatasetID,
			rec.RelPath,
			string(rec.Kind),
			rec.Modality,
			string(fusion),
			rec.NDim,
			dims,
			rec.SizeBytes,
			boolToInt(rec.Embedded),
			rec.Error,
			meta,
			rec.CreatedAt.Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("upsert file record %s: %w", rec.RelPath, err)
		}
	}

	return tx.Commit()
}

// FileRecords returns every record for a dataset, ordered by relative path.
func (s *SQLiteStore) FileRecords(ctx context.Context, datasetID string) ([]*model.FileRecord, error) {
	const query = `
		SELECT dataset_id, relpath, kind, modality, fusion,
		       ndim, dims, size_bytes, embedded, error, meta, created_at
		FROM file_records
		WHERE dataset_id = ?
		ORDER BY relpath
	`
	rows, err := s.db.QueryContext(ctx, query, datasetID)
	if err != nil {
		return nil, fmt.Errorf("query file records: %w", err)
	}
	defer rows.Close()

	var records []*model.FileRecord
	for rows.Next() {
		var rec model.FileRecord
		var kind, fusion, createdAt string
		var dims, meta sql.NullString
		var embedded int

		if err := rows.Scan(
			&rec.DatasetID, &rec.RelPath, &kind, &rec.Modality, &fusion,
			&rec.NDim, &dims, &rec.SizeBytes, &embedded, &rec.Error, &meta, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan file record: %w", err)
		}

		rec.Kind = model.FileKind(kind)
		rec.Embedded = embedded == 1
		if err := json.Unmarshal([]byte(fusion), &rec.Fusion); err != nil {
			return nil, fmt.Errorf("unmarshal fusion for %s: %w", rec.RelPath, err)
		}
		if dims.Valid && dims.String != "" {
			if err := json.Unmarshal([]byte(dims.String), &rec.Dims); err != nil {
				return nil, fmt.Errorf("unmarshal dims for %s: %w", rec.RelPath, err)
			}
		}
		if meta.Valid && meta.String != "" {
			if err := json.Unmarshal([]byte(meta.String), &rec.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal meta for %s: %w", rec.RelPath, err)
			}
		}
		if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
			rec.CreatedAt = t
		}

		records = append(records, &rec)
	}
	return records, rows.Err()
}

// marshalNullable marshals v to JSON, mapping empty containers to NULL.
func marshalNullable(v any) (sql.NullString, error) {
	switch t := v.(type) {
	case []int:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	case map[string]string:
		if len(t) == 0 {
			return sql.NullString{}, nil
		}
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}
