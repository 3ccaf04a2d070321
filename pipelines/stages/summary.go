// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package stages

import (
	"path/filepath"
	"strings"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/profile"
	"github.com/mdhender/datascan/sniff"
)

// buildSummary derives the dataset profile from the durable record set plus
// the clustering outcome. It is a pure function so re-running finalize is
// idempotent.
func buildSummary(records []*model.FileRecord, prof *profileState, mixedShare float64) *model.DatasetSummary {
	s := &model.DatasetSummary{
		TotalFiles:     len(records),
		KindCounts:     make(map[string]int),
		ModalityCounts: make(map[string]int),
		Modalities:     make(map[string]model.ModalityShare),
		ExtCounts:      make(map[string]int),
		OutlierState:   model.OutlierStateNoEmbeddings,
	}

	confSum := make(map[string]float64)
	confN := make(map[string]int)
	seriesInstances := make(map[string]int)
	basenames := make(map[string]int)

	for _, rec := range records {
		s.KindCounts[string(rec.Kind)]++
		s.ModalityCounts[rec.Modality]++
		s.ExtCounts[sniff.Ext(rec.RelPath)]++

		if rec.Fusion.Confidence > 0 {
			confSum[rec.Modality] += rec.Fusion.Confidence
			confN[rec.Modality]++
		}

		key := sniff.Ext(rec.RelPath) + "|" + strings.ToLower(filepath.Base(rec.RelPath))
		basenames[key]++

		switch rec.Kind {
		case model.KindDICOM:
			// Volumes are counted at the series level below; an instance
			// without a series identifier stands alone as a 2D slice.
			uid := rec.Meta["SeriesInstanceUID"]
			if uid != "" {
				seriesInstances[uid]++
			} else {
				s.Image2DCount++
			}
		case model.KindNIfTI:
			if rec.NDim >= 3 {
				s.Volume3DCount++
			} else if rec.NDim == 2 {
				s.Image2DCount++
			}
		case model.KindImage:
			s.Image2DCount++
		}
	}

	// A DICOM series with two or more instances is one stack, hence one
	// volume. Singleton series stay 2D.
	for _, n := range seriesInstances {
		if n >= 2 {
			s.Volume3DCount++
		} else {
			s.Image2DCount += n
		}
	}

	for key, n := range basenames {
		if n > 1 {
			s.DuplicateBasenameCount += n
			ext := key[:strings.Index(key, "|")]
			if s.DuplicateBasenameExtCounts == nil {
				s.DuplicateBasenameExtCounts = make(map[string]int)
			}
			s.DuplicateBasenameExtCounts[ext] += n
		}
	}

	if s.TotalFiles > 0 {
		for label, n := range s.ModalityCounts {
			share := model.ModalityShare{
				Percent: 100 * float64(n) / float64(s.TotalFiles),
			}
			if confN[label] > 0 {
				mean := confSum[label] / float64(confN[label])
				share.Confidence = &mean
			}
			s.Modalities[label] = share
		}
	}

	s.MixedModality = profile.MixedModality(s.ModalityCounts, model.ModalityUnknown, mixedShare)

	if prof != nil {
		s.EmbeddedFiles = prof.embeddedFiles
		s.EmbeddingFailures = prof.embeddingFailures
		s.OutlierState = prof.result.State
		s.Outliers = len(prof.result.Outliers)
		s.ClusterCount = prof.result.Clusters
	}

	return s
}
