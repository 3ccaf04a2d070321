// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality

import (
	"context"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
)

// Scorer supplies precomputed class probabilities from a learned model.
// Absent (nil) is a valid state producing no votes.
type Scorer interface {
	Probs(ctx context.Context, f File) (map[string]float64, error)
}

// ModelDetector turns the strongest model probability into a vote. The vote
// weight is the probability itself, so an uncertain model contributes
// little.
type ModelDetector struct {
	s Scorer
}

func NewModelDetector(s Scorer) *ModelDetector { return &ModelDetector{s: s} }

func (d *ModelDetector) Name() string       { return DetectorModel }
func (d *ModelDetector) MaxWeight() float64 { return 1.0 }

func (d *ModelDetector) Vote(ctx context.Context, f File, info sniff.Info) (*model.Vote, error) {
	if d.s == nil || info.Kind != model.KindImage {
		return nil, nil
	}
	probs, err := d.s.Probs(ctx, f)
	if err != nil {
		return nil, err
	}
	var best string
	var bestP float64
	for label, p := range probs {
		if p > bestP || (p == bestP && label < best) {
			best, bestP = label, p
		}
	}
	if best == "" || bestP <= 0 {
		return nil, nil
	}
	if bestP > 1 {
		bestP = 1
	}
	return &model.Vote{Source: DetectorModel, Label: best, Weight: bestP}, nil
}
