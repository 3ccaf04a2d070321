// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality

import (
	"context"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
)

// Detector names, also the Source recorded on votes.
const (
	DetectorTag     = "tag"
	DetectorModel   = "model"
	DetectorStats   = "stats"
	DetectorKeyword = "keyword"
	DetectorOverlay = "overlay"
)

// tagVoteWeight is the trust placed in a structured metadata tag. The tag
// dominance multiplier in the engine sits on top of this.
const tagVoteWeight = 0.9

// TagDetector votes the verbatim modality code found in structured header
// metadata. It is the highest-trust signal.
type TagDetector struct{}

func NewTagDetector() *TagDetector { return &TagDetector{} }

func (d *TagDetector) Name() string       { return DetectorTag }
func (d *TagDetector) MaxWeight() float64 { return tagVoteWeight }

func (d *TagDetector) Vote(_ context.Context, _ File, info sniff.Info) (*model.Vote, error) {
	if info.Modality == "" || info.Modality == model.ModalityUnknown {
		return nil, nil
	}
	label, ok := canonicalTag(info.Modality)
	if !ok {
		return nil, nil
	}
	return &model.Vote{Source: DetectorTag, Label: label, Weight: tagVoteWeight}, nil
}
