// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package modality assigns an imaging modality to a classified file by
// fusing the votes of several independent, individually weak detectors.
package modality

import (
	"context"
	"fmt"
	"sort"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
	"github.com/spf13/afero"
)

// Method names the fusion algorithm version recorded on every result.
const Method = "fusion/v1"

// Canonical modality labels. Tag codes that are x-ray variants (DX, CR, XA,
// RF, MG) collapse into XRAY so tag votes and heuristic votes land on the
// same candidate.
const (
	LabelCT      = "CT"
	LabelMR      = "MR"
	LabelUS      = "US"
	LabelXRay    = "XRAY"
	LabelNM      = "NM"
	LabelPT      = "PT"
	LabelOptical = "OPTICAL"
)

// File is the unit of work handed to detectors.
type File struct {
	FS      afero.Fs
	Path    string // path within FS
	RelPath string // dataset-relative path, used for name matching
}

// Detector produces at most one modality vote for a file.
//
// Vote returns (nil, nil) when the detector abstains, and an error only for
// conditions worth recording on the trace (the engine never fails a file on
// a detector error).
type Detector interface {
	Name() string
	MaxWeight() float64
	Vote(ctx context.Context, f File, info sniff.Info) (*model.Vote, error)
}

// Engine fuses detector votes into one decision per file.
//
// Detectors are iterated in construction order, which doubles as the
// priority order for tie-breaking. Any subset may be present; an empty
// engine labels everything unknown.
type Engine struct {
	detectors    []Detector
	tagDominance float64
}

// NewEngine builds an engine over the given detectors.
//
// tagDominance is the fixed multiplier applied to tag-based votes so that a
// single confident tag outranks any combination of heuristic votes. It is a
// tunable knob, not a constant; values below 1 are raised to 1.
func NewEngine(detectors []Detector, tagDominance float64) *Engine {
	if tagDominance < 1 {
		tagDominance = 1
	}
	return &Engine{detectors: detectors, tagDominance: tagDominance}
}

// Detectors returns the active detector names in priority order.
func (e *Engine) Detectors() []string {
	names := make([]string, 0, len(e.detectors))
	for _, d := range e.detectors {
		names = append(names, d.Name())
	}
	return names
}

func (e *Engine) multiplier(d Detector) float64 {
	if d.Name() == DetectorTag {
		return e.tagDominance
	}
	return 1
}

// Infer runs every detector and fuses the votes.
//
// Scoring: votes are grouped by label; each label's aggregate is the sum of
// vote weight times the source multiplier. The highest aggregate wins; ties
// go to the label backed by the highest-priority detector. Confidence is the
// winning aggregate normalized by the maximum aggregate achievable under the
// active detector set. No votes at all yields unknown with confidence 0.
func (e *Engine) Infer(ctx context.Context, f File, info sniff.Info) model.FusionResult {
	result := model.FusionResult{
		Label:  model.ModalityUnknown,
		Method: Method,
	}

	type candidate struct {
		score    float64
		priority int // lowest contributing detector index
	}
	scores := make(map[string]*candidate)

	var maxAggregate float64
	for i, d := range e.detectors {
		maxAggregate += d.MaxWeight() * e.multiplier(d)

		vote, err := d.Vote(ctx, f, info)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", d.Name(), err))
			continue
		}
		if vote == nil {
			continue
		}
		result.Votes = append(result.Votes, *vote)

		c := scores[vote.Label]
		if c == nil {
			c = &candidate{priority: i}
			scores[vote.Label] = c
		}
		c.score += vote.Weight * e.multiplier(d)
		if i < c.priority {
			c.priority = i
		}
	}

	if len(scores) == 0 {
		return result
	}

	labels := make([]string, 0, len(scores))
	for label := range scores {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		a, b := scores[labels[i]], scores[labels[j]]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.priority != b.priority {
			return a.priority < b.priority
		}
		return labels[i] < labels[j]
	})

	result.Label = labels[0]
	if maxAggregate > 0 {
		result.Confidence = scores[labels[0]].score / maxAggregate
	}
	return result
}

// canonicalTag maps a DICOM modality code to a canonical label. Unsupported
// codes produce no vote.
func canonicalTag(code string) (string, bool) {
	switch code {
	case "CT":
		return LabelCT, true
	case "MR":
		return LabelMR, true
	case "US":
		return LabelUS, true
	case "DX", "CR", "XA", "RF", "MG":
		return LabelXRay, true
	case "NM":
		return LabelNM, true
	case "PT":
		return LabelPT, true
	}
	return "", false
}
