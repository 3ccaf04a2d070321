// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality

import (
	"context"
	"regexp"
	"strings"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
)

const overlayWeight = 0.35

// Recognizer extracts burned-in text from an image surface. Implementations
// wrap whatever OCR engine is available; a nil Recognizer disables the
// detector entirely.
type Recognizer interface {
	Recognize(ctx context.Context, f File) (string, error)
}

type overlayRule struct {
	re    *regexp.Regexp
	label string
}

// Technical tokens burned into the overlay are modality-specific: transducer
// frequency and gain for ultrasound, tube settings for radiographs, pulse
// sequence timings for MR.
var overlayRules = []overlayRule{
	{regexp.MustCompile(`\bmhz\b|\bgain\b|\bdepth\b`), LabelUS},
	{regexp.MustCompile(`\bkvp\b|\bmas\b`), LabelXRay},
	{regexp.MustCompile(`\bte\b|\btr\b|tesla`), LabelMR},
}

// OverlayDetector searches recognized overlay text for modality-indicative
// technical tokens.
type OverlayDetector struct {
	r Recognizer
}

func NewOverlayDetector(r Recognizer) *OverlayDetector { return &OverlayDetector{r: r} }

func (d *OverlayDetector) Name() string       { return DetectorOverlay }
func (d *OverlayDetector) MaxWeight() float64 { return overlayWeight }

func (d *OverlayDetector) Vote(ctx context.Context, f File, info sniff.Info) (*model.Vote, error) {
	if d.r == nil || info.Kind != model.KindImage {
		return nil, nil
	}
	text, err := d.r.Recognize(ctx, f)
	if err != nil {
		return nil, err
	}
	text = strings.ToLower(text)
	for _, rule := range overlayRules {
		if rule.re.MatchString(text) {
			return &model.Vote{Source: DetectorOverlay, Label: rule.label, Weight: overlayWeight}, nil
		}
	}
	return nil, nil
}
