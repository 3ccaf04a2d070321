// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality

import (
	"context"
	"regexp"
	"strings"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
)

// keywordWeight is deliberately low: names are a tie-breaker, not evidence.
const keywordWeight = 0.25

type keywordRule struct {
	re    *regexp.Regexp
	label string
}

// Rules are checked in order; the first match wins. Patterns follow the
// vocabulary seen in public medical imaging datasets.
var keywordRules = []keywordRule{
	{regexp.MustCompile(`\bus\b|ultrasound|sonograph`), LabelUS},
	{regexp.MustCompile(`\bct\b|ctscan|tomograph`), LabelCT},
	{regexp.MustCompile(`\bmr\b|\bmri\b|t1w|t2w|flair`), LabelMR},
	{regexp.MustCompile(`xray|x-ray|\bcr\b|\bdx\b|radiograph`), LabelXRay},
	{regexp.MustCompile(`\baxial\b|coronal|sagittal`), LabelCT},
	{regexp.MustCompile(`\bchest\b|\bcxr\b`), LabelXRay},
}

// KeywordDetector matches modality vocabulary in the file name and its
// containing directory names, case-insensitively.
type KeywordDetector struct{}

func NewKeywordDetector() *KeywordDetector { return &KeywordDetector{} }

func (d *KeywordDetector) Name() string       { return DetectorKeyword }
func (d *KeywordDetector) MaxWeight() float64 { return keywordWeight }

func (d *KeywordDetector) Vote(_ context.Context, f File, _ sniff.Info) (*model.Vote, error) {
	// Separators become spaces so \b matches path components.
	haystack := strings.ToLower(f.RelPath)
	haystack = strings.NewReplacer("/", " ", "\\", " ", "_", " ", "-", " ", ".", " ").Replace(haystack)

	for _, rule := range keywordRules {
		if rule.re.MatchString(haystack) {
			return &model.Vote{Source: DetectorKeyword, Label: rule.label, Weight: keywordWeight}, nil
		}
	}
	return nil, nil
}
