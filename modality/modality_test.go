// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/mdhender/datascan/modality"
	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
)

// stubDetector returns a fixed vote (or abstains, or fails).
type stubDetector struct {
	name string
	max  float64
	vote *model.Vote
	err  error
}

func (d *stubDetector) Name() string       { return d.name }
func (d *stubDetector) MaxWeight() float64 { return d.max }
func (d *stubDetector) Vote(_ context.Context, _ modality.File, _ sniff.Info) (*model.Vote, error) {
	return d.vote, d.err
}

func TestEngine_NoVotesIsUnknown(t *testing.T) {
	engine := modality.NewEngine([]modality.Detector{
		&stubDetector{name: "stats", max: 0.5},
		&stubDetector{name: "keyword", max: 0.25},
	}, 4.0)

	result := engine.Infer(context.Background(), modality.File{}, sniff.Info{})
	if result.Label != model.ModalityUnknown {
		t.Errorf("label = %q, want unknown", result.Label)
	}
	if result.Confidence != 0 {
		t.Errorf("confidence = %v, want 0", result.Confidence)
	}
	if len(result.Votes) != 0 {
		t.Errorf("votes = %v, want none", result.Votes)
	}
}

func TestEngine_TagDominatesHeuristics(t *testing.T) {
	// One tag vote for A must beat two heuristic votes for B.
	engine := modality.NewEngine([]modality.Detector{
		&stubDetector{
			name: "tag", max: 0.9,
			vote: &model.Vote{Source: "tag", Label: "CT", Weight: 0.9},
		},
		&stubDetector{
			name: "stats", max: 0.5,
			vote: &model.Vote{Source: "stats", Label: "US", Weight: 0.5},
		},
		&stubDetector{
			name: "keyword", max: 0.25,
			vote: &model.Vote{Source: "keyword", Label: "US", Weight: 0.25},
		},
	}, 4.0)

	result := engine.Infer(context.Background(), modality.File{}, sniff.Info{})
	if result.Label != "CT" {
		t.Fatalf("label = %q, want CT", result.Label)
	}
	// Winner: 0.9*4 = 3.6; denominator: 0.9*4 + 0.5 + 0.25 = 4.35.
	want := 3.6 / 4.35
	if diff := result.Confidence - want; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("confidence = %v, want %v", result.Confidence, want)
	}
	if len(result.Votes) != 3 {
		t.Errorf("votes = %d, want 3 (all votes kept on the trace)", len(result.Votes))
	}
}

func TestEngine_TieBreaksByPriority(t *testing.T) {
	// Equal aggregates: the label backed by the earlier detector wins.
	engine := modality.NewEngine([]modality.Detector{
		&stubDetector{
			name: "stats", max: 0.5,
			vote: &model.Vote{Source: "stats", Label: "MR", Weight: 0.3},
		},
		&stubDetector{
			name: "keyword", max: 0.5,
			vote: &model.Vote{Source: "keyword", Label: "CT", Weight: 0.3},
		},
	}, 1.0)

	result := engine.Infer(context.Background(), modality.File{}, sniff.Info{})
	if result.Label != "MR" {
		t.Errorf("label = %q, want MR (higher-priority detector)", result.Label)
	}
}

func TestEngine_DetectorErrorIsRecordedNotFatal(t *testing.T) {
	engine := modality.NewEngine([]modality.Detector{
		&stubDetector{name: "stats", max: 0.5, err: fmt.Errorf("decode failed")},
		&stubDetector{
			name: "keyword", max: 0.25,
			vote: &model.Vote{Source: "keyword", Label: "XRAY", Weight: 0.25},
		},
	}, 4.0)

	result := engine.Infer(context.Background(), modality.File{}, sniff.Info{})
	if result.Label != "XRAY" {
		t.Errorf("label = %q, want XRAY", result.Label)
	}
	if len(result.Errors) != 1 {
		t.Fatalf("errors = %v, want one entry", result.Errors)
	}
}

func TestEngine_ConfidenceDenominatorTracksActiveSet(t *testing.T) {
	// A smaller detector set raises confidence for the same vote.
	vote := &model.Vote{Source: "keyword", Label: "CT", Weight: 0.25}

	small := modality.NewEngine([]modality.Detector{
		&stubDetector{name: "keyword", max: 0.25, vote: vote},
	}, 1.0)
	large := modality.NewEngine([]modality.Detector{
		&stubDetector{name: "keyword", max: 0.25, vote: vote},
		&stubDetector{name: "stats", max: 0.5},
	}, 1.0)

	rs := small.Infer(context.Background(), modality.File{}, sniff.Info{})
	rl := large.Infer(context.Background(), modality.File{}, sniff.Info{})
	if rs.Confidence <= rl.Confidence {
		t.Errorf("confidence %v (small set) should exceed %v (large set)", rs.Confidence, rl.Confidence)
	}
	if rs.Confidence != 1.0 {
		t.Errorf("single-detector full-weight vote should be confidence 1, got %v", rs.Confidence)
	}
}

func TestTagDetector(t *testing.T) {
	d := modality.NewTagDetector()

	cases := []struct {
		code string
		want string // "" = abstain
	}{
		{"CT", "CT"},
		{"MR", "MR"},
		{"DX", "XRAY"},
		{"CR", "XRAY"},
		{"MG", "XRAY"},
		{"PT", "PT"},
		{"unknown", ""},
		{"XJZ", ""},
	}
	for _, tc := range cases {
		vote, err := d.Vote(context.Background(), modality.File{}, sniff.Info{Modality: tc.code})
		if err != nil {
			t.Fatalf("tag %q: %v", tc.code, err)
		}
		if tc.want == "" {
			if vote != nil {
				t.Errorf("tag %q: got vote %v, want abstain", tc.code, vote)
			}
			continue
		}
		if vote == nil || vote.Label != tc.want {
			t.Errorf("tag %q: vote = %v, want label %q", tc.code, vote, tc.want)
		}
	}
}

func TestKeywordDetector(t *testing.T) {
	d := modality.NewKeywordDetector()

	cases := []struct {
		relPath string
		want    string
	}{
		{"study/ct/slice_001.png", "CT"},
		{"ULTRASOUND/frame9.jpg", "US"},
		{"brain_t1w.nii", "MR"},
		{"chest-xray-004.jpeg", "XRAY"},
		{"axial/img3.png", "CT"},
		{"cxr/img.png", "XRAY"},
		{"random/photo.png", ""},
	}
	for _, tc := range cases {
		vote, err := d.Vote(context.Background(), modality.File{RelPath: tc.relPath}, sniff.Info{})
		if err != nil {
			t.Fatalf("%s: %v", tc.relPath, err)
		}
		if tc.want == "" {
			if vote != nil {
				t.Errorf("%s: got vote %v, want abstain", tc.relPath, vote)
			}
			continue
		}
		if vote == nil || vote.Label != tc.want {
			t.Errorf("%s: vote = %v, want label %q", tc.relPath, vote, tc.want)
		}
	}
}
