// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package modality

import (
	"context"
	"image"
	"math"

	"github.com/mdhender/datascan/model"
	"github.com/mdhender/datascan/sniff"
	"gonum.org/v1/gonum/stat"
)

// statsMaxWeight caps the influence of image statistics; they are a
// moderate-trust signal.
const statsMaxWeight = 0.5

// statsMaxBytes skips the pixel decode for very large files; the detector
// simply abstains rather than ballooning memory.
const statsMaxBytes = 64 << 20

// sampleGrid bounds the number of pixels examined per axis.
const sampleGrid = 160

// StatsDetector votes from decoded image statistics: aspect ratio, color
// versus grayscale, intensity distribution shape, and edge density. Ranges
// characteristic of a modality add to that modality's score; the strongest
// class becomes the vote.
type StatsDetector struct{}

func NewStatsDetector() *StatsDetector { return &StatsDetector{} }

func (d *StatsDetector) Name() string       { return DetectorStats }
func (d *StatsDetector) MaxWeight() float64 { return statsMaxWeight }

func (d *StatsDetector) Vote(_ context.Context, f File, info sniff.Info) (*model.Vote, error) {
	if info.Kind != model.KindImage || info.SizeBytes > statsMaxBytes {
		return nil, nil
	}

	img, err := decodeImage(f)
	if err != nil {
		return nil, err
	}

	s := measure(img)
	scores := map[string]float64{}

	// Near-square frames are typical for reconstructed slices and
	// ultrasound captures.
	if s.aspect > 0.7 && s.aspect < 1.5 {
		scores[LabelUS] += 0.2
		scores[LabelMR] += 0.2
	}

	if s.grayscale {
		scores[LabelCT] += 0.2
		scores[LabelMR] += 0.2
		scores[LabelXRay] += 0.2
	} else {
		scores[LabelOptical] += 0.3
	}

	// Ultrasound sectors sit on a large black background.
	if s.grayscale && s.darkFraction > 0.35 {
		scores[LabelUS] += 0.3
	}

	// Radiographs are edge-dense over the whole frame.
	if s.edgeDensity > 0.2 {
		scores[LabelXRay] += 0.15
	}

	// Very low contrast is uncharacteristic of any supported modality.
	if s.stddev < 0.02 {
		return nil, nil
	}

	var best string
	var bestScore float64
	for label, score := range scores {
		if score > bestScore || (score == bestScore && label < best) {
			best, bestScore = label, score
		}
	}
	if bestScore <= 0 {
		return nil, nil
	}
	return &model.Vote{
		Source: DetectorStats,
		Label:  best,
		Weight: math.Min(statsMaxWeight, bestScore),
	}, nil
}

type imageStats struct {
	aspect       float64
	grayscale    bool
	darkFraction float64
	edgeDensity  float64
	mean, stddev float64
}

// measure samples the image on a coarse grid and derives the statistics the
// detector votes on. Luminance values are normalized to [0,1].
func measure(img image.Image) imageStats {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return imageStats{}
	}

	stepX, stepY := w/sampleGrid, h/sampleGrid
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	var lums []float64
	var cols, rows int
	grayscale := true
	dark := 0

	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		cols = 0
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			if !closeChannels(r, g) || !closeChannels(g, bl) {
				grayscale = false
			}
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
			if lum < 0.1 {
				dark++
			}
			lums = append(lums, lum)
			cols++
		}
		rows++
	}
	if len(lums) == 0 {
		return imageStats{}
	}

	mean, std := stat.MeanStdDev(lums, nil)
	if math.IsNaN(std) {
		std = 0
	}

	return imageStats{
		aspect:       float64(w) / float64(h),
		grayscale:    grayscale,
		darkFraction: float64(dark) / float64(len(lums)),
		edgeDensity:  edgeDensity(lums, cols, rows),
		mean:         mean,
		stddev:       std,
	}
}

// edgeDensity is the fraction of sampled pixels whose horizontal or vertical
// gradient exceeds a fixed threshold. A cheap stand-in for a real edge map.
func edgeDensity(lums []float64, cols, rows int) float64 {
	if cols < 2 || rows < 2 {
		return 0
	}
	const threshold = 0.15
	edges, total := 0, 0
	for y := 0; y < rows-1; y++ {
		for x := 0; x < cols-1; x++ {
			i := y*cols + x
			dx := math.Abs(lums[i+1] - lums[i])
			dy := math.Abs(lums[i+cols] - lums[i])
			if dx > threshold || dy > threshold {
				edges++
			}
			total++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(edges) / float64(total)
}

// closeChannels treats channels within ~2% of full scale as equal, so JPEG
// artifacts do not turn grayscale scans into color ones.
func closeChannels(a, b uint32) bool {
	d := int64(a) - int64(b)
	if d < 0 {
		d = -d
	}
	return d <= 0x500
}

func decodeImage(f File) (image.Image, error) {
	r, err := f.FS.Open(f.Path)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	img, _, err := image.Decode(r)
	return img, err
}
