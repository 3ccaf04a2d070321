// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package embed defines the feature-extraction boundary.
//
// The pipeline only depends on the Embedder interface: bytes in, fixed-length
// vector out, deterministic for fixed inputs. Vectors are compared with
// normalized Euclidean distance (equivalently, cosine similarity) by the
// profiler. The bundled HistogramEmbedder keeps the pipeline self-contained;
// a learned model can be injected without touching any other package.
package embed

import (
	"context"
	"fmt"
	"image"
	"math"

	"github.com/spf13/afero"
)

// Embedder maps a file to a fixed-length feature vector.
//
// Implementations must be deterministic for fixed inputs and must declare
// their dimensionality up front. Any error excludes the file from the
// embedding set; it never fails the dataset.
type Embedder interface {
	Dim() int
	Embed(ctx context.Context, fsys afero.Fs, path string) ([]float32, error)
}

const (
	histBins  = 56
	statsTail = 8
)

// HistogramEmbedder is a deterministic, model-free embedder: a normalized
// intensity histogram plus a handful of global statistics. It separates
// grossly different image populations well enough for outlier profiling and
// costs one downsampled decode per file.
type HistogramEmbedder struct{}

func NewHistogramEmbedder() *HistogramEmbedder { return &HistogramEmbedder{} }

func (e *HistogramEmbedder) Dim() int { return histBins + statsTail }

func (e *HistogramEmbedder) Embed(_ context.Context, fsys afero.Fs, path string) ([]float32, error) {
	f, err := fsys.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}

	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w == 0 || h == 0 {
		return nil, fmt.Errorf("empty image %s", path)
	}

	const grid = 128
	stepX, stepY := w/grid, h/grid
	if stepX < 1 {
		stepX = 1
	}
	if stepY < 1 {
		stepY = 1
	}

	vec := make([]float32, e.Dim())
	var sum, sumSq float64
	var dark, color, n int
	var prev float64
	var gradSum float64

	for y := b.Min.Y; y < b.Max.Y; y += stepY {
		for x := b.Min.X; x < b.Max.X; x += stepX {
			r, g, bl, _ := img.At(x, y).RGBA()
			lum := (0.299*float64(r) + 0.587*float64(g) + 0.114*float64(bl)) / 0xffff
			bin := int(lum * float64(histBins))
			if bin >= histBins {
				bin = histBins - 1
			}
			vec[bin]++
			sum += lum
			sumSq += lum * lum
			if lum < 0.1 {
				dark++
			}
			if delta := int64(r) - int64(g); delta > 0x500 || delta < -0x500 {
				color++
			}
			if n > 0 {
				gradSum += math.Abs(lum - prev)
			}
			prev = lum
			n++
		}
	}
	if n == 0 {
		return nil, fmt.Errorf("no samples in %s", path)
	}

	fn := float64(n)
	for i := 0; i < histBins; i++ {
		vec[i] /= float32(fn)
	}

	mean := sum / fn
	variance := sumSq/fn - mean*mean
	if variance < 0 {
		variance = 0
	}

	tail := vec[histBins:]
	tail[0] = float32(mean)
	tail[1] = float32(math.Sqrt(variance))
	tail[2] = float32(float64(dark) / fn)
	tail[3] = float32(float64(color) / fn)
	tail[4] = float32(gradSum / fn)
	tail[5] = float32(float64(w) / float64(w+h))
	tail[6] = float32(float64(h) / float64(w+h))
	tail[7] = float32(math.Log1p(fn) / 16)

	return vec, nil
}
