// Copyright (c) 2025 Michael D Henderson. All rights reserved.

// Package profile clusters embedded files and derives dataset-level
// distribution findings. Clustering runs on L2-normalized vectors with a
// density-based scan; points no cluster claims are the outliers.
package profile

import (
	"math"
	"sort"
)

// Params controls the density scan. Zero values are replaced by defaults.
type Params struct {
	// MinFiles is the floor below which profiling reports insufficient data
	// instead of clustering.
	MinFiles int
	// MinPoints is the neighborhood population required to seed a cluster.
	MinPoints int
	// Eps is the neighborhood radius on normalized vectors.
	Eps float64
}

const (
	defaultMinFiles  = 20
	defaultMinPoints = 5
	defaultEps       = 0.35
)

func (p Params) withDefaults() Params {
	if p.MinFiles <= 0 {
		p.MinFiles = defaultMinFiles
	}
	if p.MinPoints <= 0 {
		p.MinPoints = defaultMinPoints
	}
	if p.Eps <= 0 {
		p.Eps = defaultEps
	}
	return p
}

// Noise marks points not assigned to any cluster.
const Noise = -1

// Result is the outcome of one profiling pass.
type Result struct {
	// Assignments maps each input key to a cluster index, or Noise.
	Assignments map[string]int
	// Clusters is the number of clusters found.
	Clusters int
	// Outliers lists the keys assigned Noise, sorted.
	Outliers []string
	// State is "ok", or the reason profiling could not run.
	State string
}

const (
	StateOK           = "ok"
	StateInsufficient = "insufficient_data"
	StateNoEmbeddings = "no_embeddings"
)

// Cluster profiles the embedding set. Input order does not matter; keys are
// sorted internally so results are deterministic.
func Cluster(vectors map[string][]float32, p Params) Result {
	p = p.withDefaults()

	if len(vectors) == 0 {
		return Result{Assignments: map[string]int{}, State: StateNoEmbeddings}
	}
	if len(vectors) < p.MinFiles {
		return Result{Assignments: map[string]int{}, State: StateInsufficient}
	}

	keys := make([]string, 0, len(vectors))
	for k := range vectors {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	points := make([][]float32, len(keys))
	for i, k := range keys {
		points[i] = NormalizeL2(vectors[k])
	}

	labels := dbscan(points, p.Eps, p.MinPoints)

	res := Result{
		Assignments: make(map[string]int, len(keys)),
		State:       StateOK,
	}
	maxLabel := Noise
	for i, k := range keys {
		res.Assignments[k] = labels[i]
		if labels[i] == Noise {
			res.Outliers = append(res.Outliers, k)
		} else if labels[i] > maxLabel {
			maxLabel = labels[i]
		}
	}
	res.Clusters = maxLabel + 1
	return res
}

// dbscan labels each point with a cluster index or Noise. The classic
// region-growing formulation; quadratic in the number of points, which is
// fine at per-dataset scale.
func dbscan(points [][]float32, eps float64, minPoints int) []int {
	n := len(points)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = Noise
	}
	visited := make([]bool, n)
	cluster := 0

	for i := 0; i < n; i++ {
		if visited[i] {
			continue
		}
		visited[i] = true
		neighbors := regionQuery(points, i, eps)
		if len(neighbors) < minPoints {
			continue
		}
		labels[i] = cluster
		for qi := 0; qi < len(neighbors); qi++ {
			j := neighbors[qi]
			if !visited[j] {
				visited[j] = true
				more := regionQuery(points, j, eps)
				if len(more) >= minPoints {
					neighbors = append(neighbors, more...)
				}
			}
			if labels[j] == Noise {
				labels[j] = cluster
			}
		}
		cluster++
	}
	return labels
}

func regionQuery(points [][]float32, i int, eps float64) []int {
	var out []int
	for j := range points {
		if euclidean(points[i], points[j]) <= eps {
			out = append(out, j)
		}
	}
	return out
}

func euclidean(a, b []float32) float64 {
	var sum float64
	for i := range a {
		d := float64(a[i]) - float64(b[i])
		sum += d * d
	}
	return math.Sqrt(sum)
}

// NormalizeL2 returns a unit-length copy of v. Zero vectors are returned
// unchanged.
func NormalizeL2(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	out := make([]float32, len(v))
	if norm == 0 {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

// MixedModality reports whether more than one known modality holds at least
// share of the total file count. Files labeled unknown count toward the total
// but never toward a modality.
func MixedModality(counts map[string]int, unknownLabel string, share float64) bool {
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return false
	}
	significant := 0
	for label, c := range counts {
		if label == unknownLabel {
			continue
		}
		if float64(c)/float64(total) >= share {
			significant++
		}
	}
	return significant > 1
}
