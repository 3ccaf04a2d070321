// Copyright (c) 2025 Michael D Henderson. All rights reserved.

package profile_test

import (
	"fmt"
	"math"
	"testing"

	"github.com/mdhender/datascan/profile"
)

// cloud generates n vectors jittered around a center point.
func cloud(prefix string, center []float32, n int, jitter float32) map[string][]float32 {
	out := make(map[string][]float32, n)
	for i := 0; i < n; i++ {
		v := make([]float32, len(center))
		for j, c := range center {
			// Deterministic jitter, alternating sign.
			d := jitter * float32(1+(i+j)%3) / 3
			if (i+j)%2 == 0 {
				d = -d
			}
			v[j] = c + d
		}
		out[fmt.Sprintf("%s/%03d.png", prefix, i)] = v
	}
	return out
}

func merge(ms ...map[string][]float32) map[string][]float32 {
	out := make(map[string][]float32)
	for _, m := range ms {
		for k, v := range m {
			out[k] = v
		}
	}
	return out
}

func TestCluster_TwoClustersOneOutlier(t *testing.T) {
	vectors := merge(
		cloud("ct", []float32{10, 0, 0, 0}, 12, 0.1),
		cloud("us", []float32{0, 10, 0, 0}, 12, 0.1),
	)
	vectors["odd/weird.png"] = []float32{0, 0, 5, 5}

	res := profile.Cluster(vectors, profile.Params{MinFiles: 10, MinPoints: 4, Eps: 0.2})
	if res.State != profile.StateOK {
		t.Fatalf("state = %q, want ok", res.State)
	}
	if res.Clusters != 2 {
		t.Errorf("clusters = %d, want 2", res.Clusters)
	}
	if len(res.Outliers) != 1 || res.Outliers[0] != "odd/weird.png" {
		t.Errorf("outliers = %v, want [odd/weird.png]", res.Outliers)
	}
	if res.Assignments["odd/weird.png"] != profile.Noise {
		t.Errorf("outlier assignment = %d, want Noise", res.Assignments["odd/weird.png"])
	}

	// All members of one cloud share a cluster.
	first := res.Assignments["ct/000.png"]
	for key, label := range res.Assignments {
		if len(key) > 2 && key[:2] == "ct" && label != first {
			t.Errorf("%s in cluster %d, want %d", key, label, first)
		}
	}
}

func TestCluster_InsufficientData(t *testing.T) {
	vectors := cloud("ct", []float32{1, 0}, 5, 0.01)

	res := profile.Cluster(vectors, profile.Params{MinFiles: 20})
	if res.State != profile.StateInsufficient {
		t.Fatalf("state = %q, want insufficient_data", res.State)
	}
	if res.Clusters != 0 || len(res.Outliers) != 0 {
		t.Errorf("expected empty result, got %+v", res)
	}
}

func TestCluster_NoEmbeddings(t *testing.T) {
	res := profile.Cluster(nil, profile.Params{})
	if res.State != profile.StateNoEmbeddings {
		t.Fatalf("state = %q, want no_embeddings", res.State)
	}
}

func TestCluster_Deterministic(t *testing.T) {
	vectors := merge(
		cloud("a", []float32{3, 1, 0}, 15, 0.2),
		cloud("b", []float32{0, 1, 3}, 15, 0.2),
	)
	p := profile.Params{MinFiles: 10, MinPoints: 4, Eps: 0.25}

	first := profile.Cluster(vectors, p)
	for i := 0; i < 5; i++ {
		again := profile.Cluster(vectors, p)
		if again.Clusters != first.Clusters || len(again.Outliers) != len(first.Outliers) {
			t.Fatalf("run %d differs: %+v vs %+v", i, again, first)
		}
		for k, v := range first.Assignments {
			if again.Assignments[k] != v {
				t.Fatalf("run %d: assignment for %s differs", i, k)
			}
		}
	}
}

func TestNormalizeL2(t *testing.T) {
	v := profile.NormalizeL2([]float32{3, 4})
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if math.Abs(sum-1) > 1e-6 {
		t.Errorf("norm^2 = %v, want 1", sum)
	}

	zero := profile.NormalizeL2([]float32{0, 0, 0})
	for _, x := range zero {
		if x != 0 {
			t.Errorf("zero vector should stay zero, got %v", zero)
		}
	}
}

func TestMixedModality(t *testing.T) {
	cases := []struct {
		counts map[string]int
		share  float64
		want   bool
	}{
		// Single modality.
		{map[string]int{"CT": 100}, 0.15, false},
		// Second modality below the threshold.
		{map[string]int{"CT": 97, "US": 3}, 0.15, false},
		// Two significant modalities.
		{map[string]int{"CT": 60, "US": 40}, 0.15, true},
		// Unknown never counts as a modality.
		{map[string]int{"CT": 50, "unknown": 50}, 0.15, false},
		// But unknown still dilutes the shares.
		{map[string]int{"CT": 10, "US": 10, "unknown": 80}, 0.15, false},
		{map[string]int{"CT": 20, "US": 20, "unknown": 60}, 0.15, true},
		// Empty input.
		{map[string]int{}, 0.15, false},
	}
	for i, tc := range cases {
		if got := profile.MixedModality(tc.counts, "unknown", tc.share); got != tc.want {
			t.Errorf("case %d: MixedModality(%v) = %v, want %v", i, tc.counts, got, tc.want)
		}
	}
}
