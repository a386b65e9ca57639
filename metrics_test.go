package dpmm

import (
	"math"
	"testing"
)

func TestAdjustedRandIndex(t *testing.T) {
	tests := []struct {
		name string
		a, b []int
		want float64
	}{
		{"identical", []int{0, 0, 1, 1}, []int{0, 0, 1, 1}, 1},
		{"relabeled", []int{0, 0, 1, 1}, []int{5, 5, 2, 2}, 1},
		{"crossed", []int{0, 0, 1, 1}, []int{0, 1, 0, 1}, -0.5},
		{"both single cluster", []int{0, 0, 0}, []int{7, 7, 7}, 1},
		{"both all singletons", []int{0, 1, 2}, []int{2, 0, 1}, 1},
	}
	for _, tc := range tests {
		if got := AdjustedRandIndex(tc.a, tc.b); math.Abs(got-tc.want) > 1e-12 {
			t.Errorf("%s: ARI = %g, want %g", tc.name, got, tc.want)
		}
	}
	if got := AdjustedRandIndex([]int{0, 1}, []int{0}); !math.IsNaN(got) {
		t.Errorf("ARI = %g for mismatched lengths, want NaN", got)
	}
	if got := AdjustedRandIndex(nil, nil); !math.IsNaN(got) {
		t.Errorf("ARI = %g for empty inputs, want NaN", got)
	}
}

func TestVMeasure(t *testing.T) {
	if got := VMeasure([]int{0, 0, 1, 1}, []int{1, 1, 0, 0}); math.Abs(got-1) > 1e-12 {
		t.Errorf("V = %g for a relabeled perfect match, want 1", got)
	}
	// Truth is one cluster, prediction splits it: homogeneity is trivially 1
	// but completeness is 0.
	if got := VMeasure([]int{0, 0, 0, 0}, []int{0, 1, 2, 3}); got != 0 {
		t.Errorf("V = %g for a fully fragmented prediction, want 0", got)
	}
	// A refinement of the truth keeps homogeneity at 1 and loses only
	// completeness, so the score lands strictly between 0 and 1.
	got := VMeasure([]int{0, 0, 1, 1}, []int{0, 1, 2, 2})
	if got <= 0 || got >= 1 {
		t.Errorf("V = %g for a partial refinement, want in (0,1)", got)
	}
	if got := VMeasure([]int{0}, []int{0, 1}); !math.IsNaN(got) {
		t.Errorf("V = %g for mismatched lengths, want NaN", got)
	}
}

func TestGenotypeHammingDistance(t *testing.T) {
	truth := testMatrix(t, "110", "1?0", "001")
	assignment := []int{0, 0, 1}
	genotypes := [][]float64{
		{0.9, 0.8, 0.1}, // rounds to 110
		{0.2, 0.1, 0.7}, // rounds to 001
	}
	if got := GenotypeHammingDistance(truth, assignment, genotypes); got != 0 {
		t.Errorf("distance = %g for a perfect reconstruction, want 0", got)
	}

	// Flip one inferred site: one mismatch over 8 observed entries.
	genotypes[0][0] = 0.2
	want := 2.0 / 8 // cells 0 and 1 both disagree at site 0
	if got := GenotypeHammingDistance(truth, assignment, genotypes); math.Abs(got-want) > 1e-12 {
		t.Errorf("distance = %g, want %g", got, want)
	}

	allMissing := testMatrix(t, "??", "??")
	if got := GenotypeHammingDistance(allMissing, []int{0, 0}, [][]float64{{0.5, 0.5}}); !math.IsNaN(got) {
		t.Errorf("distance = %g for an all-missing matrix, want NaN", got)
	}
}
