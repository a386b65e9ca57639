package dpmm

import (
	"math"
	"testing"
)

// sample builds a minimal trace entry for estimator tests.
func sample(z []int, dataLogLik, logProb float64) ChainState {
	k := 0
	for _, v := range z {
		if v >= k {
			k = v + 1
		}
	}
	thetas := make([][]float64, k)
	for i := range thetas {
		thetas[i] = []float64{0.5}
	}
	return ChainState{
		Assignment: z,
		Thetas:     thetas,
		Alpha:      1,
		FN:         0.1,
		FP:         0.01,
		DataLogLik: dataLogLik,
		LogProb:    logProb,
	}
}

func TestDiscardBurnIn(t *testing.T) {
	trace := make([]ChainState, 100)
	for i := range trace {
		trace[i] = sample([]int{0}, float64(i), float64(i))
	}
	kept := discardBurnIn(trace, 0.33)
	if len(kept) != 67 {
		t.Fatalf("kept %d samples, want 67", len(kept))
	}
	if kept[len(kept)-1].DataLogLik != 99 {
		t.Error("burn-in discarded from the tail instead of the head")
	}

	if got := len(discardBurnIn(trace[:3], 0.9)); got != 1 {
		t.Errorf("kept %d of 3 samples at burn-in 0.9, want minimum 1", got)
	}
	if got := len(discardBurnIn(nil, 0.33)); got != 0 {
		t.Errorf("kept %d samples from an empty trace", got)
	}
}

func TestEstimate_MLPicksBestLikelihood(t *testing.T) {
	traces := [][]ChainState{
		{
			sample([]int{0, 0, 1}, -50, -60),
			sample([]int{0, 1, 1}, -20, -80),
		},
		{
			sample([]int{0, 1, 2}, -40, -45),
		},
	}
	ests, err := estimate(EstimateML, traces, 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ests) != 1 {
		t.Fatalf("pooled estimate count = %d, want 1", len(ests))
	}
	e := ests[0]
	if e.Chain != -1 {
		t.Errorf("pooled estimate reports chain %d, want -1", e.Chain)
	}
	if e.DataLogLik != -20 {
		t.Errorf("ML picked DataLogLik %g, want -20", e.DataLogLik)
	}
}

func TestEstimate_MAPPicksBestJoint(t *testing.T) {
	traces := [][]ChainState{
		{
			sample([]int{0, 0, 1}, -50, -60),
			sample([]int{0, 1, 1}, -20, -80),
		},
		{
			sample([]int{0, 1, 2}, -40, -45),
		},
	}
	ests, err := estimate(EstimateMAP, traces, 3, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ests[0].LogProb != -45 {
		t.Errorf("MAP picked LogProb %g, want -45", ests[0].LogProb)
	}
}

func TestEstimate_PosteriorConsensusPicksModalPartition(t *testing.T) {
	modal := []int{0, 0, 1, 1}
	outlier := []int{0, 1, 0, 1}
	traces := [][]ChainState{
		{
			sample(modal, -10, -12),
			sample(modal, -11, -13),
			sample(outlier, -9, -11),
			sample(modal, -10.5, -12.5),
		},
	}
	ests, err := estimate(EstimatePosterior, traces, 4, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got := ests[0].Assignment
	for i, v := range modal {
		if got[i] != v {
			t.Fatalf("consensus assignment = %v, want the modal partition %v", got, modal)
		}
	}
}

func TestEstimate_PosteriorHyperparamsAreMeans(t *testing.T) {
	a := sample([]int{0, 0}, -1, -1)
	a.Alpha, a.FN, a.FP = 1, 0.1, 0.01
	b := sample([]int{0, 0}, -1, -1)
	b.Alpha, b.FN, b.FP = 3, 0.3, 0.03
	ests, err := estimate(EstimatePosterior, [][]ChainState{{a, b}}, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := ests[0]
	if math.Abs(e.Alpha-2) > 1e-12 || math.Abs(e.FN-0.2) > 1e-12 || math.Abs(e.FP-0.02) > 1e-12 {
		t.Errorf("posterior hyperparams = (%g, %g, %g), want means (2, 0.2, 0.02)", e.Alpha, e.FN, e.FP)
	}
}

func TestEstimate_SingleChains(t *testing.T) {
	traces := [][]ChainState{
		{sample([]int{0, 0}, -10, -10)},
		{sample([]int{0, 1}, -20, -20)},
	}
	ests, err := estimate(EstimateML, traces, 2, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ests) != 2 {
		t.Fatalf("per-chain estimate count = %d, want 2", len(ests))
	}
	for i, e := range ests {
		if e.Chain != i {
			t.Errorf("estimate %d reports chain %d", i, e.Chain)
		}
	}
	if ests[0].DataLogLik != -10 || ests[1].DataLogLik != -20 {
		t.Error("per-chain estimates mixed samples across chains")
	}
}

func TestEstimate_EmptyTraces(t *testing.T) {
	if _, err := estimate(EstimateML, [][]ChainState{{}, {}}, 2, false); err == nil {
		t.Error("expected error for empty traces")
	}
}

func TestEstimate_DeepCopiesSample(t *testing.T) {
	s := sample([]int{0, 1}, -5, -5)
	ests, err := estimate(EstimateMAP, [][]ChainState{{s}}, 2, false)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	e := ests[0]
	e.Assignment[0] = 99
	e.Genotypes[0][0] = 99
	if s.Assignment[0] == 99 || s.Thetas[0][0] == 99 {
		t.Error("estimate aliases the trace sample")
	}
}
