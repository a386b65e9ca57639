package dpmm

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// Estimate is a single point estimate extracted from one or more traces.
type Estimate struct {
	// Mode is the estimator that produced this estimate.
	Mode EstimatorMode
	// Chain is the source chain index, or -1 for a pooled estimate.
	Chain int
	// Assignment maps cell index to a dense cluster id.
	Assignment []int
	// Genotypes holds the per-cluster mutation probabilities of the
	// selected sample, indexed by cluster id.
	Genotypes [][]float64
	// Alpha, FN, and FP are the selected sample's hyperparameters for the
	// ML and MAP modes, and posterior means for the posterior mode.
	Alpha float64
	FN    float64
	FP    float64
	// DataLogLik and LogProb are taken from the selected sample.
	DataLogLik float64
	LogProb    float64
}

// discardBurnIn drops the configured leading fraction of a trace, keeping
// round(len·(1−burnIn)) samples at the tail.
func discardBurnIn(trace []ChainState, burnIn float64) []ChainState {
	keep := int(math.Round(float64(len(trace)) * (1 - burnIn)))
	if keep < 1 && len(trace) > 0 {
		keep = 1
	}
	return trace[len(trace)-keep:]
}

// estimate reduces the post-burn-in traces to point estimates: one per
// chain when singleChains is set, otherwise a single pooled estimate.
func estimate(mode EstimatorMode, traces [][]ChainState, cells int, singleChains bool) ([]Estimate, error) {
	if singleChains {
		out := make([]Estimate, 0, len(traces))
		for i, tr := range traces {
			e, err := estimateOne(mode, [][]ChainState{tr}, cells)
			if err != nil {
				return nil, err
			}
			e.Chain = i
			out = append(out, e)
		}
		return out, nil
	}
	e, err := estimateOne(mode, traces, cells)
	if err != nil {
		return nil, err
	}
	e.Chain = -1
	return []Estimate{e}, nil
}

func estimateOne(mode EstimatorMode, traces [][]ChainState, cells int) (Estimate, error) {
	total := 0
	for _, tr := range traces {
		total += len(tr)
	}
	if total == 0 {
		return Estimate{}, fmt.Errorf("dpmm: no post-burn-in samples to estimate from")
	}
	switch mode {
	case EstimateML:
		return pickBest(mode, traces, func(s *ChainState) float64 { return s.DataLogLik }), nil
	case EstimateMAP:
		return pickBest(mode, traces, func(s *ChainState) float64 { return s.LogProb }), nil
	case EstimatePosterior:
		return posteriorConsensus(traces, cells), nil
	}
	return Estimate{}, fmt.Errorf("dpmm: invalid estimator %q", mode)
}

// pickBest selects the sample maximizing the given score.
func pickBest(mode EstimatorMode, traces [][]ChainState, score func(*ChainState) float64) Estimate {
	var best *ChainState
	bestScore := math.Inf(-1)
	for _, tr := range traces {
		for i := range tr {
			if v := score(&tr[i]); v > bestScore {
				bestScore = v
				best = &tr[i]
			}
		}
	}
	return fromSample(mode, best)
}

// posteriorConsensus builds the mean pairwise co-clustering matrix over all
// samples and returns the sample whose partition minimizes squared loss
// against it (Dahl's least-squares clustering). Hyperparameters are
// reported as posterior means over the pooled trace.
func posteriorConsensus(traces [][]ChainState, cells int) Estimate {
	co := mat.NewSymDense(cells, nil)
	total := 0
	for _, tr := range traces {
		for i := range tr {
			z := tr[i].Assignment
			for a := 0; a < cells; a++ {
				for b := a + 1; b < cells; b++ {
					if z[a] == z[b] {
						co.SetSym(a, b, co.At(a, b)+1)
					}
				}
			}
			total++
		}
	}
	inv := 1 / float64(total)

	var best *ChainState
	bestLoss := math.Inf(1)
	for _, tr := range traces {
		for i := range tr {
			z := tr[i].Assignment
			loss := 0.0
			for a := 0; a < cells; a++ {
				for b := a + 1; b < cells; b++ {
					d := 0.0
					if z[a] == z[b] {
						d = 1
					}
					diff := d - co.At(a, b)*inv
					loss += diff * diff
				}
			}
			if loss < bestLoss {
				bestLoss = loss
				best = &tr[i]
			}
		}
	}

	e := fromSample(EstimatePosterior, best)
	var alphas, fns, fps []float64
	for _, tr := range traces {
		for i := range tr {
			alphas = append(alphas, tr[i].Alpha)
			fns = append(fns, tr[i].FN)
			fps = append(fps, tr[i].FP)
		}
	}
	e.Alpha = stat.Mean(alphas, nil)
	e.FN = stat.Mean(fns, nil)
	e.FP = stat.Mean(fps, nil)
	return e
}

func fromSample(mode EstimatorMode, s *ChainState) Estimate {
	assign := make([]int, len(s.Assignment))
	copy(assign, s.Assignment)
	genos := make([][]float64, len(s.Thetas))
	for k, t := range s.Thetas {
		genos[k] = append([]float64(nil), t...)
	}
	return Estimate{
		Mode:       mode,
		Assignment: assign,
		Genotypes:  genos,
		Alpha:      s.Alpha,
		FN:         s.FN,
		FP:         s.FP,
		DataLogLik: s.DataLogLik,
		LogProb:    s.LogProb,
	}
}
