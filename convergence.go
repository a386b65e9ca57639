package dpmm

import (
	"math"

	"gonum.org/v1/gonum/stat"
)

// lugsailPSRF computes the lugsail batch-means Potential Scale Reduction
// Factor of Vats and Knudson over one scalar trace per chain. Chains are
// truncated to a common length n; the batch size is floor(sqrt(n)) and the
// lugsail combination is 2·τ̂(b) − τ̂(b/3), which corrects the downward bias
// of plain batch means. The estimate is
//
//	R̂ = sqrt(((n−1)·s̄ + τ̂_L) / (n·s̄))
//
// where s̄ averages the per-chain sample variances and τ̂_L is the replicated
// batch-means estimate: batch means from every chain, deviating from the
// grand mean over all chains, so chains stuck at different values inflate
// τ̂_L even when each is internally stable. Values near 1 indicate mixing;
// NaN is returned when the traces are too short or degenerate.
func lugsailPSRF(chains [][]float64) float64 {
	if len(chains) == 0 {
		return math.NaN()
	}
	n := len(chains[0])
	for _, c := range chains[1:] {
		if len(c) < n {
			n = len(c)
		}
	}
	if n < 10 {
		return math.NaN()
	}

	b := int(math.Floor(math.Sqrt(float64(n))))
	b3 := b / 3
	if b3 < 1 {
		b3 = 1
	}

	m := float64(len(chains))
	trunc := make([][]float64, len(chains))
	grand := 0.0
	for i, c := range chains {
		trunc[i] = c[len(c)-n:]
		grand += stat.Mean(trunc[i], nil)
	}
	grand /= m

	var sBar float64
	for _, x := range trunc {
		sBar += stat.Variance(x, nil)
	}
	sBar /= m

	tauL := 2*replicatedBatchTau(trunc, b, grand) - replicatedBatchTau(trunc, b3, grand)

	if sBar <= 0 {
		if tauL <= 0 {
			// Perfectly constant and identical traces cannot get more mixed.
			return 1
		}
		return math.Inf(1)
	}
	nn := float64(n)
	r2 := ((nn-1)*sBar + tauL) / (nn * sBar)
	if r2 < 0 {
		return math.NaN()
	}
	return math.Sqrt(r2)
}

// replicatedBatchTau is the replicated batch-means estimate of the asymptotic
// variance of the trace mean: b times the variance of the a = floor(n/b)
// non-overlapping batch means of every chain, taken around the grand mean.
// With one chain this reduces to plain batch means.
func replicatedBatchTau(chains [][]float64, b int, grand float64) float64 {
	a := len(chains[0]) / b
	total := a * len(chains)
	if total < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range chains {
		for k := 0; k < a; k++ {
			d := stat.Mean(x[k*b:(k+1)*b], nil) - grand
			ss += d * d
		}
	}
	return float64(b) * ss / float64(total-1)
}
