package dpmm

import "math"

// probEps guards log() against parameter draws that land exactly on 0 or 1.
const probEps = 1e-12

func clampUnit(p float64) float64 {
	if p < probEps {
		return probEps
	}
	if p > 1-probEps {
		return 1 - probEps
	}
	return p
}

// obsOneProb is the probability of observing a 1 when the latent mutation
// probability is theta and calls pass through the error channel:
// a true 1 survives with rate 1−FN, a true 0 flips with rate FP.
func obsOneProb(theta, fn, fp float64) float64 {
	return theta*(1-fn) + (1-theta)*fp
}

// logProbCall returns log p(x | theta, FN, FP) for a single non-missing call.
func logProbCall(x int8, theta, fn, fp float64) float64 {
	p1 := clampUnit(obsOneProb(theta, fn, fp))
	if x == Present {
		return math.Log(p1)
	}
	return math.Log(1 - p1)
}

// cellLogLik sums log p(x_ij | theta_j) over the non-missing sites of one
// cell against an explicit cluster parameter vector.
func cellLogLik(g *GenotypeMatrix, cell int, theta []float64, fn, fp float64) float64 {
	row := g.row(cell)
	ll := 0.0
	for j, x := range row {
		if x == Missing {
			continue
		}
		ll += logProbCall(x, theta[j], fn, fp)
	}
	return ll
}

// newClusterLogMarginal integrates the cluster parameter out of a single
// cell's likelihood under the Beta(a,b) prior. Each per-site likelihood is
// linear in theta, so the integral is the likelihood evaluated at the prior
// mean a/(a+b).
func newClusterLogMarginal(g *GenotypeMatrix, cell int, betaA, betaB, fn, fp float64) float64 {
	mean := betaA / (betaA + betaB)
	row := g.row(cell)
	ll := 0.0
	for _, x := range row {
		if x == Missing {
			continue
		}
		ll += logProbCall(x, mean, fn, fp)
	}
	return ll
}

// predictiveLogLik scores one cell against a cluster summarized by its
// per-site observed-call counts, using the posterior-mean mutation rate
// (a+n1)/(a+b+n1+n0). With FN = FP = 0 this is exactly the Beta-Bernoulli
// posterior predictive.
func predictiveLogLik(g *GenotypeMatrix, cell int, ones, zeros []int, betaA, betaB, fn, fp float64) float64 {
	row := g.row(cell)
	ll := 0.0
	for j, x := range row {
		if x == Missing {
			continue
		}
		mean := (betaA + float64(ones[j])) / (betaA + betaB + float64(ones[j]+zeros[j]))
		ll += logProbCall(x, mean, fn, fp)
	}
	return ll
}

// crpLogPartitionPrior is the log CRP probability of a partition with the
// given cluster sizes: K·log α + Σ lnΓ(n_k) + lnΓ(α) − lnΓ(α+n).
func crpLogPartitionPrior(sizes []int, alpha float64, n int) float64 {
	lp := float64(len(sizes)) * math.Log(alpha)
	for _, s := range sizes {
		lg, _ := math.Lgamma(float64(s))
		lp += lg
	}
	la, _ := math.Lgamma(alpha)
	lan, _ := math.Lgamma(alpha + float64(n))
	return lp + la - lan
}
