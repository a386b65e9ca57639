package dpmm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// updateConcentration resamples the CRP concentration parameter from its
// full conditional under a Gamma(a,b) prior, given the current cluster
// count K and cell count n, using the Escobar-West auxiliary-variable
// scheme: draw η ~ Beta(α+1, n), then α from a two-component Gamma mixture.
func (s *ClusterState) updateConcentration(priorA, priorB float64, rng *rand.Rand, src rand.Source) {
	n := float64(s.g.Cells())
	k := float64(s.K())

	eta := distuv.Beta{Alpha: s.alpha + 1, Beta: n, Src: src}.Rand()
	rate := priorB - math.Log(clampUnit(eta))

	odds := (priorA + k - 1) / (n * rate)
	shape := priorA + k
	if rng.Float64() >= odds/(1+odds) {
		shape = priorA + k - 1
	}
	if shape <= 0 {
		shape = priorA + k
	}
	s.alpha = distuv.Gamma{Alpha: shape, Beta: rate, Src: src}.Rand()
	if s.alpha <= 0 || math.IsNaN(s.alpha) {
		s.alpha = probEps
	}
}

// updateErrors resamples the error rates from their conjugate conditionals
// given augmented latent genotypes. A no-op when the rates are fixed.
func (s *ClusterState) updateErrors(src rand.Source) {
	if !s.model.Learned() {
		return
	}
	s.model.update(s.errorCounts(src), src)
}

// alphaLogPrior evaluates the Gamma(a,b) log prior density at the current
// concentration value.
func alphaLogPrior(alpha, priorA, priorB float64) float64 {
	return distuv.Gamma{Alpha: priorA, Beta: priorB}.LogProb(alpha)
}
