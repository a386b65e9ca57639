package dpmm

import (
	"math"
	"math/rand/v2"

	"gonum.org/v1/gonum/floats"
)

// gibbsSweep reseats every cell once, in index order. For each cell the
// categorical weights are, in log space, log n_k plus the cell's likelihood
// under cluster k's parameters for every occupied cluster, and log α plus
// the Beta-Bernoulli marginal for a hypothetical new cluster. The shared
// denominator n−1+α cancels and is dropped. After the pass, cluster ids are
// compacted and all cluster parameters are resampled from their
// augmented-posterior conditionals.
func (s *ClusterState) gibbsSweep(rng *rand.Rand, src rand.Source) {
	fn, fp := s.model.FN(), s.model.FP()
	for cell := 0; cell < s.g.Cells(); cell++ {
		s.removeCell(cell)

		slots := s.occupiedSlots()
		logw := make([]float64, len(slots)+1)
		for i, k := range slots {
			c := s.clusters[k]
			logw[i] = math.Log(float64(c.size)) + cellLogLik(s.g, cell, c.theta, fn, fp)
		}
		logw[len(slots)] = math.Log(s.alpha) +
			newClusterLogMarginal(s.g, cell, s.betaA, s.betaB, fn, fp)

		choice := sampleLogCategorical(logw, rng)
		if choice == len(slots) {
			s.spawnCluster(cell, src)
		} else {
			s.addCell(cell, slots[choice])
		}
	}
	s.compact()
	s.sampleAllThetas(src)
}

// sampleLogCategorical draws an index from unnormalized log weights.
func sampleLogCategorical(logw []float64, rng *rand.Rand) int {
	norm := floats.LogSumExp(logw)
	u := rng.Float64()
	cum := 0.0
	for i, lw := range logw {
		cum += math.Exp(lw - norm)
		if u < cum {
			return i
		}
	}
	// Guard against accumulated rounding leaving u just above cum.
	return len(logw) - 1
}
