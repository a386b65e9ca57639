package dpmm

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// cluster is one record in the ClusterState arena: the member count, the
// per-site tallies of observed calls over current members, and the explicit
// mutation-probability parameters theta.
type cluster struct {
	size  int
	ones  []int // per-site count of observed 1s among members
	zeros []int // per-site count of observed 0s among members
	theta []float64
}

// ClusterState is the mutable partition of cells into clusters owned by a
// single chain. Clusters live in a growable arena; vacated slots go on a
// free list and the arena is compacted to a contiguous prefix after every
// sweep so trace snapshots always see dense ids.
type ClusterState struct {
	g     *GenotypeMatrix
	model ErrorModel

	alpha        float64
	betaA, betaB float64 // theta prior

	z        []int // cell -> arena slot
	clusters []*cluster
	free     []int
	occupied int
}

func newClusterState(g *GenotypeMatrix, model ErrorModel, alpha, betaA, betaB float64) *ClusterState {
	s := &ClusterState{
		g:     g,
		model: model,
		alpha: alpha,
		betaA: betaA,
		betaB: betaB,
		z:     make([]int, g.Cells()),
	}
	for i := range s.z {
		s.z[i] = -1
	}
	return s
}

// K returns the number of occupied clusters.
func (s *ClusterState) K() int { return s.occupied }

// assignment returns a copy of the cell-to-cluster mapping. Only valid
// immediately after compaction, when slots form a dense prefix.
func (s *ClusterState) assignment() []int {
	out := make([]int, len(s.z))
	copy(out, s.z)
	return out
}

// sizes returns the occupied cluster sizes in slot order.
func (s *ClusterState) sizes() []int {
	out := make([]int, 0, s.occupied)
	for _, c := range s.clusters {
		if c != nil {
			out = append(out, c.size)
		}
	}
	return out
}

// occupiedSlots returns the arena indices of all live clusters.
func (s *ClusterState) occupiedSlots() []int {
	out := make([]int, 0, s.occupied)
	for k, c := range s.clusters {
		if c != nil {
			out = append(out, k)
		}
	}
	return out
}

// allocCluster takes a slot off the free list or grows the arena.
func (s *ClusterState) allocCluster() int {
	m := s.g.Sites()
	if n := len(s.free); n > 0 {
		k := s.free[n-1]
		s.free = s.free[:n-1]
		s.clusters[k] = &cluster{
			ones:  make([]int, m),
			zeros: make([]int, m),
			theta: make([]float64, m),
		}
		s.occupied++
		return k
	}
	s.clusters = append(s.clusters, &cluster{
		ones:  make([]int, m),
		zeros: make([]int, m),
		theta: make([]float64, m),
	})
	s.occupied++
	return len(s.clusters) - 1
}

// freeCluster returns an empty slot to the free list.
func (s *ClusterState) freeCluster(k int) {
	s.clusters[k] = nil
	s.occupied--
	s.free = append(s.free, k)
}

// addCell seats a cell in cluster k, updating the sufficient statistics.
func (s *ClusterState) addCell(cell, k int) {
	c := s.clusters[k]
	c.size++
	for j, x := range s.g.row(cell) {
		switch x {
		case Present:
			c.ones[j]++
		case Absent:
			c.zeros[j]++
		}
	}
	s.z[cell] = k
}

// removeCell unseats a cell from its cluster. If the cluster empties it is
// freed; no other assignment is relabeled. Returns the vacated slot.
func (s *ClusterState) removeCell(cell int) int {
	k := s.z[cell]
	c := s.clusters[k]
	c.size--
	for j, x := range s.g.row(cell) {
		switch x {
		case Present:
			c.ones[j]--
		case Absent:
			c.zeros[j]--
		}
	}
	s.z[cell] = -1
	if c.size == 0 {
		s.freeCluster(k)
	}
	return k
}

// compact renumbers live clusters onto a dense prefix of the arena,
// preserving relative order, and clears the free list.
func (s *ClusterState) compact() {
	next := 0
	remap := make([]int, len(s.clusters))
	for k, c := range s.clusters {
		if c == nil {
			remap[k] = -1
			continue
		}
		remap[k] = next
		s.clusters[next] = c
		next++
	}
	s.clusters = s.clusters[:next]
	s.free = s.free[:0]
	for i, k := range s.z {
		s.z[i] = remap[k]
	}
}

// sampleTheta draws theta for cluster k from its conditional given the
// members' calls, via latent-genotype augmentation: per site, the number of
// members whose true genotype is 1 is binomial given the current theta, and
// theta given those counts is conjugate Beta.
func (s *ClusterState) sampleTheta(k int, src rand.Source) {
	c := s.clusters[k]
	fn, fp := s.model.FN(), s.model.FP()
	for j := range c.theta {
		theta := clampUnit(c.theta[j])
		// P(g=1 | x=1) and P(g=1 | x=0) under the error channel.
		p1 := theta * (1 - fn) / clampUnit(theta*(1-fn)+(1-theta)*fp)
		p0 := theta * fn / clampUnit(theta*fn+(1-theta)*(1-fp))
		g1 := binomialRand(c.ones[j], p1, src)
		g0 := binomialRand(c.zeros[j], p0, src)
		obs := float64(c.ones[j] + c.zeros[j])
		trueOnes := float64(g1 + g0)
		c.theta[j] = distuv.Beta{
			Alpha: s.betaA + trueOnes,
			Beta:  s.betaB + obs - trueOnes,
			Src:   src,
		}.Rand()
	}
}

// sampleAllThetas resamples every live cluster's parameters.
func (s *ClusterState) sampleAllThetas(src rand.Source) {
	for k, c := range s.clusters {
		if c != nil {
			s.sampleTheta(k, src)
		}
	}
}

// seedTheta initializes a fresh cluster's parameters at the prior mean so
// the first augmentation pass has a sensible anchor.
func (s *ClusterState) seedTheta(k int) {
	mean := s.betaA / (s.betaA + s.betaB)
	c := s.clusters[k]
	for j := range c.theta {
		c.theta[j] = mean
	}
}

// spawnCluster creates a new cluster containing only the given cell and
// draws theta from the single-observation posterior.
func (s *ClusterState) spawnCluster(cell int, src rand.Source) int {
	k := s.allocCluster()
	s.seedTheta(k)
	s.addCell(cell, k)
	s.sampleTheta(k, src)
	return k
}

// initRandomCRP seats all cells by a sequential CRP draw and samples the
// initial cluster parameters.
func (s *ClusterState) initRandomCRP(rng *rand.Rand, src rand.Source) {
	for cell := 0; cell < s.g.Cells(); cell++ {
		slots := s.occupiedSlots()
		total := float64(cell) + s.alpha
		u := rng.Float64() * total
		seated := false
		for _, k := range slots {
			u -= float64(s.clusters[k].size)
			if u < 0 {
				s.addCell(cell, k)
				seated = true
				break
			}
		}
		if !seated {
			k := s.allocCluster()
			s.seedTheta(k)
			s.addCell(cell, k)
		}
	}
	s.compact()
	s.sampleAllThetas(src)
}

// initFromAssignment seats cells according to a fixed external assignment
// with contiguous labels starting at 0, then samples cluster parameters.
func (s *ClusterState) initFromAssignment(labels []int, src rand.Source) {
	max := -1
	for _, l := range labels {
		if l > max {
			max = l
		}
	}
	for k := 0; k <= max; k++ {
		kk := s.allocCluster()
		s.seedTheta(kk)
	}
	for cell, l := range labels {
		s.addCell(cell, l)
	}
	// Labels are contiguous, so every slot is occupied and no compaction
	// is needed, but an all-empty label would leave a zero-size cluster.
	for k, c := range s.clusters {
		if c != nil && c.size == 0 {
			s.freeCluster(k)
		}
	}
	s.compact()
	s.sampleAllThetas(src)
}

// dataLogLik is the log-likelihood of all cells under their current
// clusters' explicit parameters.
func (s *ClusterState) dataLogLik() float64 {
	fn, fp := s.model.FN(), s.model.FP()
	ll := 0.0
	for cell, k := range s.z {
		ll += cellLogLik(s.g, cell, s.clusters[k].theta, fn, fp)
	}
	return ll
}

// logJoint is the log of the full joint density: data likelihood, CRP
// partition prior, theta priors, error-rate priors, and the concentration
// prior supplied by the caller.
func (s *ClusterState) logJoint(alphaLogPrior float64) float64 {
	lp := s.dataLogLik()
	lp += crpLogPartitionPrior(s.sizes(), s.alpha, s.g.Cells())
	thetaPrior := distuv.Beta{Alpha: s.betaA, Beta: s.betaB}
	for _, c := range s.clusters {
		if c == nil {
			continue
		}
		for _, t := range c.theta {
			lp += thetaPrior.LogProb(clampUnit(t))
		}
	}
	lp += s.model.logPrior()
	lp += alphaLogPrior
	return lp
}

// snapshot captures the current state for the trace.
func (s *ClusterState) snapshot(alphaLogPrior float64) ChainState {
	thetas := make([][]float64, 0, s.occupied)
	for _, c := range s.clusters {
		if c == nil {
			continue
		}
		t := make([]float64, len(c.theta))
		copy(t, c.theta)
		thetas = append(thetas, t)
	}
	return ChainState{
		Assignment: s.assignment(),
		Thetas:     thetas,
		Alpha:      s.alpha,
		FN:         s.model.FN(),
		FP:         s.model.FP(),
		DataLogLik: s.dataLogLik(),
		LogProb:    s.logJoint(alphaLogPrior),
	}
}

// errorCounts draws augmented genotype tallies for the conjugate error-rate
// update, pooled over all clusters and sites.
func (s *ClusterState) errorCounts(src rand.Source) genotypeCounts {
	fn, fp := s.model.FN(), s.model.FP()
	var c genotypeCounts
	for _, cl := range s.clusters {
		if cl == nil {
			continue
		}
		for j, theta := range cl.theta {
			theta = clampUnit(theta)
			p1 := theta * (1 - fn) / clampUnit(theta*(1-fn)+(1-theta)*fp)
			p0 := theta * fn / clampUnit(theta*fn+(1-theta)*(1-fp))
			g1 := binomialRand(cl.ones[j], p1, src)
			g0 := binomialRand(cl.zeros[j], p0, src)
			c.trueOneObsOne += float64(g1)
			c.trueZeroObsOne += float64(cl.ones[j] - g1)
			c.trueOneObsZero += float64(g0)
			c.trueZeroObsZero += float64(cl.zeros[j] - g0)
		}
	}
	return c
}

// binomialRand draws from Binomial(n, p).
func binomialRand(n int, p float64, src rand.Source) int {
	if n == 0 {
		return 0
	}
	if p <= 0 {
		return 0
	}
	if p >= 1 {
		return n
	}
	return int(distuv.Binomial{N: float64(n), P: p, Src: src}.Rand())
}

// checkPartition verifies the partition invariants: every cell points at a
// live cluster and the sizes sum to N. Used by tests and debug assertions.
func (s *ClusterState) checkPartition() error {
	total := 0
	counts := make(map[int]int)
	for _, k := range s.z {
		if k < 0 || k >= len(s.clusters) || s.clusters[k] == nil {
			return fmt.Errorf("dpmm: orphan cluster label %d", k)
		}
		counts[k]++
	}
	for k, c := range s.clusters {
		if c == nil {
			continue
		}
		if counts[k] != c.size {
			return fmt.Errorf("dpmm: cluster %d size %d does not match %d members", k, c.size, counts[k])
		}
		total += c.size
	}
	if total != s.g.Cells() {
		return fmt.Errorf("dpmm: cluster sizes sum to %d, want %d", total, s.g.Cells())
	}
	return nil
}
