package dpmm

import (
	"math"
	"math/rand/v2"
	"sort"
)

// subCluster is a scratch cluster used while building split-merge launch
// states. It mirrors the sufficient statistics of a real cluster record but
// never enters the arena.
type subCluster struct {
	size  int
	ones  []int
	zeros []int
}

func newSubCluster(m int) *subCluster {
	return &subCluster{ones: make([]int, m), zeros: make([]int, m)}
}

func (sc *subCluster) add(g *GenotypeMatrix, cell int) {
	sc.size++
	for j, x := range g.row(cell) {
		switch x {
		case Present:
			sc.ones[j]++
		case Absent:
			sc.zeros[j]++
		}
	}
}

func (sc *subCluster) remove(g *GenotypeMatrix, cell int) {
	sc.size--
	for j, x := range g.row(cell) {
		switch x {
		case Present:
			sc.ones[j]--
		case Absent:
			sc.zeros[j]--
		}
	}
}

// splitMergeMove proposes either a split of one cluster or a merge of two,
// chosen by splitProb, and accepts or rejects by Metropolis-Hastings.
// Rejection leaves the state untouched; acceptance replaces the affected
// assignments atomically and resamples the affected parameters. The return
// value reports acceptance, which is not the common case.
func (s *ClusterState) splitMergeMove(rng *rand.Rand, src rand.Source, scans int, splitProb float64) bool {
	if scans < 1 {
		scans = 1
	}
	if rng.Float64() < splitProb {
		return s.proposeSplit(rng, src, scans, splitProb)
	}
	return s.proposeMerge(rng, src, scans, splitProb)
}

// samePairCount counts ordered pairs of distinct cells sharing a cluster.
// Anchor pairs for a split are uniform over these; ordered pairs in
// different clusters (n(n−1) minus this count) are the merge selections.
func (s *ClusterState) samePairCount() int {
	total := 0
	for _, c := range s.clusters {
		if c != nil {
			total += c.size * (c.size - 1)
		}
	}
	return total
}

// proposeSplit draws a uniform ordered anchor pair from one cluster, builds
// a data-informed bipartition with restricted Gibbs scans (Jain-Neal
// launch), and accepts with probability min(1, prior ratio × marginal ratio
// × selection ratio / q). The reverse move (a merge selecting the same pair,
// now in different clusters) has a deterministic proposal, so its
// contribution is the pair-selection probability in the proposed state.
func (s *ClusterState) proposeSplit(rng *rand.Rand, src rand.Source, scans int, splitProb float64) bool {
	samePairs := s.samePairCount()
	if samePairs == 0 {
		return false
	}
	// Weighting clusters by m(m−1) makes the anchor pair uniform over all
	// same-cluster ordered pairs.
	r := rng.IntN(samePairs)
	k := -1
	for kk, c := range s.clusters {
		if c == nil {
			continue
		}
		w := c.size * (c.size - 1)
		if r < w {
			k = kk
			break
		}
		r -= w
	}

	members := make([]int, 0, s.clusters[k].size)
	for cell, kk := range s.z {
		if kk == k {
			members = append(members, cell)
		}
	}

	ai := rng.IntN(len(members))
	bi := rng.IntN(len(members) - 1)
	if bi >= ai {
		bi++
	}
	anchorA, anchorB := members[ai], members[bi]

	side := make(map[int]int, len(members)) // cell -> 0 (A) or 1 (B)
	subA := newSubCluster(s.g.Sites())
	subB := newSubCluster(s.g.Sites())
	subA.add(s.g, anchorA)
	subB.add(s.g, anchorB)
	side[anchorA], side[anchorB] = 0, 1
	for _, cell := range members {
		if cell == anchorA || cell == anchorB {
			continue
		}
		if rng.Float64() < 0.5 {
			side[cell] = 0
			subA.add(s.g, cell)
		} else {
			side[cell] = 1
			subB.add(s.g, cell)
		}
	}

	logProp := s.restrictedScans(members, anchorA, anchorB, side, subA, subB, scans, rng)

	// Pair-selection probabilities do not cancel: forward picks the anchors
	// as a same-cluster pair, the reverse merge picks them as a
	// different-cluster pair in the proposed state.
	n := s.g.Cells()
	mA, mB, m := subA.size, subB.size, len(members)
	crossAfter := n*(n-1) - (samePairs - m*(m-1) + mA*(mA-1) + mB*(mB-1))
	logSel := math.Log(1-splitProb) - math.Log(splitProb) +
		math.Log(float64(samePairs)) - math.Log(float64(crossAfter))

	lgA, _ := math.Lgamma(float64(mA))
	lgB, _ := math.Lgamma(float64(mB))
	lgAll, _ := math.Lgamma(float64(m))
	logAcc := math.Log(s.alpha) + lgA + lgB - lgAll +
		s.logMarginalSet(membersOnSide(side, members, 0)) +
		s.logMarginalSet(membersOnSide(side, members, 1)) -
		s.logMarginalSet(members) +
		logSel -
		logProp

	if math.Log(rng.Float64()) >= logAcc {
		return false
	}

	// Accept: move the B side into a fresh cluster. The A anchor keeps
	// cluster k alive throughout.
	kNew := s.allocCluster()
	s.seedTheta(kNew)
	for _, cell := range members {
		if side[cell] != 1 {
			continue
		}
		s.removeCell(cell)
		s.addCell(cell, kNew)
	}
	s.sampleTheta(k, src)
	s.sampleTheta(kNew, src)
	s.compact()
	return true
}

// proposeMerge draws a uniform ordered pair of cells in different clusters
// and proposes the union of those clusters, anchored at the pair. The
// forward proposal is deterministic given the pair; the reverse probability
// is that of a split selecting the same pair and a restricted scan
// reproducing the current two-cluster configuration.
func (s *ClusterState) proposeMerge(rng *rand.Rand, src rand.Source, scans int, splitProb float64) bool {
	if s.occupied < 2 {
		return false
	}
	n := s.g.Cells()
	samePairs := s.samePairCount()
	cross := n*(n-1) - samePairs

	// First cell weighted by how many cells sit outside its cluster, second
	// uniform among those: uniform over different-cluster ordered pairs.
	r := rng.IntN(cross)
	anchorA := -1
	for cell, k := range s.z {
		w := n - s.clusters[k].size
		if r < w {
			anchorA = cell
			break
		}
		r -= w
	}
	k1 := s.z[anchorA]
	others := make([]int, 0, n-s.clusters[k1].size)
	for cell, k := range s.z {
		if k != k1 {
			others = append(others, cell)
		}
	}
	anchorB := others[rng.IntN(len(others))]
	k2 := s.z[anchorB]

	var members1, members2 []int
	for cell, kk := range s.z {
		switch kk {
		case k1:
			members1 = append(members1, cell)
		case k2:
			members2 = append(members2, cell)
		}
	}
	union := append(append([]int(nil), members1...), members2...)

	// Launch state for the hypothetical reverse split.
	side := make(map[int]int, len(union))
	subA := newSubCluster(s.g.Sites())
	subB := newSubCluster(s.g.Sites())
	subA.add(s.g, anchorA)
	subB.add(s.g, anchorB)
	side[anchorA], side[anchorB] = 0, 1
	for _, cell := range union {
		if cell == anchorA || cell == anchorB {
			continue
		}
		if rng.Float64() < 0.5 {
			side[cell] = 0
			subA.add(s.g, cell)
		} else {
			side[cell] = 1
			subB.add(s.g, cell)
		}
	}
	// Free scans move the launch toward the data; the final forced scan
	// scores the probability of landing exactly on the current split.
	if scans > 1 {
		s.restrictedScans(union, anchorA, anchorB, side, subA, subB, scans-1, rng)
	}
	target := make(map[int]int, len(union))
	for _, cell := range members1 {
		target[cell] = 0
	}
	for _, cell := range members2 {
		target[cell] = 1
	}
	logRev := s.forcedScan(union, anchorA, anchorB, side, subA, subB, target)

	m1, m2 := len(members1), len(members2)
	sameAfter := samePairs - m1*(m1-1) - m2*(m2-1) + (m1+m2)*(m1+m2-1)
	logSel := math.Log(splitProb) - math.Log(1-splitProb) +
		math.Log(float64(cross)) - math.Log(float64(sameAfter))

	lg1, _ := math.Lgamma(float64(m1))
	lg2, _ := math.Lgamma(float64(m2))
	lgAll, _ := math.Lgamma(float64(m1 + m2))
	logAcc := -math.Log(s.alpha) - lg1 - lg2 + lgAll +
		s.logMarginalSet(union) -
		s.logMarginalSet(members1) -
		s.logMarginalSet(members2) +
		logSel +
		logRev

	if math.Log(rng.Float64()) >= logAcc {
		return false
	}

	// Accept: fold k2 into k1. Removing the last member frees slot k2.
	for _, cell := range members2 {
		s.removeCell(cell)
		s.addCell(cell, k1)
	}
	s.sampleTheta(k1, src)
	s.compact()
	return true
}

// restrictedScans runs the given number of restricted Gibbs passes over the
// non-anchor members, reseating each between the two subclusters in
// proportion to size × predictive likelihood. The returned value is the log
// probability of the final pass's decisions, which is the Jain-Neal
// proposal probability of the resulting bipartition.
func (s *ClusterState) restrictedScans(members []int, anchorA, anchorB int, side map[int]int, subA, subB *subCluster, scans int, rng *rand.Rand) float64 {
	fn, fp := s.model.FN(), s.model.FP()
	logProp := 0.0
	for scan := 0; scan < scans; scan++ {
		last := scan == scans-1
		if last {
			logProp = 0
		}
		for _, cell := range members {
			if cell == anchorA || cell == anchorB {
				continue
			}
			if side[cell] == 0 {
				subA.remove(s.g, cell)
			} else {
				subB.remove(s.g, cell)
			}
			lwA := math.Log(float64(subA.size)) +
				predictiveLogLik(s.g, cell, subA.ones, subA.zeros, s.betaA, s.betaB, fn, fp)
			lwB := math.Log(float64(subB.size)) +
				predictiveLogLik(s.g, cell, subB.ones, subB.zeros, s.betaA, s.betaB, fn, fp)
			pA := 1 / (1 + math.Exp(lwB-lwA))
			if rng.Float64() < pA {
				side[cell] = 0
				subA.add(s.g, cell)
				if last {
					logProp += math.Log(clampUnit(pA))
				}
			} else {
				side[cell] = 1
				subB.add(s.g, cell)
				if last {
					logProp += math.Log(clampUnit(1 - pA))
				}
			}
		}
	}
	return logProp
}

// forcedScan performs one restricted pass whose decisions are forced to the
// target sides, returning the log probability of those decisions. This is
// the reverse-proposal probability used by merge acceptance.
func (s *ClusterState) forcedScan(members []int, anchorA, anchorB int, side map[int]int, subA, subB *subCluster, target map[int]int) float64 {
	fn, fp := s.model.FN(), s.model.FP()
	logProp := 0.0
	for _, cell := range members {
		if cell == anchorA || cell == anchorB {
			continue
		}
		if side[cell] == 0 {
			subA.remove(s.g, cell)
		} else {
			subB.remove(s.g, cell)
		}
		lwA := math.Log(float64(subA.size)) +
			predictiveLogLik(s.g, cell, subA.ones, subA.zeros, s.betaA, s.betaB, fn, fp)
		lwB := math.Log(float64(subB.size)) +
			predictiveLogLik(s.g, cell, subB.ones, subB.zeros, s.betaA, s.betaB, fn, fp)
		pA := 1 / (1 + math.Exp(lwB-lwA))
		if target[cell] == 0 {
			side[cell] = 0
			subA.add(s.g, cell)
			logProp += math.Log(clampUnit(pA))
		} else {
			side[cell] = 1
			subB.add(s.g, cell)
			logProp += math.Log(clampUnit(1 - pA))
		}
	}
	return logProp
}

// logMarginalSet approximates the marginal likelihood of a member set with
// the sequential posterior predictive in ascending cell order. Exact
// Beta-Bernoulli when the error rates are zero.
func (s *ClusterState) logMarginalSet(cells []int) float64 {
	sorted := append([]int(nil), cells...)
	sort.Ints(sorted)
	fn, fp := s.model.FN(), s.model.FP()
	ones := make([]int, s.g.Sites())
	zeros := make([]int, s.g.Sites())
	lm := 0.0
	for _, cell := range sorted {
		lm += predictiveLogLik(s.g, cell, ones, zeros, s.betaA, s.betaB, fn, fp)
		for j, x := range s.g.row(cell) {
			switch x {
			case Present:
				ones[j]++
			case Absent:
				zeros[j]++
			}
		}
	}
	return lm
}

// membersOnSide filters members by their proposed side.
func membersOnSide(side map[int]int, members []int, want int) []int {
	out := make([]int, 0, len(members))
	for _, cell := range members {
		if side[cell] == want {
			out = append(out, cell)
		}
	}
	return out
}
