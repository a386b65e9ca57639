package dpmm

import "math"

// AdjustedRandIndex measures agreement between two cluster assignments,
// corrected for chance: 1 for identical partitions (up to relabeling),
// around 0 for independent ones. Both slices must have the same length.
func AdjustedRandIndex(a, b []int) float64 {
	n := len(a)
	if n == 0 || len(b) != n {
		return math.NaN()
	}
	type pair struct{ x, y int }
	joint := make(map[pair]int)
	rowSum := make(map[int]int)
	colSum := make(map[int]int)
	for i := 0; i < n; i++ {
		joint[pair{a[i], b[i]}]++
		rowSum[a[i]]++
		colSum[b[i]]++
	}
	choose2 := func(v int) float64 { return float64(v) * float64(v-1) / 2 }

	var sumJoint, sumRow, sumCol float64
	for _, v := range joint {
		sumJoint += choose2(v)
	}
	for _, v := range rowSum {
		sumRow += choose2(v)
	}
	for _, v := range colSum {
		sumCol += choose2(v)
	}
	totalPairs := choose2(n)
	expected := sumRow * sumCol / totalPairs
	maxIndex := (sumRow + sumCol) / 2
	if maxIndex == expected {
		// Both partitions are single clusters (or all singletons): they
		// agree trivially.
		return 1
	}
	return (sumJoint - expected) / (maxIndex - expected)
}

// VMeasure is the harmonic mean of homogeneity and completeness between a
// ground-truth assignment and a predicted one, in [0, 1].
func VMeasure(truth, pred []int) float64 {
	n := len(truth)
	if n == 0 || len(pred) != n {
		return math.NaN()
	}
	hTruth := labelEntropy(truth)
	hPred := labelEntropy(pred)
	mi := mutualInformation(truth, pred)

	homogeneity := 1.0
	if hTruth > 0 {
		homogeneity = mi / hTruth
	}
	completeness := 1.0
	if hPred > 0 {
		completeness = mi / hPred
	}
	if homogeneity+completeness == 0 {
		return 0
	}
	return 2 * homogeneity * completeness / (homogeneity + completeness)
}

func labelEntropy(z []int) float64 {
	counts := make(map[int]int)
	for _, v := range z {
		counts[v]++
	}
	n := float64(len(z))
	h := 0.0
	for _, c := range counts {
		p := float64(c) / n
		h -= p * math.Log(p)
	}
	return h
}

func mutualInformation(a, b []int) float64 {
	type pair struct{ x, y int }
	joint := make(map[pair]int)
	ca := make(map[int]int)
	cb := make(map[int]int)
	for i := range a {
		joint[pair{a[i], b[i]}]++
		ca[a[i]]++
		cb[b[i]]++
	}
	n := float64(len(a))
	mi := 0.0
	for p, c := range joint {
		pxy := float64(c) / n
		px := float64(ca[p.x]) / n
		py := float64(cb[p.y]) / n
		mi += pxy * math.Log(pxy/(px*py))
	}
	if mi < 0 {
		return 0
	}
	return mi
}

// GenotypeHammingDistance is the fraction of non-missing entries of the
// true matrix that disagree with the inferred cluster genotypes, where each
// cell's inferred genotype is its cluster's parameter vector rounded to
// {0,1}.
func GenotypeHammingDistance(truth *GenotypeMatrix, assignment []int, genotypes [][]float64) float64 {
	mismatch, total := 0, 0
	for i := 0; i < truth.Cells(); i++ {
		theta := genotypes[assignment[i]]
		for j := 0; j < truth.Sites(); j++ {
			x := truth.At(i, j)
			if x == Missing {
				continue
			}
			total++
			call := Absent
			if theta[j] >= 0.5 {
				call = Present
			}
			if call != x {
				mismatch++
			}
		}
	}
	if total == 0 {
		return math.NaN()
	}
	return float64(mismatch) / float64(total)
}
