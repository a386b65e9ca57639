package dpmm

import (
	"fmt"
	"math/rand/v2"

	"gonum.org/v1/gonum/stat/distuv"
)

// ErrorModel exposes the sequencing error channel: the false-negative rate
// (a true mutation observed as 0) and the false-positive rate (a true
// absence observed as 1). The sampler only reads the current rates; whether
// they ever change is decided at construction time.
type ErrorModel interface {
	// FN returns the current false-negative rate.
	FN() float64
	// FP returns the current false-positive rate.
	FP() float64
	// Learned reports whether the rates are latent variables.
	Learned() bool

	// clone returns an independent copy for a new chain.
	clone() ErrorModel
	// update resamples the rates from augmented genotype counts. A no-op
	// for fixed rates.
	update(c genotypeCounts, src rand.Source)
	// logPrior returns the log prior density of the current rates, 0 for
	// fixed rates.
	logPrior() float64
}

// genotypeCounts tallies latent-genotype/observation pairs over all
// non-missing entries, split by the sampled true genotype g.
type genotypeCounts struct {
	trueOneObsOne   float64 // g=1 observed 1
	trueOneObsZero  float64 // g=1 observed 0 (false negative)
	trueZeroObsOne  float64 // g=0 observed 1 (false positive)
	trueZeroObsZero float64 // g=0 observed 0
}

// FixedErrors is an ErrorModel with constant rates.
type FixedErrors struct {
	fn, fp float64
}

// NewFixedErrors returns an ErrorModel holding the given rates unchanged
// for the whole run.
func NewFixedErrors(fn, fp float64) (*FixedErrors, error) {
	if fn < 0 || fn > 1 {
		return nil, fmt.Errorf("dpmm: false-negative rate must be in [0,1], got %g", fn)
	}
	if fp < 0 || fp > 1 {
		return nil, fmt.Errorf("dpmm: false-positive rate must be in [0,1], got %g", fp)
	}
	return &FixedErrors{fn: fn, fp: fp}, nil
}

func (e *FixedErrors) FN() float64 { return e.fn }
func (e *FixedErrors) FP() float64 { return e.fp }
func (e *FixedErrors) Learned() bool { return false }
func (e *FixedErrors) clone() ErrorModel { c := *e; return &c }
func (e *FixedErrors) update(genotypeCounts, rand.Source) {}
func (e *FixedErrors) logPrior() float64 { return 0 }

// LearnedErrors is an ErrorModel whose rates are latent variables with Beta
// priors derived from configured mean/standard-deviation pairs. The
// posterior update is conjugate given augmented genotype counts.
type LearnedErrors struct {
	fn, fp             float64
	fnA, fnB, fpA, fpB float64
}

// NewLearnedErrors derives Beta(a,b) priors from the given moments and
// initializes both rates at their prior means.
func NewLearnedErrors(fnMean, fnSD, fpMean, fpSD float64) (*LearnedErrors, error) {
	fnA, fnB, err := betaFromMoments(fnMean, fnSD)
	if err != nil {
		return nil, fmt.Errorf("dpmm: false-negative prior: %w", err)
	}
	fpA, fpB, err := betaFromMoments(fpMean, fpSD)
	if err != nil {
		return nil, fmt.Errorf("dpmm: false-positive prior: %w", err)
	}
	return &LearnedErrors{
		fn: fnMean, fp: fpMean,
		fnA: fnA, fnB: fnB, fpA: fpA, fpB: fpB,
	}, nil
}

func (e *LearnedErrors) FN() float64 { return e.fn }
func (e *LearnedErrors) FP() float64 { return e.fp }
func (e *LearnedErrors) Learned() bool { return true }
func (e *LearnedErrors) clone() ErrorModel { c := *e; return &c }

func (e *LearnedErrors) update(c genotypeCounts, src rand.Source) {
	e.fn = distuv.Beta{
		Alpha: e.fnA + c.trueOneObsZero,
		Beta:  e.fnB + c.trueOneObsOne,
		Src:   src,
	}.Rand()
	e.fp = distuv.Beta{
		Alpha: e.fpA + c.trueZeroObsOne,
		Beta:  e.fpB + c.trueZeroObsZero,
		Src:   src,
	}.Rand()
}

func (e *LearnedErrors) logPrior() float64 {
	fnPrior := distuv.Beta{Alpha: e.fnA, Beta: e.fnB}
	fpPrior := distuv.Beta{Alpha: e.fpA, Beta: e.fpB}
	return fnPrior.LogProb(clampUnit(e.fn)) + fpPrior.LogProb(clampUnit(e.fp))
}

// betaFromMoments converts a (mean, sd) pair to Beta(a,b) parameters.
// The variance must satisfy sd² < mean·(1−mean) for the moments to be
// realizable by a Beta distribution.
func betaFromMoments(mean, sd float64) (a, b float64, err error) {
	if mean <= 0 || mean >= 1 {
		return 0, 0, fmt.Errorf("mean must be in (0,1), got %g", mean)
	}
	if sd <= 0 {
		return 0, 0, fmt.Errorf("standard deviation must be > 0, got %g", sd)
	}
	nu := mean*(1-mean)/(sd*sd) - 1
	if nu <= 0 {
		return 0, 0, fmt.Errorf("standard deviation %g too large for mean %g", sd, mean)
	}
	return mean * nu, (1 - mean) * nu, nil
}
