package dpmm

import (
	"fmt"
	"math"
	"math/rand/v2"
	"time"
)

// EstimatorMode selects how point estimates are extracted from the
// post-burn-in traces.
type EstimatorMode string

const (
	// EstimatePosterior picks the sampled partition minimizing squared
	// loss against the posterior co-clustering frequency matrix.
	EstimatePosterior EstimatorMode = "posterior"
	// EstimateML picks the sample maximizing the data log-likelihood.
	EstimateML EstimatorMode = "ML"
	// EstimateMAP picks the sample maximizing the joint log-probability.
	EstimateMAP EstimatorMode = "MAP"
)

// Config controls model priors, sampler behavior, and orchestration.
// Start with [DefaultConfig] and override the fields you need.
type Config struct {
	// FN and FP fix the false-negative and false-positive rates. When both
	// are >= 0 the rates are constants for the whole run and the error
	// update is disabled. When either is < 0 the rates are learned from
	// Beta priors derived from the mean/SD fields below. Default: -1, -1
	// (learned).
	FN float64
	FP float64

	// FNMean/FNSD and FPMean/FPSD parameterize the Beta priors of the
	// learned error rates. Defaults: 0.2/0.1 and 0.01/0.01.
	FNMean float64
	FNSD   float64
	FPMean float64
	FPSD   float64

	// ConcPriorA and ConcPriorB are the Gamma(a,b) prior of the CRP
	// concentration parameter. Values <= 0 select the data-derived default
	// (sqrt(#cells), 1).
	ConcPriorA float64
	ConcPriorB float64

	// ParamPriorA and ParamPriorB are the Beta(a,b) prior of the
	// per-cluster mutation probabilities. Default: 0.25, 0.25.
	ParamPriorA float64
	ParamPriorB float64

	// Chains is the number of independent MCMC chains. Default: 1.
	Chains int

	// Steps is the per-chain step budget. Default: 5000.
	Steps int

	// Runtime bounds each chain by wall-clock time instead of steps when
	// > 0; the step budget is then ignored. Default: 0 (disabled).
	Runtime time.Duration

	// PSRFCutoff enables the lugsail batch-means convergence diagnostic
	// when in [1.0, 1.5]: once the PSRF over all chains' joint
	// log-probabilities falls below the cutoff, every chain is terminated
	// early. -1 disables the diagnostic. Default: -1.
	PSRFCutoff float64

	// BurnIn is the fraction of each trace discarded before estimation
	// and before convergence checks. Must be in [0, 1). Default: 0.33.
	BurnIn float64

	// ConcUpdateProb is the per-step probability of a concentration
	// update. Default: 0.25.
	ConcUpdateProb float64

	// ErrorUpdateProb is the per-step probability of an error-rate update.
	// Forced to 0 when the rates are fixed. Default: 0.25.
	ErrorUpdateProb float64

	// SplitMergeProb is the per-step probability of a split-merge move in
	// place of a Gibbs sweep. Default: 0.33.
	SplitMergeProb float64

	// SplitMergeScans is the number of restricted Gibbs scans used to
	// build a split-merge launch state. Default: 3.
	SplitMergeScans int

	// SplitRatio is the probability that a split-merge move proposes a
	// split rather than a merge. Default: 0.75.
	SplitRatio float64

	// Estimators lists the point estimates to compute.
	// Default: [EstimatePosterior].
	Estimators []EstimatorMode

	// SingleChains computes one estimate per chain instead of pooling all
	// traces. Default: false.
	SingleChains bool

	// Seed fixes the random number generation; runs with the same seed,
	// data, and configuration are bit-identical. < 0 draws a fresh seed.
	// Default: -1.
	Seed int64

	// Debug runs a single chain synchronously in the caller's goroutine.
	// Behavior is identical to the parallel path aside from scheduling.
	Debug bool

	// FixedAssignment, when non-nil, freezes the cluster assignment for
	// the whole run; only parameters, the concentration, and error rates
	// update. Length must equal the number of cells.
	FixedAssignment []int
}

// DefaultConfig returns a Config with the standard defaults.
func DefaultConfig() Config {
	return Config{
		FN:              -1,
		FP:              -1,
		FNMean:          0.2,
		FNSD:            0.1,
		FPMean:          0.01,
		FPSD:            0.01,
		ParamPriorA:     0.25,
		ParamPriorB:     0.25,
		Chains:          1,
		Steps:           5000,
		PSRFCutoff:      -1,
		BurnIn:          0.33,
		ConcUpdateProb:  0.25,
		ErrorUpdateProb: 0.25,
		SplitMergeProb:  0.33,
		SplitMergeScans: 3,
		SplitRatio:      0.75,
		Estimators:      []EstimatorMode{EstimatePosterior},
		Seed:            -1,
	}
}

// applyDefaults fills structurally zero config fields and derives
// data-dependent defaults.
func applyDefaults(cfg *Config, cells int) {
	if cfg.Chains == 0 {
		cfg.Chains = 1
	}
	if cfg.Steps == 0 {
		cfg.Steps = 5000
	}
	if cfg.SplitMergeScans == 0 {
		cfg.SplitMergeScans = 3
	}
	if cfg.ParamPriorA == 0 && cfg.ParamPriorB == 0 {
		cfg.ParamPriorA, cfg.ParamPriorB = 0.25, 0.25
	}
	if cfg.ConcPriorA <= 0 || cfg.ConcPriorB <= 0 {
		cfg.ConcPriorA = math.Sqrt(float64(cells))
		cfg.ConcPriorB = 1
	}
	if len(cfg.Estimators) == 0 {
		cfg.Estimators = []EstimatorMode{EstimatePosterior}
	}
	if cfg.Debug {
		cfg.Chains = 1
	}
	if cfg.FN >= 0 && cfg.FP >= 0 {
		cfg.ErrorUpdateProb = 0
	}
	if cfg.FixedAssignment != nil {
		cfg.SplitMergeProb = 0
	}
	if cfg.Seed < 0 {
		cfg.Seed = int64(rand.Uint64() >> 1)
	}
}

// validateConfig rejects invalid configurations before any sampling begins.
func validateConfig(cfg *Config, cells int) error {
	checkProb := func(name string, v float64) error {
		if v < 0 || v > 1 {
			return fmt.Errorf("dpmm: %s must be in [0,1], got %g", name, v)
		}
		return nil
	}
	for _, c := range []struct {
		name string
		v    float64
	}{
		{"ConcUpdateProb", cfg.ConcUpdateProb},
		{"ErrorUpdateProb", cfg.ErrorUpdateProb},
		{"SplitMergeProb", cfg.SplitMergeProb},
		{"SplitRatio", cfg.SplitRatio},
	} {
		if err := checkProb(c.name, c.v); err != nil {
			return err
		}
	}
	if sum := cfg.ConcUpdateProb + cfg.ErrorUpdateProb + cfg.SplitMergeProb; sum > 1 {
		return fmt.Errorf("dpmm: update probabilities sum to %g, must be <= 1", sum)
	}
	if cfg.BurnIn < 0 || cfg.BurnIn >= 1 {
		return fmt.Errorf("dpmm: BurnIn must be in [0,1), got %g", cfg.BurnIn)
	}
	if cfg.PSRFCutoff != -1 && (cfg.PSRFCutoff < 1.0 || cfg.PSRFCutoff > 1.5) {
		return fmt.Errorf("dpmm: PSRFCutoff must be -1 or in [1.0,1.5], got %g", cfg.PSRFCutoff)
	}
	if cfg.Chains < 1 {
		return fmt.Errorf("dpmm: Chains must be >= 1, got %d", cfg.Chains)
	}
	if cfg.Steps < 1 && cfg.Runtime <= 0 {
		return fmt.Errorf("dpmm: Steps must be >= 1 when no Runtime budget is set, got %d", cfg.Steps)
	}
	if cfg.ParamPriorA <= 0 || cfg.ParamPriorB <= 0 {
		return fmt.Errorf("dpmm: parameter prior must be positive, got Beta(%g,%g)",
			cfg.ParamPriorA, cfg.ParamPriorB)
	}
	if cfg.SplitMergeScans < 1 {
		return fmt.Errorf("dpmm: SplitMergeScans must be >= 1, got %d", cfg.SplitMergeScans)
	}
	for _, e := range cfg.Estimators {
		switch e {
		case EstimatePosterior, EstimateML, EstimateMAP:
		default:
			return fmt.Errorf("dpmm: invalid estimator %q", e)
		}
	}
	if cfg.FixedAssignment != nil && len(cfg.FixedAssignment) != cells {
		return fmt.Errorf("dpmm: fixed assignment has %d labels, expected %d cells",
			len(cfg.FixedAssignment), cells)
	}
	return nil
}

// buildErrorModel selects the fixed or learned error-rate variant from the
// configuration.
func buildErrorModel(cfg *Config) (ErrorModel, error) {
	if cfg.FN >= 0 && cfg.FP >= 0 {
		return NewFixedErrors(cfg.FN, cfg.FP)
	}
	return NewLearnedErrors(cfg.FNMean, cfg.FNSD, cfg.FPMean, cfg.FPSD)
}

// Result is the output of a full multi-chain run.
type Result struct {
	// Estimates maps each requested estimator mode to its estimates: one
	// per chain when SingleChains is set, otherwise a single pooled entry.
	Estimates map[EstimatorMode][]Estimate

	// Seed is the realized global seed; re-running with Config.Seed set to
	// it reproduces the run exactly.
	Seed int64

	// ChainSeeds holds the derived per-chain seeds.
	ChainSeeds []uint64

	// Converged reports whether the PSRF diagnostic terminated the run
	// early. Always false when the diagnostic is disabled; a false value
	// after a completed run is a caveat, not an error.
	Converged bool

	// PSRF is the last diagnostic value computed, or NaN if none was.
	PSRF float64

	// StepsRun is the number of recorded steps per chain.
	StepsRun []int
}

// Run clusters the matrix with the given configuration: it launches the
// chain pool, waits for every chain to terminate (by budget or early
// convergence), and extracts the requested point estimates.
func Run(g *GenotypeMatrix, cfg Config) (*Result, error) {
	applyDefaults(&cfg, g.Cells())
	if err := validateConfig(&cfg, g.Cells()); err != nil {
		return nil, err
	}
	model, err := buildErrorModel(&cfg)
	if err != nil {
		return nil, err
	}

	pool := newChainPool(g, &cfg, model)
	traces, diag := pool.run()

	res := &Result{
		Estimates:  make(map[EstimatorMode][]Estimate),
		Seed:       cfg.Seed,
		ChainSeeds: pool.chainSeeds(),
		Converged:  diag.converged,
		PSRF:       diag.psrf,
		StepsRun:   make([]int, len(traces)),
	}
	for i, tr := range traces {
		res.StepsRun[i] = len(tr)
	}

	kept := make([][]ChainState, len(traces))
	for i, tr := range traces {
		kept[i] = discardBurnIn(tr, cfg.BurnIn)
	}
	for _, mode := range cfg.Estimators {
		ests, err := estimate(mode, kept, g.Cells(), cfg.SingleChains)
		if err != nil {
			return nil, err
		}
		res.Estimates[mode] = ests
	}
	return res, nil
}
