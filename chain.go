package dpmm

import (
	"fmt"
	"math/rand/v2"
	"time"
)

// ChainState is one trace entry: a full snapshot of the sampler state after
// a step. Immutable once recorded.
type ChainState struct {
	// Assignment maps cell index to a dense cluster id.
	Assignment []int
	// Thetas holds one mutation-probability vector per cluster, indexed by
	// cluster id.
	Thetas [][]float64
	// Alpha is the CRP concentration parameter.
	Alpha float64
	// FN and FP are the error rates at this step.
	FN float64
	FP float64
	// DataLogLik is the log-likelihood of the data alone.
	DataLogLik float64
	// LogProb is the full joint log-probability (priors × likelihood).
	LogProb float64
}

type chainPhase int32

const (
	chainInitializing chainPhase = iota
	chainRunning
	chainTerminated
)

// Chain owns one ClusterState and one RNG and advances them step by step.
// A chain is not safe for concurrent use; the pool gives each chain its own
// goroutine and nothing else touches it until it terminates.
type Chain struct {
	id   int
	seed uint64
	cfg  *Config

	src   *rand.PCG
	rng   *rand.Rand
	state *ClusterState
	trace []ChainState

	frozen bool
	phase  chainPhase
}

// deriveChainSeed mixes the global seed with the chain index so chains are
// decorrelated but reproducible for a fixed (seed, index) pair.
func deriveChainSeed(globalSeed int64, index int) uint64 {
	return uint64(globalSeed) + 0x9e3779b97f4a7c15*uint64(index+1)
}

// NewChain builds a single initialized chain. Most callers should use [Run];
// NewChain plus [Chain.Step] exists for step-by-step inspection of one
// chain, which is exactly how debug mode executes.
func NewChain(g *GenotypeMatrix, cfg Config, index int) (*Chain, error) {
	applyDefaults(&cfg, g.Cells())
	if err := validateConfig(&cfg, g.Cells()); err != nil {
		return nil, err
	}
	model, err := buildErrorModel(&cfg)
	if err != nil {
		return nil, err
	}
	return newChain(g, &cfg, model, index), nil
}

func newChain(g *GenotypeMatrix, cfg *Config, model ErrorModel, index int) *Chain {
	seed := deriveChainSeed(cfg.Seed, index)
	src := rand.NewPCG(seed, seed^0xda3e39cb94b95bdb)
	c := &Chain{
		id:    index,
		seed:  seed,
		cfg:   cfg,
		src:   src,
		rng:   rand.New(src),
		phase: chainInitializing,
	}
	alpha := cfg.ConcPriorA / cfg.ConcPriorB
	c.state = newClusterState(g, model.clone(), alpha, cfg.ParamPriorA, cfg.ParamPriorB)
	if cfg.FixedAssignment != nil {
		c.frozen = true
		c.state.initFromAssignment(cfg.FixedAssignment, c.src)
	} else {
		c.state.initRandomCRP(c.rng, c.src)
	}
	c.phase = chainRunning
	return c
}

// Step advances the chain by one MCMC step: it selects one action by the
// configured probabilities (split-merge, concentration update, error-rate
// update, or a Gibbs sweep), applies it, and appends a snapshot to the
// trace. With a frozen assignment the Gibbs action only resamples cluster
// parameters.
func (c *Chain) Step() error {
	if c.phase != chainRunning {
		return fmt.Errorf("dpmm: chain %d is not running", c.id)
	}
	cfg := c.cfg
	u := c.rng.Float64()
	switch {
	case u < cfg.SplitMergeProb:
		c.state.splitMergeMove(c.rng, c.src, cfg.SplitMergeScans, cfg.SplitRatio)
	case u < cfg.SplitMergeProb+cfg.ConcUpdateProb:
		c.state.updateConcentration(cfg.ConcPriorA, cfg.ConcPriorB, c.rng, c.src)
	case u < cfg.SplitMergeProb+cfg.ConcUpdateProb+cfg.ErrorUpdateProb:
		c.state.updateErrors(c.src)
	default:
		if c.frozen {
			c.state.sampleAllThetas(c.src)
		} else {
			c.state.gibbsSweep(c.rng, c.src)
		}
	}
	lp := alphaLogPrior(c.state.alpha, cfg.ConcPriorA, cfg.ConcPriorB)
	c.trace = append(c.trace, c.state.snapshot(lp))
	return nil
}

// Trace returns the recorded states. The slice is owned by the chain; do
// not mutate entries.
func (c *Chain) Trace() []ChainState { return c.trace }

// Seed returns the derived seed this chain runs on.
func (c *Chain) Seed() uint64 { return c.seed }

// Terminated reports whether the chain has finished its run.
func (c *Chain) Terminated() bool { return c.phase == chainTerminated }

// run drives the chain until its step or runtime budget is exhausted or the
// stop channel closes. Cancellation is cooperative: the stop signal is
// checked between steps, never mid-step. report is called with the joint
// log-probability after every step.
func (c *Chain) run(stop <-chan struct{}, report func(chain int, logProb float64)) {
	start := time.Now()
	for {
		select {
		case <-stop:
			c.phase = chainTerminated
			return
		default:
		}
		if c.cfg.Runtime > 0 {
			if time.Since(start) >= c.cfg.Runtime {
				break
			}
		} else if len(c.trace) >= c.cfg.Steps {
			break
		}
		if err := c.Step(); err != nil {
			break
		}
		if report != nil {
			report(c.id, c.trace[len(c.trace)-1].LogProb)
		}
	}
	c.phase = chainTerminated
}
