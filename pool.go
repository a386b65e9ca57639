package dpmm

import (
	"math"
	"sync"
)

// psrfMinSamples is the smallest post-burn-in sample count every chain must
// reach before the diagnostic is computed; below it the check is deferred.
const psrfMinSamples = 100

// psrfCheckEvery is the number of recorded samples (summed over chains)
// between diagnostic evaluations.
const psrfCheckEvery = 100

type diagOutcome struct {
	converged bool
	psrf      float64
}

// chainPool runs N independent chains to completion. Each chain owns its
// state and RNG outright; the only shared objects are the read-only
// genotype matrix and the stop channel the convergence monitor may close.
type chainPool struct {
	g      *GenotypeMatrix
	cfg    *Config
	chains []*Chain
}

func newChainPool(g *GenotypeMatrix, cfg *Config, model ErrorModel) *chainPool {
	p := &chainPool{g: g, cfg: cfg, chains: make([]*Chain, cfg.Chains)}
	for i := range p.chains {
		p.chains[i] = newChain(g, cfg, model, i)
	}
	return p
}

func (p *chainPool) chainSeeds() []uint64 {
	seeds := make([]uint64, len(p.chains))
	for i, c := range p.chains {
		seeds[i] = c.Seed()
	}
	return seeds
}

// run executes all chains and returns their traces once every chain has
// terminated. In debug mode the single chain runs synchronously in the
// caller's goroutine with the convergence check inlined; otherwise each
// chain gets its own goroutine and streams its per-step joint
// log-probability to the monitor.
func (p *chainPool) run() ([][]ChainState, diagOutcome) {
	stop := make(chan struct{})
	var mon *convergenceMonitor
	if p.cfg.PSRFCutoff != -1 {
		mon = newConvergenceMonitor(len(p.chains), p.cfg.PSRFCutoff, p.cfg.BurnIn, stop)
	}

	if p.cfg.Debug {
		var report func(int, float64)
		if mon != nil {
			report = mon.record
		}
		p.chains[0].run(stop, report)
	} else {
		type sample struct {
			chain int
			logp  float64
		}
		var report func(int, float64)
		var monDone chan struct{}
		var samples chan sample
		if mon != nil {
			samples = make(chan sample, 256)
			monDone = make(chan struct{})
			go func() {
				defer close(monDone)
				for s := range samples {
					mon.record(s.chain, s.logp)
				}
			}()
			report = func(chain int, logp float64) {
				samples <- sample{chain, logp}
			}
		}

		var wg sync.WaitGroup
		for _, c := range p.chains {
			wg.Add(1)
			go func(c *Chain) {
				defer wg.Done()
				c.run(stop, report)
			}(c)
		}
		wg.Wait()
		if samples != nil {
			close(samples)
			<-monDone
		}
	}

	traces := make([][]ChainState, len(p.chains))
	for i, c := range p.chains {
		traces[i] = c.Trace()
	}
	out := diagOutcome{psrf: math.NaN()}
	if mon != nil {
		out.converged = mon.converged
		out.psrf = mon.psrf
	}
	return traces, out
}

// convergenceMonitor accumulates each chain's scalar summary (joint
// log-probability per step) and periodically computes the lugsail PSRF over
// the post-burn-in portions. The check is a barrier by deferral: until
// every chain has enough post-burn-in samples, it simply does nothing.
// Only one goroutine ever calls record, so no locking is needed.
type convergenceMonitor struct {
	cutoff     float64
	burnIn     float64
	traces     [][]float64
	sinceCheck int
	converged  bool
	psrf       float64
	stop       chan struct{}
	stopOnce   sync.Once
}

func newConvergenceMonitor(chains int, cutoff, burnIn float64, stop chan struct{}) *convergenceMonitor {
	return &convergenceMonitor{
		cutoff: cutoff,
		burnIn: burnIn,
		traces: make([][]float64, chains),
		psrf:   math.NaN(),
		stop:   stop,
	}
}

func (m *convergenceMonitor) record(chain int, logProb float64) {
	if m.converged {
		return
	}
	m.traces[chain] = append(m.traces[chain], logProb)
	m.sinceCheck++
	if m.sinceCheck < psrfCheckEvery {
		return
	}
	m.sinceCheck = 0

	post := make([][]float64, len(m.traces))
	for i, tr := range m.traces {
		kept := tr[int(m.burnIn*float64(len(tr))):]
		if len(kept) < psrfMinSamples {
			return // defer until every chain has enough samples
		}
		post[i] = kept
	}
	r := lugsailPSRF(post)
	if math.IsNaN(r) {
		return
	}
	m.psrf = r
	if r < m.cutoff {
		m.converged = true
		m.stopOnce.Do(func() { close(m.stop) })
	}
}
