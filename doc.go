// Package dpmm clusters single-cell mutation-presence matrices with a
// Dirichlet Process Mixture Model under a Chinese Restaurant Process prior.
//
// The observed data is an N×M binary matrix (N cells, M mutation sites) with
// missing entries allowed. Cells are grouped into an unbounded number of
// latent clonal clusters; each cluster carries a per-site mutation
// probability vector, and observations pass through an error channel with
// false-positive and false-negative rates that can either be fixed or
// learned jointly with the clustering. Inference is MCMC: per-cell Gibbs
// reseating sweeps, Jain-Neal split-merge moves, and conjugate
// hyperparameter updates, run as independent parallel chains with a lugsail
// batch-means PSRF convergence diagnostic.
//
// Basic usage:
//
//	m, err := dpmm.LoadMatrix("calls.tsv", false)
//	cfg := dpmm.DefaultConfig()
//	cfg.Chains = 4
//	cfg.Seed = 42
//	result, err := dpmm.Run(m, cfg)
//	// result.Estimates[dpmm.EstimatePosterior][0].Assignment[i] is the
//	// cluster of cell i
//
// By default error rates are learned from Beta priors derived from the
// configured mean and standard deviation. To fix them instead, set both
// rates explicitly:
//
//	cfg.FN = 0.2
//	cfg.FP = 0.001
//
// Runs are deterministic for a fixed (Seed, Chains, data, Config) tuple:
// each chain owns a PCG generator seeded from the global seed and the chain
// index, and no mutable state is shared between chains.
package dpmm
