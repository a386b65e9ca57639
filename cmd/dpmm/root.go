package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/scbayes/dpmm"
)

type options struct {
	transpose bool

	fn, fp          float64
	fnMean, fnSD    float64
	fpMean, fpSD    float64
	concPrior       []float64
	paramPrior      []float64
	fixedAssignment string

	chains          int
	steps           int
	runtimeMinutes  int
	lugsail         float64
	burnIn          float64
	concUpdateProb  float64
	errorUpdateProb float64
	splitMergeProb  float64
	splitMergeSteps int
	splitRatio      float64
	estimators      []string
	singleChains    bool
	seed            int64
	debug           bool

	outDir       string
	verbosity    int
	trueClusters string
	trueData     string
	configFile   string
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "dpmm <matrix>",
		Short: "Non-parametric clustering of single-cell mutation matrices",
		Long: `dpmm clusters noisy binary genotype calls into clonal subpopulations
with a Dirichlet process mixture model, without a pre-specified cluster
count. Input is a whitespace- or tab-delimited 0/1 matrix; missing values
are marked by 3 or an empty field.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, args[0], opts)
		},
	}

	fs := cmd.Flags()
	fs.BoolVarP(&opts.transpose, "transpose", "t", false,
		"read the matrix as sites × cells instead of cells × sites")
	fs.Float64Var(&opts.fn, "fn", -1, "fixed false-negative rate (-1 = learn)")
	fs.Float64Var(&opts.fp, "fp", -1, "fixed false-positive rate (-1 = learn)")
	fs.Float64Var(&opts.fnMean, "fn-mean", 0.2, "prior mean of the false-negative rate")
	fs.Float64Var(&opts.fnSD, "fn-sd", 0.1, "prior standard deviation of the false-negative rate")
	fs.Float64Var(&opts.fpMean, "fp-mean", 0.01, "prior mean of the false-positive rate")
	fs.Float64Var(&opts.fpSD, "fp-sd", 0.01, "prior standard deviation of the false-positive rate")
	fs.Float64SliceVar(&opts.concPrior, "conc-prior", nil,
		"Gamma(a,b) prior of the CRP concentration (default sqrt(#cells),1)")
	fs.Float64SliceVar(&opts.paramPrior, "param-prior", []float64{0.25, 0.25},
		"Beta(a,b) prior of the cluster parameters")
	fs.StringVar(&opts.fixedAssignment, "fixed-assignment", "",
		"path to a cluster assignment that freezes the partition for the run")

	fs.IntVarP(&opts.chains, "chains", "n", 1, "number of MCMC chains")
	fs.IntVarP(&opts.steps, "steps", "s", 5000, "MCMC steps per chain")
	fs.IntVarP(&opts.runtimeMinutes, "runtime", "r", -1,
		"runtime budget in minutes; overrides --steps when set")
	fs.Float64Var(&opts.lugsail, "lugsail", -1,
		"lugsail PSRF cutoff in [1.0,1.5]; terminates chains early once undercut (-1 = off)")
	fs.Float64VarP(&opts.burnIn, "burn-in", "b", 0.33, "fraction of steps discarded as burn-in")
	fs.Float64Var(&opts.concUpdateProb, "conc-update-prob", 0.25,
		"per-step probability of a concentration update")
	fs.Float64Var(&opts.errorUpdateProb, "error-update-prob", 0.25,
		"per-step probability of an error-rate update")
	fs.Float64Var(&opts.splitMergeProb, "split-merge-prob", 0.33,
		"per-step probability of a split-merge move")
	fs.IntVar(&opts.splitMergeSteps, "split-merge-steps", 3,
		"restricted Gibbs scans per split-merge launch")
	fs.Float64Var(&opts.splitRatio, "split-ratio", 0.75,
		"probability that a split-merge move proposes a split")
	fs.StringSliceVarP(&opts.estimators, "estimator", "e", []string{"posterior"},
		"estimators to compute: posterior, ML, MAP")
	fs.BoolVar(&opts.singleChains, "single-chains", false,
		"report one estimate per chain instead of pooling")
	fs.Int64Var(&opts.seed, "seed", -1, "random seed (-1 = random)")
	fs.BoolVar(&opts.debug, "debug", false,
		"run a single chain synchronously in the main goroutine")

	fs.StringVarP(&opts.outDir, "out", "o", "", "output directory (default <data dir>/<timestamp>)")
	fs.IntVarP(&opts.verbosity, "verbosity", "v", 1, "0 = quiet, 1 = progress, 2 = debug")
	fs.StringVar(&opts.trueClusters, "true-clusters", "",
		"ground-truth assignment for comparison metrics")
	fs.StringVar(&opts.trueData, "true-data", "",
		"ground-truth genotype matrix for Hamming distance")
	fs.StringVar(&opts.configFile, "config", "", "YAML file with flag defaults")

	return cmd
}

// applyConfigFile fills flags that were not set explicitly from a YAML file
// whose keys match flag names. Explicit flags always win.
func applyConfigFile(fs *pflag.FlagSet, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config: %w", err)
	}
	values := map[string]any{}
	if err := yaml.Unmarshal(raw, &values); err != nil {
		return fmt.Errorf("parsing config: %w", err)
	}
	for name, value := range values {
		f := fs.Lookup(name)
		if f == nil {
			return fmt.Errorf("config: unknown option %q", name)
		}
		if fs.Changed(name) {
			continue
		}
		var text string
		if list, ok := value.([]any); ok {
			parts := make([]string, len(list))
			for i, v := range list {
				parts[i] = fmt.Sprint(v)
			}
			text = strings.Join(parts, ",")
		} else {
			text = fmt.Sprint(value)
		}
		if err := fs.Set(name, text); err != nil {
			return fmt.Errorf("config: option %q: %w", name, err)
		}
	}
	return nil
}

func newLogger(verbosity int) *slog.Logger {
	level := slog.LevelError
	switch verbosity {
	case 1:
		level = slog.LevelInfo
	case 2:
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

func run(cmd *cobra.Command, input string, opts *options) error {
	if opts.configFile != "" {
		if err := applyConfigFile(cmd.Flags(), opts.configFile); err != nil {
			return err
		}
	}
	log := newLogger(opts.verbosity)

	matrix, err := dpmm.LoadMatrix(input, opts.transpose)
	if err != nil {
		return err
	}
	filtered, kept := matrix.FilterUninformativeSites()
	if dropped := matrix.Sites() - filtered.Sites(); dropped > 0 {
		log.Info("dropped sites with no observed calls", "dropped", dropped)
	}
	log.Info("loaded matrix", "cells", filtered.Cells(), "sites", filtered.Sites())

	cfg, err := buildConfig(filtered, opts)
	if err != nil {
		return err
	}

	start := time.Now()
	log.Info("running MCMC", "chains", cfg.Chains, "steps", cfg.Steps,
		"runtime", cfg.Runtime, "lugsail", cfg.PSRFCutoff)
	result, err := dpmm.Run(filtered, cfg)
	if err != nil {
		return err
	}
	log.Info("MCMC finished", "elapsed", time.Since(start).Round(time.Millisecond),
		"converged", result.Converged, "psrf", result.PSRF, "seed", result.Seed)

	outDir := opts.outDir
	if outDir == "" {
		outDir = filepath.Join(filepath.Dir(input), time.Now().Format("20060102_150405"))
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return fmt.Errorf("creating output directory: %w", err)
	}

	if err := writeResults(outDir, result, kept, log); err != nil {
		return err
	}
	return writeComparisons(outDir, result, kept, opts, log)
}

func buildConfig(g *dpmm.GenotypeMatrix, opts *options) (dpmm.Config, error) {
	cfg := dpmm.DefaultConfig()
	cfg.FN = opts.fn
	cfg.FP = opts.fp
	cfg.FNMean, cfg.FNSD = opts.fnMean, opts.fnSD
	cfg.FPMean, cfg.FPSD = opts.fpMean, opts.fpSD
	if len(opts.concPrior) == 2 {
		cfg.ConcPriorA, cfg.ConcPriorB = opts.concPrior[0], opts.concPrior[1]
	} else if len(opts.concPrior) != 0 {
		return cfg, fmt.Errorf("--conc-prior needs exactly two values, got %d", len(opts.concPrior))
	}
	if len(opts.paramPrior) != 2 {
		return cfg, fmt.Errorf("--param-prior needs exactly two values, got %d", len(opts.paramPrior))
	}
	cfg.ParamPriorA, cfg.ParamPriorB = opts.paramPrior[0], opts.paramPrior[1]
	cfg.Chains = opts.chains
	cfg.Steps = opts.steps
	if opts.runtimeMinutes > 0 {
		cfg.Runtime = time.Duration(opts.runtimeMinutes) * time.Minute
	}
	cfg.PSRFCutoff = opts.lugsail
	cfg.BurnIn = opts.burnIn
	cfg.ConcUpdateProb = opts.concUpdateProb
	cfg.ErrorUpdateProb = opts.errorUpdateProb
	cfg.SplitMergeProb = opts.splitMergeProb
	cfg.SplitMergeScans = opts.splitMergeSteps
	cfg.SplitRatio = opts.splitRatio
	cfg.Estimators = cfg.Estimators[:0]
	for _, e := range opts.estimators {
		cfg.Estimators = append(cfg.Estimators, dpmm.EstimatorMode(e))
	}
	cfg.SingleChains = opts.singleChains
	cfg.Seed = opts.seed
	cfg.Debug = opts.debug

	if opts.fixedAssignment != "" {
		assign, err := dpmm.LoadAssignment(opts.fixedAssignment, g.Cells())
		if err != nil {
			return cfg, err
		}
		cfg.FixedAssignment = assign
	}
	return cfg, nil
}
