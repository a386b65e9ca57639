package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/scbayes/dpmm"
)

// estimateName builds the file prefix for one estimate, e.g. "posterior" or
// "ML_chain2".
func estimateName(e dpmm.Estimate) string {
	if e.Chain >= 0 {
		return fmt.Sprintf("%s_chain%d", e.Mode, e.Chain)
	}
	return string(e.Mode)
}

func writeResults(outDir string, result *dpmm.Result, siteIndex []int, log *slog.Logger) error {
	var summary strings.Builder
	fmt.Fprintf(&summary, "seed\t%d\n", result.Seed)
	for i, s := range result.ChainSeeds {
		fmt.Fprintf(&summary, "chain%d_seed\t%d\tsteps\t%d\n", i, s, result.StepsRun[i])
	}
	fmt.Fprintf(&summary, "converged\t%t\n", result.Converged)
	fmt.Fprintf(&summary, "PSRF\t%g\n", result.PSRF)

	for _, ests := range result.Estimates {
		for _, e := range ests {
			name := estimateName(e)
			clusters := make(map[int]bool)
			for _, z := range e.Assignment {
				clusters[z] = true
			}
			fmt.Fprintf(&summary, "%s\tclusters\t%d\tlogprob\t%.4f\tloglik\t%.4f\talpha\t%.4f\tFN\t%.4f\tFP\t%.4f\n",
				name, len(clusters), e.LogProb, e.DataLogLik, e.Alpha, e.FN, e.FP)

			if err := writeAssignment(filepath.Join(outDir, name+"_assignment.txt"), e.Assignment); err != nil {
				return err
			}
			if err := writeGenotypes(filepath.Join(outDir, name+"_genotypes.tsv"), e.Genotypes, siteIndex); err != nil {
				return err
			}
			log.Info("wrote estimate", "estimator", name, "clusters", len(clusters))
		}
	}
	return os.WriteFile(filepath.Join(outDir, "summary.tsv"), []byte(summary.String()), 0o644)
}

func writeAssignment(path string, assignment []int) error {
	parts := make([]string, len(assignment))
	for i, z := range assignment {
		parts[i] = strconv.Itoa(z)
	}
	return os.WriteFile(path, []byte(strings.Join(parts, " ")+"\n"), 0o644)
}

// writeGenotypes writes one row per cluster. The header maps columns back
// to the site indices of the unfiltered input matrix.
func writeGenotypes(path string, genotypes [][]float64, siteIndex []int) error {
	var b strings.Builder
	b.WriteString("cluster")
	for _, j := range siteIndex {
		fmt.Fprintf(&b, "\tsite%d", j)
	}
	b.WriteByte('\n')
	for k, theta := range genotypes {
		b.WriteString(strconv.Itoa(k))
		for _, t := range theta {
			fmt.Fprintf(&b, "\t%.4f", t)
		}
		b.WriteByte('\n')
	}
	return os.WriteFile(path, []byte(b.String()), 0o644)
}

func writeComparisons(outDir string, result *dpmm.Result, siteIndex []int, opts *options, log *slog.Logger) error {
	if opts.trueClusters == "" && opts.trueData == "" {
		return nil
	}

	var lines []string
	forEach := func(fn func(e dpmm.Estimate) (string, float64)) {
		for _, ests := range result.Estimates {
			for _, e := range ests {
				metric, v := fn(e)
				lines = append(lines, fmt.Sprintf("%s\t%s\t%.6f", estimateName(e), metric, v))
			}
		}
	}

	if opts.trueClusters != "" {
		var cells int
		for _, ests := range result.Estimates {
			if len(ests) > 0 {
				cells = len(ests[0].Assignment)
				break
			}
		}
		truth, err := dpmm.LoadAssignment(opts.trueClusters, cells)
		if err != nil {
			return err
		}
		forEach(func(e dpmm.Estimate) (string, float64) {
			return "ARI", dpmm.AdjustedRandIndex(truth, e.Assignment)
		})
		forEach(func(e dpmm.Estimate) (string, float64) {
			return "v_measure", dpmm.VMeasure(truth, e.Assignment)
		})
	}

	if opts.trueData != "" {
		truth, err := dpmm.LoadMatrix(opts.trueData, opts.transpose)
		if err != nil {
			return err
		}
		aligned := truth.SelectSites(siteIndex)
		forEach(func(e dpmm.Estimate) (string, float64) {
			return "hamming", dpmm.GenotypeHammingDistance(aligned, e.Assignment, e.Genotypes)
		})
	}

	for _, l := range lines {
		log.Info("comparison", "result", l)
	}
	return os.WriteFile(filepath.Join(outDir, "comparison.tsv"),
		[]byte(strings.Join(lines, "\n")+"\n"), 0o644)
}
