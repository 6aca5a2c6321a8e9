// Package aggregate folds every commit's JobOutcome into the single
// summary document written at the end of a batch.
package aggregate

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/model"
)

// Build computes the Summary for a completed batch. totalCommitsInRepo is
// the count the Repository Manager enumerated before dispatch, which may
// exceed len(outcomes) when the batch was cancelled early.
func Build(location string, outcomes []model.JobOutcome, totalCommitsInRepo int) model.Summary {
	var (
		successful      int
		skippedOrFailed int
		javaFileTotal   int
		warningTotal    int
	)
	warningsByRule := map[string]int{}

	for _, o := range outcomes {
		if o.Outcome != model.OutcomeSuccess || o.Result == nil {
			skippedOrFailed++
			continue
		}
		successful++
		javaFileTotal += o.Result.JavaFileCount
		warningTotal += len(o.Result.Findings)
		for _, f := range o.Result.Findings {
			warningsByRule[f.RuleName]++
		}
	}

	stats := model.RepositoryStats{
		NumberOfCommits:                successful,
		NumberOfCommitsSkippedOrFailed: skippedOrFailed,
		TotalCommitsInRepo:             totalCommitsInRepo,
		AvgOfNumJavaFiles:               ratio(javaFileTotal, successful),
		AvgOfNumWarnings:                ratio(warningTotal, successful),
	}

	return model.Summary{
		Location:         location,
		StatOfRepository: stats,
		StatOfWarnings:   warningsByRule,
	}
}

// ratio divides in double precision, yielding 0.0 for an empty denominator
// instead of an error or NaN, per spec §4.F.
func ratio(total, count int) float64 {
	if count == 0 {
		return 0.0
	}
	return float64(total) / float64(count)
}

// Write computes and atomically persists summary.json under outputDir.
func Write(outputDir string, outcomes []model.JobOutcome, totalCommitsInRepo int) error {
	abs, err := filepath.Abs(outputDir)
	if err != nil {
		return errors.Wrap(err, "resolving output dir")
	}
	summary := Build(abs, outcomes, totalCommitsInRepo)

	data, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding summary")
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return errors.Wrap(err, "creating output dir")
	}
	final := filepath.Join(outputDir, "summary.json")
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing summary")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "renaming summary into place")
	}
	return nil
}
