package aggregate

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pmdminer/pmdminer/internal/model"
)

func TestBuildComputesAveragesOverSuccessfulCommitsOnly(t *testing.T) {
	outcomes := []model.JobOutcome{
		{
			Outcome: model.OutcomeSuccess,
			Result: &model.CommitResult{
				CommitHash:    "c1",
				JavaFileCount: 4,
				Findings: []model.Finding{
					{RuleName: "UnusedPrivateField"},
					{RuleName: "UnusedPrivateField"},
					{RuleName: "EmptyCatchBlock"},
				},
			},
		},
		{
			Outcome: model.OutcomeSuccess,
			Result: &model.CommitResult{
				CommitHash:    "c2",
				JavaFileCount: 6,
				Findings:      []model.Finding{{RuleName: "UnusedPrivateField"}},
			},
		},
		{Outcome: model.OutcomeSkipped, Reason: "checkout failure"},
		{Outcome: model.OutcomeFailed, Reason: "analyzer internal error"},
	}

	summary := Build("/out", outcomes, 10)

	assert.Equal(t, "/out", summary.Location)
	assert.Equal(t, 2, summary.StatOfRepository.NumberOfCommits)
	assert.Equal(t, 2, summary.StatOfRepository.NumberOfCommitsSkippedOrFailed)
	assert.Equal(t, 10, summary.StatOfRepository.TotalCommitsInRepo)
	assert.InDelta(t, 5.0, summary.StatOfRepository.AvgOfNumJavaFiles, 0.0001)
	assert.InDelta(t, 2.0, summary.StatOfRepository.AvgOfNumWarnings, 0.0001)
	assert.Equal(t, 3, summary.StatOfWarnings["UnusedPrivateField"])
	assert.Equal(t, 1, summary.StatOfWarnings["EmptyCatchBlock"])
}

func TestBuildWithNoSuccessfulCommitsYieldsZeroAverages(t *testing.T) {
	outcomes := []model.JobOutcome{
		{Outcome: model.OutcomeSkipped},
		{Outcome: model.OutcomeFailed},
	}
	summary := Build("/out", outcomes, 2)
	assert.Equal(t, 0.0, summary.StatOfRepository.AvgOfNumJavaFiles)
	assert.Equal(t, 0.0, summary.StatOfRepository.AvgOfNumWarnings)
	assert.Empty(t, summary.StatOfWarnings)
}

func TestWritePersistsSummaryAtomically(t *testing.T) {
	dir := t.TempDir()
	outcomes := []model.JobOutcome{
		{
			Outcome: model.OutcomeSuccess,
			Result: &model.CommitResult{
				CommitHash:    "c1",
				JavaFileCount: 2,
				Findings:      []model.Finding{{RuleName: "RuleA"}},
			},
		},
	}
	require.NoError(t, Write(dir, outcomes, 1))

	path := filepath.Join(dir, "summary.json")
	require.FileExists(t, path)
	require.NoFileExists(t, path+".tmp")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var summary model.Summary
	require.NoError(t, json.Unmarshal(data, &summary))
	assert.Equal(t, 1, summary.StatOfRepository.NumberOfCommits)
}
