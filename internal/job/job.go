// Package job implements the Commit Job: the pure-ish per-commit unit of
// work run once per commit within a worker — checkout, file discovery,
// cache lookup, Analyzer dispatch, merge, and atomic persistence.
package job

import (
	"context"
	"encoding/json"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/analyzer"
	"github.com/pmdminer/pmdminer/internal/cache"
	"github.com/pmdminer/pmdminer/internal/logging"
	"github.com/pmdminer/pmdminer/internal/model"
	"github.com/pmdminer/pmdminer/internal/repo"
)

// Config carries the parameters a Commit Job needs that do not change
// across commits within a batch.
type Config struct {
	RulesetPath  string
	RulesetID    string // identifies the ruleset for cache keys; defaults to RulesetPath
	AuxClasspath string
	OutputDir    string
}

// Runner executes Commit Jobs against a shared cache and Analyzer client.
type Runner struct {
	mgr    *repo.Manager
	cache  *cache.Cache
	client *analyzer.Client
	cfg    Config
	l      logging.Logger
}

// NewRunner builds a job Runner.
func NewRunner(mgr *repo.Manager, c *cache.Cache, client *analyzer.Client, cfg Config, l logging.Logger) *Runner {
	if cfg.RulesetID == "" {
		cfg.RulesetID = cfg.RulesetPath
	}
	return &Runner{mgr: mgr, cache: c, client: client, cfg: cfg, l: l}
}

// Run executes the full per-commit sequence described in spec §4.D and
// returns the lightweight outcome the scheduler forwards to the
// Aggregator. Run never returns an error for recoverable per-commit
// failures (checkout/discovery/Analyzer) — those are encoded in the
// returned JobOutcome; it only returns an error for the fatal
// write-then-rename failure (a disk problem).
func (r *Runner) Run(ctx context.Context, commit model.Commit, worktree string) (model.JobOutcome, error) {
	start := time.Now()

	// 1. Checkout.
	if err := r.mgr.Checkout(ctx, worktree, commit.Hash); err != nil {
		return model.JobOutcome{
			Commit:  commit,
			Outcome: model.OutcomeSkipped,
			Reason:  err.Error(),
		}, nil
	}

	// 2. Discover files.
	files, err := discoverJavaFiles(worktree)
	if err != nil {
		return model.JobOutcome{
			Commit:  commit,
			Outcome: model.OutcomeSkipped,
			Reason:  errors.Wrap(err, "file discovery failed").Error(),
		}, nil
	}

	// 3. Hash and classify.
	cached := map[string][]model.Finding{}
	var toAnalyze []string
	keyByPath := map[string]model.CacheKey{}
	for _, f := range files {
		content, err := os.ReadFile(filepath.Join(worktree, f))
		if err != nil {
			return model.JobOutcome{
				Commit:  commit,
				Outcome: model.OutcomeSkipped,
				Reason:  errors.Wrapf(err, "reading %s", f).Error(),
			}, nil
		}
		key := model.CacheKey{ContentHash: cache.HashBytes(content), RulesetID: r.cfg.RulesetID}
		keyByPath[f] = key
		if findings, ok := r.cache.Get(key); ok {
			cached[f] = findings
		} else {
			toAnalyze = append(toAnalyze, f)
		}
	}

	// 4. Dispatch (skip entirely when nothing is a cache miss).
	fresh := map[string][]model.Finding{}
	if len(toAnalyze) > 0 {
		result, err := r.client.Analyze(ctx, worktree, r.cfg.RulesetPath, r.cfg.AuxClasspath, toAnalyze)
		if err != nil {
			return model.JobOutcome{
				Commit:  commit,
				Outcome: model.OutcomeFailed,
				Reason:  err.Error(),
			}, nil
		}
		fresh = result
	}

	// 5. Merge.
	var all []model.Finding
	for _, f := range files {
		if findings, ok := cached[f]; ok {
			all = append(all, attributeTo(findings, f)...)
			continue
		}
		all = append(all, attributeTo(fresh[f], f)...)
	}
	sortFindings(all)

	// 6. Store in cache — every analyzed file, even with zero findings.
	for _, f := range toAnalyze {
		r.cache.Put(keyByPath[f], fresh[f])
	}

	result := model.CommitResult{
		CommitHash:     commit.Hash,
		JavaFileCount:  len(files),
		Findings:       all,
		DurationMillis: time.Since(start).Milliseconds(),
	}

	// 7. Persist CommitResult atomically. A failure here is fatal.
	if err := r.persist(result); err != nil {
		return model.JobOutcome{}, err
	}

	return model.JobOutcome{
		Commit:  commit,
		Outcome: model.OutcomeSuccess,
		Result:  &result,
	}, nil
}

// discoverJavaFiles walks the worktree for regular files ending in .java,
// skipping anything under a directory named .git, and returns
// slash-separated paths relative to the worktree root.
func discoverJavaFiles(worktree string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(worktree, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if !strings.HasSuffix(path, ".java") {
			return nil
		}
		rel, err := filepath.Rel(worktree, path)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}

func attributeTo(findings []model.Finding, path string) []model.Finding {
	out := make([]model.Finding, len(findings))
	for i, f := range findings {
		f.File = path
		out[i] = f
	}
	return out
}

// sortFindings orders findings by file path, then begin line, then rule
// name, per spec §4.D's determinism requirement.
func sortFindings(findings []model.Finding) {
	sort.Slice(findings, func(i, j int) bool {
		a, b := findings[i], findings[j]
		if a.File != b.File {
			return a.File < b.File
		}
		if a.BeginLine != b.BeginLine {
			return a.BeginLine < b.BeginLine
		}
		return a.RuleName < b.RuleName
	})
}

// persist writes the CommitResult as <output>/pmd_results/<hash>.json using
// write-then-rename so the Aggregator never observes a partial document.
func (r *Runner) persist(result model.CommitResult) error {
	dir := filepath.Join(r.cfg.OutputDir, "pmd_results")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "creating pmd_results directory")
	}
	final := filepath.Join(dir, result.CommitHash+".json")
	tmp := final + ".tmp"

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding commit result")
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return errors.Wrap(err, "writing commit result")
	}
	if err := os.Rename(tmp, final); err != nil {
		return errors.Wrap(err, "renaming commit result into place")
	}
	return nil
}
