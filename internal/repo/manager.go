// Package repo materializes commits from a Git repository as isolated
// worktrees, one per worker, and enumerates the commit history to drive the
// batch. Commit discovery goes through go-git/v5, matching the teacher's
// Pipeline.Commits() idiom; worktree lifecycle shells out to the real git
// binary because go-git/v5 does not expose native multi-worktree support.
package repo

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/logging"
	"github.com/pmdminer/pmdminer/internal/model"
)

// ErrRepository wraps clone/enumeration failures (spec's RepositoryError).
var ErrRepository = errors.New("repository error")

// ErrCheckout wraps a single commit's checkout failure (spec's
// CheckoutFailure). It is never fatal to the batch.
var ErrCheckout = errors.New("checkout failure")

const (
	checkoutMaxRetries = 3
	checkoutJitterBase = 200 * time.Millisecond
)

// Manager owns the base clone and the pool of worktrees leased to workers.
type Manager struct {
	location string
	workRoot string
	basePath string

	repository *git.Repository
	l          logging.Logger

	worktrees []string
}

// NewManager constructs a Manager for the given repository location
// (remote URL or local path) rooted at workRoot.
func NewManager(location, workRoot string, l logging.Logger) *Manager {
	return &Manager{
		location: location,
		workRoot: workRoot,
		basePath: filepath.Join(workRoot, "repo_base"),
		l:        l,
	}
}

// BasePath returns the base clone's filesystem path.
func (m *Manager) BasePath() string { return m.basePath }

// Initialize clones (or opens, for a local path) the base repository and
// enumerates all commits reachable from the default branch's tip, oldest
// first.
func (m *Manager) Initialize(ctx context.Context) ([]model.Commit, error) {
	isRemote := strings.Contains(m.location, "://") || strings.HasPrefix(m.location, "git@")

	if isRemote {
		if err := m.cloneOrFetch(ctx); err != nil {
			return nil, errors.Wrap(ErrRepository, err.Error())
		}
	} else {
		abs, err := filepath.Abs(m.location)
		if err != nil {
			return nil, errors.Wrap(ErrRepository, err.Error())
		}
		m.basePath = abs
	}

	repository, err := git.PlainOpen(m.basePath)
	if err != nil {
		return nil, errors.Wrapf(ErrRepository, "failed to open %s: %v", m.basePath, err)
	}
	m.repository = repository

	commits, err := m.listCommits()
	if err != nil {
		return nil, errors.Wrapf(ErrRepository, "failed to enumerate commits: %v", err)
	}
	m.l.Infof("repository ready at %s with %d commits", m.basePath, len(commits))
	return commits, nil
}

func (m *Manager) cloneOrFetch(ctx context.Context) error {
	if info, err := os.Stat(filepath.Join(m.basePath, ".git")); err == nil && info.IsDir() {
		m.l.Infof("base repository exists at %s, fetching updates", m.basePath)
		return m.runGit(ctx, m.basePath, "fetch", "--all", "--prune")
	}
	if err := os.MkdirAll(filepath.Dir(m.basePath), 0o755); err != nil {
		return err
	}
	m.l.Infof("cloning %s into %s", m.location, m.basePath)
	return m.runGit(ctx, "", "clone", m.location, m.basePath)
}

// listCommits walks the history of HEAD, oldest first, matching
// Pipeline.Commits(firstParent=false) in the teacher.
func (m *Manager) listCommits() ([]model.Commit, error) {
	head, err := m.repository.Head()
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			// Unborn HEAD: the repository exists but has no commits yet.
			// Per spec §8 this is a successful, empty enumeration, not a
			// RepositoryError.
			return nil, nil
		}
		return nil, errors.Wrap(err, "unable to find HEAD")
	}
	iter, err := m.repository.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, errors.Wrap(err, "unable to collect the commit history")
	}
	defer iter.Close()

	var commits []model.Commit
	err = iter.ForEach(func(c *object.Commit) error {
		parent := ""
		if c.NumParents() > 0 {
			parent = c.ParentHashes[0].String()
		}
		commits = append(commits, model.Commit{
			Hash:       c.Hash.String(),
			Parent:     parent,
			AuthorDate: c.Author.When,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	// go-git's Log walks newest-first; reverse to oldest-first per contract.
	for i, j := 0, len(commits)-1; i < j; i, j = i+1, j-1 {
		commits[i], commits[j] = commits[j], commits[i]
	}
	return commits, nil
}

// AcquireWorktree creates a fresh worktree beneath
// work_root/worktrees/<worker_id>/, attached to the base clone. It tolerates
// stale state left over from a prior aborted run by pruning administrative
// entries and removing any residual directory before allocating.
func (m *Manager) AcquireWorktree(ctx context.Context, workerID int) (string, error) {
	wtPath := filepath.Join(m.workRoot, "worktrees", fmt.Sprintf("%d", workerID))

	if err := m.runGit(ctx, m.basePath, "worktree", "prune"); err != nil {
		m.l.Warnf("worktree prune failed, continuing: %v", err)
	}
	if _, err := os.Stat(wtPath); err == nil {
		m.l.Warnf("stale worktree directory %s found, removing", wtPath)
		_ = m.runGit(ctx, m.basePath, "worktree", "remove", "--force", wtPath)
		if err := os.RemoveAll(wtPath); err != nil {
			return "", errors.Wrapf(ErrRepository, "could not clean stale worktree %s: %v", wtPath, err)
		}
	}

	head, err := m.repository.Head()
	if err != nil {
		return "", errors.Wrap(ErrRepository, err.Error())
	}
	if err := m.runGit(ctx, m.basePath, "worktree", "add", "--detach", wtPath, head.Hash().String()); err != nil {
		return "", errors.Wrapf(ErrRepository, "failed to create worktree %s: %v", wtPath, err)
	}
	m.worktrees = append(m.worktrees, wtPath)
	return wtPath, nil
}

// Checkout mutates the worktree to point at the given commit with a
// detached HEAD, discarding any untracked residue from the previous
// commit. It retries on lock-contention errors from git's own object
// database locking.
func (m *Manager) Checkout(ctx context.Context, worktree, commitHash string) error {
	var lastErr error
	for attempt := 0; attempt <= checkoutMaxRetries; attempt++ {
		if attempt > 0 {
			jitter := time.Duration(rand.Int63n(int64(checkoutJitterBase)))
			time.Sleep(checkoutJitterBase + jitter)
		}
		if err := m.checkoutOnce(ctx, worktree, commitHash); err != nil {
			lastErr = err
			if !isLockContention(err) {
				break
			}
			m.l.Warnf("checkout of %s in %s hit lock contention, retrying", commitHash, worktree)
			continue
		}
		return nil
	}
	// Clean partial state before surfacing the failure.
	_ = m.runGit(ctx, worktree, "clean", "-fdx")
	return errors.Wrapf(ErrCheckout, "%s: %v", commitHash, lastErr)
}

func (m *Manager) checkoutOnce(ctx context.Context, worktree, commitHash string) error {
	if err := m.runGit(ctx, worktree, "checkout", "--detach", "--force", commitHash); err != nil {
		return err
	}
	return m.runGit(ctx, worktree, "clean", "-fdx")
}

func isLockContention(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "index.lock") || strings.Contains(msg, "unable to create") && strings.Contains(msg, "lock")
}

// ReleaseAll removes every worktree leased during the batch and prunes
// their administrative entries from the base clone. Safe to call more than
// once and from a deferred cleanup path.
func (m *Manager) ReleaseAll(ctx context.Context) {
	sort.Strings(m.worktrees)
	for _, wt := range m.worktrees {
		if err := m.runGit(ctx, m.basePath, "worktree", "remove", "--force", wt); err != nil {
			m.l.Warnf("failed to remove worktree %s: %v", wt, err)
		}
		if err := os.RemoveAll(wt); err != nil {
			m.l.Warnf("failed to remove worktree directory %s: %v", wt, err)
		}
	}
	if err := m.runGit(ctx, m.basePath, "worktree", "prune"); err != nil {
		m.l.Warnf("worktree prune failed during release: %v", err)
	}
	m.worktrees = nil
}

func (m *Manager) runGit(ctx context.Context, dir string, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	if dir != "" {
		cmd.Dir = dir
	}
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %v: %s", strings.Join(args, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}
