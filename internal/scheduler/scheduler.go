// Package scheduler fans commits out across a bounded pool of workers,
// each holding an exclusive worktree for the life of the batch, and
// collects the per-commit outcomes the Aggregator needs.
package scheduler

import (
	"context"
	"runtime"
	"sync"

	"github.com/Jeffail/tunny"
	"github.com/pkg/errors"

	"github.com/pmdminer/pmdminer/internal/analyzer"
	"github.com/pmdminer/pmdminer/internal/cache"
	"github.com/pmdminer/pmdminer/internal/job"
	"github.com/pmdminer/pmdminer/internal/logging"
	"github.com/pmdminer/pmdminer/internal/model"
	"github.com/pmdminer/pmdminer/internal/repo"
)

// ErrCancelled is returned by Run when ctx has been cancelled by the time
// the batch stops, whether or not every commit was dispatched. The caller
// must not write a summary document in this case (spec's cancellation
// contract).
var ErrCancelled = errors.New("batch cancelled")

// Scheduler owns the worker pool for a single batch run.
type Scheduler struct {
	mgr     *repo.Manager
	cache   *cache.Cache
	client  *analyzer.Client
	jobCfg  job.Config
	workers int
	l       logging.Logger

	// OnProgress, if set, is called after every commit completes with the
	// running count of completed commits. It must return quickly; rate
	// limiting to the screen is the caller's job (see internal/progress).
	OnProgress func(completed int)
}

// New builds a Scheduler. A workers value <= 0 defaults to the number of
// logical CPUs, matching the CLI's --workers default.
func New(mgr *repo.Manager, c *cache.Cache, client *analyzer.Client, jobCfg job.Config, workers int, l logging.Logger) *Scheduler {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Scheduler{mgr: mgr, cache: c, client: client, jobCfg: jobCfg, workers: workers, l: l}
}

// workerState is the per-worker-slot state tunny's pool constructor
// captures: one exclusive worktree and a job Runner bound to it.
type workerState struct {
	worktree string
	runner   *job.Runner
}

type poolWorker struct {
	state *workerState
}

func (w poolWorker) Process(payload interface{}) interface{} {
	req := payload.(processRequest)
	outcome, err := w.state.runner.Run(req.ctx, req.commit, w.state.worktree)
	if err != nil {
		return processResult{err: err}
	}
	return processResult{outcome: outcome}
}

func (w poolWorker) BlockUntilReady() {}
func (w poolWorker) Interrupt()       {}
func (w poolWorker) Terminate()       {}

type processRequest struct {
	ctx    context.Context
	commit model.Commit
}

type processResult struct {
	outcome model.JobOutcome
	err     error
}

// Run dispatches every commit in commits, oldest first, across the
// worker pool and returns every outcome collected, in completion order
// (unspecified relative to dispatch order, per spec §5). Cancellation
// is only observed between commits: a commit already handed to a
// worker always runs to completion. On cancellation Run returns the
// outcomes collected so far alongside ErrCancelled; the Repository
// Manager and Analyzer process are always torn down before Run
// returns, cancelled or not.
func (s *Scheduler) Run(ctx context.Context, commits []model.Commit) ([]model.JobOutcome, error) {
	// An empty repository (spec §8 boundary behavior) enumerates zero
	// commits successfully; there is nothing to lease a worktree for.
	if len(commits) == 0 {
		if err := s.client.Close(); err != nil {
			s.l.Warnf("failed to signal analyzer process: %v", err)
		}
		return nil, nil
	}

	n := s.workers
	if n > len(commits) {
		n = len(commits)
	}
	if n <= 0 {
		n = 1
	}

	states := make([]*workerState, n)
	for i := 0; i < n; i++ {
		wt, err := s.mgr.AcquireWorktree(ctx, i)
		if err != nil {
			s.mgr.ReleaseAll(ctx)
			if cerr := s.client.Close(); cerr != nil {
				s.l.Warnf("failed to signal analyzer process: %v", cerr)
			}
			if ctx.Err() != nil {
				return nil, ErrCancelled
			}
			return nil, err
		}
		states[i] = &workerState{
			worktree: wt,
			runner:   job.NewRunner(s.mgr, s.cache, s.client, s.jobCfg, s.l),
		}
	}

	idx := 0
	pool := tunny.New(n, func() tunny.Worker {
		st := states[idx]
		idx++
		return poolWorker{state: st}
	})
	defer pool.Close()

	// runCtx additionally closes on a fatal disk error (spec §7's
	// "DiskError on persist is fatal: workers drain and exit nonzero"),
	// without requiring the caller's ctx itself to be cancelled. It gates
	// dispatch only — see jobCtx below.
	runCtx, abortRun := context.WithCancel(ctx)
	defer abortRun()

	// Workers check for cancellation only between commits (spec
	// §4.E(b)/§5); a commit already handed to a worker must run to
	// completion so its checkout and Analyzer call are never killed
	// mid-operation. jobCtx is therefore detached from ctx's
	// cancellation (SIGINT, the caller's deadline) and carries only
	// values.
	jobCtx := context.WithoutCancel(ctx)

	var (
		fatalErr  error
		fatalOnce sync.Once
	)
	recordFatal := func(err error) {
		fatalOnce.Do(func() {
			fatalErr = err
			abortRun()
		})
	}

	// Bounded FIFO queue: the producer blocks once it is 4x worker-count
	// deep, capping memory on repositories with very long histories.
	queue := make(chan model.Commit, 4*n)
	go func() {
		defer close(queue)
		for _, c := range commits {
			select {
			case <-runCtx.Done():
				return
			case queue <- c:
			}
		}
	}()

	var (
		resultsMu sync.Mutex
		results   []model.JobOutcome
		completed int
		wg        sync.WaitGroup
	)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				if runCtx.Err() != nil {
					return
				}
				raw := pool.Process(processRequest{ctx: jobCtx, commit: c})
				res := raw.(processResult)
				if res.err != nil {
					s.l.Errorf("fatal disk error processing commit %s: %v", c.Hash, res.err)
					recordFatal(res.err)
					continue
				}
				resultsMu.Lock()
				results = append(results, res.outcome)
				completed++
				done := completed
				resultsMu.Unlock()
				if s.OnProgress != nil {
					s.OnProgress(done)
				}
			}
		}()
	}
	wg.Wait()

	s.mgr.ReleaseAll(ctx)
	if err := s.client.Close(); err != nil {
		s.l.Warnf("failed to signal analyzer process: %v", err)
	}

	if fatalErr != nil {
		return results, errors.Wrap(fatalErr, "fatal disk error, batch aborted")
	}
	if ctx.Err() != nil {
		return results, ErrCancelled
	}
	return results, nil
}
