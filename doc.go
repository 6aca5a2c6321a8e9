/*
Package pmdminer mines a Java source repository's commit history and produces
a structured record of static-analysis findings emitted by an external
Analyzer service, at every commit.

The top level building blocks, wired together by cmd/pmdminer, are:

	repo       - materializes commits as isolated worktrees (internal/repo)
	cache      - content-addressed cache of per-file findings (internal/cache)
	analyzer   - JSON-over-HTTP client to the Analyzer service (internal/analyzer)
	job        - the per-commit unit of work (internal/job)
	scheduler  - fans commits out across a pool of workers (internal/scheduler)
	aggregate  - folds per-commit results into summary.json (internal/aggregate)

A run proceeds roughly as follows:

	mgr := repo.NewManager(location, workRoot, logger)
	commits, _ := mgr.Initialize(ctx)
	c := cache.New()
	client := analyzer.NewClient(endpoint, logger)
	client.WaitReady(ctx, readinessDeadline)
	sched := scheduler.New(mgr, c, client, jobConfig, workers, logger)
	outcomes, _ := sched.Run(ctx, commits)
	aggregate.Write(outputDir, outcomes, len(commits))

Each component is safe to use independently; cmd/pmdminer only adds flag
parsing, configuration and process lifecycle around them.
*/
package pmdminer
