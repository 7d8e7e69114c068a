package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/logging"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workerpool"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

var log = logging.L("engine")

const (
	defaultDownloadWorkers = 2
	defaultFileRetries     = 3

	// persistInterval bounds how much failure bookkeeping a crash inside
	// a large package can lose.
	persistInterval = time.Second
)

// Options configures one update operation.
type Options struct {
	// RepositoryURL locates the remote repository (http(s), s3, file, or a
	// bare path).
	RepositoryURL string
	// Credentials is an optional basic-auth pair, both fields or neither.
	Credentials catalog.Credentials
	// GoalVersion is the version to update to; empty means latest.
	GoalVersion string
	// Resume picks up an interrupted update toward the same goal instead of
	// failing on the in-progress marker.
	Resume bool
	// DownloadWorkers caps concurrent package downloads.
	DownloadWorkers int
	// FileRetries bounds per-file download retry attempts.
	FileRetries int
	// SkipSpaceCheck disables the free-disk preflight.
	SkipSpaceCheck bool
	// Repair makes Verify rewrite damaged files from the version's
	// standalone package instead of only flagging them.
	Repair bool
	// Sink receives progression snapshots; returning false cancels.
	Sink progress.Sink
}

func (o Options) withDefaults() Options {
	if o.DownloadWorkers < 1 {
		o.DownloadWorkers = defaultDownloadWorkers
	}
	if o.FileRetries < 0 {
		o.FileRetries = 0
	} else if o.FileRetries == 0 {
		o.FileRetries = defaultFileRetries
	}
	return o
}

// Result is the definitive outcome of an update operation.
type Result struct {
	// Version is the workspace's version after the operation.
	Version string
	// Progression is the final counter snapshot.
	Progression progress.GlobalProgression
}

// packageJob is one planned package with its resolved operation list.
type packageJob struct {
	pkg  manifest.Package
	meta *manifest.PackageMetadataFile
}

// Update brings the workspace at dir to the goal version. It plans the
// cheapest package chain from the recorded version, downloads package
// payloads concurrently, applies them in chain order, and commits the new
// version once every package has applied. Downloads and applies are
// pipelined: the first package is applied while later ones download.
//
// A file that fails to apply, a drifted patch base included, does not stop
// the run: it is counted, recorded, and restored afterward from the goal
// version's standalone package. Only files that survive that repair pass
// fail the update.
//
// The in-progress marker is set durably before the first destructive write
// and cleared only by a successful commit, so an interrupted run is
// detectable and resumable with Options.Resume.
func Update(ctx context.Context, dir string, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if dir == "" {
		return Result{}, fmt.Errorf("%w: workspace path is required", catalog.ErrInvalidArgument)
	}

	repo, err := catalog.Open(ctx, opts.RepositoryURL, opts.Credentials)
	if err != nil {
		return Result{}, err
	}
	goal, err := catalog.ResolveVersion(ctx, repo, opts.GoalVersion)
	if err != nil {
		return Result{}, err
	}

	ws := workspace.Open(dir)
	rec, err := ws.RecordOrNew()
	if err != nil {
		return Result{}, err
	}

	base := rec.Version
	if rec.UpdateInProgress {
		if !opts.Resume || rec.To != goal.Version {
			return Result{}, fmt.Errorf("%w: %s -> %s", workspace.ErrAlreadyUpdating, rec.From, rec.To)
		}
		base = rec.From
	} else if rec.Version == goal.Version {
		log.Info("workspace already at goal version", "version", goal.Version)
		return Result{Version: goal.Version}, nil
	}

	log.Info("updating workspace",
		"workspace", dir, "from", base, "to", goal.Version, "description", goal.Description)

	packages, err := repo.Packages(ctx)
	if err != nil {
		return Result{}, err
	}
	chain, err := manifest.Plan(base, goal.Version, packages)
	if err != nil {
		return Result{}, err
	}

	jobs := make([]*packageJob, 0, len(chain))
	for _, pkg := range chain {
		meta, err := repo.PackageMetadata(ctx, pkg.MetadataName())
		if err != nil {
			return Result{}, err
		}
		jobs = append(jobs, &packageJob{pkg: pkg, meta: &meta})
	}

	// Everything resolution-phase has succeeded; from here on the marker is
	// set and failures leave a resumable workspace.
	rec, err = ws.Begin(base, goal.Version, opts.Resume)
	if err != nil {
		return Result{}, err
	}
	if rec.AppliedPackages > uint64(len(jobs)) {
		return Result{}, fmt.Errorf("%w: resume position %d beyond plan of %d packages",
			workspace.ErrCorruptState, rec.AppliedPackages, len(jobs))
	}

	if err := ws.CreateUpdateDirs(); err != nil {
		return Result{}, err
	}
	pending := jobs[rec.AppliedPackages:]
	if !opts.SkipSpaceCheck {
		metas := make([]*manifest.PackageMetadataFile, len(pending))
		for i, job := range pending {
			metas[i] = job.meta
		}
		if err := checkFreeSpace(ctx, dir, metas); err != nil {
			return Result{}, err
		}
	}

	agg := progress.NewAggregator(opts.Sink, resumeBaseline(jobs[:rec.AppliedPackages]))
	start := time.Now()

	failedPkgs, err := runPipeline(ctx, ws, repo, agg, &rec, pending, opts)
	if err != nil {
		return Result{Version: rec.Version, Progression: agg.Snapshot()}, err
	}
	if len(failedPkgs) > 0 {
		return Result{Version: rec.Version, Progression: agg.Snapshot()},
			fmt.Errorf("%w: %v", ErrPartialDownload, failedPkgs)
	}

	if len(rec.Failures) > 0 {
		log.Info("repairing damaged files", "count", len(rec.Failures))
		remaining, rerr := repairFiles(ctx, repo, ws, agg, goal.Version, rec.Failures, opts.FileRetries)
		rec.Failures = remaining
		if rerr != nil {
			return Result{Version: rec.Version, Progression: agg.Snapshot()}, cancelOutcome(ws, rec)
		}
		if len(remaining) > 0 {
			if perr := ws.Persist(rec); perr != nil {
				log.Warn("persisting state after failed repair", "error", perr)
			}
			return Result{Version: rec.Version, Progression: agg.Snapshot()},
				fmt.Errorf("%w: %d files could not be repaired: %v", ErrPartialDownload, len(remaining), remaining)
		}
	}
	final := agg.Snapshot()

	ws.CleanDownloadDir()
	ws.CleanStagingDir()
	if err := ws.Commit(goal.Version); err != nil {
		return Result{Version: rec.Version, Progression: final}, err
	}

	log.Info("workspace updated",
		"workspace", dir, "version", goal.Version,
		"packages", final.Packages.Done(),
		"appliedFiles", final.AppliedFiles.Done(),
		"failedFiles", final.FailedFiles,
		"durationMs", time.Since(start).Milliseconds())
	return Result{Version: goal.Version, Progression: final}, nil
}

// runPipeline downloads pending packages through a bounded worker pool and
// applies them in chain order as they land. It returns the names of
// packages that never became appliable.
func runPipeline(ctx context.Context, ws *workspace.Workspace, repo catalog.Repository,
	agg *progress.Aggregator, rec *workspace.UpdateRecord, pending []*packageJob, opts Options) ([]string, error) {

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	dl := &downloader{repo: repo, ws: ws, agg: agg, retries: opts.FileRetries}
	persist := &statePersister{ws: ws, rec: rec, interval: persistInterval, last: time.Now()}
	ap := &applier{
		ws:  ws,
		agg: agg,
		onFail: func(path string) {
			rec.Failures = appendFailure(rec.Failures, path)
		},
		tick: persist.tick,
	}

	pool := workerpool.New(opts.DownloadWorkers, opts.DownloadWorkers)
	defer func() {
		pool.StopAccepting()
		cancelRun()
		pool.Drain(context.Background())
	}()

	done := make([]chan error, len(pending))
	for i := range done {
		done[i] = make(chan error, 1)
	}
	go func() {
		for i, job := range pending {
			i, job := i, job
			err := pool.Submit(runCtx, func() {
				done[i] <- dl.downloadPackage(runCtx, job)
			})
			if err != nil {
				done[i] <- err
			}
		}
	}()

	var failed []string
	for i, job := range pending {
		var dlErr error
		select {
		case dlErr = <-done[i]:
		case <-ctx.Done():
			return nil, cancelOutcome(ws, *rec)
		}

		if agg.Cancelled() || isCancel(dlErr) {
			return nil, cancelOutcome(ws, *rec)
		}
		if dlErr != nil {
			log.Warn("package download failed", "package", job.pkg.DataName(), "error", dlErr)
			failed = append(failed, job.pkg.DataName())
			continue
		}
		if len(failed) > 0 {
			// The chain is broken upstream; applying this package would
			// patch against a base that never materialized.
			continue
		}

		if err := ap.applyPackage(job); err != nil {
			// applyPackage only aborts for cancellation; per-file
			// failures are recorded for the repair pass instead.
			if agg.Cancelled() || isCancel(err) {
				return nil, cancelOutcome(ws, *rec)
			}
			return nil, err
		}

		// Package boundary: persist resume position, then honor any
		// pending cancellation cleanly.
		rec.AppliedPackages++
		if err := ws.Persist(*rec); err != nil {
			return nil, err
		}
		agg.PackageDone()
		if agg.Cancelled() {
			return nil, cancelOutcome(ws, *rec)
		}
	}
	return failed, nil
}

// cancelOutcome finalizes a cooperative stop: the resume position is
// persisted, the marker stays set, and the caller gets the distinct
// cancellation outcome.
func cancelOutcome(ws *workspace.Workspace, rec workspace.UpdateRecord) error {
	if err := ws.Persist(rec); err != nil {
		log.Warn("persisting state after cancellation failed", "error", err)
	}
	log.Info("update cancelled", "appliedPackages", rec.AppliedPackages)
	return progress.ErrCancelled
}

func isCancel(err error) bool {
	return errors.Is(err, progress.ErrCancelled) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// statePersister throttles mid-package state writes: between package
// boundaries the record changes only through failure bookkeeping, and a
// crash should lose at most an interval of it.
type statePersister struct {
	ws       *workspace.Workspace
	rec      *workspace.UpdateRecord
	interval time.Duration
	last     time.Time
}

func (s *statePersister) tick() {
	if time.Since(s.last) < s.interval {
		return
	}
	s.last = time.Now()
	if err := s.ws.Persist(*s.rec); err != nil {
		log.Warn("periodic state persist failed", "error", err)
	}
}

// appendFailure records a damaged path once.
func appendFailure(paths []string, path string) []string {
	for _, p := range paths {
		if p == path {
			return paths
		}
	}
	return append(paths, path)
}

// resumeBaseline derives the Start counters of a resumed run from the
// packages a previous run already applied.
func resumeBaseline(applied []*packageJob) progress.GlobalProgression {
	var p progress.GlobalProgression
	p.Packages.Start = uint64(len(applied))
	for _, job := range applied {
		for _, op := range job.meta.Operations {
			if !op.HasPayload() {
				continue
			}
			p.DownloadedFiles.Start++
			p.DownloadedBytes.Start += uint64(op.DataSize)
			p.AppliedFiles.Start++
			p.AppliedInputBytes.Start += uint64(op.DataSize)
			p.AppliedOutputBytes.Start += uint64(op.FinalSize)
		}
	}
	return p
}
