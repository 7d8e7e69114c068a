package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// Verify checks the workspace's content against the repository's record of
// its version without downloading payloads. Every content operation of the
// version's standalone package is turned into its check form and run
// against the local tree; mismatches are counted as failed files and
// surfaced through the sink. The final progression's FailedFiles tells
// whether damage was found.
//
// With Options.Repair set, damaged content is rewritten from the
// standalone package; an unrepairable file turns into ErrPartialDownload.
func Verify(ctx context.Context, dir string, opts Options) (Result, error) {
	opts = opts.withDefaults()
	if dir == "" {
		return Result{}, fmt.Errorf("%w: workspace path is required", catalog.ErrInvalidArgument)
	}

	ws := workspace.Open(dir)
	version := opts.GoalVersion
	if version == "" {
		state, err := ws.ReadState()
		if err != nil {
			return Result{}, err
		}
		version = state.Version
	}
	if version == "" {
		return Result{}, fmt.Errorf("%w: workspace has no recorded version", catalog.ErrInvalidArgument)
	}

	repo, err := catalog.Open(ctx, opts.RepositoryURL, opts.Credentials)
	if err != nil {
		return Result{}, err
	}
	full := manifest.Package{To: version}
	meta, err := repo.PackageMetadata(ctx, full.MetadataName())
	if err != nil {
		return Result{}, err
	}

	agg := progress.NewAggregator(opts.Sink, progress.GlobalProgression{})
	ap := &applier{ws: ws, agg: agg}

	log.Info("verifying workspace", "workspace", dir, "version", version)
	var damaged []string
	for _, op := range meta.Operations {
		if ctx.Err() != nil {
			return Result{Version: version, Progression: agg.Snapshot()}, progress.ErrCancelled
		}
		check, ok := op.AsCheck()
		if !ok {
			continue
		}
		target, err := ap.workspacePath(check.Path)
		if err != nil {
			return Result{Version: version, Progression: agg.Snapshot()}, err
		}

		var checkErr error
		switch check.Kind {
		case manifest.OpCheck:
			checkErr = checkContent(target, check)
		case manifest.OpMkdir:
			info, err := os.Stat(target)
			if err != nil {
				checkErr = err
			} else if !info.IsDir() {
				checkErr = fmt.Errorf("%s is not a directory", check.Path)
			}
			if checkErr != nil && opts.Repair {
				// A missing directory needs no payload to restore.
				checkErr = os.MkdirAll(target, 0o755)
			}
		}
		if checkErr != nil {
			if !agg.Failed(fmt.Errorf("verify %s: %w", check.Path, checkErr)) {
				return Result{Version: version, Progression: agg.Snapshot()}, progress.ErrCancelled
			}
			if check.Kind == manifest.OpCheck {
				damaged = append(damaged, check.Path)
			}
			continue
		}
		if check.Kind != manifest.OpCheck {
			continue
		}
		if !agg.Applied(1, 0, uint64(check.LocalSize)) {
			return Result{Version: version, Progression: agg.Snapshot()}, progress.ErrCancelled
		}
	}

	if opts.Repair && len(damaged) > 0 {
		log.Info("repairing damaged files", "count", len(damaged))
		if err := ws.CreateUpdateDirs(); err != nil {
			return Result{Version: version, Progression: agg.Snapshot()}, err
		}
		remaining, rerr := repairFiles(ctx, repo, ws, agg, version, damaged, opts.FileRetries)
		ws.CleanDownloadDir()
		ws.CleanStagingDir()
		if rerr != nil {
			return Result{Version: version, Progression: agg.Snapshot()}, rerr
		}
		if len(remaining) > 0 {
			return Result{Version: version, Progression: agg.Snapshot()},
				fmt.Errorf("%w: %d files could not be repaired: %v", ErrPartialDownload, len(remaining), remaining)
		}
	}

	final := agg.Snapshot()
	log.Info("verify complete", "version", version,
		"checkedFiles", final.AppliedFiles.Done(), "failedFiles", final.FailedFiles)
	return Result{Version: version, Progression: final}, nil
}
