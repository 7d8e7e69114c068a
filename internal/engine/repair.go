package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// repairFiles restores damaged workspace paths from the goal version's
// standalone package: each path's payload is re-fetched and applied in its
// full form, replacing whatever a failed delta left behind. It returns the
// paths that could not be restored.
func repairFiles(ctx context.Context, repo catalog.Repository, ws *workspace.Workspace,
	agg *progress.Aggregator, version string, paths []string, retries int) ([]string, error) {

	full := manifest.Package{To: version}
	meta, err := repo.PackageMetadata(ctx, full.MetadataName())
	if err != nil {
		log.Warn("no standalone package available for repair", "version", version, "error", err)
		return paths, nil
	}
	job := &packageJob{pkg: full, meta: &meta}

	byPath := make(map[string]int, len(meta.Operations))
	for i, op := range meta.Operations {
		if op.HasPayload() {
			byPath[op.Path] = i
		}
	}

	dl := &downloader{repo: repo, ws: ws, agg: agg, retries: retries}
	ap := &applier{ws: ws, agg: agg}

	var remaining []string
	for n, path := range paths {
		if ctx.Err() != nil || agg.Cancelled() {
			return append(remaining, paths[n:]...), progress.ErrCancelled
		}
		i, ok := byPath[path]
		if !ok {
			log.Warn("damaged path absent from standalone package", "path", path)
			remaining = append(remaining, path)
			continue
		}

		// The standalone form of a content path carries the full goal
		// content, so applying it does not depend on the damaged local
		// file.
		op := meta.Operations[i]
		if err := dl.downloadOp(ctx, full, i, op); err != nil {
			if isCancel(err) {
				return append(remaining, paths[n:]...), progress.ErrCancelled
			}
			remaining = append(remaining, path)
			continue
		}
		if err := ap.applyOp(job, i, op); err != nil {
			if errors.Is(err, progress.ErrCancelled) {
				return append(remaining, paths[n:]...), progress.ErrCancelled
			}
			if !agg.Failed(fmt.Errorf("repair %s: %w", path, err)) {
				return append(remaining, paths[n:]...), progress.ErrCancelled
			}
			remaining = append(remaining, path)
			continue
		}
		log.Info("repaired file", "path", path)
	}
	return remaining, nil
}
