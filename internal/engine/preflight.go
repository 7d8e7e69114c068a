package engine

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/breeze-rmm/updatekit/internal/manifest"
)

// checkFreeSpace verifies the workspace volume can hold the plan's output
// plus its downloaded payloads. A probe failure is logged and waved
// through rather than blocking the update.
func checkFreeSpace(ctx context.Context, dir string, metas []*manifest.PackageMetadataFile) error {
	var need uint64
	for _, meta := range metas {
		for _, op := range meta.Operations {
			if op.HasPayload() {
				need += uint64(op.DataSize) + uint64(op.FinalSize)
			}
		}
	}
	if need == 0 {
		return nil
	}

	usage, err := disk.UsageWithContext(ctx, dir)
	if err != nil {
		log.Warn("disk usage probe failed", "dir", dir, "error", err)
		return nil
	}
	if usage.Free < need {
		return fmt.Errorf("%w: need %d bytes, %d free on %s", ErrInsufficientSpace, need, usage.Free, dir)
	}
	log.Debug("disk preflight ok", "needBytes", need, "freeBytes", usage.Free)
	return nil
}
