package engine

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// downloader lands package payloads in the workspace's download directory.
// Each operation's payload slice is fetched to its own file, verified
// against its declared digest, and counted only once fully on disk.
type downloader struct {
	repo    catalog.Repository
	ws      *workspace.Workspace
	agg     *progress.Aggregator
	retries int
}

// downloadPackage fetches every payload slice of one package. Per-file
// failures are retried up to the bounded retry count and counted through
// the aggregator; the package fails only when a slice never lands.
func (d *downloader) downloadPackage(ctx context.Context, job *packageJob) error {
	var lastErr error
	for i, op := range job.meta.Operations {
		start, end, ok := op.DataRange()
		if !ok {
			continue
		}
		path := d.ws.DownloadPath(job.pkg.DataName(), i)
		if downloaded(path, op) {
			// Left behind by an interrupted run; still counts as work
			// done in this run's window.
			if !d.agg.Downloaded(1, end-start) {
				return progress.ErrCancelled
			}
			continue
		}

		err := d.downloadOp(ctx, job.pkg, i, op)
		if err != nil {
			if ctx.Err() != nil {
				return progress.ErrCancelled
			}
			lastErr = err
			continue
		}
		if !d.agg.Downloaded(1, end-start) {
			return progress.ErrCancelled
		}
	}
	if lastErr != nil {
		return fmt.Errorf("package %s: %w", job.pkg.DataName(), lastErr)
	}
	return nil
}

// downloadOp fetches one payload slice with bounded retries. Every failed
// attempt is a failed file.
func (d *downloader) downloadOp(ctx context.Context, pkg manifest.Package, index int, op manifest.Operation) error {
	start, end, _ := op.DataRange()
	path := d.ws.DownloadPath(pkg.DataName(), index)

	var lastErr error
	for attempt := 0; attempt <= d.retries; attempt++ {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = d.fetchSlice(ctx, pkg.DataName(), path, start, end, op.DataSha1)
		if lastErr == nil {
			return nil
		}
		log.Warn("payload download failed",
			"package", pkg.DataName(), "path", op.Path, "attempt", attempt+1, "error", lastErr)
		if !d.agg.Failed(fmt.Errorf("download %s: %w", op.Path, lastErr)) {
			return progress.ErrCancelled
		}
	}
	return lastErr
}

// fetchSlice streams bytes [start, end) of a repository object to path and
// verifies the digest. The file lands under a temp name first so a partial
// download is never mistaken for a complete one.
func (d *downloader) fetchSlice(ctx context.Context, object, path string, start, end uint64, wantSha1 string) error {
	body, err := d.repo.FetchPackage(ctx, object, start, end)
	if err != nil {
		return err
	}
	defer body.Close()

	tmp := path + ".part"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	h := sha1.New()
	n, err := io.Copy(io.MultiWriter(f, h), body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tmp)
		return err
	}
	if uint64(n) != end-start {
		os.Remove(tmp)
		return fmt.Errorf("short payload: got %d bytes, want %d", n, end-start)
	}
	if got := hex.EncodeToString(h.Sum(nil)); wantSha1 != "" && got != wantSha1 {
		os.Remove(tmp)
		return fmt.Errorf("payload digest mismatch: got %s, want %s", got, wantSha1)
	}
	return os.Rename(tmp, path)
}

// downloaded reports whether a payload slice already landed intact.
func downloaded(path string, op manifest.Operation) bool {
	info, err := os.Stat(path)
	if err != nil || uint64(info.Size()) != uint64(op.DataSize) {
		return false
	}
	if op.DataSha1 == "" {
		return true
	}
	sum, err := fileSha1(path)
	return err == nil && sum == op.DataSha1
}

// fileSha1 returns the hex SHA-1 of a file's content.
func fileSha1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha1.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
