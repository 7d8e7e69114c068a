package workspace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/updatekit/internal/progress"
)

// Clone copies this workspace's files into destDir, preserving the
// directory tree and file modes, then records the source's version in the
// destination's state. Engine-private files under .update are not copied;
// the clone starts with a clean marker.
//
// Individual files that cannot be read or written are counted as failures
// and reported through sink without aborting the clone. Returning false
// from sink stops the copy with progress.ErrCancelled.
func (w *Workspace) Clone(ctx context.Context, destDir string, sink progress.CopySink) error {
	srcState, err := w.ReadState()
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("create clone destination: %w", err)
	}
	absSrc, err := filepath.Abs(w.dir)
	if err != nil {
		return err
	}
	absDest, err := filepath.Abs(destDir)
	if err != nil {
		return err
	}
	if absDest == absSrc {
		return errors.New("clone destination is the source workspace")
	}

	var p progress.CopyProgression
	report := func(cause error) bool {
		if sink == nil {
			return true
		}
		return sink.Progress(cause, p)
	}

	log.Info("cloning workspace", "dest", destDir)

	walkErr := filepath.WalkDir(absSrc, func(path string, d os.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel, relErr := filepath.Rel(absSrc, path)
		if relErr != nil {
			return relErr
		}
		if rel == updateDirName {
			return filepath.SkipDir
		}
		if err != nil {
			p.FailedFiles++
			if !report(err) {
				return progress.ErrCancelled
			}
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if rel == "." {
			return nil
		}

		target := filepath.Join(absDest, rel)
		if d.IsDir() {
			if mkErr := os.MkdirAll(target, 0o755); mkErr != nil {
				return fmt.Errorf("create clone dir: %w", mkErr)
			}
			return nil
		}
		if !d.Type().IsRegular() {
			// Symlinks and other specials are not part of a managed
			// workspace; skip them rather than guess.
			return nil
		}

		n, copyErr := copyFile(path, target)
		p.Bytes.End += n
		if copyErr != nil {
			p.FailedFiles++
			log.Warn("clone file failed", "file", rel, "error", copyErr)
		} else {
			p.Files.End++
		}
		if !report(copyErr) {
			return progress.ErrCancelled
		}
		return nil
	})
	if walkErr != nil {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return progress.ErrCancelled
		}
		return walkErr
	}

	dest := Open(destDir)
	if err := dest.Commit(srcState.Version); err != nil {
		return err
	}

	log.Info("clone complete", "files", p.Files.End, "bytes", p.Bytes.End, "failedFiles", p.FailedFiles)
	report(nil)
	return nil
}

// copyFile copies src to dst preserving the source's mode bits, reporting
// how many bytes were written even on failure.
func copyFile(src, dst string) (uint64, error) {
	in, err := os.Open(src)
	if err != nil {
		return 0, err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return 0, err
	}

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, in)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(dst)
	}
	return uint64(n), err
}
