package engine

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/updatekit/internal/codec"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// applier transforms the workspace with a downloaded package's operations.
// Content lands through a staging-then-rename discipline: a half-written
// file is never visible under its final name.
type applier struct {
	ws  *workspace.Workspace
	agg *progress.Aggregator

	// onFail records a content path that failed to apply, for the repair
	// pass that runs after the package chain settles.
	onFail func(path string)
	// tick runs between operations; the engine hangs periodic state
	// persistence on it.
	tick func()
}

// applyPackage runs the package's operations in order. A failed operation
// is counted as a failed file and the rest of the package still runs; a
// failed content path is recorded so the repair pass can restore it from
// the goal's standalone package. Only cancellation stops the package.
func (a *applier) applyPackage(job *packageJob) error {
	var failed int
	for i, op := range job.meta.Operations {
		err := a.applyOp(job, i, op)
		if err != nil {
			if errors.Is(err, progress.ErrCancelled) {
				return err
			}
			failed++
			if !a.agg.Failed(fmt.Errorf("apply %s: %w", op.Path, err)) {
				return progress.ErrCancelled
			}
			if op.HasPayload() && a.onFail != nil {
				a.onFail(op.Path)
			}
		}
		if a.tick != nil {
			a.tick()
		}
	}
	if failed > 0 {
		log.Warn("package applied with failures", "package", job.pkg.DataName(), "failedOps", failed)
	}
	return nil
}

func (a *applier) applyOp(job *packageJob, index int, op manifest.Operation) error {
	target, err := a.workspacePath(op.Path)
	if err != nil {
		return err
	}

	switch op.Kind {
	case manifest.OpMkdir:
		return os.MkdirAll(target, 0o755)
	case manifest.OpRmdir:
		err := os.Remove(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case manifest.OpRm:
		err := os.Remove(target)
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	case manifest.OpCheck:
		return checkContent(target, op)
	case manifest.OpAdd, manifest.OpPatch:
		return a.applyPayload(job, index, op, target)
	default:
		return fmt.Errorf("unknown operation kind %q", op.Kind)
	}
}

// applyPayload reconstructs one file from its downloaded payload slice.
func (a *applier) applyPayload(job *packageJob, index int, op manifest.Operation, target string) error {
	payloadPath := a.ws.DownloadPath(job.pkg.DataName(), index)
	payload, err := os.Open(payloadPath)
	if err != nil {
		return err
	}
	defer payload.Close()

	delta, err := codec.Decompress(op.DataCompression, payload)
	if err != nil {
		return err
	}
	defer delta.Close()

	staging := a.ws.StagingPath(index)
	out, err := os.Create(staging)
	if err != nil {
		return err
	}

	var written int64
	if op.Kind == manifest.OpPatch {
		written, err = a.patchInto(op, target, delta, out)
	} else {
		written, err = io.Copy(out, delta)
	}
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(staging)
		return err
	}

	if uint64(written) != uint64(op.FinalSize) {
		os.Remove(staging)
		return fmt.Errorf("final size mismatch: got %d, want %d", written, op.FinalSize)
	}
	if op.FinalSha1 != "" {
		sum, err := fileSha1(staging)
		if err != nil {
			os.Remove(staging)
			return err
		}
		if sum != op.FinalSha1 {
			os.Remove(staging)
			return fmt.Errorf("final digest mismatch: got %s, want %s", sum, op.FinalSha1)
		}
	}

	mode := os.FileMode(0o644)
	if op.Exe {
		mode = 0o755
	}
	if err := os.Chmod(staging, mode); err != nil {
		os.Remove(staging)
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		os.Remove(staging)
		return err
	}
	if err := os.Rename(staging, target); err != nil {
		os.Remove(staging)
		return err
	}

	// Payload slice is spent; reclaim the space.
	os.Remove(payloadPath)

	if !a.agg.Applied(1, uint64(op.DataSize), uint64(op.FinalSize)) {
		return progress.ErrCancelled
	}
	return nil
}

// patchInto verifies the base file against the patch's declared source
// content, then combines base and delta into out.
func (a *applier) patchInto(op manifest.Operation, target string, delta io.Reader, out io.Writer) (int64, error) {
	if err := checkContent(target, op); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBaseMismatch, err)
	}

	patcher, err := codec.NewPatcher(op.PatchType)
	if err != nil {
		return 0, err
	}
	base, err := os.Open(target)
	if err != nil {
		return 0, err
	}
	defer base.Close()

	counted := &countingWriter{w: out}
	if err := patcher.Patch(base, delta, counted); err != nil {
		return counted.n, err
	}
	return counted.n, nil
}

// checkContent verifies a workspace file against the expected local size
// and digest.
func checkContent(target string, op manifest.Operation) error {
	info, err := os.Stat(target)
	if err != nil {
		return err
	}
	if uint64(info.Size()) != uint64(op.LocalSize) {
		return fmt.Errorf("size is %d, want %d", info.Size(), op.LocalSize)
	}
	if op.LocalSha1 == "" {
		return nil
	}
	sum, err := fileSha1(target)
	if err != nil {
		return err
	}
	if sum != op.LocalSha1 {
		return fmt.Errorf("digest is %s, want %s", sum, op.LocalSha1)
	}
	return nil
}

// workspacePath resolves a relative operation path inside the workspace,
// rejecting escapes.
func (a *applier) workspacePath(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("empty operation path")
	}
	root := filepath.Clean(a.ws.Dir())
	target := filepath.Join(root, filepath.FromSlash(rel))
	if target != root && !strings.HasPrefix(target, root+string(filepath.Separator)) {
		return "", fmt.Errorf("operation path %q escapes the workspace", rel)
	}
	return target, nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
