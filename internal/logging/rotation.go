package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

const (
	defaultRotateMB   = 50
	defaultLogBackups = 3
)

// RotatingWriter appends to a log file and rotates it once it grows past
// the size limit, keeping a fixed number of numbered backups. Safe for
// concurrent use.
type RotatingWriter struct {
	mu    sync.Mutex
	out   *os.File
	path  string
	limit int64
	keep  int
	size  int64
}

// NewRotatingWriter opens path for appending, creating its directory if
// needed. Non-positive maxSizeMB or maxBackups select the defaults.
func NewRotatingWriter(path string, maxSizeMB, maxBackups int) (*RotatingWriter, error) {
	if maxSizeMB <= 0 {
		maxSizeMB = defaultRotateMB
	}
	if maxBackups <= 0 {
		maxBackups = defaultLogBackups
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	w := &RotatingWriter{
		path:  path,
		limit: int64(maxSizeMB) << 20,
		keep:  maxBackups,
	}
	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *RotatingWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size+int64(len(p)) > w.limit {
		if err := w.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := w.out.Write(p)
	w.size += int64(n)
	return n, err
}

// Close closes the current log file.
func (w *RotatingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.out == nil {
		return nil
	}
	return w.out.Close()
}

func (w *RotatingWriter) open() error {
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	w.out = f
	w.size = info.Size()
	return nil
}

// rotate shifts backups up one slot, dropping the oldest, and starts a
// fresh file under the live name.
func (w *RotatingWriter) rotate() error {
	if w.out != nil {
		w.out.Close()
	}

	os.Remove(w.backup(w.keep))
	for i := w.keep - 1; i >= 1; i-- {
		os.Rename(w.backup(i), w.backup(i+1))
	}
	os.Rename(w.path, w.backup(1))

	return w.open()
}

func (w *RotatingWriter) backup(n int) string {
	return fmt.Sprintf("%s.%d", w.path, n)
}
