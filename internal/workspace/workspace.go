// Package workspace manages the local installation directory: its recorded
// version, the durable update-in-progress marker, the staging directories
// used during an update, and workspace cloning.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/breeze-rmm/updatekit/internal/logging"
)

var log = logging.L("workspace")

var (
	// ErrCorruptState: the state file exists but cannot be decoded.
	ErrCorruptState = errors.New("corrupt workspace state")
	// ErrAlreadyUpdating: an update owns the workspace's in-progress marker.
	ErrAlreadyUpdating = errors.New("workspace update already in progress")
)

// stateSchema is the only state file revision this engine writes.
const stateSchema = "1"

// updateDirName holds all engine-private files inside a workspace.
const updateDirName = ".update"

// LocalState is the caller-visible snapshot of a workspace.
type LocalState struct {
	Version          string
	UpdateInProgress bool
}

// UpdateRecord is the full persisted state, including the resume positions
// an interrupted update leaves behind.
type UpdateRecord struct {
	Version          string   `json:"revision"`
	UpdateInProgress bool     `json:"updateInProgress"`
	From             string   `json:"from,omitempty"`
	To               string   `json:"to,omitempty"`
	AppliedPackages  uint64   `json:"appliedPackages,omitempty"`
	Failures         []string `json:"failures,omitempty"`
}

type stateFile struct {
	Schema string       `json:"version"`
	State  UpdateRecord `json:"state"`
}

// Workspace is one versioned installation directory.
type Workspace struct {
	dir string
}

// Open binds a workspace to a directory. The directory itself is not
// required to exist yet; reads will fail until it does.
func Open(dir string) *Workspace {
	return &Workspace{dir: dir}
}

// Dir returns the workspace root.
func (w *Workspace) Dir() string { return w.dir }

// Engine-private paths.

func (w *Workspace) UpdateDir() string   { return filepath.Join(w.dir, updateDirName) }
func (w *Workspace) StatePath() string   { return filepath.Join(w.UpdateDir(), "state.json") }
func (w *Workspace) DownloadDir() string { return filepath.Join(w.UpdateDir(), "dl") }
func (w *Workspace) StagingDir() string  { return filepath.Join(w.UpdateDir(), "tmp") }

// DownloadPath returns the landing file for operation index within the
// package currently being downloaded.
func (w *Workspace) DownloadPath(pkg string, index int) string {
	return filepath.Join(w.DownloadDir(), fmt.Sprintf("%s.op%d.data", pkg, index))
}

// StagingPath returns the temp file an apply writes before renaming over
// the target.
func (w *Workspace) StagingPath(index int) string {
	return filepath.Join(w.StagingDir(), fmt.Sprintf("op%d.tmp", index))
}

// CreateUpdateDirs creates the download and staging directories.
func (w *Workspace) CreateUpdateDirs() error {
	if err := os.MkdirAll(w.DownloadDir(), 0o755); err != nil {
		return err
	}
	return os.MkdirAll(w.StagingDir(), 0o755)
}

// CleanStagingDir removes leftover staging files from a previous run.
func (w *Workspace) CleanStagingDir() error {
	if err := os.RemoveAll(w.StagingDir()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// CleanDownloadDir removes downloaded package payloads.
func (w *Workspace) CleanDownloadDir() error {
	if err := os.RemoveAll(w.DownloadDir()); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ReadState reads the recorded state. A missing or unreadable state file
// is an I/O error; a present but malformed one is ErrCorruptState. Reads
// are best-effort snapshots and take no lock against a running update.
func (w *Workspace) ReadState() (LocalState, error) {
	rec, err := w.readRecord()
	if err != nil {
		return LocalState{}, err
	}
	return LocalState{Version: rec.Version, UpdateInProgress: rec.UpdateInProgress}, nil
}

// ReadRecord returns the full persisted record, resume positions included.
func (w *Workspace) ReadRecord() (UpdateRecord, error) {
	return w.readRecord()
}

// RecordOrNew is ReadRecord for writers: a workspace without recorded
// state is a new workspace, not an error.
func (w *Workspace) RecordOrNew() (UpdateRecord, error) {
	rec, err := w.readRecord()
	if errors.Is(err, os.ErrNotExist) {
		return UpdateRecord{}, nil
	}
	return rec, err
}

func (w *Workspace) readRecord() (UpdateRecord, error) {
	f, err := os.Open(w.StatePath())
	if err != nil {
		return UpdateRecord{}, fmt.Errorf("read workspace state: %w", err)
	}
	defer f.Close()

	var file stateFile
	if err := json.NewDecoder(f).Decode(&file); err != nil {
		return UpdateRecord{}, fmt.Errorf("%w: %v", ErrCorruptState, err)
	}
	if file.Schema != stateSchema {
		return UpdateRecord{}, fmt.Errorf("%w: unsupported state schema %q", ErrCorruptState, file.Schema)
	}
	return file.State, nil
}

// Begin durably sets the in-progress marker before any destructive write.
// If a marker is already present, Begin fails with ErrAlreadyUpdating
// unless resume is set and the marker belongs to the same goal version, in
// which case the interrupted record is returned for resumption.
func (w *Workspace) Begin(from, to string, resume bool) (UpdateRecord, error) {
	rec, err := w.RecordOrNew()
	if err != nil {
		return UpdateRecord{}, err
	}
	if rec.UpdateInProgress {
		if !resume || rec.To != to {
			return UpdateRecord{}, fmt.Errorf("%w: %s -> %s", ErrAlreadyUpdating, rec.From, rec.To)
		}
		log.Info("resuming interrupted update", "from", rec.From, "to", rec.To, "appliedPackages", rec.AppliedPackages)
		return rec, nil
	}

	rec = UpdateRecord{
		Version:          rec.Version,
		UpdateInProgress: true,
		From:             from,
		To:               to,
	}
	if err := w.writeRecord(rec); err != nil {
		return UpdateRecord{}, err
	}
	return rec, nil
}

// Persist writes the current mid-run record (resume positions, failures).
func (w *Workspace) Persist(rec UpdateRecord) error {
	return w.writeRecord(rec)
}

// Commit atomically records the new stable version and clears the
// in-progress marker. Call only after every delta has applied.
func (w *Workspace) Commit(version string) error {
	log.Info("committing workspace version", "version", version)
	return w.writeRecord(UpdateRecord{Version: version})
}

// writeRecord writes the state file with an atomic replace: the new
// content lands under a temp name and is renamed over the old file, so a
// crash never leaves a half-written state.
func (w *Workspace) writeRecord(rec UpdateRecord) error {
	if err := os.MkdirAll(w.UpdateDir(), 0o755); err != nil {
		return fmt.Errorf("create update dir: %w", err)
	}

	data, err := json.MarshalIndent(stateFile{Schema: stateSchema, State: rec}, "", "  ")
	if err != nil {
		return err
	}

	tmp := w.StatePath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write workspace state: %w", err)
	}
	if err := os.Rename(tmp, w.StatePath()); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("replace workspace state: %w", err)
	}
	return nil
}
