package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/breeze-rmm/updatekit/internal/manifest"
)

// DirRepository reads a repository laid out as plain files in a local
// directory, typically a LAN mirror or a test fixture.
type DirRepository struct {
	dir string
}

// NewDirRepository creates a directory-backed repository.
func NewDirRepository(dir string) *DirRepository {
	return &DirRepository{dir: filepath.Clean(dir)}
}

// containedPath ensures the resolved object path stays within the
// repository root, rejecting traversal through object names.
func (r *DirRepository) containedPath(name string) (string, error) {
	absBase, err := filepath.Abs(r.dir)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(absBase, filepath.FromSlash(name))
	if !strings.HasPrefix(joined, absBase+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: object name %q escapes repository", ErrInvalidArgument, name)
	}
	return joined, nil
}

func (r *DirRepository) readJSON(name string, out any) error {
	path, err := r.containedPath(name)
	if err != nil {
		return err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("%w: open %s: %v", ErrNetwork, name, err)
	}
	defer f.Close()

	if err := json.NewDecoder(f).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProtocol, name, err)
	}
	return nil
}

func (r *DirRepository) CurrentVersion(ctx context.Context) (manifest.Version, error) {
	var file manifest.CurrentFile
	if err := r.readJSON("current", &file); err != nil {
		return manifest.Version{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.Version{}, fmt.Errorf("%w: current: %v", ErrProtocol, err)
	}
	return file.Current, nil
}

func (r *DirRepository) Versions(ctx context.Context) ([]manifest.Version, error) {
	var file manifest.VersionsFile
	if err := r.readJSON("versions", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: versions: %v", ErrProtocol, err)
	}
	return file.Versions, nil
}

func (r *DirRepository) Packages(ctx context.Context) ([]manifest.Package, error) {
	var file manifest.PackagesFile
	if err := r.readJSON("packages", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: packages: %v", ErrProtocol, err)
	}
	return file.Packages, nil
}

func (r *DirRepository) PackageMetadata(ctx context.Context, name string) (manifest.PackageMetadataFile, error) {
	var file manifest.PackageMetadataFile
	if err := r.readJSON(name, &file); err != nil {
		return manifest.PackageMetadataFile{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.PackageMetadataFile{}, fmt.Errorf("%w: %s: %v", ErrProtocol, name, err)
	}
	return file, nil
}

func (r *DirRepository) FetchPackage(ctx context.Context, name string, start, end uint64) (io.ReadCloser, error) {
	path, err := r.containedPath(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("%w: open %s: %v", ErrNetwork, name, err)
	}
	if start > 0 {
		if _, err := f.Seek(int64(start), io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("%w: seek %s: %v", ErrNetwork, name, err)
		}
	}
	if end > start {
		return limitedReadCloser(f, int64(end-start)), nil
	}
	return f, nil
}
