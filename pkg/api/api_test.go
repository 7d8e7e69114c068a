package api

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// fixtureRepo writes a one-version directory repository with a single
// standalone package installing app.txt.
func fixtureRepo(t *testing.T) (repoDir string, content []byte) {
	t.Helper()
	repoDir = t.TempDir()
	content = []byte("application payload\n")
	sum := sha1.Sum(content)

	pkg := manifest.Package{To: "1.0.0", Size: manifest.ByteCount(len(content))}
	op := manifest.Operation{
		Kind:      manifest.OpAdd,
		Path:      "app.txt",
		DataSize:  manifest.ByteCount(len(content)),
		DataSha1:  hex.EncodeToString(sum[:]),
		FinalSize: manifest.ByteCount(len(content)),
		FinalSha1: hex.EncodeToString(sum[:]),
	}

	writeJSON(t, repoDir, "current", manifest.CurrentFile{
		Schema: manifest.SchemaVersion, Current: manifest.Version{Revision: "1.0.0", Description: "first"},
	})
	writeJSON(t, repoDir, "versions", manifest.VersionsFile{
		Schema: manifest.SchemaVersion, Versions: []manifest.Version{{Revision: "1.0.0", Description: "first"}},
	})
	writeJSON(t, repoDir, "packages", manifest.PackagesFile{
		Schema: manifest.SchemaVersion, Packages: []manifest.Package{pkg},
	})
	writeJSON(t, repoDir, pkg.MetadataName(), manifest.PackageMetadataFile{
		Schema: manifest.SchemaVersion, Package: pkg, Operations: []manifest.Operation{op},
	})
	if err := os.WriteFile(filepath.Join(repoDir, pkg.DataName()), content, 0o644); err != nil {
		t.Fatal(err)
	}
	return repoDir, content
}

func writeJSON(t *testing.T, dir, name string, v any) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestGetLocalState(t *testing.T) {
	dir := t.TempDir()
	if _, status := GetLocalState(dir); status != StatusIoError {
		t.Fatalf("missing state: status = %v", status)
	}

	if err := workspace.Open(dir).Commit("2.1.0"); err != nil {
		t.Fatal(err)
	}
	st, status := GetLocalState(dir)
	if status != StatusOK {
		t.Fatalf("status = %v", status)
	}
	if st.Version != "2.1.0" || st.UpdateInProgress {
		t.Fatalf("state = %+v", st)
	}
}

func TestGetVersionInfo(t *testing.T) {
	repo, _ := fixtureRepo(t)

	rv, status := GetVersionInfo(repo, "", "", "")
	if status != StatusOK || rv.Version != "1.0.0" {
		t.Fatalf("latest: %+v status %v", rv, status)
	}

	if _, status := GetVersionInfo(repo, "", "", "9.9.9"); status != StatusNotFoundError {
		t.Fatalf("unknown version: status = %v", status)
	}
	if _, status := GetVersionInfo(repo, "alice", "", ""); status != StatusInvalidArgumentError {
		t.Fatalf("unpaired credentials: status = %v", status)
	}
}

func TestUpdateWorkspaceRev1(t *testing.T) {
	repo, content := fixtureRepo(t)
	dir := t.TempDir()

	var calls int
	status := UpdateWorkspace(dir, repo, "", "", "", func(errMsg string, p GlobalProgression) bool {
		calls++
		return false
	})
	if status != StatusOK {
		t.Fatalf("status = %v", status)
	}
	if calls == 0 {
		t.Fatal("callback never invoked")
	}
	got, err := os.ReadFile(filepath.Join(dir, "app.txt"))
	if err != nil || string(got) != string(content) {
		t.Fatalf("app.txt = %q, %v", got, err)
	}
}

func TestUpdateWorkspaceRev1Abort(t *testing.T) {
	repo, _ := fixtureRepo(t)
	dir := t.TempDir()

	status := UpdateWorkspace(dir, repo, "", "", "", func(errMsg string, p GlobalProgression) bool {
		return true
	})
	if status != StatusCancelled {
		t.Fatalf("status = %v", status)
	}
}

func TestUpdateWorkspaceRev2(t *testing.T) {
	repo, _ := fixtureRepo(t)
	dir := t.TempDir()

	res := UpdateWorkspace2(dir, repo, "", "", "", nil)
	if !res.OK() {
		t.Fatalf("result = %q", res.Message())
	}
	res.Free()

	// Failure shape: unknown goal version carries a message.
	res = UpdateWorkspace2(t.TempDir(), repo, "", "", "9.9.9", nil)
	if res.OK() || res.Message() == "" {
		t.Fatalf("expected failure message, got %q", res.Message())
	}
	res.Free()
	res.Free() // double free is a no-op

	if n := LiveResults(); n != 0 {
		t.Fatalf("leaked results: %d", n)
	}
}

func TestCopyWorkspaceBothRevisions(t *testing.T) {
	repo, content := fixtureRepo(t)
	src := t.TempDir()
	if status := UpdateWorkspace(src, repo, "", "", "", nil); status != StatusOK {
		t.Fatalf("seed update: %v", status)
	}

	dest1 := filepath.Join(t.TempDir(), "copy1")
	var sawFiles uint64
	if status := CopyWorkspace(src, dest1, func(errMsg string, p CopyProgression) bool {
		sawFiles = p.FilesEnd
		return false
	}); status != StatusOK {
		t.Fatalf("rev1 copy: %v", status)
	}
	if sawFiles == 0 {
		t.Fatal("copy callback saw no files")
	}

	dest2 := filepath.Join(t.TempDir(), "copy2")
	res := CopyWorkspace2(src, dest2, nil)
	if !res.OK() {
		t.Fatalf("rev2 copy: %q", res.Message())
	}
	res.Free()

	for _, dest := range []string{dest1, dest2} {
		got, err := os.ReadFile(filepath.Join(dest, "app.txt"))
		if err != nil || string(got) != string(content) {
			t.Fatalf("%s/app.txt = %q, %v", dest, got, err)
		}
		st, status := GetLocalState(dest)
		if status != StatusOK || st.Version != "1.0.0" {
			t.Fatalf("%s state = %+v (%v)", dest, st, status)
		}
	}
}

func TestStatusStrings(t *testing.T) {
	if StatusOK.String() != "ok" || StatusAlreadyUpdatingError.String() != "already updating" {
		t.Fatal("status strings drifted")
	}
	if StatusUnknownError.String() != "unknown error" {
		t.Fatal("unknown status string drifted")
	}
}
