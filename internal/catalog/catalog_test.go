package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const repoFixture = `{
	"current": {"version":"1","current":{"revision":"1.2.0","description":"stable"}},
	"versions": {"version":"1","versions":[
		{"revision":"1.0.0","description":"first"},
		{"revision":"1.1.0","description":"second"},
		{"revision":"1.2.0","description":"stable"}
	]},
	"packages": {"version":"1","packages":[
		{"from":"1.0.0","to":"1.1.0","size":"1000"},
		{"from":"1.1.0","to":"1.2.0","size":"500"}
	]}
}`

func fileModTime() time.Time {
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
}

func fixtureServer(t *testing.T) *httptest.Server {
	t.Helper()
	var objects map[string]json.RawMessage
	if err := json.Unmarshal([]byte(repoFixture), &objects); err != nil {
		t.Fatal(err)
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, "/")
		obj, ok := objects[name]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Write(obj)
	}))
}

func TestResolveVersionLatest(t *testing.T) {
	srv := fixtureServer(t)
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	got, err := ResolveVersion(context.Background(), repo, "")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.2.0" || got.Description != "stable" {
		t.Fatalf("unexpected latest: %+v", got)
	}
}

func TestResolveVersionExplicit(t *testing.T) {
	srv := fixtureServer(t)
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	got, err := ResolveVersion(context.Background(), repo, "1.1.0")
	if err != nil {
		t.Fatal(err)
	}
	if got.Version != "1.1.0" || got.Description != "second" {
		t.Fatalf("unexpected version: %+v", got)
	}
}

func TestResolveVersionUnknown(t *testing.T) {
	srv := fixtureServer(t)
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	_, err := ResolveVersion(context.Background(), repo, "9.9.9")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestHTTPRepositoryAuthRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "deploy" || pass != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"version":"1","current":{"revision":"1.0.0","description":""}}`))
	}))
	defer srv.Close()

	anon := NewHTTPRepository(srv.URL, Credentials{})
	if _, err := anon.CurrentVersion(context.Background()); !errors.Is(err, ErrAuth) {
		t.Fatalf("expected ErrAuth, got %v", err)
	}

	authed := NewHTTPRepository(srv.URL, Credentials{Username: "deploy", Password: "s3cret"})
	if _, err := authed.CurrentVersion(context.Background()); err != nil {
		t.Fatalf("authenticated fetch should succeed: %v", err)
	}
}

func TestHTTPRepositoryMalformedManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"937","current":`))
	}))
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	if _, err := repo.CurrentVersion(context.Background()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol, got %v", err)
	}
}

func TestHTTPRepositoryUnsupportedSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"version":"2","current":{"revision":"1.0.0","description":""}}`))
	}))
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	if _, err := repo.CurrentVersion(context.Background()); !errors.Is(err, ErrProtocol) {
		t.Fatalf("expected ErrProtocol for schema 2, got %v", err)
	}
}

func TestHTTPFetchPackageRange(t *testing.T) {
	payload := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.ServeContent(w, r, "pkg", fileModTime(), strings.NewReader(string(payload)))
	}))
	defer srv.Close()

	repo := NewHTTPRepository(srv.URL, Credentials{})
	body, err := repo.FetchPackage(context.Background(), "patch1.0.0_1.1.0", 4, 10)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()

	got, err := io.ReadAll(body)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "456789" {
		t.Fatalf("unexpected slice: %q", got)
	}
}

func TestCredentialsBothOrNeither(t *testing.T) {
	_, err := Open(context.Background(), "http://repo.example", Credentials{Username: "deploy"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("username without password must fail, got %v", err)
	}
	_, err = Open(context.Background(), "http://repo.example", Credentials{Password: "x"})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("password without username must fail, got %v", err)
	}
}

func TestOpenSchemes(t *testing.T) {
	ctx := context.Background()
	if _, err := Open(ctx, "", Credentials{}); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("empty URL must fail, got %v", err)
	}
	repo, err := Open(ctx, "http://repo.example/updates", Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.(*HTTPRepository); !ok {
		t.Fatalf("expected HTTP backend, got %T", repo)
	}
	repo, err = Open(ctx, t.TempDir(), Credentials{})
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.(*DirRepository); !ok {
		t.Fatalf("expected directory backend, got %T", repo)
	}
}

func TestDirRepository(t *testing.T) {
	dir := t.TempDir()
	writeObj := func(name, content string) {
		t.Helper()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	writeObj("current", `{"version":"1","current":{"revision":"2.0.0","description":"local"}}`)
	writeObj("complete_2.0.0", "payload-bytes")

	repo := NewDirRepository(dir)
	current, err := repo.CurrentVersion(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if current.Revision != "2.0.0" {
		t.Fatalf("unexpected current: %+v", current)
	}

	body, err := repo.FetchPackage(context.Background(), "complete_2.0.0", 8, 13)
	if err != nil {
		t.Fatal(err)
	}
	defer body.Close()
	got, _ := io.ReadAll(body)
	if string(got) != "bytes" {
		t.Fatalf("unexpected slice: %q", got)
	}

	if _, err := repo.Packages(context.Background()); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing manifest should be ErrNotFound, got %v", err)
	}
	if _, err := repo.FetchPackage(context.Background(), "../escape", 0, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("traversal must be rejected, got %v", err)
	}
}
