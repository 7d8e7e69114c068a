package catalog

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/breeze-rmm/updatekit/internal/httputil"
	"github.com/breeze-rmm/updatekit/internal/manifest"
)

// HTTPRepository reads a repository published as static files behind an
// HTTP(S) server, optionally protected by basic auth.
type HTTPRepository struct {
	client  *http.Client
	baseURL string
	creds   Credentials
	retry   httputil.RetryConfig
}

// NewHTTPRepository creates an HTTP repository client.
func NewHTTPRepository(baseURL string, creds Credentials) *HTTPRepository {
	return &HTTPRepository{
		client:  &http.Client{Timeout: 5 * time.Minute},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		creds:   creds,
		retry:   httputil.DefaultRetryConfig(),
	}
}

func (r *HTTPRepository) get(ctx context.Context, sub string, opts httputil.GetOptions) (*http.Response, error) {
	opts.Username = r.creds.Username
	opts.Password = r.creds.Password

	resp, err := httputil.Get(ctx, r.client, r.baseURL+"/"+sub, opts, r.retry)
	if err != nil {
		return nil, fmt.Errorf("%w: fetch %s: %v", ErrNetwork, sub, err)
	}
	switch resp.StatusCode {
	case http.StatusOK, http.StatusPartialContent:
		return resp, nil
	case http.StatusUnauthorized, http.StatusForbidden:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: fetch %s: status %d", ErrAuth, sub, resp.StatusCode)
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, sub)
	default:
		resp.Body.Close()
		return nil, fmt.Errorf("%w: fetch %s: unexpected status %d", ErrProtocol, sub, resp.StatusCode)
	}
}

func (r *HTTPRepository) getJSON(ctx context.Context, sub string, out any) error {
	resp, err := r.get(ctx, sub, httputil.GetOptions{})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProtocol, sub, err)
	}
	return nil
}

func (r *HTTPRepository) CurrentVersion(ctx context.Context) (manifest.Version, error) {
	var file manifest.CurrentFile
	if err := r.getJSON(ctx, "current", &file); err != nil {
		return manifest.Version{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.Version{}, fmt.Errorf("%w: current: %v", ErrProtocol, err)
	}
	return file.Current, nil
}

func (r *HTTPRepository) Versions(ctx context.Context) ([]manifest.Version, error) {
	var file manifest.VersionsFile
	if err := r.getJSON(ctx, "versions", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: versions: %v", ErrProtocol, err)
	}
	return file.Versions, nil
}

func (r *HTTPRepository) Packages(ctx context.Context) ([]manifest.Package, error) {
	var file manifest.PackagesFile
	if err := r.getJSON(ctx, "packages", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: packages: %v", ErrProtocol, err)
	}
	return file.Packages, nil
}

func (r *HTTPRepository) PackageMetadata(ctx context.Context, name string) (manifest.PackageMetadataFile, error) {
	var file manifest.PackageMetadataFile
	if err := r.getJSON(ctx, name, &file); err != nil {
		return manifest.PackageMetadataFile{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.PackageMetadataFile{}, fmt.Errorf("%w: %s: %v", ErrProtocol, name, err)
	}
	return file, nil
}

func (r *HTTPRepository) FetchPackage(ctx context.Context, name string, start, end uint64) (io.ReadCloser, error) {
	resp, err := r.get(ctx, name, httputil.GetOptions{RangeStart: start, RangeEnd: end})
	if err != nil {
		return nil, err
	}
	if end > start && resp.StatusCode != http.StatusPartialContent {
		// The server ignored the range; take the requested slice anyway.
		if _, err := io.CopyN(io.Discard, resp.Body, int64(start)); err != nil {
			resp.Body.Close()
			return nil, fmt.Errorf("%w: fetch %s: %v", ErrNetwork, name, err)
		}
		return limitedReadCloser(resp.Body, int64(end-start)), nil
	}
	return resp.Body, nil
}

type limitedBody struct {
	io.Reader
	closer io.Closer
}

func (b *limitedBody) Close() error { return b.closer.Close() }

func limitedReadCloser(rc io.ReadCloser, n int64) io.ReadCloser {
	return &limitedBody{Reader: io.LimitReader(rc, n), closer: rc}
}
