// Package catalog resolves versions against a remote package repository
// and fetches manifests and package payloads from it. Backends exist for
// HTTP(S), S3 object storage, and plain directories.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/breeze-rmm/updatekit/internal/logging"
	"github.com/breeze-rmm/updatekit/internal/manifest"
)

var log = logging.L("catalog")

// Error kinds for the resolution surface, matchable with errors.Is.
var (
	// ErrNotFound: the requested version or repository object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrAuth: credentials are required or were rejected.
	ErrAuth = errors.New("authentication rejected")
	// ErrNetwork: transient transport failure.
	ErrNetwork = errors.New("network failure")
	// ErrProtocol: the repository answered with a malformed manifest.
	ErrProtocol = errors.New("malformed repository manifest")
	// ErrInvalidArgument: the caller passed an unusable argument.
	ErrInvalidArgument = errors.New("invalid argument")
)

// RemoteVersion is the immutable result of a version query.
type RemoteVersion struct {
	Version     string
	Description string
}

// Credentials is an optional basic-auth pair. Both fields must be set
// together: a username without a password (or vice versa) is a caller bug.
type Credentials struct {
	Username string
	Password string
}

// IsZero reports whether no credentials were supplied.
func (c Credentials) IsZero() bool {
	return c.Username == "" && c.Password == ""
}

func (c Credentials) validate() error {
	if (c.Username == "") != (c.Password == "") {
		return fmt.Errorf("%w: credentials require both username and password", ErrInvalidArgument)
	}
	return nil
}

// Repository is the read surface of a package repository.
type Repository interface {
	// CurrentVersion returns the repository's latest published version.
	CurrentVersion(ctx context.Context) (manifest.Version, error)
	// Versions returns every published version.
	Versions(ctx context.Context) ([]manifest.Version, error)
	// Packages returns the package graph.
	Packages(ctx context.Context) ([]manifest.Package, error)
	// PackageMetadata returns the ordered operation list of one package.
	PackageMetadata(ctx context.Context, name string) (manifest.PackageMetadataFile, error)
	// FetchPackage streams bytes [start, end) of a package payload.
	FetchPackage(ctx context.Context, name string, start, end uint64) (io.ReadCloser, error)
}

// Open returns a repository backend for the given URL. http(s):// URLs get
// the HTTP backend, s3://bucket/prefix the S3 backend, file:// URLs and
// bare paths the directory backend.
func Open(ctx context.Context, rawURL string, creds Credentials) (Repository, error) {
	if err := creds.validate(); err != nil {
		return nil, err
	}
	if rawURL == "" {
		return nil, fmt.Errorf("%w: repository URL is required", ErrInvalidArgument)
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: repository URL %q: %v", ErrInvalidArgument, rawURL, err)
	}
	switch u.Scheme {
	case "http", "https":
		return NewHTTPRepository(rawURL, creds), nil
	case "s3":
		return NewS3Repository(ctx, u.Host, strings.TrimPrefix(u.Path, "/"), creds)
	case "file":
		return NewDirRepository(u.Path), nil
	case "":
		return NewDirRepository(rawURL), nil
	default:
		return nil, fmt.Errorf("%w: unsupported repository scheme %q", ErrInvalidArgument, u.Scheme)
	}
}

// ResolveVersion resolves a version identifier against the repository.
// An empty version means "latest". A non-empty version must exist in the
// repository's version list.
func ResolveVersion(ctx context.Context, repo Repository, version string) (RemoteVersion, error) {
	if version == "" {
		current, err := repo.CurrentVersion(ctx)
		if err != nil {
			return RemoteVersion{}, err
		}
		log.Debug("resolved latest version", "version", current.Revision)
		return RemoteVersion{Version: current.Revision, Description: current.Description}, nil
	}

	versions, err := repo.Versions(ctx)
	if err != nil {
		return RemoteVersion{}, err
	}
	for _, v := range versions {
		if v.Revision == version {
			return RemoteVersion{Version: v.Revision, Description: v.Description}, nil
		}
	}
	return RemoteVersion{}, fmt.Errorf("%w: version %q", ErrNotFound, version)
}
