package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/breeze-rmm/updatekit/internal/manifest"
)

// s3API is the subset of the S3 client the repository uses, kept narrow so
// tests can fake it.
type s3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Repository reads a repository published to an S3 bucket, addressed as
// s3://bucket/prefix. The basic-auth pair maps to a static access key and
// secret; without one the default AWS credential chain applies.
type S3Repository struct {
	client     s3API
	downloader *manager.Downloader
	bucket     string
	prefix     string
}

// NewS3Repository creates an S3 repository client.
func NewS3Repository(ctx context.Context, bucket, prefix string, creds Credentials) (*S3Repository, error) {
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 repository URL needs a bucket", ErrInvalidArgument)
	}

	var opts []func(*awsconfig.LoadOptions) error
	if !creds.IsZero() {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(creds.Username, creds.Password, ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: load aws config: %v", ErrNetwork, err)
	}

	client := s3.NewFromConfig(cfg)
	return &S3Repository{
		client:     client,
		downloader: manager.NewDownloader(client),
		bucket:     bucket,
		prefix:     prefix,
	}, nil
}

func (r *S3Repository) key(name string) string {
	return path.Join(r.prefix, name)
}

func (r *S3Repository) getObject(ctx context.Context, name, rangeHeader string) (io.ReadCloser, error) {
	in := &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(name)),
	}
	if rangeHeader != "" {
		in.Range = aws.String(rangeHeader)
	}
	out, err := r.client.GetObject(ctx, in)
	if err != nil {
		return nil, classifyS3Error(name, err)
	}
	return out.Body, nil
}

func (r *S3Repository) readJSON(ctx context.Context, name string, out any) error {
	body, err := r.getObject(ctx, name, "")
	if err != nil {
		return err
	}
	defer body.Close()

	if err := json.NewDecoder(body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrProtocol, name, err)
	}
	return nil
}

func (r *S3Repository) CurrentVersion(ctx context.Context) (manifest.Version, error) {
	var file manifest.CurrentFile
	if err := r.readJSON(ctx, "current", &file); err != nil {
		return manifest.Version{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.Version{}, fmt.Errorf("%w: current: %v", ErrProtocol, err)
	}
	return file.Current, nil
}

func (r *S3Repository) Versions(ctx context.Context) ([]manifest.Version, error) {
	var file manifest.VersionsFile
	if err := r.readJSON(ctx, "versions", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: versions: %v", ErrProtocol, err)
	}
	return file.Versions, nil
}

func (r *S3Repository) Packages(ctx context.Context) ([]manifest.Package, error) {
	var file manifest.PackagesFile
	if err := r.readJSON(ctx, "packages", &file); err != nil {
		return nil, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return nil, fmt.Errorf("%w: packages: %v", ErrProtocol, err)
	}
	return file.Packages, nil
}

func (r *S3Repository) PackageMetadata(ctx context.Context, name string) (manifest.PackageMetadataFile, error) {
	var file manifest.PackageMetadataFile
	if err := r.readJSON(ctx, name, &file); err != nil {
		return manifest.PackageMetadataFile{}, err
	}
	if err := manifest.CheckSchema(file.Schema); err != nil {
		return manifest.PackageMetadataFile{}, fmt.Errorf("%w: %s: %v", ErrProtocol, name, err)
	}
	return file, nil
}

// FetchPackage downloads a payload slice through the transfer manager so
// large slices arrive as concurrent parts.
func (r *S3Repository) FetchPackage(ctx context.Context, name string, start, end uint64) (io.ReadCloser, error) {
	if end <= start {
		return r.getObject(ctx, name, "")
	}
	rangeHeader := fmt.Sprintf("bytes=%d-%d", start, end-1)
	if r.downloader == nil {
		return r.getObject(ctx, name, rangeHeader)
	}

	in := &s3.GetObjectInput{
		Bucket: aws.String(r.bucket),
		Key:    aws.String(r.key(name)),
		Range:  aws.String(rangeHeader),
	}
	buf := manager.NewWriteAtBuffer(make([]byte, 0, end-start))
	if _, err := r.downloader.Download(ctx, buf, in); err != nil {
		return nil, classifyS3Error(name, err)
	}
	return io.NopCloser(bytes.NewReader(buf.Bytes())), nil
}

func classifyS3Error(name string, err error) error {
	var noKey *s3types.NoSuchKey
	if errors.As(err, &noKey) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	var apiErr interface{ ErrorCode() string }
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound":
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
			return fmt.Errorf("%w: fetch %s: %s", ErrAuth, name, apiErr.ErrorCode())
		}
	}
	return fmt.Errorf("%w: fetch %s: %v", ErrNetwork, name, err)
}
