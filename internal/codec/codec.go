// Package codec holds the pluggable payload codecs: compressions that wrap
// a delta stream and patchers that combine a delta with existing local
// content. The diff algorithms themselves are replaceable; the engine only
// depends on the names recorded in package metadata.
package codec

import (
	"compress/gzip"
	"fmt"
	"io"
)

// Compression names understood by the built-in registry.
const (
	CompressionRaw  = "raw"
	CompressionGzip = "gzip"
)

// PatchRaw is the built-in patcher: the (decompressed) delta is the
// complete new content. The base is still validated by the caller, so a
// drifted workspace is detected before any byte is written.
const PatchRaw = "full"

// Decompress wraps the delta stream with the named decompressor.
func Decompress(name string, r io.Reader) (io.ReadCloser, error) {
	switch name {
	case CompressionRaw, "":
		return io.NopCloser(r), nil
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("gzip delta: %w", err)
		}
		return zr, nil
	default:
		return nil, fmt.Errorf("unknown compression %q", name)
	}
}

// Patcher combines decoded delta bytes with the base content of the file
// being patched.
type Patcher interface {
	// Patch writes the new file content to out.
	Patch(base io.ReadSeeker, delta io.Reader, out io.Writer) error
}

// NewPatcher returns the patcher registered under name.
func NewPatcher(name string) (Patcher, error) {
	switch name {
	case PatchRaw, "":
		return fullPatcher{}, nil
	default:
		return nil, fmt.Errorf("unknown patch type %q", name)
	}
}

type fullPatcher struct{}

func (fullPatcher) Patch(base io.ReadSeeker, delta io.Reader, out io.Writer) error {
	_, err := io.Copy(out, delta)
	return err
}
