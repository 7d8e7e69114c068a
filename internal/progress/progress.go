// Package progress defines the progression snapshots reported by long
// running workspace operations and the sink contract used to observe them.
package progress

import "errors"

// ErrCancelled is returned by an operation whose sink requested a stop. It
// is a distinct, non-error-like outcome: the workspace is consistent and
// the operation can be resumed.
var ErrCancelled = errors.New("operation cancelled")

// Range is a half-open [Start, End) counter pair. Start is fixed when an
// operation begins (units already completed by a previous, resumed run);
// End grows as further units complete.
type Range struct {
	Start uint64
	End   uint64
}

// Done returns the number of units completed by the current run.
func (r Range) Done() uint64 {
	if r.End < r.Start {
		return 0
	}
	return r.End - r.Start
}

// GlobalProgression is a point-in-time aggregate of an update operation.
// Input and output byte counters are independent: a delta of N bytes may
// produce files of M != N bytes.
type GlobalProgression struct {
	Packages Range

	DownloadedFiles Range
	DownloadedBytes Range

	AppliedFiles       Range
	AppliedInputBytes  Range
	AppliedOutputBytes Range

	// FailedFiles is cumulative across download and apply failures and
	// never decreases within one operation.
	FailedFiles uint64

	DownloadedFilesPerSec float64
	DownloadedBytesPerSec float64

	AppliedFilesPerSec       float64
	AppliedInputBytesPerSec  float64
	AppliedOutputBytesPerSec float64
}

// CopyProgression is the reduced progression reported by workspace cloning.
type CopyProgression struct {
	Files Range
	Bytes Range

	FailedFiles uint64
}

// Sink receives update progression snapshots. Err carries non-fatal,
// purely observational failures (for example a single file that exhausted
// its retries); fatal outcomes are returned by the operation itself.
// Returning false requests a cooperative cancellation.
type Sink interface {
	Progress(err error, p GlobalProgression) bool
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(err error, p GlobalProgression) bool

func (f SinkFunc) Progress(err error, p GlobalProgression) bool {
	return f(err, p)
}

// CopySink is the Sink analogue for clone operations.
type CopySink interface {
	Progress(err error, p CopyProgression) bool
}

// CopySinkFunc adapts a function to the CopySink interface.
type CopySinkFunc func(err error, p CopyProgression) bool

func (f CopySinkFunc) Progress(err error, p CopyProgression) bool {
	return f(err, p)
}
