package progress

import (
	"sync"
	"time"
)

// Aggregator merges the counters reported by the concurrent download and
// apply stages into one GlobalProgression. All updates are serialized, so
// snapshots delivered to the sink are monotonically non-decreasing in every
// counter even though two stages produce them.
type Aggregator struct {
	mu        sync.Mutex
	startedAt time.Time
	now       func() time.Time
	p         GlobalProgression
	sink      Sink
	cancelled bool
}

// NewAggregator creates an aggregator whose Start counters are pinned to
// the given resume positions. A nil sink never cancels.
func NewAggregator(sink Sink, resumed GlobalProgression) *Aggregator {
	a := &Aggregator{
		now:  time.Now,
		sink: sink,
		p:    resumed,
	}
	a.p.Packages.End = a.p.Packages.Start
	a.p.DownloadedFiles.End = a.p.DownloadedFiles.Start
	a.p.DownloadedBytes.End = a.p.DownloadedBytes.Start
	a.p.AppliedFiles.End = a.p.AppliedFiles.Start
	a.p.AppliedInputBytes.End = a.p.AppliedInputBytes.Start
	a.p.AppliedOutputBytes.End = a.p.AppliedOutputBytes.Start
	a.startedAt = a.now()
	return a
}

// Downloaded records files fully landed on local disk and their byte count.
// Returns false once cancellation has been requested.
func (a *Aggregator) Downloaded(files, bytes uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.DownloadedFiles.End += files
	a.p.DownloadedBytes.End += bytes
	return a.emit(nil)
}

// Applied records completed apply operations with independent input
// (delta) and output (final file) byte counts.
func (a *Aggregator) Applied(files, inputBytes, outputBytes uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.AppliedFiles.End += files
	a.p.AppliedInputBytes.End += inputBytes
	a.p.AppliedOutputBytes.End += outputBytes
	return a.emit(nil)
}

// PackageDone records one fully applied package.
func (a *Aggregator) PackageDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.Packages.End++
	return a.emit(nil)
}

// Failed records one failed file and surfaces the cause through the sink's
// err channel as a non-fatal warning.
func (a *Aggregator) Failed(cause error) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.p.FailedFiles++
	return a.emit(cause)
}

// Snapshot returns the current progression with up-to-date rates.
func (a *Aggregator) Snapshot() GlobalProgression {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.computeRates()
	return a.p
}

// Cancelled reports whether any sink invocation requested a stop.
func (a *Aggregator) Cancelled() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.cancelled
}

// emit recomputes rates and invokes the sink. Caller holds a.mu; the sink
// runs under the lock, which is what serializes snapshot delivery. A slow
// sink therefore backpressures counter updates but never loses them.
func (a *Aggregator) emit(err error) bool {
	a.computeRates()
	if a.sink != nil && !a.sink.Progress(err, a.p) {
		a.cancelled = true
	}
	return !a.cancelled
}

// computeRates derives instantaneous averages since the operation began:
// (End - End at start) / elapsed, where End at start equals Start.
func (a *Aggregator) computeRates() {
	elapsed := a.now().Sub(a.startedAt).Seconds()
	if elapsed <= 0 {
		return
	}
	a.p.DownloadedFilesPerSec = float64(a.p.DownloadedFiles.Done()) / elapsed
	a.p.DownloadedBytesPerSec = float64(a.p.DownloadedBytes.Done()) / elapsed
	a.p.AppliedFilesPerSec = float64(a.p.AppliedFiles.Done()) / elapsed
	a.p.AppliedInputBytesPerSec = float64(a.p.AppliedInputBytes.Done()) / elapsed
	a.p.AppliedOutputBytesPerSec = float64(a.p.AppliedOutputBytes.Done()) / elapsed
}
