// Package api is the stable boundary surface of the update engine for
// external callers. Two revisions of the update and copy entry points
// coexist: revision 1 returns a numeric Status and its callbacks return an
// abort flag; revision 2 returns a Result that the caller must release
// with Free and its callbacks return a cancel flag. Both are thin
// adapters over the same engine and neither will be removed while callers
// remain pinned to it.
package api

import (
	"github.com/breeze-rmm/updatekit/internal/progress"
)

// LocalState is a snapshot of a workspace's recorded version.
type LocalState struct {
	Version          string
	UpdateInProgress bool
}

// RemoteVersion is a resolved repository version.
type RemoteVersion struct {
	Version     string
	Description string
}

// GlobalProgression is the flat progression snapshot delivered to update
// callbacks.
type GlobalProgression struct {
	PackagesStart uint64
	PackagesEnd   uint64

	DownloadedFilesStart uint64
	DownloadedFilesEnd   uint64
	DownloadedBytesStart uint64
	DownloadedBytesEnd   uint64

	AppliedFilesStart       uint64
	AppliedFilesEnd         uint64
	AppliedInputBytesStart  uint64
	AppliedInputBytesEnd    uint64
	AppliedOutputBytesStart uint64
	AppliedOutputBytesEnd   uint64

	FailedFiles uint64

	DownloadedFilesPerSec float64
	DownloadedBytesPerSec float64

	AppliedFilesPerSec       float64
	AppliedInputBytesPerSec  float64
	AppliedOutputBytesPerSec float64
}

// CopyProgression is the flat progression snapshot delivered to copy
// callbacks.
type CopyProgression struct {
	FilesStart uint64
	FilesEnd   uint64
	BytesStart uint64
	BytesEnd   uint64

	FailedFiles uint64
}

func toGlobal(p progress.GlobalProgression) GlobalProgression {
	return GlobalProgression{
		PackagesStart: p.Packages.Start,
		PackagesEnd:   p.Packages.End,

		DownloadedFilesStart: p.DownloadedFiles.Start,
		DownloadedFilesEnd:   p.DownloadedFiles.End,
		DownloadedBytesStart: p.DownloadedBytes.Start,
		DownloadedBytesEnd:   p.DownloadedBytes.End,

		AppliedFilesStart:       p.AppliedFiles.Start,
		AppliedFilesEnd:         p.AppliedFiles.End,
		AppliedInputBytesStart:  p.AppliedInputBytes.Start,
		AppliedInputBytesEnd:    p.AppliedInputBytes.End,
		AppliedOutputBytesStart: p.AppliedOutputBytes.Start,
		AppliedOutputBytesEnd:   p.AppliedOutputBytes.End,

		FailedFiles: p.FailedFiles,

		DownloadedFilesPerSec: p.DownloadedFilesPerSec,
		DownloadedBytesPerSec: p.DownloadedBytesPerSec,

		AppliedFilesPerSec:       p.AppliedFilesPerSec,
		AppliedInputBytesPerSec:  p.AppliedInputBytesPerSec,
		AppliedOutputBytesPerSec: p.AppliedOutputBytesPerSec,
	}
}

func toCopy(p progress.CopyProgression) CopyProgression {
	return CopyProgression{
		FilesStart:  p.Files.Start,
		FilesEnd:    p.Files.End,
		BytesStart:  p.Bytes.Start,
		BytesEnd:    p.Bytes.End,
		FailedFiles: p.FailedFiles,
	}
}

func errMessage(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
