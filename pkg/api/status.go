package api

import (
	"errors"
	"io/fs"

	"github.com/breeze-rmm/updatekit/internal/catalog"
	"github.com/breeze-rmm/updatekit/internal/engine"
	"github.com/breeze-rmm/updatekit/internal/manifest"
	"github.com/breeze-rmm/updatekit/internal/progress"
	"github.com/breeze-rmm/updatekit/internal/workspace"
)

// Status is the numeric outcome of a revision-1 entry point. The values
// are part of the surface and never renumbered.
type Status uint8

const (
	StatusOK Status = iota
	StatusCancelled
	StatusIoError
	StatusNetworkError
	StatusAuthError
	StatusNotFoundError
	StatusProtocolError
	StatusCorruptStateError
	StatusInvalidArgumentError
	StatusNoPathError
	StatusBaseMismatchError
	StatusPartialDownloadError
	StatusAlreadyUpdatingError

	StatusUnknownError Status = 255
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusCancelled:
		return "cancelled"
	case StatusIoError:
		return "io error"
	case StatusNetworkError:
		return "network error"
	case StatusAuthError:
		return "auth error"
	case StatusNotFoundError:
		return "not found"
	case StatusProtocolError:
		return "protocol error"
	case StatusCorruptStateError:
		return "corrupt state"
	case StatusInvalidArgumentError:
		return "invalid argument"
	case StatusNoPathError:
		return "no update path"
	case StatusBaseMismatchError:
		return "base mismatch"
	case StatusPartialDownloadError:
		return "partial download"
	case StatusAlreadyUpdatingError:
		return "already updating"
	default:
		return "unknown error"
	}
}

// statusOf maps an engine error onto the numeric taxonomy.
func statusOf(err error) Status {
	if err == nil {
		return StatusOK
	}

	var noPath *manifest.NoPathError
	switch {
	case errors.Is(err, progress.ErrCancelled):
		return StatusCancelled
	case errors.Is(err, catalog.ErrInvalidArgument):
		return StatusInvalidArgumentError
	case errors.Is(err, catalog.ErrAuth):
		return StatusAuthError
	case errors.Is(err, catalog.ErrNotFound):
		return StatusNotFoundError
	case errors.Is(err, catalog.ErrProtocol):
		return StatusProtocolError
	case errors.Is(err, catalog.ErrNetwork):
		return StatusNetworkError
	case errors.Is(err, workspace.ErrCorruptState):
		return StatusCorruptStateError
	case errors.Is(err, workspace.ErrAlreadyUpdating):
		return StatusAlreadyUpdatingError
	case errors.As(err, &noPath):
		return StatusNoPathError
	case errors.Is(err, engine.ErrBaseMismatch):
		return StatusBaseMismatchError
	case errors.Is(err, engine.ErrPartialDownload):
		return StatusPartialDownloadError
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, fs.ErrPermission):
		return StatusIoError
	default:
		return StatusUnknownError
	}
}
