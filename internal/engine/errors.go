// Package engine drives the update pipeline: plan the package chain,
// download payloads concurrently, apply them in order, and commit the new
// workspace version.
package engine

import "errors"

var (
	// ErrBaseMismatch: a patch's declared source content does not match the
	// workspace's current content. The workspace drifted since planning.
	ErrBaseMismatch = errors.New("workspace content does not match patch base")

	// ErrPartialDownload: one or more required packages never became fully
	// available after all downloads settled and retries were exhausted.
	ErrPartialDownload = errors.New("required packages incomplete")

	// ErrInsufficientSpace: the workspace volume cannot hold the update's
	// output.
	ErrInsufficientSpace = errors.New("insufficient disk space")
)
