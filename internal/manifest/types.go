// Package manifest defines the repository manifest schema (versions,
// packages, per-package operation lists) and the update planner that picks
// the cheapest package chain between two versions.
package manifest

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// SchemaVersion is the only manifest schema revision this engine speaks.
const SchemaVersion = "1"

// ByteCount is a uint64 that travels as a decimal string in JSON, so
// manifests survive consumers that parse numbers as float64.
type ByteCount uint64

func (b ByteCount) MarshalJSON() ([]byte, error) {
	return json.Marshal(strconv.FormatUint(uint64(b), 10))
}

func (b *ByteCount) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return fmt.Errorf("byte count %q: %w", s, err)
	}
	*b = ByteCount(v)
	return nil
}

// Version describes one published revision.
type Version struct {
	Revision    string `json:"revision"`
	Description string `json:"description"`
}

// Package is one delta in the repository's version graph. A package with an
// empty From is standalone: it builds its target version from nothing.
type Package struct {
	From string    `json:"from"`
	To   string    `json:"to"`
	Size ByteCount `json:"size"`
}

// IsStandalone reports whether the package needs no base version.
func (p Package) IsStandalone() bool {
	return p.From == ""
}

// DataName returns the repository object holding the package payload.
func (p Package) DataName() string {
	if p.IsStandalone() {
		return "complete_" + p.To
	}
	return "patch" + p.From + "_" + p.To
}

// MetadataName returns the repository object holding the operation list.
func (p Package) MetadataName() string {
	return p.DataName() + ".metadata"
}

// Operation kinds.
const (
	OpAdd   = "add"
	OpPatch = "patch"
	OpCheck = "check"
	OpMkdir = "mkdir"
	OpRmdir = "rmdir"
	OpRm    = "rm"
)

// Operation is one step of a package. The populated fields depend on Kind:
// add/patch carry a payload slice and a final content descriptor, patch and
// check additionally describe the expected local content.
type Operation struct {
	Kind string `json:"type"`
	Path string `json:"path"`

	DataOffset      ByteCount `json:"dataOffset,omitempty"`
	DataSize        ByteCount `json:"dataSize,omitempty"`
	DataSha1        string    `json:"dataSha1,omitempty"`
	DataCompression string    `json:"dataCompression,omitempty"`

	PatchType string    `json:"patchType,omitempty"`
	LocalSize ByteCount `json:"localSize,omitempty"`
	LocalSha1 string    `json:"localSha1,omitempty"`

	FinalSize ByteCount `json:"finalSize,omitempty"`
	FinalSha1 string    `json:"finalSha1,omitempty"`

	Exe bool `json:"exe,omitempty"`
}

// HasPayload reports whether the operation consumes package data.
func (o Operation) HasPayload() bool {
	return o.Kind == OpAdd || o.Kind == OpPatch
}

// DataRange returns the payload slice [start, end) within the package data.
func (o Operation) DataRange() (start, end uint64, ok bool) {
	if !o.HasPayload() {
		return 0, 0, false
	}
	return uint64(o.DataOffset), uint64(o.DataOffset) + uint64(o.DataSize), true
}

// AsCheck converts the operation into the content check a finished apply
// must satisfy. Removal operations have nothing left to check.
func (o Operation) AsCheck() (Operation, bool) {
	switch o.Kind {
	case OpAdd, OpPatch:
		return Operation{
			Kind:      OpCheck,
			Path:      o.Path,
			LocalSize: o.FinalSize,
			LocalSha1: o.FinalSha1,
			Exe:       o.Exe,
		}, true
	case OpCheck, OpMkdir:
		return o, true
	default:
		return Operation{}, false
	}
}

// Envelope types. Every manifest is wrapped in {"version":"1", ...}.

// CurrentFile is the `current` manifest.
type CurrentFile struct {
	Schema  string  `json:"version"`
	Current Version `json:"current"`
}

// VersionsFile is the `versions` manifest.
type VersionsFile struct {
	Schema   string    `json:"version"`
	Versions []Version `json:"versions"`
}

// PackagesFile is the `packages` manifest.
type PackagesFile struct {
	Schema   string    `json:"version"`
	Packages []Package `json:"packages"`
}

// PackageMetadataFile is a `<package>.metadata` manifest. Operation order
// is significant and must be preserved.
type PackageMetadataFile struct {
	Schema     string      `json:"version"`
	Package    Package     `json:"package"`
	Operations []Operation `json:"operations"`
}

// CheckSchema validates a manifest envelope's schema marker.
func CheckSchema(schema string) error {
	if schema != SchemaVersion {
		return fmt.Errorf("unsupported manifest schema %q", schema)
	}
	return nil
}
