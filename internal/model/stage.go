// Package model holds the data exchanged between the pipeline stages: the
// reconstruction references, the sparse voxel grid and the block list.
package model

import "fmt"

// Stage is the step of the pipeline the user is on, ordered 1..4.
type Stage int

const (
	StageUpload Stage = iota + 1
	StageVoxelize
	StageMapBlocks
	StageExport
)

func (s Stage) String() string {
	switch s {
	case StageUpload:
		return "upload"
	case StageVoxelize:
		return "voxelize"
	case StageMapBlocks:
		return "map-blocks"
	case StageExport:
		return "export"
	default:
		return fmt.Sprintf("stage(%d)", int(s))
	}
}

// State is the position of a session in the pipeline state machine.
type State int

const (
	StateIdle State = iota
	StateUploaded
	StateVoxelized
	StateMapped
	StateExported
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateUploaded:
		return "uploaded"
	case StateVoxelized:
		return "voxelized"
	case StateMapped:
		return "mapped"
	case StateExported:
		return "exported"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Stage reports the stage the user works on next while in this state.
func (s State) Stage() Stage {
	switch s {
	case StateUploaded:
		return StageVoxelize
	case StateVoxelized:
		return StageMapBlocks
	case StateMapped, StateExported:
		return StageExport
	default:
		return StageUpload
	}
}

// ReconstructionResult references the remotely hosted mesh and texture.
type ReconstructionResult struct {
	SessionID  string `json:"sessionId"`
	MeshRef    string `json:"objUrl"`
	TextureRef string `json:"textureUrl"`
}

// ExportFormat is a schematic file format offered by the service.
type ExportFormat string

const (
	FormatLitematic ExportFormat = "litematic"
	FormatSchem     ExportFormat = "schem"
)

// ParseExportFormat accepts the two supported format names.
func ParseExportFormat(s string) (ExportFormat, error) {
	switch ExportFormat(s) {
	case FormatLitematic, FormatSchem:
		return ExportFormat(s), nil
	}
	return "", fmt.Errorf("unsupported export format %q (want litematic or schem)", s)
}

// VoxelizeParams are sent with the voxelize call.
type VoxelizeParams struct {
	MaxBlocks int  `json:"maxBlocks"`
	Fill      bool `json:"fill"`
}

// ReconstructOptions accompany the uploaded image.
type ReconstructOptions struct {
	RemoveBackground bool
	Resolution       int
	Filename         string
}
